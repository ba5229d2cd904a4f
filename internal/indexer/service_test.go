package indexer

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lagoon-cms/searchsync/internal/domain"
	"github.com/lagoon-cms/searchsync/internal/esclient"
)

type fakeSource struct {
	newEntities     []*domain.Entity
	updatedEntities []*domain.Entity
	forcedEntities  []*domain.Entity
	settings        map[string]string

	markedIndexed []domain.GUID
	cleared       []domain.GUID
	lastSkipNew   []domain.GUID
}

func (f *fakeSource) take(pool *[]*domain.Entity, skip []domain.GUID, limit int) []*domain.Entity {
	skipped := make(map[domain.GUID]bool, len(skip))
	for _, g := range skip {
		skipped[g] = true
	}
	var out []*domain.Entity
	var rest []*domain.Entity
	for _, e := range *pool {
		if skipped[e.GUID] || len(out) >= limit {
			rest = append(rest, e)
			continue
		}
		out = append(out, e)
	}
	*pool = rest
	return out
}

func (f *fakeSource) ScanNew(_ context.Context, _ []domain.TypeSubtype, skip []domain.GUID, limit int) ([]*domain.Entity, error) {
	f.lastSkipNew = skip
	return f.take(&f.newEntities, skip, limit), nil
}

func (f *fakeSource) ScanUpdated(_ context.Context, _ []domain.TypeSubtype, skip []domain.GUID, limit int) ([]*domain.Entity, error) {
	return f.take(&f.updatedEntities, skip, limit), nil
}

func (f *fakeSource) ScanForcedReindex(_ context.Context, _ []domain.TypeSubtype, skip []domain.GUID, _ int64, limit int) ([]*domain.Entity, error) {
	return f.take(&f.forcedEntities, skip, limit), nil
}

func (f *fakeSource) MarkIndexed(_ context.Context, guid domain.GUID, _ int64) error {
	f.markedIndexed = append(f.markedIndexed, guid)
	return nil
}

func (f *fakeSource) ClearMarker(_ context.Context, guid domain.GUID) error {
	f.cleared = append(f.cleared, guid)
	return nil
}

func (f *fakeSource) Setting(_ context.Context, name string) (string, error) {
	if v, ok := f.settings[name]; ok {
		return v, nil
	}
	return "", domain.ErrNotFound
}

type fakeEngine struct {
	// statuses maps doc id to the per-item bulk status.
	statuses map[string]int
	bulkErr  error

	deleteStatus map[string]int
	deleteErr    error

	bulkCalls   int
	bulkedIDs   []string
	deleteCalls int
}

func (f *fakeEngine) Bulk(_ context.Context, items []esclient.BulkItem) ([]esclient.BulkItemResult, error) {
	f.bulkCalls++
	for _, item := range items {
		f.bulkedIDs = append(f.bulkedIDs, item.ID)
	}
	if f.bulkErr != nil {
		return nil, f.bulkErr
	}
	results := make([]esclient.BulkItemResult, 0, len(items))
	for _, item := range items {
		status, ok := f.statuses[item.ID]
		if !ok {
			status = 201
		}
		r := esclient.BulkItemResult{Action: item.Action, ID: item.ID, Status: status}
		if status >= 400 {
			r.ErrorType = "mapper_parsing_exception"
			r.ErrorReason = "rejected"
		}
		results = append(results, r)
	}
	return results, nil
}

func (f *fakeEngine) DeleteDocument(_ context.Context, _ string, id string) (int, error) {
	f.deleteCalls++
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	if status, ok := f.deleteStatus[id]; ok {
		return status, nil
	}
	return 200, nil
}

type fakeBuilder struct {
	failGUIDs map[domain.GUID]bool
}

func (f *fakeBuilder) Build(_ context.Context, e *domain.Entity) (*domain.Document, error) {
	if f.failGUIDs[e.GUID] {
		return nil, errors.New("export failed")
	}
	return &domain.Document{GUID: e.GUID, Type: e.Type}, nil
}

type fakeQueue struct {
	items    []domain.QueueItem
	requeued []domain.QueueItem
	enqueued []domain.QueueItem
}

func (f *fakeQueue) Enqueue(_ context.Context, item domain.QueueItem) error {
	f.enqueued = append(f.enqueued, item)
	return nil
}

func (f *fakeQueue) Dequeue(_ context.Context, limit int) ([]domain.QueueItem, error) {
	if len(f.items) == 0 {
		return nil, nil
	}
	n := limit
	if n > len(f.items) {
		n = len(f.items)
	}
	out := f.items[:n]
	f.items = f.items[n:]
	return out, nil
}

func (f *fakeQueue) Requeue(_ context.Context, item domain.QueueItem) error {
	f.requeued = append(f.requeued, item)
	return nil
}

func (f *fakeQueue) Depth(_ context.Context) (int64, error) {
	return int64(len(f.items)), nil
}

func entity(guid int64, typ string) *domain.Entity {
	pending := int64(0)
	return &domain.Entity{GUID: domain.GUID(guid), Type: typ, LastIndexed: &pending}
}

func newTestService(source *fakeSource, engine *fakeEngine, builder *fakeBuilder, q *fakeQueue, guards ...Guard) *Service {
	return NewService(source, engine, builder, q, Options{
		WriteAlias:    "lagoon",
		Pairs:         []domain.TypeSubtype{{Type: "object", Subtype: "blog"}},
		ScanBatchSize: 10,
		BulkBatchSize: 5,
		Guards:        guards,
	}, zap.NewNop())
}

func farDeadline() time.Time {
	return time.Now().Add(time.Hour)
}

func TestSyncIndexesNewAndUpdated(t *testing.T) {
	source := &fakeSource{
		newEntities:     []*domain.Entity{entity(1, "object"), entity(2, "object")},
		updatedEntities: []*domain.Entity{entity(3, "object")},
	}
	engine := &fakeEngine{}
	svc := newTestService(source, engine, &fakeBuilder{}, &fakeQueue{})

	stats, err := svc.Sync(context.Background(), farDeadline())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Indexed != 3 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 3 indexed", stats)
	}
	if len(source.markedIndexed) != 3 {
		t.Errorf("marked indexed = %v, want all three", source.markedIndexed)
	}
}

func TestSyncSkipsRejectedDocuments(t *testing.T) {
	source := &fakeSource{
		newEntities: []*domain.Entity{entity(1, "object"), entity(2, "object")},
	}
	engine := &fakeEngine{statuses: map[string]int{"2": 400}}
	svc := newTestService(source, engine, &fakeBuilder{}, &fakeQueue{})

	stats, err := svc.Sync(context.Background(), farDeadline())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Indexed != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 1 indexed 1 failed", stats)
	}
	if len(source.markedIndexed) != 1 || source.markedIndexed[0] != 1 {
		t.Errorf("marked = %v, only guid 1 should be marked", source.markedIndexed)
	}
}

func TestSyncSkipsBuildFailures(t *testing.T) {
	source := &fakeSource{
		newEntities: []*domain.Entity{entity(1, "object"), entity(2, "object")},
	}
	engine := &fakeEngine{}
	builder := &fakeBuilder{failGUIDs: map[domain.GUID]bool{1: true}}
	svc := newTestService(source, engine, builder, &fakeQueue{})

	stats, err := svc.Sync(context.Background(), farDeadline())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Indexed != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSyncGuardVeto(t *testing.T) {
	banned := &domain.Entity{GUID: 5, Type: "user", Banned: true}
	source := &fakeSource{
		newEntities: []*domain.Entity{banned, entity(6, "user")},
	}
	engine := &fakeEngine{}
	svc := newTestService(source, engine, &fakeBuilder{}, &fakeQueue{}, BannedUserGuard())

	stats, err := svc.Sync(context.Background(), farDeadline())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Indexed != 1 {
		t.Errorf("stats = %+v, want only the unbanned user indexed", stats)
	}
	for _, id := range engine.bulkedIDs {
		if id == "5" {
			t.Error("banned user must not reach the bulk request")
		}
	}
	// The vetoed entity still gets its marker stamped so the scan
	// stops returning it.
	var sawBanned bool
	for _, guid := range source.markedIndexed {
		if guid == 5 {
			sawBanned = true
		}
	}
	if !sawBanned {
		t.Errorf("marked = %v, banned user should be stamped done", source.markedIndexed)
	}
}

func TestSyncForcedReindexRequiresSetting(t *testing.T) {
	source := &fakeSource{
		forcedEntities: []*domain.Entity{entity(9, "object")},
	}
	engine := &fakeEngine{}
	svc := newTestService(source, engine, &fakeBuilder{}, &fakeQueue{})

	stats, err := svc.Sync(context.Background(), farDeadline())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Indexed != 0 {
		t.Errorf("without the setting no forced pass should run, stats = %+v", stats)
	}

	source.forcedEntities = []*domain.Entity{entity(9, "object")}
	source.settings = map[string]string{SettingReindexRequestedAt: strconv.FormatInt(time.Now().Unix(), 10)}

	stats, err = svc.Sync(context.Background(), farDeadline())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Indexed != 1 {
		t.Errorf("with the setting the forced pass should index, stats = %+v", stats)
	}
}

func TestSyncStopsAtDeadline(t *testing.T) {
	source := &fakeSource{
		newEntities: []*domain.Entity{entity(1, "object")},
	}
	engine := &fakeEngine{}
	svc := newTestService(source, engine, &fakeBuilder{}, &fakeQueue{})

	stats, err := svc.Sync(context.Background(), time.Now().Add(-time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Indexed != 0 || engine.bulkCalls != 0 {
		t.Errorf("expired budget should do nothing, stats = %+v", stats)
	}
}

func TestSyncZeroDeadlineRunsUnbounded(t *testing.T) {
	source := &fakeSource{
		newEntities: []*domain.Entity{entity(1, "object"), entity(2, "object")},
	}
	engine := &fakeEngine{}
	svc := newTestService(source, engine, &fakeBuilder{}, &fakeQueue{})

	stats, err := svc.Sync(context.Background(), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Indexed != 2 {
		t.Errorf("stats = %+v, a zero deadline should process everything", stats)
	}
}

func TestSyncWholeBulkFailureSkipsBatch(t *testing.T) {
	source := &fakeSource{
		newEntities: []*domain.Entity{entity(1, "object"), entity(2, "object")},
	}
	engine := &fakeEngine{bulkErr: errors.New("engine down")}
	svc := newTestService(source, engine, &fakeBuilder{}, &fakeQueue{})

	stats, err := svc.Sync(context.Background(), farDeadline())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 2 || stats.Indexed != 0 {
		t.Errorf("stats = %+v, want both failed", stats)
	}
	if len(source.markedIndexed) != 0 {
		t.Errorf("nothing should be marked after a failed bulk, got %v", source.markedIndexed)
	}
}

func TestDrainDeletes(t *testing.T) {
	q := &fakeQueue{items: []domain.QueueItem{
		{GUID: 1, Index: "lagoon", DocID: "1"},
		{GUID: 2, Index: "lagoon", DocID: "2"},
		{GUID: 3, Index: "lagoon", DocID: "3"},
	}}
	engine := &fakeEngine{deleteStatus: map[string]int{
		"1": 200,
		"2": 404,
		"3": 500,
	}}
	source := &fakeSource{}
	svc := newTestService(source, engine, &fakeBuilder{}, q)

	deleted, requeued, err := svc.DrainDeletes(context.Background(), farDeadline())
	if err != nil {
		t.Fatal(err)
	}
	// 200 and 404 both count as removed; 500 goes back in the queue.
	if deleted != 2 || requeued != 1 {
		t.Errorf("deleted = %d, requeued = %d, want 2 and 1", deleted, requeued)
	}
	if len(q.requeued) != 1 || q.requeued[0].GUID != 3 {
		t.Errorf("requeued items = %v, want guid 3", q.requeued)
	}
	if len(source.cleared) != 2 {
		t.Errorf("cleared markers = %v, want guids 1 and 2", source.cleared)
	}
}

func TestDeleteEntity(t *testing.T) {
	q := &fakeQueue{}
	source := &fakeSource{}
	svc := newTestService(source, &fakeEngine{}, &fakeBuilder{}, q)

	if err := svc.DeleteEntity(context.Background(), 42); err != nil {
		t.Fatal(err)
	}
	if len(q.enqueued) != 1 || q.enqueued[0].DocID != "42" || q.enqueued[0].Index != "lagoon" {
		t.Errorf("enqueued = %v", q.enqueued)
	}
	if len(source.cleared) != 1 || source.cleared[0] != 42 {
		t.Errorf("cleared = %v, want guid 42", source.cleared)
	}
}
