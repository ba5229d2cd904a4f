// Package cron runs the periodic jobs: the minute synchronisation
// tick and the daily reconciliation between the index and the source
// database.
package cron

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lagoon-cms/searchsync/internal/domain"
	"github.com/lagoon-cms/searchsync/internal/esclient"
	"github.com/lagoon-cms/searchsync/internal/metrics"
)

const (
	scrollKeepAlive = 2 * time.Minute
	scrollBatch     = 500
	// checkChunk is how many guids one existence query covers in the
	// source-to-index direction.
	checkChunk = 250
)

// ScrollEngine is the slice of the search gateway reconciliation
// reads from.
type ScrollEngine interface {
	Search(ctx context.Context, index string, body map[string]any, opts ...esclient.SearchOption) (*esclient.SearchResponse, error)
	Scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*esclient.SearchResponse, error)
	ClearScroll(ctx context.Context, scrollID string)
	Count(ctx context.Context, index string, body map[string]any) (int64, error)
}

// ReconcileStore is the slice of the store reconciliation uses.
type ReconcileStore interface {
	ExistingGUIDs(ctx context.Context, pairs []domain.TypeSubtype, guids []domain.GUID) (map[domain.GUID]bool, error)
	ScanIndexedGUIDs(ctx context.Context, after domain.GUID, limit int) ([]domain.GUID, error)
	MarkPendingBatch(ctx context.Context, guids []domain.GUID) (int64, error)
}

// Enqueuer schedules index deletions found by reconciliation.
type Enqueuer interface {
	EnqueueGUIDs(ctx context.Context, index string, guids []domain.GUID) error
}

// Reconciler repairs drift between the index and the source of truth
// in both directions.
type Reconciler struct {
	engine    ScrollEngine
	store     ReconcileStore
	enqueuer  Enqueuer
	readAlias string
	pairs     []domain.TypeSubtype
	limiter   *rate.Limiter
	log       *zap.Logger
}

func NewReconciler(engine ScrollEngine, store ReconcileStore, enqueuer Enqueuer, readAlias string, pairs []domain.TypeSubtype, log *zap.Logger) *Reconciler {
	return &Reconciler{
		engine:    engine,
		store:     store,
		enqueuer:  enqueuer,
		readAlias: readAlias,
		pairs:     pairs,
		// Reconciliation is background work; keep it off the cluster's
		// hot path.
		limiter: rate.NewLimiter(rate.Limit(5), 1),
		log:     log.Named("reconcile"),
	}
}

// ReconcileStats summarizes one reconciliation run.
type ReconcileStats struct {
	Scanned       int
	DeletesQueued int
	Checked       int
	MarkedPending int64
}

// Run performs both reconciliation directions.
func (r *Reconciler) Run(ctx context.Context) (ReconcileStats, error) {
	stats := ReconcileStats{}

	scanned, queued, err := r.cleanupIndex(ctx)
	stats.Scanned, stats.DeletesQueued = scanned, queued
	if err != nil {
		return stats, err
	}

	checked, marked, err := r.checkIndex(ctx)
	stats.Checked, stats.MarkedPending = checked, marked
	return stats, err
}

// cleanupIndex scrolls the whole index and queues deletions for
// documents whose source entity is gone, disabled, banned or of a
// type/subtype pair that is no longer registered for indexing.
func (r *Reconciler) cleanupIndex(ctx context.Context) (scanned, queued int, err error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return 0, 0, err
	}

	body := map[string]any{
		"size":    scrollBatch,
		"query":   map[string]any{"match_all": map[string]any{}},
		"_source": false,
	}
	resp, err := r.engine.Search(ctx, r.readAlias, body, esclient.WithScroll(scrollKeepAlive))
	if err != nil {
		return 0, 0, err
	}
	scrollID := resp.ScrollID
	defer func() {
		if scrollID != "" {
			r.engine.ClearScroll(ctx, scrollID)
		}
	}()

	for len(resp.Hits.Hits) > 0 {
		guids := make([]domain.GUID, 0, len(resp.Hits.Hits))
		byGUID := make(map[domain.GUID]string, len(resp.Hits.Hits))
		for _, hit := range resp.Hits.Hits {
			guid, ok := parseGUID(hit.ID)
			if !ok {
				r.log.Warn("skipping document with non-numeric id", zap.String("id", hit.ID))
				continue
			}
			guids = append(guids, guid)
			byGUID[guid] = hit.Index
		}
		scanned += len(guids)

		existing, err := r.store.ExistingGUIDs(ctx, r.pairs, guids)
		if err != nil {
			return scanned, queued, err
		}

		orphansByIndex := make(map[string][]domain.GUID)
		for _, guid := range guids {
			if existing[guid] {
				continue
			}
			idx := byGUID[guid]
			orphansByIndex[idx] = append(orphansByIndex[idx], guid)
		}
		for idx, orphans := range orphansByIndex {
			if err := r.enqueuer.EnqueueGUIDs(ctx, idx, orphans); err != nil {
				return scanned, queued, err
			}
			queued += len(orphans)
			metrics.ReconciliationDeletionsTotal.Add(float64(len(orphans)))
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return scanned, queued, err
		}
		resp, err = r.engine.Scroll(ctx, scrollID, scrollKeepAlive)
		if err != nil {
			return scanned, queued, err
		}
		if resp.ScrollID != "" {
			scrollID = resp.ScrollID
		}
	}

	if queued > 0 {
		r.log.Info("queued orphaned documents for deletion",
			zap.Int("scanned", scanned),
			zap.Int("queued", queued))
	}
	return scanned, queued, nil
}

// checkIndex walks every entity marked as indexed and verifies its
// document is actually present. Missing documents put the entity back
// in the pending state so the next sync re-indexes it.
func (r *Reconciler) checkIndex(ctx context.Context) (checked int, marked int64, err error) {
	after := domain.GUID(0)
	for {
		guids, err := r.store.ScanIndexedGUIDs(ctx, after, checkChunk)
		if err != nil {
			return checked, marked, err
		}
		if len(guids) == 0 {
			break
		}
		after = guids[len(guids)-1]
		checked += len(guids)

		if err := r.limiter.Wait(ctx); err != nil {
			return checked, marked, err
		}

		present, err := r.presentGUIDs(ctx, guids)
		if err != nil {
			return checked, marked, err
		}

		var missing []domain.GUID
		for _, guid := range guids {
			if !present[guid] {
				missing = append(missing, guid)
			}
		}
		if len(missing) == 0 {
			continue
		}

		n, err := r.store.MarkPendingBatch(ctx, missing)
		if err != nil {
			return checked, marked, err
		}
		marked += n
		metrics.ReconciliationReindexTotal.Add(float64(n))
	}

	if marked > 0 {
		r.log.Info("re-marked entities missing from index",
			zap.Int("checked", checked),
			zap.Int64("marked", marked))
	}
	return checked, marked, nil
}

// presentGUIDs runs one terms query over a guid chunk and returns the
// set found in the index.
func (r *Reconciler) presentGUIDs(ctx context.Context, guids []domain.GUID) (map[domain.GUID]bool, error) {
	values := make([]int64, len(guids))
	for i, g := range guids {
		values[i] = int64(g)
	}
	body := map[string]any{
		"size": len(guids),
		"query": map[string]any{
			"terms": map[string]any{"guid": values},
		},
		"_source": false,
	}

	resp, err := r.engine.Search(ctx, r.readAlias, body)
	if err != nil {
		return nil, err
	}

	present := make(map[domain.GUID]bool, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		if guid, ok := parseGUID(hit.ID); ok {
			present[guid] = true
		}
	}
	return present, nil
}

func parseGUID(id string) (domain.GUID, bool) {
	guid, err := strconv.ParseInt(id, 10, 64)
	if err != nil || guid <= 0 {
		return 0, false
	}
	return domain.GUID(guid), true
}
