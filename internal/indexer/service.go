// Package indexer drives the synchronisation between the entity
// store and the search index: bulk indexing in three passes and the
// deferred deletion drain.
package indexer

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lagoon-cms/searchsync/internal/domain"
	"github.com/lagoon-cms/searchsync/internal/esclient"
	"github.com/lagoon-cms/searchsync/internal/metrics"
)

// Settings names persisted in search_settings.
const (
	SettingReindexRequestedAt = "reindex_requested_at"
	SettingSyncEnabled        = "sync_enabled"
)

type Service struct {
	source     EntitySource
	engine     Engine
	builder    DocumentBuilder
	deletes    DeleteSource
	guards     []Guard
	writeAlias string
	pairs      []domain.TypeSubtype
	scanBatch  int
	bulkBatch  int
	log        *zap.Logger
	now        func() time.Time
}

type Options struct {
	WriteAlias    string
	Pairs         []domain.TypeSubtype
	ScanBatchSize int
	BulkBatchSize int
	Guards        []Guard
}

func NewService(source EntitySource, engine Engine, builder DocumentBuilder, deletes DeleteSource, opts Options, log *zap.Logger) *Service {
	if opts.ScanBatchSize <= 0 {
		opts.ScanBatchSize = 100
	}
	if opts.BulkBatchSize <= 0 {
		opts.BulkBatchSize = 25
	}
	return &Service{
		source:     source,
		engine:     engine,
		builder:    builder,
		deletes:    deletes,
		guards:     opts.Guards,
		writeAlias: opts.WriteAlias,
		pairs:      opts.Pairs,
		scanBatch:  opts.ScanBatchSize,
		bulkBatch:  opts.BulkBatchSize,
		log:        log.Named("indexer"),
		now:        time.Now,
	}
}

// RunStats summarizes one sync run.
type RunStats struct {
	Indexed  int
	Failed   int
	Deleted  int
	Requeued int
}

// Sync drains the delete queue, then runs the three indexing passes
// until done or the deadline passes. A zero deadline means no time
// budget. Each pass keeps its own skip list, so an entity that fails
// once does not block the batch loop.
func (s *Service) Sync(ctx context.Context, deadline time.Time) (RunStats, error) {
	stats := RunStats{}

	deleted, requeued, err := s.DrainDeletes(ctx, deadline)
	stats.Deleted, stats.Requeued = deleted, requeued
	if err != nil {
		return stats, err
	}

	type pass struct {
		name string
		scan scanFunc
	}
	passes := []pass{
		{"new", func(ctx context.Context, skip []domain.GUID, limit int) ([]*domain.Entity, error) {
			return s.source.ScanNew(ctx, s.pairs, skip, limit)
		}},
		{"updated", func(ctx context.Context, skip []domain.GUID, limit int) ([]*domain.Entity, error) {
			return s.source.ScanUpdated(ctx, s.pairs, skip, limit)
		}},
	}

	if cutoff := s.reindexCutoff(ctx); cutoff > 0 {
		passes = append(passes, pass{"reindex", func(ctx context.Context, skip []domain.GUID, limit int) ([]*domain.Entity, error) {
			return s.source.ScanForcedReindex(ctx, s.pairs, skip, cutoff, limit)
		}})
	}

	for _, pass := range passes {
		indexed, failed, err := s.runPass(ctx, pass.name, pass.scan, deadline)
		stats.Indexed += indexed
		stats.Failed += failed
		if err != nil {
			return stats, err
		}
		if !s.withinBudget(deadline) {
			s.log.Info("sync budget exhausted", zap.String("pass", pass.name))
			break
		}
	}

	if depth, err := s.deletes.Depth(ctx); err == nil {
		metrics.DeleteQueueDepth.Set(float64(depth))
	}
	return stats, nil
}

// reindexCutoff reads the administrator-requested reindex timestamp.
// Zero means no forced reindex is pending.
func (s *Service) reindexCutoff(ctx context.Context) int64 {
	value, err := s.source.Setting(ctx, SettingReindexRequestedAt)
	if err != nil {
		return 0
	}
	cutoff, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		s.log.Warn("invalid reindex cutoff setting", zap.String("value", value))
		return 0
	}
	return cutoff
}

type scanFunc func(ctx context.Context, skip []domain.GUID, limit int) ([]*domain.Entity, error)

// runPass repeatedly scans and bulk-indexes a batch until the scan
// comes back empty or the deadline passes. Entities that fail to
// index go on the skip list so the next scan moves past them; vetoed
// entities are stamped done so they leave the eligible set for good.
func (s *Service) runPass(ctx context.Context, name string, scan scanFunc, deadline time.Time) (indexed, failed int, err error) {
	var skip []domain.GUID

	for s.withinBudget(deadline) {
		entities, err := scan(ctx, skip, s.scanBatch)
		if err != nil {
			return indexed, failed, err
		}
		if len(entities) == 0 {
			break
		}

		allowed := make([]*domain.Entity, 0, len(entities))
		for _, e := range entities {
			if s.vetoed(e) {
				if err := s.source.MarkIndexed(ctx, e.GUID, s.now().Unix()); err != nil {
					return indexed, failed, err
				}
				metrics.DocumentsIndexedTotal.WithLabelValues(e.Type, "vetoed").Inc()
				continue
			}
			allowed = append(allowed, e)
		}

		for start := 0; start < len(allowed); start += s.bulkBatch {
			end := start + s.bulkBatch
			if end > len(allowed) {
				end = len(allowed)
			}
			ok, bad, skipGUIDs, err := s.indexBatch(ctx, allowed[start:end])
			indexed += ok
			failed += bad
			skip = append(skip, skipGUIDs...)
			if err != nil {
				return indexed, failed, err
			}
			if !s.withinBudget(deadline) {
				s.log.Info("pass stopped at deadline",
					zap.String("pass", name),
					zap.Int("indexed", indexed))
				return indexed, failed, nil
			}
		}
	}
	return indexed, failed, nil
}

// withinBudget reports whether work may continue. A zero deadline
// means no time budget was set.
func (s *Service) withinBudget(deadline time.Time) bool {
	return deadline.IsZero() || s.now().Before(deadline)
}

func (s *Service) vetoed(e *domain.Entity) bool {
	for _, g := range s.guards {
		if !g.Allow(e) {
			return true
		}
	}
	return false
}

// indexBatch builds documents for a batch, submits one bulk request
// and applies per-item results: success marks the entity indexed,
// failure adds it to the skip list with a warning.
func (s *Service) indexBatch(ctx context.Context, entities []*domain.Entity) (indexed, failed int, skip []domain.GUID, err error) {
	items := make([]esclient.BulkItem, 0, len(entities))
	byID := make(map[string]*domain.Entity, len(entities))

	for _, e := range entities {
		doc, err := s.builder.Build(ctx, e)
		if err != nil {
			s.log.Warn("document build failed",
				zap.Int64("guid", int64(e.GUID)),
				zap.Error(err))
			skip = append(skip, e.GUID)
			failed++
			metrics.DocumentsIndexedTotal.WithLabelValues(e.Type, "build_error").Inc()
			continue
		}
		id := strconv.FormatInt(int64(e.GUID), 10)
		byID[id] = e
		items = append(items, esclient.BulkItem{
			Action: "index",
			Index:  s.writeAlias,
			ID:     id,
			Doc:    doc,
		})
	}
	if len(items) == 0 {
		return indexed, failed, skip, nil
	}

	results, err := s.engine.Bulk(ctx, items)
	if err != nil {
		// The whole request failed; skip the batch and keep going.
		for _, item := range items {
			skip = append(skip, byID[item.ID].GUID)
		}
		s.log.Error("bulk request failed", zap.Int("batch", len(items)), zap.Error(err))
		return indexed, failed + len(items), skip, nil
	}

	now := s.now().Unix()
	for _, result := range results {
		e, ok := byID[result.ID]
		if !ok {
			continue
		}
		if result.OK() {
			if err := s.source.MarkIndexed(ctx, e.GUID, now); err != nil {
				return indexed, failed, skip, err
			}
			indexed++
			metrics.DocumentsIndexedTotal.WithLabelValues(e.Type, "ok").Inc()
			continue
		}
		s.log.Warn("document rejected by index",
			zap.Int64("guid", int64(e.GUID)),
			zap.Int("status", result.Status),
			zap.String("error_type", result.ErrorType),
			zap.String("error_reason", result.ErrorReason))
		skip = append(skip, e.GUID)
		failed++
		metrics.DocumentsIndexedTotal.WithLabelValues(e.Type, "rejected").Inc()
	}
	return indexed, failed, skip, nil
}

// DrainDeletes processes the delete queue until empty or the deadline
// passes. A 200 or 404 both count as removed; anything else puts the
// item back with a retry delay.
func (s *Service) DrainDeletes(ctx context.Context, deadline time.Time) (deleted, requeued int, err error) {
	for s.withinBudget(deadline) {
		items, err := s.deletes.Dequeue(ctx, s.bulkBatch)
		if err != nil {
			return deleted, requeued, err
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			status, err := s.engine.DeleteDocument(ctx, item.Index, item.DocID)
			if err != nil || (status != 200 && status != 404) {
				if rqErr := s.deletes.Requeue(ctx, item); rqErr != nil {
					return deleted, requeued, rqErr
				}
				requeued++
				metrics.DocumentsDeletedTotal.WithLabelValues("requeued").Inc()
				s.log.Warn("index delete failed, requeued",
					zap.Int64("guid", int64(item.GUID)),
					zap.Int("status", status),
					zap.Error(err))
				continue
			}
			if err := s.source.ClearMarker(ctx, item.GUID); err != nil {
				return deleted, requeued, err
			}
			deleted++
			metrics.DocumentsDeletedTotal.WithLabelValues("ok").Inc()
		}
	}
	return deleted, requeued, nil
}

// DeleteEntity queues an entity's document for deletion and resets
// its marker. Used when an entity is banned, disabled or removed.
func (s *Service) DeleteEntity(ctx context.Context, guid domain.GUID) error {
	item := domain.QueueItem{
		GUID:  guid,
		Index: s.writeAlias,
		DocID: strconv.FormatInt(int64(guid), 10),
	}
	if err := s.deletes.Enqueue(ctx, item); err != nil {
		return err
	}
	return s.source.ClearMarker(ctx, guid)
}
