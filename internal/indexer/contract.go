package indexer

import (
	"context"

	"github.com/lagoon-cms/searchsync/internal/domain"
	"github.com/lagoon-cms/searchsync/internal/esclient"
)

// EntitySource is the slice of the store the indexer reads from.
type EntitySource interface {
	ScanNew(ctx context.Context, pairs []domain.TypeSubtype, skip []domain.GUID, limit int) ([]*domain.Entity, error)
	ScanUpdated(ctx context.Context, pairs []domain.TypeSubtype, skip []domain.GUID, limit int) ([]*domain.Entity, error)
	ScanForcedReindex(ctx context.Context, pairs []domain.TypeSubtype, skip []domain.GUID, cutoff int64, limit int) ([]*domain.Entity, error)
	MarkIndexed(ctx context.Context, guid domain.GUID, ts int64) error
	ClearMarker(ctx context.Context, guid domain.GUID) error
	Setting(ctx context.Context, name string) (string, error)
}

// Engine is the slice of the search gateway the indexer writes
// through.
type Engine interface {
	Bulk(ctx context.Context, items []esclient.BulkItem) ([]esclient.BulkItemResult, error)
	DeleteDocument(ctx context.Context, index, id string) (int, error)
}

// DocumentBuilder turns an entity into its index document.
type DocumentBuilder interface {
	Build(ctx context.Context, e *domain.Entity) (*domain.Document, error)
}

// DeleteSource is the delete queue as the indexer sees it.
type DeleteSource interface {
	Enqueue(ctx context.Context, item domain.QueueItem) error
	Dequeue(ctx context.Context, limit int) ([]domain.QueueItem, error)
	Requeue(ctx context.Context, item domain.QueueItem) error
	Depth(ctx context.Context) (int64, error)
}

// Guard vetoes indexing of individual entities. Entities a guard
// rejects are skipped for the rest of the run.
type Guard interface {
	Allow(e *domain.Entity) bool
}

// GuardFunc adapts a function to the Guard interface.
type GuardFunc func(e *domain.Entity) bool

func (f GuardFunc) Allow(e *domain.Entity) bool { return f(e) }

// BannedUserGuard keeps banned users out of the index.
func BannedUserGuard() Guard {
	return GuardFunc(func(e *domain.Entity) bool {
		return !(e.Type == "user" && e.Banned)
	})
}
