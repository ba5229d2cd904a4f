// Package queue persists pending index deletions. Rows survive
// process restarts and engine outages; a failed deletion goes back in
// with a delayed visibility so it is retried later.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lagoon-cms/searchsync/internal/domain"
)

// RetryDelay is how far into the future a failed deletion becomes
// visible again.
const RetryDelay = time.Hour

type DeleteQueue struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *DeleteQueue {
	return &DeleteQueue{db: db, now: time.Now}
}

// Enqueue records a document for deletion, visible immediately. An
// item already queued for the same guid is replaced.
func (q *DeleteQueue) Enqueue(ctx context.Context, item domain.QueueItem) error {
	return q.enqueueAt(ctx, item, q.now().Unix())
}

// Requeue puts a failed deletion back with a retry delay.
func (q *DeleteQueue) Requeue(ctx context.Context, item domain.QueueItem) error {
	return q.enqueueAt(ctx, item, q.now().Add(RetryDelay).Unix())
}

func (q *DeleteQueue) enqueueAt(ctx context.Context, item domain.QueueItem, visibleAt int64) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO search_delete_queue (guid, index_name, doc_id, enqueued_at, visible_at, lease_token)
		VALUES ($1, $2, $3, $4, $5, NULL)
		ON CONFLICT (guid) DO UPDATE SET
			index_name = EXCLUDED.index_name,
			doc_id = EXCLUDED.doc_id,
			visible_at = EXCLUDED.visible_at,
			lease_token = NULL
	`, int64(item.GUID), item.Index, item.DocID, q.now().Unix(), visibleAt)
	if err != nil {
		return fmt.Errorf("enqueue delete: %w", err)
	}
	return nil
}

// Dequeue claims up to limit visible items and removes them from the
// queue. The claim is a compare-and-swap on the lease token, so two
// concurrent workers never receive the same item. Claimed items are
// hard-deleted before being returned; callers must Requeue anything
// they fail to process.
func (q *DeleteQueue) Dequeue(ctx context.Context, limit int) ([]domain.QueueItem, error) {
	token := uuid.NewString()

	res, err := q.db.ExecContext(ctx, `
		UPDATE search_delete_queue SET lease_token = $1
		WHERE guid IN (
			SELECT guid FROM search_delete_queue
			WHERE visible_at <= $2 AND lease_token IS NULL
			ORDER BY visible_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
	`, token, q.now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim delete queue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	rows, err := q.db.QueryContext(ctx, `
		DELETE FROM search_delete_queue WHERE lease_token = $1
		RETURNING guid, index_name, doc_id
	`, token)
	if err != nil {
		return nil, fmt.Errorf("drain delete queue: %w", err)
	}
	defer rows.Close()

	var items []domain.QueueItem
	for rows.Next() {
		var item domain.QueueItem
		var guid int64
		if err := rows.Scan(&guid, &item.Index, &item.DocID); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		item.GUID = domain.GUID(guid)
		items = append(items, item)
	}
	return items, rows.Err()
}

// Depth returns the number of queued items, visible or not.
func (q *DeleteQueue) Depth(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM search_delete_queue`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// EnqueueGUIDs is a convenience for reconciliation: queues deletions
// for documents found in the given index.
func (q *DeleteQueue) EnqueueGUIDs(ctx context.Context, index string, guids []domain.GUID) error {
	var errs []string
	for _, guid := range guids {
		item := domain.QueueItem{
			GUID:  guid,
			Index: index,
			DocID: fmt.Sprintf("%d", guid),
		}
		if err := q.Enqueue(ctx, item); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("enqueue guids: %s", strings.Join(errs, "; "))
	}
	return nil
}
