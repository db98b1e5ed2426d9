package gate

import (
	"context"
	"sync"

	"ticketgate/internal/domain/validation"
	"ticketgate/internal/utils/clock"
)

// Queue — очередь записей устройства. Записи, меняющие статусы, идут под мьютексом Gate,
// чтобы не пересекаться с validate.
type Queue struct {
	store *Store
	mu    *sync.Mutex
	clock clock.Clock
}

func (q *Queue) Pending(ctx context.Context, limit int) ([]validation.Record, error) {
	return q.store.Pending(ctx, limit)
}

func (q *Queue) ApplyResults(ctx context.Context, results []validation.Result) (Applied, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.ApplyResults(ctx, results, q.clock.Now())
}

func (q *Queue) ApplyChanges(ctx context.Context, feed *validation.ChangeFeed) (Applied, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.ApplyChanges(ctx, feed.Changes, feed.Revision, q.clock.Now())
}

func (q *Queue) MarkAttempt(ctx context.Context, batch []validation.Record, lastErr string) error {
	ids := make([]string, 0, len(batch))
	for _, r := range batch {
		ids = append(ids, r.ID)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.MarkAttempt(ctx, ids, lastErr)
}

func (q *Queue) MarkFlushed(ctx context.Context) error {
	return q.store.SetLastFlush(ctx, q.clock.Now())
}

func (q *Queue) MarkReviewed(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.MarkReviewed(ctx, id, q.clock.Now())
}

func (q *Queue) Records(ctx context.Context, f RecordFilter) ([]validation.Record, error) {
	return q.store.Records(ctx, f)
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	return q.store.Counts(ctx)
}

func (q *Queue) Cursor(ctx context.Context) (Cursor, error) {
	return q.store.Cursor(ctx)
}
