package media

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Remover schedules best-effort removal of stored media. It never reports
// failure to the caller.
type Remover interface {
	Remove(ctx context.Context, urls ...string)
}

// DeletionQueue buffers deletions in a Redis list drained by the cleanup
// worker. When Redis is unavailable it deletes directly in the background.
type DeletionQueue struct {
	client *redis.Client
	key    string
	store  Store
	logger *zap.Logger
}

// NewDeletionQueue builds a queue on key.
func NewDeletionQueue(client *redis.Client, key string, store Store, logger *zap.Logger) *DeletionQueue {
	return &DeletionQueue{client: client, key: key, store: store, logger: logger}
}

// Remove enqueues urls for deletion.
func (q *DeletionQueue) Remove(ctx context.Context, urls ...string) {
	if len(urls) == 0 {
		return
	}
	values := make([]any, len(urls))
	for i, u := range urls {
		values[i] = u
	}
	if q.client != nil {
		err := q.client.LPush(ctx, q.key, values...).Err()
		if err == nil {
			return
		}
		q.logger.Warn("media deletion enqueue failed; deleting inline", zap.Int("count", len(urls)), zap.Error(err))
	}
	go DeleteAll(context.WithoutCancel(ctx), q.store, q.logger, urls)
}

// Pop waits up to timeout for the next URL. It returns "" when the queue
// stayed empty.
func (q *DeletionQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return res[1], nil
}

// Len reports pending deletions.
func (q *DeletionQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// DeleteAll deletes each url, logging failures.
func DeleteAll(ctx context.Context, store Store, logger *zap.Logger, urls []string) {
	for _, u := range urls {
		if err := store.Delete(ctx, u); err != nil {
			logger.Warn("media delete failed", zap.String("url", u), zap.Error(err))
		}
	}
}

// BackgroundRemover deletes in a goroutine without any queue.
type BackgroundRemover struct {
	Store  Store
	Logger *zap.Logger
}

func (b BackgroundRemover) Remove(ctx context.Context, urls ...string) {
	if len(urls) == 0 {
		return
	}
	go DeleteAll(context.WithoutCancel(ctx), b.Store, b.Logger, urls)
}
