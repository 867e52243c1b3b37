package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/media"
)

const cleanupRetryDelay = 2 * time.Second

// DeletionSource yields media URLs waiting to be deleted.
type DeletionSource interface {
	Pop(ctx context.Context, timeout time.Duration) (string, error)
}

// MediaCleanupWorker drains the deletion queue into the media store.
type MediaCleanupWorker struct {
	source DeletionSource
	store  media.Store
	poll   time.Duration
	logger *zap.Logger
}

// NewMediaCleanupWorker builds the worker. poll bounds each blocking pop.
func NewMediaCleanupWorker(source DeletionSource, store media.Store, poll time.Duration, logger *zap.Logger) *MediaCleanupWorker {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaCleanupWorker{source: source, store: store, poll: poll, logger: logger}
}

// Run deletes queued media until ctx is cancelled.
func (w *MediaCleanupWorker) Run(ctx context.Context) error {
	w.logger.Info("media cleanup worker started", zap.Duration("poll", w.poll))
	for {
		if ctx.Err() != nil {
			w.logger.Info("media cleanup worker stopped")
			return nil
		}
		url, err := w.source.Pop(ctx, w.poll)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			w.logger.Warn("deletion queue pop failed", zap.Error(err))
			sleepCtx(ctx, cleanupRetryDelay)
			continue
		}
		if url == "" {
			continue
		}
		if err := w.store.Delete(ctx, url); err != nil {
			w.logger.Warn("media delete failed", zap.String("url", url), zap.Error(err))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
