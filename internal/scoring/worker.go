// Package scoring runs the fire-and-forget vulnerability re-score that
// follows request creation. The scoring formula is an upstream concern;
// this worker only schedules the recomputation. It is eventually
// consistent and nothing in funding or allocation waits on it.
package scoring

import (
	"context"
	"log/slog"

	id "aidbridge/pkg/domain"
)

// RecomputeFunc calls the upstream scorer for one request.
type RecomputeFunc func(ctx context.Context, requestID id.RequestID) error

// Worker consumes re-score jobs from a bounded queue. Enqueue never blocks;
// when the queue is full the job is dropped and logged, which is acceptable
// because a later lifecycle event re-enqueues naturally.
type Worker struct {
	queue     chan id.RequestID
	recompute RecomputeFunc
	logger    *slog.Logger
}

// NewWorker builds a scoring worker with the given queue depth.
func NewWorker(depth int, recompute RecomputeFunc, logger *slog.Logger) *Worker {
	if depth <= 0 {
		depth = 256
	}
	return &Worker{
		queue:     make(chan id.RequestID, depth),
		recompute: recompute,
		logger:    logger,
	}
}

// Enqueue schedules a re-score. Never blocks.
func (w *Worker) Enqueue(requestID id.RequestID) {
	select {
	case w.queue <- requestID:
	default:
		if w.logger != nil {
			w.logger.Warn("scoring queue full, dropping job", "request_id", requestID.String())
		}
	}
}

// Run consumes jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case requestID := <-w.queue:
			if w.recompute == nil {
				continue
			}
			if err := w.recompute(ctx, requestID); err != nil && w.logger != nil {
				w.logger.ErrorContext(ctx, "vulnerability re-score failed",
					"request_id", requestID.String(),
					"error", err.Error(),
				)
			}
		}
	}
}
