package audit

import (
	"context"
	"time"

	"github.com/doorwayhq/doorway/pkg/async"
	"github.com/doorwayhq/doorway/pkg/observability"
)

// AsyncRecorder queues events onto a bounded worker pool so handlers never
// wait on the audit write. Record itself never fails: an event that cannot
// be queued (pool shut down) is logged and dropped.
type AsyncRecorder struct {
	store   Recorder
	pool    *async.WorkerPool
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewAsyncRecorder starts workers goroutines draining events into store.
func NewAsyncRecorder(ctx context.Context, store Recorder, workers int, logger *observability.Logger, metrics *observability.Metrics) *AsyncRecorder {
	return &AsyncRecorder{
		store:   store,
		pool:    async.NewWorkerPool(ctx, workers, "audit writes", 10*time.Second),
		logger:  logger,
		metrics: metrics,
	}
}

// Record queues the event for persistence.
func (r *AsyncRecorder) Record(ctx context.Context, event *Event) error {
	err := r.pool.Submit(func(taskCtx context.Context) error {
		if err := r.store.Record(taskCtx, event); err != nil {
			return err
		}
		if r.metrics != nil {
			r.metrics.AuditEventsTotal.WithLabelValues(decisionLabel(event.Allowed)).Inc()
		}
		return nil
	})
	if err != nil {
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id":     event.UserID,
			"object_type": event.ObjectType,
		}).Warnf("Audit event dropped")
	}
	return nil
}

// Shutdown drains queued events, waiting up to timeout.
func (r *AsyncRecorder) Shutdown(timeout time.Duration) error {
	return r.pool.Shutdown(timeout)
}

func decisionLabel(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
