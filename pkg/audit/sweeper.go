package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/doorwayhq/doorway/pkg/observability"
)

// DefaultSweepSchedule runs the nightly purge at 03:00.
const DefaultSweepSchedule = "0 3 * * *"

// RetentionSweeper deletes events older than the retention window on a cron
// schedule.
type RetentionSweeper struct {
	store     *Store
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewRetentionSweeper creates a sweeper keeping retentionDays of events.
func NewRetentionSweeper(store *Store, retentionDays int, schedule string, logger *observability.Logger, metrics *observability.Metrics) *RetentionSweeper {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &RetentionSweeper{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		schedule:  schedule,
		logger:    logger,
		metrics:   metrics,
	}
}

// Start schedules the sweep. It returns after the first schedule parse so a
// bad expression fails at startup rather than silently never running.
func (s *RetentionSweeper) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("failed to schedule audit retention sweep: %w", err)
	}
	s.cron.Start()
	s.logger.WithFields(map[string]interface{}{
		"schedule":       s.schedule,
		"retention_days": int(s.retention.Hours() / 24),
	}).Infof("Audit retention sweeper started")
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *RetentionSweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep runs one purge immediately. The cron schedule calls this too.
func (s *RetentionSweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.retention)
	purged, err := s.store.Purge(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.AuditPurgedTotal.Add(float64(purged))
	}
	return purged, nil
}

func (s *RetentionSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	purged, err := s.Sweep(ctx)
	if err != nil {
		s.logger.WithError(err).Errorf("Audit retention sweep failed")
		return
	}
	s.logger.WithField("purged", purged).Infof("Audit retention sweep completed")
}
