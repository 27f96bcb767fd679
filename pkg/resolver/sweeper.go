package resolver

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/reviewqueue"
)

// Sweeper expires stale review queue items on an interval. A max age of
// zero disables expiry entirely.
type Sweeper struct {
	logger   ectologger.Logger
	reviews  *reviewqueue.Repository
	maxAge   time.Duration
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates a review queue sweeper
func NewSweeper(logger ectologger.Logger, reviews *reviewqueue.Repository, maxAge, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		logger:   logger,
		reviews:  reviews,
		maxAge:   maxAge,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// GetName implements startup.StartupDependency
func (s *Sweeper) GetName() string {
	return "review-queue-sweeper"
}

// DependsOn implements startup.StartupDependency
func (s *Sweeper) DependsOn() []string {
	return []string{"database"}
}

// Start implements startup.StartupDependency
func (s *Sweeper) Start(ctx context.Context) error {
	if s.maxAge <= 0 {
		s.logger.Info("Review queue expiry disabled, sweeper idle")
		close(s.done)
		return nil
	}

	go s.run()
	return nil
}

// Stop implements startup.StartupDependency
func (s *Sweeper) Stop(ctx context.Context) error {
	close(s.stop)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep expires pending review items older than the configured max age
// across all tenants. Returns the number of items expired.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-s.maxAge)

	tenantIDs, err := s.reviews.ListPendingTenantIDs(ctx)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list tenants for review sweep")
		return 0
	}

	total := 0
	for _, tenantID := range tenantIDs {
		n, err := s.reviews.ExpireOlderThan(ctx, tenantID, cutoff)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"tenant_id": tenantID,
			}).Error("Failed to expire stale review items")
			continue
		}
		total += n
	}

	if total > 0 {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"expired": total,
			"cutoff":  cutoff,
		}).Info("Expired stale review items")
	}

	return total
}
