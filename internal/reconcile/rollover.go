package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// UsageRoller resets expired usage periods.
type UsageRoller interface {
	RollExpired(ctx context.Context) (int64, error)
}

// RolloverScheduler runs the usage-period rollover sweep on a cron schedule.
type RolloverScheduler struct {
	cron   *cron.Cron
	roller UsageRoller
	logger *slog.Logger
}

// NewRolloverScheduler accepts standard five-field specs and descriptors
// such as "@hourly".
func NewRolloverScheduler(roller UsageRoller, schedule string, logger *slog.Logger) (*RolloverScheduler, error) {
	s := &RolloverScheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		roller: roller,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid rollover schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *RolloverScheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s.RunOnce(ctx)
}

// RunOnce performs one sweep immediately.
func (s *RolloverScheduler) RunOnce(ctx context.Context) int64 {
	n, err := s.roller.RollExpired(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "usage rollover sweep failed", "error", err)
		return 0
	}
	return n
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for
// a running sweep to finish.
func (s *RolloverScheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
