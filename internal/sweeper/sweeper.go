// Package sweeper periodically removes expired magic links so dead tokens
// do not accumulate in storage.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep at the top of every hour.
const DefaultSchedule = "@hourly"

// sweepTimeout bounds one sweep run.
const sweepTimeout = time.Minute

// LinkStore is the slice of the enquiry store the sweeper needs.
type LinkStore interface {
	DeleteExpiredMagicLinks(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper schedules magic-link expiry sweeps.
type Sweeper struct {
	store    LinkStore
	logger   *slog.Logger
	schedule string
	cron     *cron.Cron
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithSchedule overrides the cron schedule.
func WithSchedule(schedule string) Option {
	return func(s *Sweeper) {
		if schedule != "" {
			s.schedule = schedule
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// New constructs a Sweeper. Call Start to begin sweeping.
func New(store LinkStore, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    store,
		logger:   slog.Default(),
		schedule: DefaultSchedule,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the sweep job and starts the scheduler.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("magic link sweeper started", "schedule", s.schedule)
	return nil
}

// Stop halts the scheduler, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep runs one sweep immediately.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredMagicLinks(ctx, time.Now())
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	removed, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("magic link sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("removed expired magic links", "count", removed)
	}
}
