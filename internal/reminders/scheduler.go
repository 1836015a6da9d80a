package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	jobmetrics "github.com/mostrador/mostrador/internal/jobs"
	"github.com/mostrador/mostrador/internal/notify"
)

// MarkerTTL keeps a day's marker around past midnight in every timezone.
const MarkerTTL = 48 * time.Hour

// RetryInterval is how long Run waits before retrying a failed check.
const RetryInterval = 15 * time.Minute

// ErrUnknownCheck is returned by RunNow for a name no entry carries.
var ErrUnknownCheck = errors.New("reminders: unknown check")

// Marker remembers which check already ran on which day.
type Marker interface {
	SetOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Clear(ctx context.Context, key string) error
}

// Publisher receives the notifications of every run.
type Publisher interface {
	Publish(ctx context.Context, n notify.Notification) int
}

// Entry pairs a check with a standard five-field cron spec.
type Entry struct {
	Check Check
	Spec  string
}

// Config wires a Scheduler.
type Config struct {
	Location  *time.Location
	Marker    Marker
	Publisher Publisher
	Metrics   *jobmetrics.Metrics
	Logger    *slog.Logger
}

// Result describes one executed check.
type Result struct {
	Check         string
	FiredAt       time.Time
	Notifications int
}

type scheduled struct {
	check    Check
	schedule cron.Schedule
}

// Scheduler runs each check at most once per day, at or after its cron fire time.
// The per-day marker makes a restart after the fire time run the check once.
type Scheduler struct {
	entries   []scheduled
	loc       *time.Location
	marker    Marker
	publisher Publisher
	metrics   *jobmetrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler parses every entry's spec.
func NewScheduler(cfg Config, entries ...Entry) (*Scheduler, error) {
	if cfg.Marker == nil {
		return nil, errors.New("reminders: marker required")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		loc:       loc,
		marker:    cfg.Marker,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    logger,
		now:       time.Now,
	}
	for _, e := range entries {
		if e.Check == nil {
			return nil, errors.New("reminders: entry without check")
		}
		sched, err := cron.ParseStandard(e.Spec)
		if err != nil {
			return nil, fmt.Errorf("reminders: %s: parse %q: %w", e.Check.Name(), e.Spec, err)
		}
		s.entries = append(s.entries, scheduled{check: e.Check, schedule: sched})
	}
	return s, nil
}

// Next returns the earliest fire time after now across all entries.
func (s *Scheduler) Next(now time.Time) time.Time {
	var next time.Time
	local := now.In(s.loc)
	for _, e := range s.entries {
		t := e.schedule.Next(local)
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}

// RunDue runs every check whose fire time for today has passed and that has not
// run yet today.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) ([]Result, error) {
	var (
		results []Result
		errs    []error
	)
	for _, e := range s.entries {
		fired, ok := s.lastFireToday(e.schedule, now)
		if !ok {
			continue
		}
		key := markerKey(e.check.Name(), fired)
		first, err := s.marker.SetOnce(ctx, key, MarkerTTL)
		if err != nil {
			errs = append(errs, fmt.Errorf("reminders: %s: marker: %w", e.check.Name(), err))
			continue
		}
		if !first {
			continue
		}
		count, err := s.run(ctx, e.check, now)
		if err != nil {
			s.logger.Error("reminder check failed", slog.String("check", e.check.Name()), slog.Any("error", err))
			// The day stays open so the next pass retries.
			if clearErr := s.marker.Clear(ctx, key); clearErr != nil {
				s.logger.Warn("reminder marker clear", slog.String("key", key), slog.Any("error", clearErr))
			}
			errs = append(errs, err)
			continue
		}
		results = append(results, Result{Check: e.check.Name(), FiredAt: fired, Notifications: count})
	}
	return results, errors.Join(errs...)
}

// RunNow runs the named check immediately, ignoring the day marker.
func (s *Scheduler) RunNow(ctx context.Context, name string) (int, error) {
	for _, e := range s.entries {
		if e.check.Name() == name {
			return s.run(ctx, e.check, s.now())
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCheck, name)
}

// Run executes due checks and then sleeps until the next fire time, until ctx is
// done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.now()
		_, err := s.RunDue(ctx, now)
		next := s.Next(now)
		if err != nil {
			if retry := now.Add(RetryInterval); next.IsZero() || retry.Before(next) {
				next = retry
			}
		}
		if next.IsZero() {
			<-ctx.Done()
			return ctx.Err()
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Scheduler) run(ctx context.Context, check Check, now time.Time) (int, error) {
	tracker := s.metrics.Track("reminder:" + check.Name())
	notifications, err := check.Run(ctx, now)
	if err := tracker.End(err); err != nil {
		return 0, err
	}
	for _, n := range notifications {
		if s.publisher != nil {
			s.publisher.Publish(ctx, n)
		}
		s.metrics.AddNotifications(n.Kind, 1)
	}
	s.logger.Info("reminder check ran",
		slog.String("check", check.Name()),
		slog.Int("notifications", len(notifications)))
	return len(notifications), nil
}

// lastFireToday returns the latest fire time of sched that falls on now's local day
// and is not after now.
func (s *Scheduler) lastFireToday(sched cron.Schedule, now time.Time) (time.Time, bool) {
	local := now.In(s.loc)
	startOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	var (
		last  time.Time
		found bool
	)
	for t := sched.Next(startOfDay.Add(-time.Second)); !t.IsZero() && !t.After(local); t = sched.Next(t) {
		last, found = t, true
	}
	return last, found
}

func markerKey(name string, fired time.Time) string {
	return fmt.Sprintf("reminders:%s:%s", name, fired.Format("2006-01-02"))
}
