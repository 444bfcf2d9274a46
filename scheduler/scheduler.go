// Package scheduler runs named recurring tasks on a cron runner and wires
// the automatic sync job to the stored settings.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Interval names accepted by ScheduleRecurring.
const (
	Hourly     = "hourly"
	TwiceDaily = "twicedaily"
	Daily      = "daily"
)

var intervalSpecs = map[string]string{
	Hourly:     "@hourly",
	TwiceDaily: "@every 12h",
	Daily:      "@daily",
}

var (
	// ErrUnknownInterval is returned for interval names other than hourly, twicedaily and daily.
	ErrUnknownInterval = errors.New("scheduler: unknown interval")
	// ErrNoHandler is returned when scheduling a task no handler was registered for.
	ErrNoHandler = errors.New("scheduler: no handler registered for task")
)

// ValidateInterval returns ErrUnknownInterval unless interval is a known name.
func ValidateInterval(interval string) error {
	if _, ok := intervalSpecs[interval]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownInterval, interval)
	}
	return nil
}

// Job is the work a task performs when it fires.
type Job func(ctx context.Context)

// Scheduler keeps at most one cron entry per task name.
type Scheduler struct {
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	handlers map[string]Job
	entries  map[string]cron.EntryID
	log      zerolog.Logger
}

// New creates a stopped scheduler. Overlapping firings of one task are
// skipped and panics in jobs are recovered and logged.
func New(logger zerolog.Logger, opts ...cron.Option) *Scheduler {
	log := logger.With().Str("component", "scheduler").Logger()
	cl := cronLogger{log: log}
	opts = append([]cron.Option{cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)}, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(opts...),
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]Job),
		entries:  make(map[string]cron.EntryID),
		log:      log,
	}
}

// Handle registers the job run for task.
func (s *Scheduler) Handle(task string, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[task] = job
}

// ScheduleRecurring schedules task at the named interval, replacing any
// existing schedule for it.
func (s *Scheduler) ScheduleRecurring(task, interval string) error {
	if err := ValidateInterval(interval); err != nil {
		return err
	}
	spec := intervalSpecs[interval]

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.handlers[task]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoHandler, task)
	}
	if id, ok := s.entries[task]; ok {
		s.cron.Remove(id)
		delete(s.entries, task)
	}

	id, err := s.cron.AddFunc(spec, func() { job(s.ctx) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", task, err)
	}
	s.entries[task] = id
	s.log.Info().Str("task", task).Str("interval", interval).Msg("Task scheduled")
	return nil
}

// Unschedule removes task's schedule. Unscheduled tasks are ignored.
func (s *Scheduler) Unschedule(task string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[task]; ok {
		s.cron.Remove(id)
		delete(s.entries, task)
		s.log.Info().Str("task", task).Msg("Task unscheduled")
	}
}

// IsScheduled reports whether task has a schedule.
func (s *Scheduler) IsScheduled(task string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[task]
	return ok
}

// UnscheduleAll removes every schedule.
func (s *Scheduler) UnscheduleAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for task, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, task)
	}
}

// Start runs the cron loop in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop, cancels running jobs' context and waits for
// them to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
