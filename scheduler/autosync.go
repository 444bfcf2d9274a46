package scheduler

import (
	"context"

	"github.com/rs/zerolog"

	"videosync/storage"
	"videosync/trigger"
)

// AutoSyncTask is the task name of the automatic incremental sync.
const AutoSyncTask = "nvm_auto_sync_videos"

// DefaultFrequency is used when no sync frequency is stored.
const DefaultFrequency = Hourly

// Runner runs an incremental sync.
type Runner interface {
	RunIncrementalSync(ctx context.Context) trigger.Payload
}

// Recurring is the scheduler surface AutoSync needs.
type Recurring interface {
	Handle(task string, job Job)
	ScheduleRecurring(task, interval string) error
	Unschedule(task string)
	IsScheduled(task string) bool
}

// AutoSync keeps the automatic sync task in line with the nvm_auto_sync and
// nvm_sync_frequency settings.
type AutoSync struct {
	sched  Recurring
	state  storage.StateStore
	runner Runner
	log    zerolog.Logger
}

// NewAutoSync registers the sync job on sched. Call Apply to schedule it.
func NewAutoSync(sched Recurring, state storage.StateStore, runner Runner, logger zerolog.Logger) *AutoSync {
	a := &AutoSync{
		sched:  sched,
		state:  state,
		runner: runner,
		log:    logger.With().Str("component", "autosync").Logger(),
	}
	sched.Handle(AutoSyncTask, a.Fire)
	return a
}

// Fire runs the job once. The settings are re-read so a disabled schedule
// that has not been reconciled yet does not sync.
func (a *AutoSync) Fire(ctx context.Context) {
	enabled, err := storage.GetBool(ctx, a.state, storage.KeyAutoSync)
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to read auto sync setting")
		return
	}
	if !enabled {
		a.log.Info().Msg("Auto sync disabled, skipping run")
		return
	}

	p := a.runner.RunIncrementalSync(ctx)
	ev := a.log.Info()
	if !p.Success {
		ev = a.log.Warn()
	}
	ev.Bool("success", p.Success).Int("count", p.Count).Msg(p.Message)
}

// Apply schedules or unschedules the task from the stored settings and
// returns the frequency in effect, or "" when disabled.
func (a *AutoSync) Apply(ctx context.Context) (string, error) {
	enabled, err := storage.GetBool(ctx, a.state, storage.KeyAutoSync)
	if err != nil {
		return "", err
	}
	if !enabled {
		a.sched.Unschedule(AutoSyncTask)
		return "", nil
	}

	freq, ok, err := a.state.Get(ctx, storage.KeySyncFrequency)
	if err != nil {
		return "", err
	}
	if !ok || freq == "" {
		freq = DefaultFrequency
	}
	if err := a.sched.ScheduleRecurring(AutoSyncTask, freq); err != nil {
		return "", err
	}
	return freq, nil
}
