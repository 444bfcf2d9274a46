package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"videosync/scheduler"
)

func newServeCmd(e *env) *cobra.Command {
	var (
		runNow       bool
		stopDeadline time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the automatic sync schedule until interrupted",
		Long: `serve schedules the incremental sync from the stored auto sync settings and
runs it until interrupted. SIGHUP re-reads the stored settings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			log := a.log.With().Str("component", "serve").Logger()
			sched := scheduler.New(a.log)
			auto := scheduler.NewAutoSync(sched, a.state, a.trigger, a.log)

			apply := func() {
				freq, err := auto.Apply(ctx)
				switch {
				case err != nil:
					log.Error().Err(err).Msg("Failed to apply auto sync settings")
				case freq == "":
					log.Info().Msg("Auto sync disabled; waiting for SIGHUP")
				default:
					log.Info().Str("interval", freq).Msg("Auto sync scheduled")
				}
			}
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)

			apply()
			sched.Start()

			var startup sync.WaitGroup
			if runNow {
				startup.Add(1)
				go func() {
					defer startup.Done()
					auto.Fire(ctx)
				}()
			}
			defer startup.Wait()

			for {
				select {
				case <-hup:
					log.Info().Msg("Reloading auto sync settings")
					apply()
				case <-ctx.Done():
					log.Info().Msg("Shutting down")
					stopCtx, cancel := context.WithTimeout(context.Background(), stopDeadline)
					defer cancel()
					if err := sched.Stop(stopCtx); err != nil {
						log.Warn().Err(err).Msg("Sync still running at shutdown deadline")
					}
					return nil
				}
			}
		},
	}

	cmd.Flags().BoolVar(&runNow, "now", false, "fire one incremental sync at startup when auto sync is enabled")
	cmd.Flags().DurationVar(&stopDeadline, "stop-timeout", 30*time.Second, "how long to wait for a running sync on shutdown")
	return cmd
}
