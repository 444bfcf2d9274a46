package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"videosync/scheduler"
	"videosync/storage"
)

func newConfigureCmd(e *env) *cobra.Command {
	var (
		clientID     string
		clientSecret string
		channelID    string
		autoSync     bool
		frequency    string
	)

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Store OAuth client credentials and sync settings",
		Long: `Store the OAuth client credentials, the channel to mirror and the automatic
sync settings. Only the flags given are changed. The client secret is
encrypted before it is stored.`,
		Example: `  videosync configure --client-id 123.apps.googleusercontent.com --client-secret s3cret
  videosync configure --channel-id UCxxxxxxxxxxxxxxxxxxxxxx
  videosync configure --auto-sync --frequency twicedaily`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			changed := 0
			for _, name := range []string{"client-id", "client-secret", "channel-id", "auto-sync", "frequency"} {
				if flags.Changed(name) {
					changed++
				}
			}
			if changed == 0 {
				return errors.New("nothing to configure; pass at least one flag")
			}
			if flags.Changed("frequency") {
				if err := scheduler.ValidateInterval(frequency); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			a, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if flags.Changed("client-id") || flags.Changed("client-secret") {
				id := clientID
				if !flags.Changed("client-id") {
					stored, _, err := a.state.Get(ctx, storage.KeyClientID)
					if err != nil {
						return err
					}
					id = stored
				}
				if strings.TrimSpace(id) == "" {
					return errors.New("a client id is required before a client secret can be stored")
				}
				if err := a.session.Configure(ctx, id, clientSecret); err != nil {
					return fmt.Errorf("store client credentials: %w", err)
				}
			}
			if flags.Changed("channel-id") {
				if err := a.state.Set(ctx, storage.KeyChannelID, strings.TrimSpace(channelID)); err != nil {
					return err
				}
			}
			if flags.Changed("auto-sync") {
				v := "0"
				if autoSync {
					v = "1"
				}
				if err := a.state.Set(ctx, storage.KeyAutoSync, v); err != nil {
					return err
				}
			}
			if flags.Changed("frequency") {
				if err := a.state.Set(ctx, storage.KeySyncFrequency, frequency); err != nil {
					return err
				}
			}

			a.log.Info().Int("count", changed).Msg("Settings saved")
			fmt.Fprintln(cmd.OutOrStdout(), "Settings saved.")
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth client id")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth client secret")
	cmd.Flags().StringVar(&channelID, "channel-id", "", "YouTube channel id to mirror")
	cmd.Flags().BoolVar(&autoSync, "auto-sync", false, "enable the recurring incremental sync")
	cmd.Flags().StringVar(&frequency, "frequency", scheduler.DefaultFrequency,
		fmt.Sprintf("auto sync interval: %s, %s or %s", scheduler.Hourly, scheduler.TwiceDaily, scheduler.Daily))
	return cmd
}
