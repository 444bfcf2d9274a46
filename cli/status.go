package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"videosync/oauth"
	"videosync/scheduler"
	"videosync/storage"
)

// statusReport is what the status command prints.
type statusReport struct {
	Session      oauth.Status
	ChannelID    string
	LastSync     time.Time
	AutoSync     bool
	Frequency    string
	StoredVideos int
}

func newStatusCmd(e *env) *cobra.Command {
	var principal string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the OAuth session, channel and sync settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var r statusReport
			if r.Session, err = a.session.Status(ctx, principal); err != nil {
				return err
			}
			if r.ChannelID, _, err = a.state.Get(ctx, storage.KeyChannelID); err != nil {
				return err
			}
			if r.LastSync, err = a.syncer.LastSync(ctx); err != nil {
				return err
			}
			if r.AutoSync, err = storage.GetBool(ctx, a.state, storage.KeyAutoSync); err != nil {
				return err
			}
			freq, ok, err := a.state.Get(ctx, storage.KeySyncFrequency)
			if err != nil {
				return err
			}
			if !ok || freq == "" {
				freq = scheduler.DefaultFrequency
			}
			r.Frequency = freq
			videos, err := a.content.ListVideos(ctx)
			if err != nil {
				return err
			}
			r.StoredVideos = len(videos)

			return printStatus(cmd.OutOrStdout(), r)
		},
	}
	cmd.Flags().StringVar(&principal, "principal", defaultPrincipal, "principal whose pending authorization is reported")
	return cmd
}

func printStatus(out io.Writer, r statusReport) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Session:\t%s\n", r.Session.State)
	if r.Session.State == oauth.StateAuthenticated {
		fmt.Fprintf(w, "Token expires:\t%s\n", formatTime(r.Session.ExpiresAt))
		fmt.Fprintf(w, "Authenticated at:\t%s\n", formatTime(r.Session.AuthenticatedAt))
		fmt.Fprintf(w, "Refresh token:\t%s\n", yesNo(r.Session.HasRefreshToken))
	}
	channel := r.ChannelID
	if channel == "" {
		channel = "(not set)"
	}
	fmt.Fprintf(w, "Channel:\t%s\n", channel)
	fmt.Fprintf(w, "Last sync:\t%s\n", formatTime(r.LastSync))
	auto := "off"
	if r.AutoSync {
		auto = r.Frequency
	}
	fmt.Fprintf(w, "Auto sync:\t%s\n", auto)
	fmt.Fprintf(w, "Stored videos:\t%d\n", r.StoredVideos)
	return w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
