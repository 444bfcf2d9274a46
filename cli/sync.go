package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"videosync/trigger"
	"videosync/youtube"
)

func newSyncCmd(e *env) *cobra.Command {
	var (
		full      bool
		maxVideos int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass now",
		Long: `sync lists the channel's uploads and creates or updates one record per
video. By default only videos published since the last successful run (minus a
one hour margin) are visited; --full visits the whole channel.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxVideos < 0 {
				return errors.New("--max must be non-negative")
			}
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			opts := youtube.SyncOptions{Full: full, MaxVideos: a.cfg.Sync.MaxVideos}
			if cmd.Flags().Changed("max") {
				opts.MaxVideos = maxVideos
			}
			payload, result := a.trigger.Run(cmd.Context(), opts)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(payload); err != nil {
					return err
				}
			} else {
				printSync(cmd.OutOrStdout(), payload, result)
			}
			if !payload.Success {
				return errors.New(payload.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "visit every upload instead of only recent ones")
	cmd.Flags().IntVar(&maxVideos, "max", 0, "stop after this many videos (0 = sync.max_videos)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result payload as JSON")
	return cmd
}

func printSync(out io.Writer, p trigger.Payload, r *youtube.SyncResult) {
	if !p.Success {
		return
	}
	fmt.Fprintln(out, p.Message)
	if r == nil {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tUPDATED\tFAILED\tPAGES\tSTOPPED AT MAX")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%s\n", r.Created, r.Updated, r.Failed, r.Pages, yesNo(r.StoppedAtMax))
	w.Flush()
}
