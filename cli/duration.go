package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"videosync/youtube"
)

func newDurationCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "duration <iso-8601>",
		Short:   "Format and classify an ISO-8601 video duration",
		Example: "  videosync duration PT1H2M3S",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secs, err := youtube.ParseDuration(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%ds\t%s\n",
				youtube.FormatDuration(args[0]), secs, youtube.Classify(secs))
			return nil
		},
	}
}
