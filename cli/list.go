package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"videosync/storage"
	"videosync/youtube"
)

func newListCmd(e *env) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the synced video records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			videos, err := a.content.ListVideos(ctx)
			if err != nil {
				return err
			}
			if len(videos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No videos synced yet.")
				return nil
			}
			total := len(videos)
			if limit > 0 && limit < total {
				videos = videos[:limit]
			}

			rows := make([]videoRow, 0, len(videos))
			for _, rec := range videos {
				types, err := a.content.Labels(ctx, rec.ID, storage.TypeTaxonomy)
				if err != nil {
					return err
				}
				rows = append(rows, newVideoRow(rec, strings.Join(types, ",")))
			}
			printVideos(cmd.OutOrStdout(), rows)
			fmt.Fprintf(cmd.ErrOrStderr(), "\nTotal: %d videos\n", total)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "max", 0, "maximum records to list (0 = all)")
	return cmd
}

type videoRow struct {
	YouTubeID string
	Title     string
	Duration  string
	Views     string
	Type      string
}

func newVideoRow(rec *storage.Record, videoType string) videoRow {
	row := videoRow{
		YouTubeID: rec.Fields[storage.FieldYouTubeID],
		Title:     truncate(rec.Title, 50),
		Type:      videoType,
	}
	if iso := rec.Fields[storage.FieldDuration]; iso != "" {
		row.Duration = youtube.FormatDuration(iso)
	}
	if v := rec.Fields[storage.FieldViewCount]; v != "" && v != "0" {
		row.Views = v
	}
	return row
}

func printVideos(out io.Writer, rows []videoRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VIDEO ID\tTITLE\tDURATION\tVIEWS\tTYPE")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.YouTubeID, r.Title, r.Duration, r.Views, r.Type)
	}
	w.Flush()
}

func truncate(s string, maxLen int) string {
	if len([]rune(s)) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}
