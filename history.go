package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"fb2kstat/collector"
	"fb2kstat/database"
)

var (
	limit int
	days  int
)

var nowCmd = &cobra.Command{
	Use:     "now",
	Aliases: []string{"now-playing", "status"},
	Short:   "Show what foobar2000 is playing",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newBeefwebClient()
		if err != nil {
			return err
		}
		n := collector.NewNormalizer(collector.OptionsFromConfig(cfg), logger)
		player, err := client.GetPlayer(cmd.Context(), n.Columns())
		if err != nil {
			return err
		}
		state := n.Normalize(player)
		printNow(cmd.OutOrStdout(), &state)
		return nil
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently recorded plays",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(h database.History) error {
			plays, err := h.RecentPlays(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printPlays(cmd.OutOrStdout(), plays, time.Now())
			return nil
		})
	},
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Rank the most played tracks",
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if days > 0 {
			since = time.Now().AddDate(0, 0, -days)
		}
		return withHistory(func(h database.History) error {
			top, err := h.TopTracks(cmd.Context(), since, limit)
			if err != nil {
				return err
			}
			printTrackPlays(cmd.OutOrStdout(), top)
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search recorded tracks by title, artist or album",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		return withHistory(func(h database.History) error {
			tracks, err := h.SearchTracks(cmd.Context(), query, limit)
			if err != nil {
				return err
			}
			printTrackPlays(cmd.OutOrStdout(), tracks)
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(h database.History) error {
			stats, err := h.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{recentCmd, topCmd, searchCmd} {
		c.Flags().IntVarP(&limit, "limit", "n", 15, "maximum number of rows")
	}
	topCmd.Flags().IntVarP(&days, "days", "d", 0, "only count the last N days (0 = all time)")

	rootCmd.AddCommand(nowCmd, recentCmd, topCmd, searchCmd, statsCmd)
}

func withHistory(fn func(database.History) error) error {
	dm, err := database.NewDatabaseManager(cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer dm.Close()
	return fn(dm)
}

func printNow(w io.Writer, s *collector.PlayerState) {
	if !s.HasTrack() {
		fmt.Fprintf(w, "Status: %s\n", s.PlaybackState)
		return
	}
	meta := s.Metadata.Map()
	fmt.Fprintf(w, "Status: %s\n", s.PlaybackState)
	fmt.Fprintf(w, "Track: %s by %s\n", orUnknown(meta[collector.ColumnTitle]), orUnknown(meta[collector.ColumnArtist]))
	if album := meta[collector.ColumnAlbum]; album != "" {
		fmt.Fprintf(w, "Album: %s\n", album)
	}
	fmt.Fprintf(w, "Position: %s / %s\n", clock(s.Position), clock(s.Duration))
	fmt.Fprintf(w, "Volume: %.0f%%\n", s.VolumePercent)
	fmt.Fprintf(w, "ID: %s\n", s.MusicID)
}

func printPlays(w io.Writer, plays []database.Play, now time.Time) {
	if len(plays) == 0 {
		fmt.Fprintln(w, "No plays recorded yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tHEARD\tTITLE\tARTISTS")
	for _, p := range plays {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			humanize.RelTime(p.StartedAt, now, "ago", "from now"),
			clock(p.Duration),
			p.Track.Title,
			p.Track.Artists)
	}
	tw.Flush()
}

func printTrackPlays(w io.Writer, rows []database.TrackPlays) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No tracks found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAYS\tLISTENED\tTITLE\tARTISTS\tALBUM")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			humanize.Comma(r.Plays),
			clock(r.Listened),
			r.Title,
			r.Artists,
			r.Album)
	}
	tw.Flush()
}

func printStats(w io.Writer, s *database.DatabaseStats) {
	fmt.Fprintf(w, "Tracks: %s\n", humanize.Comma(s.TrackCount))
	fmt.Fprintf(w, "Plays: %s\n", humanize.Comma(s.PlayCount))
	fmt.Fprintf(w, "Listened: %s\n", (time.Duration(s.TotalListened) * time.Second).String())
	if s.FirstPlay != nil {
		fmt.Fprintf(w, "First play: %s\n", s.FirstPlay.Local().Format(time.DateTime))
	}
	if s.LastPlay != nil {
		fmt.Fprintf(w, "Last play: %s\n", s.LastPlay.Local().Format(time.DateTime))
	}
	if s.DatabaseSize > 0 {
		fmt.Fprintf(w, "Database size: %s\n", humanize.Bytes(uint64(s.DatabaseSize)))
	}
}

// clock renders seconds as m:ss or h:mm:ss.
func clock(seconds float64) string {
	total := int(seconds)
	if total < 0 {
		total = 0
	}
	h, m, s := total/3600, total/60%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
