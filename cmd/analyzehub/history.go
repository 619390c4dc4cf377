package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"analyzehub/internal/config"
	"analyzehub/internal/statsdb"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newHistoryCommand(global *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished analyses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(global, func(db *statsdb.SQLiteAnalysisStatsStore) error {
				stats, err := db.ListRecentAnalysisStats(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return printHistory(cmd.OutOrStdout(), stats)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of entries to show")

	var summaryRange, clearRange string
	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Count analyses per outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := parseTimeRange(summaryRange)
			if err != nil {
				return err
			}
			return withHistory(global, func(db *statsdb.SQLiteAnalysisStatsStore) error {
				summary, err := db.GetOutcomeSummary(cmd.Context(), tr)
				if err != nil {
					return err
				}
				return printSummary(cmd.OutOrStdout(), summary)
			})
		},
	}
	summaryCmd.Flags().StringVar(&summaryRange, "range", string(statsdb.TimeRangeToday), "Time range (today, yesterday, week, month, all)")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete recorded analyses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := parseTimeRange(clearRange)
			if err != nil {
				return err
			}
			return withHistory(global, func(db *statsdb.SQLiteAnalysisStatsStore) error {
				n, err := db.ClearStats(cmd.Context(), tr)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d entries\n", n)
				return nil
			})
		},
	}
	clearCmd.Flags().StringVar(&clearRange, "range", string(statsdb.TimeRangeAll), "Time range (today, yesterday, week, month, all)")

	cmd.AddCommand(summaryCmd, clearCmd)
	return cmd
}

func withHistory(global *globalOptions, fn func(db *statsdb.SQLiteAnalysisStatsStore) error) error {
	path := strings.TrimSpace(global.configPath)
	if path == "" {
		path = config.FindOrCreateConfigPath()
	}
	dbPath := filepath.Join(filepath.Dir(path), config.DefaultHistoryDatabaseName)
	db, err := statsdb.OpenSQLiteAnalysisStatsStore(dbPath)
	if err != nil {
		return fmt.Errorf("open history db %s: %w", dbPath, err)
	}
	defer db.Close()
	return fn(db)
}

func parseTimeRange(v string) (statsdb.TimeRange, error) {
	switch tr := statsdb.TimeRange(strings.ToLower(strings.TrimSpace(v))); tr {
	case statsdb.TimeRangeToday, statsdb.TimeRangeYesterday, statsdb.TimeRangeWeek, statsdb.TimeRangeMonth, statsdb.TimeRangeAll:
		return tr, nil
	}
	return "", fmt.Errorf("unknown time range %q (expected today, yesterday, week, month, or all)", v)
}

func printHistory(out io.Writer, stats []statsdb.AnalysisStat) error {
	if len(stats) == 0 {
		_, err := fmt.Fprintln(out, "no analyses recorded")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTARGET\tOUTCOME\tATTEMPTS\tDURATION\tMESSAGE")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			s.CreatedAt.Local().Format(time.DateTime),
			s.Target,
			colorOutcome(s.Outcome),
			s.Attempts,
			(time.Duration(s.DurationMs) * time.Millisecond).String(),
			s.Message,
		)
	}
	return tw.Flush()
}

func printSummary(out io.Writer, summary []statsdb.OutcomeSummary) error {
	if len(summary) == 0 {
		_, err := fmt.Fprintln(out, "no analyses recorded")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OUTCOME\tREQUESTS\tATTEMPTS\tAVG DURATION")
	for _, s := range summary {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n",
			colorOutcome(s.Outcome), s.RequestCount, s.TotalAttempts,
			(time.Duration(s.AvgDurationMs) * time.Millisecond).String())
	}
	return tw.Flush()
}

func colorOutcome(outcome string) string {
	if outcome == statsdb.OutcomeSuccess {
		return color.GreenString(outcome)
	}
	return color.RedString(outcome)
}
