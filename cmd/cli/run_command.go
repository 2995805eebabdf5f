package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cegan09/PerchCPU/pkg/perchcpu"
	"github.com/cegan09/PerchCPU/pkg/utils"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newRunCommand(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "run <clips_directory> [output_base_name]",
		Short: "Score every clip in a directory and write results and stats",
		Long: "Score every clip under clips_directory (searched recursively) and write\n" +
			"<output_base_name>.csv with the top predictions per clip and\n" +
			"<output_base_name>_stats.txt with timing statistics.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			outBase := perchcpu.DefaultOutputBase
			if len(args) > 1 {
				outBase = args[1]
			}

			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				return fmt.Errorf("clips directory %q does not exist or is not a directory", dir)
			}
			cmd.SilenceUsage = true

			progress := cmd.ErrOrStderr()
			if !isTerminal(progress) {
				progress = nil
			} else {
				printBanner(progress)
			}

			svc, err := app.newService(progress)
			if err != nil {
				return err
			}

			summary, err := svc.Run(cmd.Context(), dir, outBase)
			if errors.Is(err, perchcpu.ErrNoClips) {
				cmd.SilenceUsage = false
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ Scored %s clips (%s rows)\n", humanize.Comma(int64(summary.Stats.Files)), humanize.Comma(int64(summary.Rows)))
			fmt.Fprintln(out, renderSummary(summary))
			return nil
		},
	}
}

func renderSummary(s *perchcpu.Summary) string {
	st := s.Stats
	return renderMetrics("Run "+utils.ShortID(s.RunID), [][2]string{
		{"Files", humanize.Comma(int64(st.Files))},
		{"Skipped", humanize.Comma(int64(len(s.Skipped)))},
		{"Rows", humanize.Comma(int64(s.Rows))},
		{"Score output", describeScores(s)},
		{"Model load", fmt.Sprintf("%.3fs", st.ModelLoad.Seconds())},
		{"I/O", fmt.Sprintf("%.3fs", st.IO.Seconds())},
		{"Inference", fmt.Sprintf("%.3fs", st.Inference.Seconds())},
		{"Wall", fmt.Sprintf("%.3fs", st.Wall.Seconds())},
		{"Avg/clip", fmt.Sprintf("%.1f ms", st.Latency.Mean)},
		{"Median / p90 / p95", fmt.Sprintf("%.1f / %.1f / %.1f ms", st.Latency.Median, st.Latency.P90, st.Latency.P95)},
		{"Throughput", fmt.Sprintf("%.2f clips/s (batch=%d)", st.Throughput, st.BatchSize)},
		{"Results", s.CSVPath},
		{"Stats", s.StatsPath},
	})
}

// describeScores names the score output and how it was picked and treated.
func describeScores(s *perchcpu.Summary) string {
	if s.ScoreKey == "" {
		return "-"
	}
	var notes []string
	if s.ScoreFallback {
		notes = append(notes, "widest output")
	}
	if s.Softmaxed {
		notes = append(notes, "softmax applied")
	}
	if len(notes) == 0 {
		return s.ScoreKey
	}
	return s.ScoreKey + " (" + strings.Join(notes, ", ") + ")"
}
