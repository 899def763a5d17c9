package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/arbiter/ingest"
	"github.com/yairfalse/arbiter/internal/emitter"
	"github.com/yairfalse/arbiter/reconciler"
	"github.com/yairfalse/arbiter/report"
)

var (
	analyzeThreshold     int
	analyzeOutput        string
	analyzeCSVExport     string
	analyzeActionableCSV string
	analyzeJSON          string
	analyzeYAML          string
	analyzeQuiet         bool
	analyzeSource        string
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze <csv>",
	Short: "Classify roles per peer group and plan remediation",
	Long: `Analyze a normalised access export (username, department, title,
assigned_roles). Users are grouped by department and title; roles held by at
least the threshold percentage of a group are standard, the rest are ad-hoc.

Every run is journaled, recorded in history when storage is configured,
compared with the previous run of the same source, and optionally reviewed
by rego policies.`,
	Example: `  arbiter analyze users.csv
  arbiter analyze users.csv --threshold 80
  arbiter analyze users.csv -o report.txt --actionable-csv iam_actions.csv
  arbiter analyze users.csv -t 75 -c recommendations.csv --json analysis.json
  arbiter analyze users.csv --source defi_los --quiet`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().IntVarP(&analyzeThreshold, "threshold", "t", 0, "Percentage threshold for standard roles (default from config, 70)")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "Export the detailed text report to a file")
	analyzeCmd.Flags().StringVarP(&analyzeCSVExport, "csv-export", "c", "", "Export per-group recommendations to CSV")
	analyzeCmd.Flags().StringVar(&analyzeActionableCSV, "actionable-csv", "", "Export one row per remediation action to CSV")
	analyzeCmd.Flags().StringVar(&analyzeJSON, "json", "", "Export the analysis as JSON")
	analyzeCmd.Flags().StringVar(&analyzeYAML, "yaml", "", "Export the analysis as YAML")
	analyzeCmd.Flags().BoolVarP(&analyzeQuiet, "quiet", "q", false, "Only print the summary")
	analyzeCmd.Flags().StringVar(&analyzeSource, "source", "access_review", "Source system name used to track history and drift")
}

// export is one requested output file
type export struct {
	path  string
	label string
	write func(io.Writer) error
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	table, err := ingest.ReadCSVFile(args[0])
	if err != nil {
		return err
	}
	rows, stats, err := ingest.LoadAccessRows(table)
	if err != nil {
		if errors.Is(err, ingest.ErrMissingColumns) {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		return err
	}

	fmt.Fprintf(out, "Loaded %d access records from %s", stats.Loaded, args[0])
	if stats.Skipped > 0 {
		fmt.Fprintf(out, " (%d incomplete rows skipped)", stats.Skipped)
	}
	fmt.Fprintln(out)

	infra, err := openInfra(ctx, appConfig)
	defer func() {
		if cerr := infra.Close(context.WithoutCancel(ctx)); cerr != nil {
			log.Warn().Err(cerr).Msg("failed to close run infrastructure")
		}
	}()
	if err != nil {
		return err
	}

	engine, err := infra.engine()
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx, reconciler.RunInput{
		Source:    analyzeSource,
		Rows:      rows,
		Threshold: analyzeThreshold,
	})
	if err != nil {
		return err
	}

	if err := printResult(out, result, analyzeQuiet); err != nil {
		return err
	}

	for _, e := range requestedExports(result) {
		if err := writeExport(ctx, infra, engine, result.ID, e); err != nil {
			return err
		}
		fmt.Fprintf(out, "✅ %s exported to: %s\n", e.label, e.path)
	}

	if path := appConfig.Metrics.Textfile; path != "" {
		if err := emitter.WriteTextfile(path, nil); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to write metrics textfile")
		}
	}

	printVerdict(out, result)
	return nil
}

// printResult writes the summary, drift, and unless quiet the per-group breakdown
func printResult(w io.Writer, result *reconciler.RunResult, quiet bool) error {
	if err := report.WriteSummary(w, result.Analysis); err != nil {
		return err
	}

	if result.PreviousRunID != "" {
		fmt.Fprintf(w, "\nChanges since run %s: %d\n", result.PreviousRunID, len(result.Drift))
		for _, d := range result.Drift {
			fmt.Fprintf(w, "  [%s] %s / %s: %s\n", d.Severity(), d.Department, d.Title, d.Reason)
		}
	}

	if result.Review != nil && result.Review.Flagged > 0 {
		fmt.Fprintf(w, "\nPolicy review flagged %d of %d actions\n", result.Review.Flagged, result.Review.Evaluated)
	}

	if quiet {
		return nil
	}
	return report.WriteDetailed(w, result.Analysis)
}

func printVerdict(w io.Writer, result *reconciler.RunResult) {
	if result.NeedsAttention() {
		fmt.Fprintf(w, "\n⚠️  ATTENTION: %d groups require review for ad-hoc role assignments\n",
			result.Analysis.Summary.GroupsWithAdhoc)
		return
	}
	fmt.Fprintln(w, "\n✅ ALL GROUPS COMPLIANT: No ad-hoc role assignments found")
}

func requestedExports(result *reconciler.RunResult) []export {
	var exports []export

	if analyzeOutput != "" {
		exports = append(exports, export{analyzeOutput, "Report", func(w io.Writer) error {
			return report.WriteText(w, result.Analysis)
		}})
	}
	if analyzeCSVExport != "" {
		exports = append(exports, export{analyzeCSVExport, "Recommendations", func(w io.Writer) error {
			return report.WriteRecommendationsCSV(w, result.Analysis)
		}})
	}
	if analyzeActionableCSV != "" {
		exports = append(exports, export{analyzeActionableCSV, "Actionable CSV", func(w io.Writer) error {
			return report.WriteActionsCSV(w, result.Actions)
		}})
	}
	if analyzeJSON != "" {
		exports = append(exports, export{analyzeJSON, "JSON analysis", func(w io.Writer) error {
			return report.WriteStructured(w, report.FormatJSON, report.NewDump(result.Analysis))
		}})
	}
	if analyzeYAML != "" {
		exports = append(exports, export{analyzeYAML, "YAML analysis", func(w io.Writer) error {
			return report.WriteStructured(w, report.FormatYAML, report.NewDump(result.Analysis))
		}})
	}

	return exports
}

// writeExport renders one export, writes it to disk, journals it and publishes it when configured
func writeExport(ctx context.Context, infra *runInfra, engine *reconciler.Engine, runID string, e export) error {
	var buf bytes.Buffer
	if err := e.write(&buf); err != nil {
		return fmt.Errorf("render %s: %w", e.path, err)
	}

	if err := os.WriteFile(e.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", e.path, err)
	}

	name := filepath.Base(e.path)
	if err := engine.RecordExport(ctx, runID, name); err != nil {
		log.Warn().Err(err).Str("file", name).Msg("failed to journal export")
	}

	if infra.publisher == nil {
		return nil
	}
	if _, err := infra.publisher.Publish(ctx, runID, name, buf.Bytes()); err != nil {
		return err
	}
	return nil
}
