package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/arbiter/storage"
	"github.com/yairfalse/arbiter/wal"
)

var (
	historyGroup      string
	historyLimit      int
	historyRun        string
	historyDriftSince time.Duration
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show stored runs, peer group history and drift",
	Long: `Inspect the run history database configured under [storage].

Without flags the most recent runs are listed. --group shows how one
department/title peer group changed across runs, --run shows a stored run
with its journal entries, and --drift-since lists peer group changes.`,
	Example: `  arbiter history --config arbiter.toml
  arbiter history --limit 5
  arbiter history --group "Sales/Account Executive"
  arbiter history --run 6f1c0f7e-...
  arbiter history --drift-since 168h`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyGroup, "group", "", "Peer group as department/title")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to list (0 for all)")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Show one run and its journal entries")
	historyCmd.Flags().DurationVar(&historyDriftSince, "drift-since", 0, "List peer group drift recorded within this window")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if appConfig.Storage.Path == "" {
		return errors.New("history requires [storage] path in the config")
	}

	history, err := storage.NewHistory(appConfig.Storage.Path)
	if err != nil {
		return err
	}
	defer func() { _ = history.Close() }()

	out := cmd.OutOrStdout()

	switch {
	case historyGroup != "":
		return showGroup(out, history, historyGroup)
	case historyRun != "":
		return showRun(out, history, historyRun)
	case historyDriftSince > 0:
		return showDrift(cmd, history, time.Now().Add(-historyDriftSince))
	default:
		return listRuns(out, history, historyLimit)
	}
}

func listRuns(w io.Writer, history *storage.History, limit int) error {
	runs, err := history.ListRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REV\tRUN\tSOURCE\tSTARTED\tROWS\tGROUPS\tADHOC\tCOMPLIANCE\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%.1f%%\t%s\n",
			r.Revision, r.ID, r.Source, r.StartedAt.Format(time.RFC3339), r.Rows,
			r.Summary.TotalGroups, r.Summary.GroupsWithAdhoc, r.Summary.ComplianceRate,
			r.Duration().Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	runCount, groups, rev, size := history.Stats()
	fmt.Fprintf(w, "\n%d runs, %d peer groups, revision %d, %d bytes\n", runCount, groups, rev, size)
	return nil
}

// parseGroup splits "department/title". The title may itself contain slashes.
func parseGroup(s string) (string, string, error) {
	dept, title, ok := strings.Cut(s, "/")
	dept, title = strings.TrimSpace(dept), strings.TrimSpace(title)
	if !ok || dept == "" || title == "" {
		return "", "", fmt.Errorf("invalid group %q, want department/title", s)
	}
	return dept, title, nil
}

func showGroup(w io.Writer, history *storage.History, group string) error {
	dept, title, err := parseGroup(group)
	if err != nil {
		return err
	}

	snapshots, err := history.GroupHistory(dept, title)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintf(w, "No history for %s / %s.\n", dept, title)
		return nil
	}

	fmt.Fprintf(w, "%s / %s\n\n", dept, title)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REV\tRUN\tUSERS\tSTANDARD\tADHOC")
	for _, g := range snapshots {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n",
			g.Revision, g.RunID, g.TotalUsers, joinOrDash(g.StandardRoles), joinOrDash(g.AdhocRoles))
	}
	return tw.Flush()
}

func showRun(w io.Writer, history *storage.History, id string) error {
	run, err := history.GetRun(id)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Run:        %s (revision %d)\n", run.ID, run.Revision)
	fmt.Fprintf(w, "Source:     %s\n", run.Source)
	fmt.Fprintf(w, "Started:    %s\n", run.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Duration:   %s\n", run.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "Threshold:  %d%%\n", run.Threshold)
	fmt.Fprintf(w, "Groups:     %d (%d with ad-hoc roles)\n", run.Summary.TotalGroups, run.Summary.GroupsWithAdhoc)
	fmt.Fprintf(w, "Compliance: %.1f%%\n", run.Summary.ComplianceRate)

	if appConfig.Journal.Dir == "" {
		return nil
	}

	entries, err := wal.RunEntries(appConfig.Journal.Dir, journalConfig(appConfig), id)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "\nJournal:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", e.Sequence, e.Timestamp.Format(time.RFC3339), e.Type, e.Error)
	}
	return tw.Flush()
}

func showDrift(cmd *cobra.Command, history *storage.History, since time.Time) error {
	events, err := history.QueryDriftSince(cmd.Context(), since)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintf(w, "No drift since %s.\n", since.Format(time.RFC3339))
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSEVERITY\tGROUP\tCHANGE\tADDED\tREMOVED")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s / %s\t%s\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.Severity, e.Department, e.Title, e.DriftType,
			joinOrDash(e.Added), joinOrDash(e.Removed))
	}
	return tw.Flush()
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
