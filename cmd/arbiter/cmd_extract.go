package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/arbiter/directory"
	"github.com/yairfalse/arbiter/ingest"
	"github.com/yairfalse/arbiter/internal/config"
	"github.com/yairfalse/arbiter/internal/filter"
	"github.com/yairfalse/arbiter/sources"
)

var (
	extractSheet     string
	extractNoFilters bool
	extractInclude   []string
	extractExclude   []string
	extractOffline   bool
)

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract <system> <input> <output.csv>",
	Short: "Normalise a source system export into an access review CSV",
	Long: `Run a source strategy over a system export. Each user is resolved
against the directory (LDAP settings from config or AD_SERVER, AD_USERNAME,
AD_PASSWORD and BASE_DN) to find their department and title, and written as
one row per role in the username,department,title,assigned_roles format.

Run 'arbiter sources' to list the available systems.`,
	Example: `  arbiter extract great_plains gp_users.csv gp_access.csv
  arbiter extract defi_los los_export.csv los_access.csv --no-filters
  arbiter extract datascan permissions.xlsx datascan_access.csv --sheet Report
  arbiter extract defi_xlos xlos.csv out.csv --exclude Status=Locked --offline`,
	Args: cobra.ExactArgs(3),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVar(&extractSheet, "sheet", "", "Excel sheet name (default: first sheet)")
	extractCmd.Flags().BoolVar(&extractNoFilters, "no-filters", false, "Disable the system's built-in row filter")
	extractCmd.Flags().StringArrayVar(&extractInclude, "include", nil, "Only keep rows where column=value (repeatable)")
	extractCmd.Flags().StringArrayVar(&extractExclude, "exclude", nil, "Drop rows where column=value (repeatable)")
	extractCmd.Flags().BoolVar(&extractOffline, "offline", false, "Skip directory lookups")
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	system, input, output := args[0], args[1], args[2]

	strategy, err := sources.DefaultRegistry().Get(system)
	if err != nil {
		return err
	}

	table, err := ingest.ReadFile(input, extractSheet, fillColumns(strategy))
	if err != nil {
		return err
	}

	extra, err := buildFilter(extractInclude, extractExclude)
	if err != nil {
		return err
	}

	resolver, closeDir, err := openResolver(appConfig, extractOffline)
	if err != nil {
		return err
	}
	defer closeDir()

	ext, err := sources.Extract(ctx, strategy, table, resolver, sources.Options{
		SkipFilters: extractNoFilters,
		Extra:       extra,
		Parallelism: appConfig.Analysis.Parallelism,
	})
	if err != nil {
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create %s: %w", output, err)
	}
	if err := ingest.WriteAccessRows(f, ext.Rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", output, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", output, err)
	}

	printExtraction(cmd.OutOrStdout(), ext, output)
	return nil
}

// fillColumns returns the merged-cell columns to forward-fill for workbook sources
func fillColumns(s sources.Strategy) []string {
	if _, ok := s.(sources.Datascan); ok {
		return sources.DatascanFillColumns
	}
	return nil
}

func buildFilter(include, exclude []string) (*filter.Filter, error) {
	inc, err := filter.ParsePairs(include)
	if err != nil {
		return nil, err
	}
	exc, err := filter.ParsePairs(exclude)
	if err != nil {
		return nil, err
	}
	if inc == nil && exc == nil {
		return nil, nil
	}
	return filter.New(inc, exc).CaseInsensitive(), nil
}

// openResolver dials the directory when it is configured. Without it every
// lookup is skipped and peer keys fall back to what the export carries.
func openResolver(cfg *config.Config, offline bool) (*directory.Resolver, func(), error) {
	noop := func() {}
	if offline {
		return nil, noop, nil
	}
	if missing := cfg.MissingDirectoryVars(); len(missing) > 0 {
		log.Warn().
			Strs("missing", missing).
			Msg("directory not configured, lookups skipped")
		return nil, noop, nil
	}

	client, err := directory.DialLDAP(directory.LDAPConfig{
		Server:   cfg.Directory.Server,
		Username: cfg.Directory.Username,
		Password: cfg.Directory.Password,
		BaseDN:   cfg.Directory.BaseDN,
		Timeout:  cfg.Directory.Timeout,
	})
	if err != nil {
		return nil, noop, err
	}

	return directory.NewResolver(client, nil), func() { _ = client.Close() }, nil
}

func printExtraction(w io.Writer, ext *sources.Extraction, output string) {
	fmt.Fprintf(w, "Source: %s\n", ext.Source)
	fmt.Fprintf(w, "Rows read: %d, filtered: %d, skipped: %d, dropped: %d\n",
		ext.Read, ext.Filtered, ext.Skipped, ext.Dropped)
	fmt.Fprintf(w, "Users extracted: %d (%d access rows)\n", len(ext.Records), len(ext.Rows))

	if ext.Stats.Total > 0 {
		fmt.Fprintf(w, "\nDirectory lookups: %d, resolved %.1f%%\n", ext.Stats.Total, ext.Stats.SuccessRate())

		methods := make([]string, 0, len(ext.Stats.ByMethod))
		for m := range ext.Stats.ByMethod {
			methods = append(methods, string(m))
		}
		sort.Strings(methods)

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, m := range methods {
			fmt.Fprintf(tw, "  %s\t%d\n", strings.ReplaceAll(m, "_", " "), ext.Stats.ByMethod[directory.Method(m)])
		}
		_ = tw.Flush()
	}

	fmt.Fprintf(w, "\n✅ Access review CSV written to: %s\n", output)
}
