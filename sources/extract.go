package sources

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/arbiter/directory"
	"github.com/yairfalse/arbiter/internal/filter"
	"github.com/yairfalse/arbiter/telemetry"
	"github.com/yairfalse/arbiter/types"
)

// Options tune one extraction
type Options struct {
	// SkipFilters disables the strategy's built-in row filter
	SkipFilters bool
	// Extra is applied in addition to the strategy filter
	Extra *filter.Filter
	// Parallelism bounds concurrent directory lookups; 0 or 1 runs them in order
	Parallelism int
}

// Record is one extracted user before it is split into per-role rows
type Record struct {
	Line       int
	Identity   Identity
	Department string
	Title      string
	Roles      []string
}

// Extraction is the result of running a strategy over a table
type Extraction struct {
	Source   string
	Rows     []types.RawAccessRow
	Records  []Record
	Stats    directory.Stats
	Read     int
	Filtered int
	Skipped  int
	Dropped  int
}

type pending struct {
	row     Row
	primary string
	backup  string
	outcome directory.Outcome
}

// Extract runs strategy s over table. A nil resolver skips every lookup.
func Extract(ctx context.Context, s Strategy, table *Table, resolver *directory.Resolver, opts Options) (*Extraction, error) {
	if table == nil {
		return nil, fmt.Errorf("%s: no input table", s.Name())
	}
	if missing := table.Missing(s.RequiredColumns()); len(missing) > 0 {
		return nil, fmt.Errorf("%s: %w: %s", s.Name(), ErrMissingColumns, strings.Join(missing, ", "))
	}
	if resolver == nil {
		resolver = directory.NewResolver(nil, nil)
	}

	ctx, span := otel.Tracer("sources").Start(ctx, "sources.extract",
		trace.WithAttributes(
			attribute.String("source", s.Name()),
			attribute.Int("rows", len(table.Rows)),
		))
	defer span.End()

	logger := telemetry.NewLogger("sources")
	ext := &Extraction{Source: s.Name(), Read: len(table.Rows), Stats: directory.NewStats()}

	rows := table.Rows
	f := opts.Extra
	if !opts.SkipFilters {
		f = filter.Merge(s.Filter(table.Headers), opts.Extra)
	}
	rows = filter.Select(f, rows)
	ext.Filtered = len(table.Rows) - len(rows)

	work := make([]*pending, 0, len(rows))
	for _, row := range rows {
		if row.Empty() {
			ext.Skipped++
			continue
		}
		if s.Skip(row) {
			ext.Skipped++
			logger.LogSkippedRow(ctx, row.Number, "excluded by source")
			continue
		}
		primary, backup := s.Identifiers(row, table.Headers)
		if primary == "" {
			ext.Skipped++
			logger.LogSkippedRow(ctx, row.Number, "empty primary identifier")
			continue
		}
		work = append(work, &pending{row: row, primary: primary, backup: backup})
	}

	if err := resolveAll(ctx, s, resolver, work, opts.Parallelism); err != nil {
		return nil, err
	}

	seen := make(map[types.RawAccessRow]bool)
	for _, p := range work {
		id := Identity{Primary: p.primary, Backup: p.backup, Outcome: p.outcome}
		ext.Stats.Record(p.outcome)

		if d, ok := s.(Dropper); ok && d.Drop(p.row, table.Headers, id) {
			ext.Dropped++
			continue
		}

		dept, title := s.PeerKey(p.row, id)
		rec := Record{
			Line:       p.row.Number,
			Identity:   id,
			Department: dept,
			Title:      title,
			Roles:      s.ExtractRoles(p.row, table.Headers),
		}
		ext.Records = append(ext.Records, rec)

		for _, out := range rec.accessRows() {
			if seen[out] {
				continue
			}
			seen[out] = true
			ext.Rows = append(ext.Rows, out)
		}
	}

	span.SetAttributes(
		attribute.Int("records", len(ext.Records)),
		attribute.Int("skipped", ext.Skipped),
	)

	logger.WithContext(ctx).Info().
		Str("source", s.Name()).
		Int("read", ext.Read).
		Int("filtered", ext.Filtered).
		Int("skipped", ext.Skipped).
		Int("dropped", ext.Dropped).
		Int("users", len(ext.Records)).
		Int("rows", len(ext.Rows)).
		Float64("lookup_success_rate", ext.Stats.SuccessRate()).
		Msg("extraction complete")

	return ext, nil
}

// resolveAll fills in each pending outcome, in order or with bounded parallelism
func resolveAll(ctx context.Context, s Strategy, resolver *directory.Resolver, work []*pending, parallelism int) error {
	if parallelism <= 1 {
		for _, p := range work {
			if err := ctx.Err(); err != nil {
				return err
			}
			p.outcome = resolver.Resolve(ctx, s.Lookup(p.primary, p.backup))
		}
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(parallelism)

	for _, p := range work {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			p.outcome = resolver.Resolve(egCtx, s.Lookup(p.primary, p.backup))
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return fmt.Errorf("resolve identities: %w", err)
	}
	return nil
}

// accessRows splits a record into one row per role, or a single row without roles
func (r Record) accessRows() []types.RawAccessRow {
	username := r.Identity.Username()
	if len(r.Roles) == 0 {
		return []types.RawAccessRow{{Username: username, Department: r.Department, Title: r.Title}}
	}

	out := make([]types.RawAccessRow, 0, len(r.Roles))
	for _, role := range r.Roles {
		out = append(out, types.RawAccessRow{
			Username:      username,
			Department:    r.Department,
			Title:         r.Title,
			AssignedRoles: role,
		})
	}
	return out
}
