// Package analyzer classifies role assignments within peer groups.
//
// The pipeline is strictly forward: raw rows are normalized into one record per
// user, records are aggregated into (department, title) peer groups, and each
// group's roles are classified as standard or ad-hoc against a percentage
// threshold. Every stage returns new values; nothing is shared between runs.
package analyzer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/arbiter/telemetry"
	"github.com/yairfalse/arbiter/types"
)

// DefaultThreshold is the standard-role cut-off in percent
const DefaultThreshold = 70

// Config controls an analysis run
type Config struct {
	Threshold   int
	Delimiter   string
	Parallelism int
}

// ConfigError reports an invalid analysis parameter
type ConfigError struct {
	Param string
	Value interface{}
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Param, e.Value, e.Msg)
}

// ValidateThreshold checks the threshold is a whole percentage in [1, 100]
func ValidateThreshold(threshold int) error {
	if threshold < 1 || threshold > 100 {
		return &ConfigError{Param: "threshold", Value: threshold, Msg: "must be between 1 and 100"}
	}
	return nil
}

// Summary aggregates a run across all peer groups
type Summary struct {
	TotalGroups        int     `json:"total_groups" yaml:"total_groups"`
	GroupsWithAdhoc    int     `json:"groups_with_adhoc" yaml:"groups_with_adhoc"`
	GroupsStandardOnly int     `json:"groups_standard_only" yaml:"groups_standard_only"`
	TotalStandardRoles int     `json:"total_standard_roles" yaml:"total_standard_roles"`
	TotalAdhocRoles    int     `json:"total_adhoc_roles" yaml:"total_adhoc_roles"`
	TotalUsers         int     `json:"total_users" yaml:"total_users"`
	ComplianceRate     float64 `json:"compliance_rate" yaml:"compliance_rate"`
}

// Result is the output of one analysis run
type Result struct {
	Threshold int
	Records   int
	Groups    []GroupAnalysis
	Summary   Summary
}

// IsEmpty reports whether the run produced no groups
func (r *Result) IsEmpty() bool {
	return len(r.Groups) == 0
}

// Analyzer runs the normalize, aggregate, classify pipeline
type Analyzer struct {
	cfg    Config
	logger *telemetry.Logger
	tracer trace.Tracer
}

// New creates an analyzer, rejecting out-of-range settings
func New(cfg Config) (*Analyzer, error) {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if err := ValidateThreshold(cfg.Threshold); err != nil {
		return nil, err
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = types.DefaultRoleDelimiter
	}
	if cfg.Parallelism < 0 {
		return nil, &ConfigError{Param: "parallelism", Value: cfg.Parallelism, Msg: "must not be negative"}
	}

	return &Analyzer{
		cfg:    cfg,
		logger: telemetry.NewLogger("analyzer"),
		tracer: otel.Tracer("analyzer"),
	}, nil
}

// Threshold returns the configured standard-role threshold
func (a *Analyzer) Threshold() int {
	return a.cfg.Threshold
}

// Analyze classifies every peer group found in rows.
// Empty input yields an empty result, not an error.
func (a *Analyzer) Analyze(ctx context.Context, rows []types.RawAccessRow) (*Result, error) {
	ctx, span := a.tracer.Start(ctx, "analyzer.analyze",
		trace.WithAttributes(
			attribute.Int("rows", len(rows)),
			attribute.Int("threshold", a.cfg.Threshold),
		))
	defer span.End()

	start := time.Now()

	records := Normalize(rows, a.cfg.Delimiter)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	groups := Aggregate(records)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	analyses, err := a.classifyAll(ctx, groups)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(analyses, func(i, j int) bool {
		return analyses[i].Key().Less(analyses[j].Key())
	})

	result := &Result{
		Threshold: a.cfg.Threshold,
		Records:   len(records),
		Groups:    analyses,
		Summary:   Summarize(analyses),
	}

	a.logger.WithContext(ctx).Info().
		Int("rows", len(rows)).
		Int("users", len(records)).
		Int("groups", len(analyses)).
		Int("groups_with_adhoc", result.Summary.GroupsWithAdhoc).
		Float64("duration_ms", float64(time.Since(start).Microseconds())/1000).
		Msg("analysis complete")

	return result, nil
}

// classifyAll classifies groups serially or with bounded parallelism
func (a *Analyzer) classifyAll(ctx context.Context, groups []*PeerGroup) ([]GroupAnalysis, error) {
	out := make([]GroupAnalysis, len(groups))

	if a.cfg.Parallelism <= 1 {
		for i, g := range groups {
			out[i] = Classify(g, a.cfg.Threshold)
		}
		return out, ctx.Err()
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(a.cfg.Parallelism)

	for i, g := range groups {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			out[i] = Classify(g, a.cfg.Threshold)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("classify groups: %w", err)
	}

	return out, nil
}

// Summarize computes run-wide statistics from classified groups
func Summarize(groups []GroupAnalysis) Summary {
	s := Summary{TotalGroups: len(groups)}

	for _, g := range groups {
		if g.HasAdhocAssignments {
			s.GroupsWithAdhoc++
		}
		s.TotalStandardRoles += len(g.StandardRoles)
		s.TotalAdhocRoles += len(g.AdhocRoles)
		s.TotalUsers += g.TotalUsers
	}

	s.GroupsStandardOnly = s.TotalGroups - s.GroupsWithAdhoc
	if s.TotalGroups > 0 {
		s.ComplianceRate = float64(s.GroupsStandardOnly) / float64(s.TotalGroups) * 100
	}

	return s
}
