// Package policy annotates remediation actions with flags computed by
// Rego modules. Review is advisory: the action type, priority and the
// number of actions are never changed, only PolicyFlags is filled in.
package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/arbiter/telemetry"
	"github.com/yairfalse/arbiter/types"
)

// Reviewer evaluates loaded Rego modules against planned actions
type Reviewer struct {
	logger  *telemetry.Logger
	tracer  trace.Tracer
	names   []string
	queries map[string]rego.PreparedEvalQuery
}

// NewReviewer creates a reviewer with no modules loaded
func NewReviewer() *Reviewer {
	return &Reviewer{
		logger:  telemetry.NewLogger("policy"),
		tracer:  otel.Tracer("policy"),
		queries: make(map[string]rego.PreparedEvalQuery),
	}
}

// LoadPolicy compiles a Rego module; the module must be package arbiter
func (r *Reviewer) LoadPolicy(ctx context.Context, name string, regoCode string) error {
	ctx, span := r.tracer.Start(ctx, "policy.load_policy",
		trace.WithAttributes(attribute.String("policy.name", name)))
	defer span.End()

	query := rego.New(
		rego.Query(Query),
		rego.Module(name+".rego", regoCode),
	)

	prepared, err := query.PrepareForEval(ctx)
	if err != nil {
		r.logger.WithContext(ctx).Error().
			Err(err).
			Str("policy_name", name).
			Msg("failed to compile policy")
		return fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	if _, exists := r.queries[name]; !exists {
		r.names = append(r.names, name)
		sort.Strings(r.names)
	}
	r.queries[name] = prepared

	r.logger.WithContext(ctx).Debug().
		Str("policy_name", name).
		Msg("policy loaded")

	return nil
}

// Policies returns the loaded module names in sorted order
func (r *Reviewer) Policies() []string {
	return append([]string(nil), r.names...)
}

// Evaluate returns the sorted, de-duplicated flags every module raises for input.
// A module that fails to evaluate is logged and skipped; the error count is returned.
func (r *Reviewer) Evaluate(ctx context.Context, input Input) ([]string, int) {
	seen := make(map[string]bool)
	failures := 0

	for _, name := range r.names {
		flags, err := evaluateFlags(ctx, r.queries[name], input)
		if err != nil {
			failures++
			r.logger.WithContext(ctx).Error().
				Err(err).
				Str("policy_name", name).
				Msg("policy evaluation failed")
			continue
		}
		for _, f := range flags {
			seen[f] = true
		}
	}

	if len(seen) == 0 {
		return nil, failures
	}

	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out, failures
}

// Review returns a copy of actions with PolicyFlags attached
func (r *Reviewer) Review(ctx context.Context, actions []types.RemediationAction, threshold int) ([]types.RemediationAction, ReviewStats) {
	ctx, span := r.tracer.Start(ctx, "policy.review",
		trace.WithAttributes(
			attribute.Int("actions", len(actions)),
			attribute.Int("policies", len(r.names))))
	defer span.End()

	stats := ReviewStats{ByFlag: make(map[string]int)}
	reviewed := make([]types.RemediationAction, len(actions))
	copy(reviewed, actions)

	if len(r.names) == 0 {
		return reviewed, stats
	}

	for i := range reviewed {
		if err := ctx.Err(); err != nil {
			break
		}

		flags, failures := r.Evaluate(ctx, Input{Action: actions[i], Threshold: threshold})
		stats.Evaluated++
		stats.Errors += failures

		if len(flags) == 0 {
			reviewed[i].PolicyFlags = nil
			continue
		}
		reviewed[i].PolicyFlags = flags
		stats.Flagged++
		telemetry.RecordPolicyFlagEvent(span, string(actions[i].ActionType), actions[i].Department,
			actions[i].Title, actions[i].Role, actions[i].Username, flags)
		for _, f := range flags {
			stats.ByFlag[f]++
		}
	}

	r.logger.WithContext(ctx).Info().
		Int("evaluated", stats.Evaluated).
		Int("flagged", stats.Flagged).
		Int("errors", stats.Errors).
		Strs("policies", r.names).
		Msg("policy review complete")

	return reviewed, stats
}

// evaluateFlags runs one prepared query and collects the string members of the flag set
func evaluateFlags(ctx context.Context, query rego.PreparedEvalQuery, input Input) ([]string, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}

	var flags []string
	for _, res := range results {
		for _, expr := range res.Expressions {
			values, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, v := range values {
				if s, ok := v.(string); ok && s != "" {
					flags = append(flags, s)
				}
			}
		}
	}
	return flags, nil
}
