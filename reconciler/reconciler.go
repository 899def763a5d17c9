package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/arbiter/analyzer"
	"github.com/yairfalse/arbiter/storage"
	"github.com/yairfalse/arbiter/telemetry"
	"github.com/yairfalse/arbiter/types"
	"github.com/yairfalse/arbiter/wal"
)

// LoadedData represents data journaled when a run starts
type LoadedData struct {
	Source string `json:"source"`
	Rows   int    `json:"rows"`
}

// AnalyzedData represents data journaled after classification
type AnalyzedData struct {
	Threshold int              `json:"threshold"`
	Users     int              `json:"users"`
	Summary   analyzer.Summary `json:"summary"`
}

// CompletedData represents data journaled when a run finishes
type CompletedData struct {
	Revision   int64   `json:"revision,omitempty"`
	DurationMs float64 `json:"duration_ms"`
	DriftCount int     `json:"drift_count"`
}

// ExportedData represents data journaled for each written report
type ExportedData struct {
	Name string `json:"name"`
}

// Engine runs analysis, planning, review and bookkeeping for one batch of rows.
// Reviewer, history, journal and emitter are optional; pass an untyped nil to skip one.
type Engine struct {
	analyzer   *analyzer.Analyzer
	planner    Planner
	comparator Comparator
	reviewer   Reviewer
	history    History
	journal    Journal
	emitter    Emitter
	options    EngineOptions
	logger     *telemetry.Logger
	tracer     trace.Tracer
}

// NewEngine creates a new engine, rejecting an invalid analyzer configuration
func NewEngine(
	planner Planner,
	comparator Comparator,
	reviewer Reviewer,
	history History,
	journal Journal,
	emitter Emitter,
	options EngineOptions,
) (*Engine, error) {
	a, err := analyzer.New(options.Analyzer)
	if err != nil {
		return nil, err
	}
	if planner == nil {
		planner = NewSimplePlanner()
	}
	if comparator == nil {
		comparator = NewSimpleComparator()
	}

	return &Engine{
		analyzer:   a,
		planner:    planner,
		comparator: comparator,
		reviewer:   reviewer,
		history:    history,
		journal:    journal,
		emitter:    emitter,
		options:    options,
		logger:     telemetry.NewLogger("reconciler"),
		tracer:     otel.Tracer("reconciler"),
	}, nil
}

// Run performs a full cycle: analyze, plan, review, record, emit
func (e *Engine) Run(ctx context.Context, input RunInput) (*RunResult, error) {
	ctx, span := e.tracer.Start(ctx, "reconciler.run",
		trace.WithAttributes(
			attribute.String("source", input.Source),
			attribute.Int("rows", len(input.Rows))))
	defer span.End()

	result := &RunResult{
		ID:        uuid.NewString(),
		Source:    input.Source,
		StartedAt: time.Now(),
		Rows:      len(input.Rows),
	}
	span.SetAttributes(attribute.String("run.id", result.ID))

	e.logger.LogStageStart(ctx, "reconciler.run",
		attribute.String("run_id", result.ID),
		attribute.String("source", input.Source),
		attribute.Int("rows", len(input.Rows)))

	if err := e.record(ctx, wal.EntryLoaded, result.ID, LoadedData{Source: input.Source, Rows: len(input.Rows)}); err != nil {
		return nil, e.fail(ctx, span, result, err)
	}

	if err := e.analyze(ctx, input, result); err != nil {
		return nil, e.fail(ctx, span, result, err)
	}

	if err := e.planAndReview(ctx, result); err != nil {
		return nil, e.fail(ctx, span, result, err)
	}

	if err := e.recordHistory(ctx, result); err != nil {
		return nil, e.fail(ctx, span, result, err)
	}

	result.FinishedAt = time.Now()
	e.emit(ctx, result)

	completed := CompletedData{
		Revision:   result.Revision,
		DurationMs: float64(result.Duration().Microseconds()) / 1000,
		DriftCount: len(result.Drift),
	}
	if err := e.record(ctx, wal.EntryCompleted, result.ID, completed); err != nil {
		return nil, e.fail(ctx, span, result, err)
	}

	telemetry.RecordRunCompletedEvent(span, result.Source, result.Rows,
		result.Analysis.Summary.TotalGroups, result.Analysis.Summary.GroupsWithAdhoc,
		result.Counts.Total, len(result.Drift), result.Duration().Seconds())

	e.logger.WithContext(ctx).Info().
		Str("run_id", result.ID).
		Str("source", result.Source).
		Int("groups", len(result.Analysis.Groups)).
		Int("actions", result.Counts.Total).
		Int("drift", len(result.Drift)).
		Int64("revision", result.Revision).
		Float64("duration_ms", completed.DurationMs).
		Msg("run complete")
	e.logger.LogStageEnd(ctx, "reconciler.run", nil)

	return result, nil
}

// RecordExport journals that a report for runID was written
func (e *Engine) RecordExport(ctx context.Context, runID, name string) error {
	return e.record(ctx, wal.EntryExported, runID, ExportedData{Name: name})
}

// analyze classifies the input rows, honoring a per-run threshold override
func (e *Engine) analyze(ctx context.Context, input RunInput, result *RunResult) error {
	a := e.analyzer
	if input.Threshold != 0 && input.Threshold != a.Threshold() {
		cfg := e.options.Analyzer
		cfg.Threshold = input.Threshold
		override, err := analyzer.New(cfg)
		if err != nil {
			return err
		}
		a = override
	}

	analysis, err := a.Analyze(ctx, input.Rows)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	result.Analysis = analysis

	return e.record(ctx, wal.EntryAnalyzed, result.ID, AnalyzedData{
		Threshold: analysis.Threshold,
		Users:     analysis.Records,
		Summary:   analysis.Summary,
	})
}

// planAndReview generates actions and applies the optional policy review
func (e *Engine) planAndReview(ctx context.Context, result *RunResult) error {
	_, span := e.tracer.Start(ctx, "reconciler.plan",
		trace.WithAttributes(attribute.Int("groups", len(result.Analysis.Groups))))
	actions := e.planner.Plan(result.Analysis.Groups)
	span.SetAttributes(attribute.Int("actions", len(actions)))
	span.End()

	result.Actions = actions
	result.Counts = CountActions(actions)

	if err := e.record(ctx, wal.EntryPlanned, result.ID, result.Counts); err != nil {
		return err
	}

	if e.reviewer == nil {
		return nil
	}

	reviewed, stats := e.reviewer.Review(ctx, actions, result.Analysis.Threshold)
	if len(reviewed) != len(actions) {
		return fmt.Errorf("policy review returned %d actions for %d planned", len(reviewed), len(actions))
	}
	result.Actions = reviewed
	result.Review = &stats

	return e.record(ctx, wal.EntryReviewed, result.ID, stats)
}

// recordHistory compares against the previous run of the same source and stores this one
func (e *Engine) recordHistory(ctx context.Context, result *RunResult) error {
	if e.history == nil {
		return nil
	}

	snapshots := storage.SnapshotGroups(result.Analysis.Groups)

	if !e.options.SkipDrift {
		previous, err := e.history.LatestRun(result.Source)
		switch {
		case errors.Is(err, storage.ErrRunNotFound):
		case err != nil:
			return fmt.Errorf("failed to load previous run: %w", err)
		default:
			result.PreviousRunID = previous.ID
			result.Drift = e.comparator.Compare(previous.Groups, snapshots)

			span := trace.SpanFromContext(ctx)
			for _, d := range result.Drift {
				telemetry.RecordGroupDriftEvent(span, string(d.Type), d.Department, d.Title, d.Severity(), d.Added, d.Removed)
			}
		}
	}

	record := &storage.RunRecord{
		ID:         result.ID,
		Source:     result.Source,
		Threshold:  result.Analysis.Threshold,
		StartedAt:  result.StartedAt,
		FinishedAt: time.Now(),
		Rows:       result.Rows,
		Summary:    result.Analysis.Summary,
		Actions:    actionsByType(result.Actions),
		Groups:     snapshots,
	}

	rev, err := e.history.RecordRun(ctx, record)
	if err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}
	result.Revision = rev

	if len(result.Drift) > 0 {
		if err := e.history.StoreDriftEvents(ctx, driftEvents(result)); err != nil {
			return fmt.Errorf("failed to store drift: %w", err)
		}
	}

	if compactor, ok := e.history.(storage.Compactor); ok && e.options.KeepRuns > 0 {
		if _, err := compactor.Compact(ctx, e.options.KeepRuns); err != nil {
			// The run itself is stored; a failed compaction is retried next run
			e.logger.LogStorageError(ctx, "compact", err)
		}
	}

	return nil
}

// emit hands the result to the emitter; emission failures never fail a run
func (e *Engine) emit(ctx context.Context, result *RunResult) {
	if e.emitter == nil {
		return
	}
	if err := e.emitter.Emit(ctx, result); err != nil {
		e.logger.WithContext(ctx).Warn().
			Err(err).
			Str("run_id", result.ID).
			Msg("failed to emit run")
	}
}

// record appends a journal entry when a journal is configured
func (e *Engine) record(ctx context.Context, entryType wal.EntryType, runID string, data interface{}) error {
	if e.journal == nil {
		return nil
	}
	if err := e.journal.Append(ctx, entryType, runID, data); err != nil {
		return fmt.Errorf("failed to journal %s: %w", entryType, err)
	}
	return nil
}

// fail journals the error and marks the span
func (e *Engine) fail(ctx context.Context, span trace.Span, result *RunResult, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if e.journal != nil {
		if jerr := e.journal.AppendError(ctx, wal.EntryFailed, result.ID, LoadedData{Source: result.Source, Rows: result.Rows}, err); jerr != nil {
			e.logger.WithContext(ctx).Error().Err(jerr).Msg("failed to journal run failure")
		}
	}

	e.logger.LogStageEnd(ctx, "reconciler.run", err)
	return err
}

func actionsByType(actions []types.RemediationAction) map[string]int {
	counts := make(map[string]int)
	for _, a := range actions {
		counts[string(a.ActionType)]++
	}
	return counts
}

func driftEvents(result *RunResult) []storage.DriftEvent {
	events := make([]storage.DriftEvent, 0, len(result.Drift))
	for _, d := range result.Drift {
		events = append(events, storage.DriftEvent{
			Department: d.Department,
			Title:      d.Title,
			DriftType:  string(d.Type),
			RunID:      result.ID,
			PreviousID: result.PreviousRunID,
			Added:      d.Added,
			Removed:    d.Removed,
			Severity:   d.Severity(),
		})
	}
	return events
}
