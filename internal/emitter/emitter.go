// Package emitter defines the output interface for finished runs.
package emitter

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/arbiter/reconciler"
)

// Emitter outputs a finished run to a backend.
type Emitter interface {
	// Emit sends the run to the backend.
	Emit(ctx context.Context, result *reconciler.RunResult) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to all emitters, returns first error.
func (m *MultiEmitter) Emit(ctx context.Context, result *reconciler.RunResult) error {
	for _, e := range m.emitters {
		if err := e.Emit(ctx, result); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all emitters, joining their errors.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogEmitter writes a one-line run summary to a zerolog logger.
type LogEmitter struct {
	logger zerolog.Logger
}

// NewLogEmitter creates a log emitter; a nil logger uses the global one.
func NewLogEmitter(logger *zerolog.Logger) *LogEmitter {
	if logger == nil {
		logger = &log.Logger
	}
	return &LogEmitter{logger: logger.With().Str("component", "emitter").Logger()}
}

// Emit logs the run summary.
func (l *LogEmitter) Emit(_ context.Context, result *reconciler.RunResult) error {
	event := l.logger.Info().
		Str("run_id", result.ID).
		Str("source", result.Source).
		Int("rows", result.Rows).
		Int("grant_actions", result.Counts.Grant).
		Int("review_actions", result.Counts.Review).
		Int("drift", len(result.Drift)).
		Dur("duration", result.Duration())

	if result.Analysis != nil {
		event = event.
			Int("groups", result.Analysis.Summary.TotalGroups).
			Int("groups_with_adhoc", result.Analysis.Summary.GroupsWithAdhoc).
			Float64("compliance_rate", result.Analysis.Summary.ComplianceRate)
	}
	if result.Review != nil {
		event = event.Int("policy_flagged", result.Review.Flagged)
	}

	event.Msg("run emitted")
	return nil
}

// Close is a no-op for the log emitter.
func (l *LogEmitter) Close() error {
	return nil
}
