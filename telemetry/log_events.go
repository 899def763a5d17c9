package telemetry

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordGroupDriftEvent adds a span event for a peer group that changed since the previous run
func RecordGroupDriftEvent(
	span trace.Span,
	driftType string,
	department string,
	title string,
	severity string,
	added []string,
	removed []string,
) {
	if span == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("event.type", "access.group.drift"),
		attribute.String("drift.type", driftType),
		attribute.String("group.department", department),
		attribute.String("group.title", title),
		attribute.String("severity", severity),
	}
	if len(added) > 0 {
		attrs = append(attrs, attribute.StringSlice("roles.added", added))
	}
	if len(removed) > 0 {
		attrs = append(attrs, attribute.StringSlice("roles.removed", removed))
	}

	span.AddEvent("access.group.drift", trace.WithAttributes(attrs...))
}

// RecordPolicyFlagEvent adds a span event for an action flagged by policy review
func RecordPolicyFlagEvent(
	span trace.Span,
	actionType string,
	department string,
	title string,
	role string,
	username string,
	flags []string,
) {
	if span == nil || len(flags) == 0 {
		return
	}

	span.AddEvent("access.policy.flagged", trace.WithAttributes(
		attribute.String("event.type", "access.policy.flagged"),
		attribute.String("action.type", actionType),
		attribute.String("group.department", department),
		attribute.String("group.title", title),
		attribute.String("role", role),
		attribute.String("username", username),
		attribute.String("flags", strings.Join(flags, ",")),
	))
}

// RecordRunCompletedEvent adds a span event summarising a finished run
func RecordRunCompletedEvent(
	span trace.Span,
	source string,
	rows int,
	groups int,
	groupsWithAdhoc int,
	actions int,
	drift int,
	durationSeconds float64,
) {
	if span == nil {
		return
	}

	span.AddEvent("access.run.completed", trace.WithAttributes(
		attribute.String("event.type", "access.run.completed"),
		attribute.String("source", source),
		attribute.Int("rows", rows),
		attribute.Int("groups", groups),
		attribute.Int("groups.adhoc", groupsWithAdhoc),
		attribute.Int("actions", actions),
		attribute.Int("drift", drift),
		attribute.Float64("duration.seconds", durationSeconds),
	))
}
