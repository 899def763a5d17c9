package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// recordOne runs record inside a single span and returns that span's events
func recordOne(t *testing.T, record func(span trace.Span)) []sdktrace.Event {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(exporter),
	)
	tracer := provider.Tracer("test")

	ctx, span := tracer.Start(context.Background(), "test")
	record(span)
	span.End()
	_ = provider.ForceFlush(ctx)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	return spans[0].Events
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestRecordGroupDriftEvent(t *testing.T) {
	events := recordOne(t, func(span trace.Span) {
		RecordGroupDriftEvent(span, "adhoc_changed", "Sales", "Rep", "high", []string{"Admin"}, nil)
	})

	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	event := events[0]
	if event.Name != "access.group.drift" {
		t.Errorf("Expected event name 'access.group.drift', got '%s'", event.Name)
	}

	expected := map[string]string{
		"event.type":       "access.group.drift",
		"drift.type":       "adhoc_changed",
		"group.department": "Sales",
		"group.title":      "Rep",
		"severity":         "high",
	}
	for key, want := range expected {
		got, ok := attrValue(event.Attributes, key)
		if !ok {
			t.Errorf("Missing attribute: %s", key)
			continue
		}
		if got.AsString() != want {
			t.Errorf("Attribute %s: expected '%s', got '%s'", key, want, got.AsString())
		}
	}

	added, ok := attrValue(event.Attributes, "roles.added")
	if !ok || len(added.AsStringSlice()) != 1 || added.AsStringSlice()[0] != "Admin" {
		t.Errorf("Expected roles.added [Admin], got %v", added.AsStringSlice())
	}
	if _, ok := attrValue(event.Attributes, "roles.removed"); ok {
		t.Error("roles.removed should be omitted when empty")
	}
}

func TestRecordPolicyFlagEvent(t *testing.T) {
	events := recordOne(t, func(span trace.Span) {
		RecordPolicyFlagEvent(span, "REVIEW_ACCESS", "IT", "Engineer", "Domain Admin", "bob",
			[]string{"privileged_role", "rare_role"})
		// No flags, no event
		RecordPolicyFlagEvent(span, "REVIEW_ACCESS", "IT", "Engineer", "VPN", "carol", nil)
	})

	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	flags, _ := attrValue(events[0].Attributes, "flags")
	if flags.AsString() != "privileged_role,rare_role" {
		t.Errorf("Expected flags 'privileged_role,rare_role', got '%s'", flags.AsString())
	}
	user, _ := attrValue(events[0].Attributes, "username")
	if user.AsString() != "bob" {
		t.Errorf("Expected username 'bob', got '%s'", user.AsString())
	}
}

func TestRecordRunCompletedEvent(t *testing.T) {
	events := recordOne(t, func(span trace.Span) {
		RecordRunCompletedEvent(span, "defi_los", 120, 14, 3, 42, 2, 1.25)
	})

	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	event := events[0]
	if event.Name != "access.run.completed" {
		t.Errorf("Expected event name 'access.run.completed', got '%s'", event.Name)
	}

	ints := map[string]int64{"rows": 120, "groups": 14, "groups.adhoc": 3, "actions": 42, "drift": 2}
	for key, want := range ints {
		got, ok := attrValue(event.Attributes, key)
		if !ok || got.AsInt64() != want {
			t.Errorf("Attribute %s: expected %d, got %v", key, want, got.AsInt64())
		}
	}
	duration, _ := attrValue(event.Attributes, "duration.seconds")
	if duration.AsFloat64() != 1.25 {
		t.Errorf("Expected duration.seconds 1.25, got %v", duration.AsFloat64())
	}
}

func TestRecordEvents_NilSpan(t *testing.T) {
	// Must not panic
	RecordGroupDriftEvent(nil, "new_group", "IT", "Engineer", "low", nil, nil)
	RecordPolicyFlagEvent(nil, "GRANT_ACCESS", "IT", "Engineer", "VPN", "dave", []string{"x"})
	RecordRunCompletedEvent(nil, "access_review", 0, 0, 0, 0, 0, 0)
}
