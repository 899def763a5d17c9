package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments stay nil until InitOTEL runs; these helpers make recording safe either way.

// RecordHistoryWrite counts a stored run and publishes the new revision
func RecordHistoryWrite(ctx context.Context, revision int64) {
	if HistoryWrites != nil {
		HistoryWrites.Add(ctx, 1)
	}
	if HistoryRevision != nil {
		HistoryRevision.Record(ctx, revision)
	}
}

// RecordJournalEntry counts an appended journal entry by type
func RecordJournalEntry(ctx context.Context, entryType string) {
	if JournalEntries == nil {
		return
	}
	JournalEntries.Add(ctx, 1, metric.WithAttributes(attribute.String("type", entryType)))
}

// RecordDirectoryLookup counts a directory lookup by resolution method
func RecordDirectoryLookup(ctx context.Context, method string) {
	if DirectoryLookup == nil {
		return
	}
	DirectoryLookup.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}
