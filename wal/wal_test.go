package wal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type loadedPayload struct {
	Source string `json:"source"`
	Rows   int    `json:"rows"`
}

func TestWAL_AppendAndRead(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}

	if err := w.Append(ctx, EntryLoaded, "run-1", loadedPayload{Source: "access.csv", Rows: 12}); err != nil {
		t.Fatalf("Failed to append loaded entry: %v", err)
	}
	if err := w.Append(ctx, EntryAnalyzed, "run-1", map[string]int{"groups": 3}); err != nil {
		t.Fatalf("Failed to append analyzed entry: %v", err)
	}
	if err := w.AppendError(ctx, EntryFailed, "run-1", nil, errors.New("export failed")); err != nil {
		t.Fatalf("Failed to append failed entry: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close WAL: %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "arbiter-*.wal"))
	if len(files) != 1 {
		t.Fatalf("Expected 1 WAL file, got %d", len(files))
	}

	reader, err := NewReader(files[0])
	if err != nil {
		t.Fatalf("Failed to open reader: %v", err)
	}
	defer func() { _ = reader.Close() }()

	want := []EntryType{EntryLoaded, EntryAnalyzed, EntryFailed}
	for i, typ := range want {
		entry, err := reader.Next()
		if err != nil {
			t.Fatalf("Failed to read entry %d: %v", i, err)
		}
		if entry.Type != typ {
			t.Errorf("Entry %d: expected type %s, got %s", i, typ, entry.Type)
		}
		if entry.Sequence != int64(i+1) {
			t.Errorf("Entry %d: expected sequence %d, got %d", i, i+1, entry.Sequence)
		}
		if entry.RunID != "run-1" {
			t.Errorf("Entry %d: expected run-1, got %q", i, entry.RunID)
		}

		if i == 0 {
			var p loadedPayload
			if err := json.Unmarshal(entry.Data, &p); err != nil {
				t.Fatalf("Failed to decode payload: %v", err)
			}
			if p.Rows != 12 || p.Source != "access.csv" {
				t.Errorf("Unexpected payload %+v", p)
			}
		}
		if i == 2 && entry.Error != "export failed" {
			t.Errorf("Expected error message, got %q", entry.Error)
		}
	}

	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("Expected EOF, got %v", err)
	}
}

func TestWAL_SequenceContinuesAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	w1, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	_ = w1.Append(ctx, EntryLoaded, "run-1", nil)
	_ = w1.Append(ctx, EntryCompleted, "run-1", nil)
	_ = w1.Close()

	w2, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open second WAL: %v", err)
	}
	defer func() { _ = w2.Close() }()

	if w2.sequence != 2 {
		t.Errorf("Expected sequence to resume at 2, got %d", w2.sequence)
	}

	_ = w2.Append(ctx, EntryLoaded, "run-2", nil)
	if w2.sequence != 3 {
		t.Errorf("Expected sequence 3, got %d", w2.sequence)
	}
}

func TestWAL_RotationKeepsSequence(t *testing.T) {
	dir := t.TempDir()

	config := DefaultConfig()
	config.MaxFileSize = 300 // Very small to force rotation

	w, err := OpenWithConfig(dir, config)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}

	for i := 0; i < 20; i++ {
		if err := w.Append(context.Background(), EntryPlanned, "run-1", "some data"); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}
	_ = w.Close()

	files := w.listWALFiles()
	if len(files) < 2 {
		t.Fatalf("Expected rotation into several files, got %d", len(files))
	}

	entries, err := RunEntries(dir, config, "run-1")
	if err != nil {
		t.Fatalf("RunEntries failed: %v", err)
	}
	if len(entries) != 20 {
		t.Fatalf("Expected 20 entries across all files, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Sequence != int64(i+1) {
			t.Errorf("Entry %d has sequence %d", i, e.Sequence)
		}
	}
}

func TestWAL_NoRotationBelowLimit(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	defer func() { _ = w.Close() }()

	for i := 0; i < 10; i++ {
		_ = w.Append(context.Background(), EntryLoaded, "run", "data")
	}

	if files := w.listWALFiles(); len(files) != 1 {
		t.Errorf("Expected 1 WAL file (no rotation), got %d", len(files))
	}
}

func TestRunEntries_FiltersByRun(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	w, _ := Open(dir)
	_ = w.Append(ctx, EntryLoaded, "a", nil)
	_ = w.Append(ctx, EntryLoaded, "b", nil)
	_ = w.Append(ctx, EntryCompleted, "a", nil)
	_ = w.Close()

	entries, err := RunEntries(dir, DefaultConfig(), "a")
	if err != nil {
		t.Fatalf("RunEntries failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Type != EntryLoaded || entries[1].Type != EntryCompleted {
		t.Errorf("Unexpected entries: %+v", entries)
	}
}

func TestReplay_SinceAndHandlerError(t *testing.T) {
	dir := t.TempDir()

	w, _ := Open(dir)
	_ = w.Append(context.Background(), EntryLoaded, "a", nil)
	_ = w.Close()

	count := 0
	err := Replay(dir, DefaultConfig(), time.Now().Add(time.Hour), func(*Entry) error {
		count++
		return nil
	})
	if err != nil || count != 0 {
		t.Errorf("Expected no entries after a future cutoff, got %d (err %v)", count, err)
	}

	stop := errors.New("stop")
	err = Replay(dir, DefaultConfig(), time.Time{}, func(*Entry) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("Expected handler error, got %v", err)
	}
}

func TestReader_CorruptedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbiter-20240101-000000.000000000.wal")
	content := `{"sequence":1,"type":"loaded","data":null}` + "\n" +
		"not json\n" +
		`{"sequence":7,"type":"completed","data":null}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reader.Close() }()

	if _, err := reader.Next(); err != nil {
		t.Fatalf("First entry should parse: %v", err)
	}
	if _, err := reader.Next(); err == nil {
		t.Error("Expected error on corrupted line")
	}

	if got := findLastSequenceInFiles([]string{path}); got != 7 {
		t.Errorf("Expected max sequence 7 past the corrupted line, got %d", got)
	}
}
