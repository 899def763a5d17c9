package storage

import (
	"context"
	"time"
)

// RunWriter records analysis runs
type RunWriter interface {
	RecordRun(ctx context.Context, run *RunRecord) (revision int64, err error)
}

// RunReader queries stored runs
type RunReader interface {
	GetRun(id string) (*RunRecord, error)
	GetRunAtRevision(revision int64) (*RunRecord, error)
	ListRuns(limit int) ([]RunRecord, error)
	LatestRun(source string) (*RunRecord, error)
	GroupHistory(department, title string) ([]GroupSnapshot, error)
}

// DriftStorage stores and queries group drift between runs
type DriftStorage interface {
	StoreDriftEvents(ctx context.Context, events []DriftEvent) error
	QueryDriftSince(ctx context.Context, since time.Time) ([]DriftEvent, error)
}

// Compactor handles storage compaction
type Compactor interface {
	Compact(ctx context.Context, keep int64) (removed int, err error)
}

// Store is the complete history interface
type Store interface {
	RunWriter
	RunReader
	DriftStorage
	Compactor
	CurrentRevision() int64
	Close() error
}
