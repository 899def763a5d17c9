// Package storage keeps the run history: every analysis run gets a
// monotonically increasing revision, with per-group snapshots indexed
// in memory for history queries.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/arbiter/telemetry"
)

// ErrRunNotFound is returned when no stored run matches
var ErrRunNotFound = errors.New("run not found")

// Bucket names in bbolt
var (
	bucketRuns   = []byte("runs")
	bucketGroups = []byte("groups")
	bucketMeta   = []byte("meta")
)

var keyCurrentRevision = []byte("current_revision")

const runIDPrefix = "run:"

// History implements revisioned run storage over bbolt
type History struct {
	mu sync.RWMutex

	// In-memory index of group key -> revisions
	index *btree.BTreeG[*GroupState]

	db         *bbolt.DB
	currentRev int64
	dir        string
	logger     *telemetry.Logger
}

// GroupState tracks the revisions a peer group appeared in
type GroupState struct {
	Key        string
	Department string
	Title      string
	Revisions  []int64
}

// FirstSeen returns the earliest revision still stored for the group
func (g *GroupState) FirstSeen() int64 {
	if len(g.Revisions) == 0 {
		return 0
	}
	return g.Revisions[0]
}

// LastSeen returns the latest revision the group appeared in
func (g *GroupState) LastSeen() int64 {
	if len(g.Revisions) == 0 {
		return 0
	}
	return g.Revisions[len(g.Revisions)-1]
}

// NewHistory opens (or creates) the history database in dir
func NewHistory(dir string) (*History, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, "arbiter.db"), 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketGroups, bucketMeta, bucketDrift} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	h := &History{
		index: btree.NewG[*GroupState](32, func(a, b *GroupState) bool {
			return a.Key < b.Key
		}),
		db:     db,
		dir:    dir,
		logger: telemetry.NewLogger("storage"),
	}

	if err := h.loadRevision(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := h.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return h, nil
}

// Close closes the database
func (h *History) Close() error {
	return h.db.Close()
}

// RecordRun stores a run and its group snapshots under a new revision
func (h *History) RecordRun(ctx context.Context, run *RunRecord) (int64, error) {
	if err := validateRun(run); err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	rev := h.currentRev + 1

	stored := *run
	stored.Revision = rev
	stored.Groups = make([]GroupSnapshot, len(run.Groups))
	for i, g := range run.Groups {
		g.RunID = run.ID
		g.Revision = rev
		stored.Groups[i] = g
	}

	err := h.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta.Get([]byte(runIDPrefix+run.ID)) != nil {
			return fmt.Errorf("run %s already recorded", run.ID)
		}

		value, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketRuns).Put(revisionKey(rev), value); err != nil {
			return err
		}

		groups := tx.Bucket(bucketGroups)
		for _, g := range stored.Groups {
			value, err := json.Marshal(g)
			if err != nil {
				return err
			}
			if err := groups.Put(groupRevisionKey(g.Department, g.Title, rev), value); err != nil {
				return err
			}
		}

		if err := meta.Put([]byte(runIDPrefix+run.ID), revisionKey(rev)); err != nil {
			return err
		}
		return meta.Put(keyCurrentRevision, revisionKey(rev))
	})
	if err != nil {
		h.logger.LogStorageError(ctx, "record_run", err)
		return 0, fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}

	h.currentRev = rev
	for _, g := range stored.Groups {
		h.indexGroup(g.Department, g.Title, rev)
	}

	telemetry.RecordHistoryWrite(ctx, rev)
	return rev, nil
}

// GetRun returns a stored run by ID
func (h *History) GetRun(id string) (*RunRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var run *RunRecord
	err := h.db.View(func(tx *bbolt.Tx) error {
		revKey := tx.Bucket(bucketMeta).Get([]byte(runIDPrefix + id))
		if revKey == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}

		var err error
		run, err = decodeRun(tx.Bucket(bucketRuns).Get(revKey))
		return err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetRunAtRevision returns the run stored under a revision
func (h *History) GetRunAtRevision(rev int64) (*RunRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var run *RunRecord
	err := h.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(bucketRuns).Get(revisionKey(rev))
		if value == nil {
			return fmt.Errorf("%w: revision %d", ErrRunNotFound, rev)
		}

		var err error
		run, err = decodeRun(value)
		return err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns stored runs newest first; limit <= 0 returns all
func (h *History) ListRuns(limit int) ([]RunRecord, error) {
	return h.listRuns(limit, func(*RunRecord) bool { return true })
}

// LatestRun returns the most recent run for a source; "" matches any source
func (h *History) LatestRun(source string) (*RunRecord, error) {
	runs, err := h.listRuns(1, func(r *RunRecord) bool {
		return source == "" || r.Source == source
	})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: no runs for source %q", ErrRunNotFound, source)
	}
	return &runs[0], nil
}

func (h *History) listRuns(limit int, match func(*RunRecord) bool) ([]RunRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var runs []RunRecord
	err := h.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			run, err := decodeRun(v)
			if err != nil {
				return err
			}
			if !match(run) {
				continue
			}
			runs = append(runs, *run)
			if limit > 0 && len(runs) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// GroupHistory returns a peer group's snapshots oldest first
func (h *History) GroupHistory(department, title string) ([]GroupSnapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	state, found := h.index.Get(&GroupState{Key: groupKey(department, title)})
	if !found {
		return nil, nil
	}

	snapshots := make([]GroupSnapshot, 0, len(state.Revisions))
	err := h.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketGroups)
		for _, rev := range state.Revisions {
			value := bucket.Get(groupRevisionKey(department, title, rev))
			if value == nil {
				continue
			}
			var snap GroupSnapshot
			if err := json.Unmarshal(value, &snap); err != nil {
				return fmt.Errorf("failed to decode group snapshot: %w", err)
			}
			snapshots = append(snapshots, snap)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

// GetGroupState returns the index entry for a peer group
func (h *History) GetGroupState(department, title string) (*GroupState, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	state, found := h.index.Get(&GroupState{Key: groupKey(department, title)})
	if !found {
		return nil, false
	}
	copied := *state
	copied.Revisions = append([]int64(nil), state.Revisions...)
	return &copied, true
}

// Groups returns every indexed peer group in key order
func (h *History) Groups() []GroupState {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []GroupState
	h.index.Ascend(func(state *GroupState) bool {
		out = append(out, *state)
		return true
	})
	return out
}

// CurrentRevision returns the current revision number
func (h *History) CurrentRevision() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.currentRev
}

// Stats returns the number of stored runs, indexed groups, the current revision and db size
func (h *History) Stats() (runs int, groups int, currentRev int64, dbSizeBytes int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_ = h.db.View(func(tx *bbolt.Tx) error {
		runs = tx.Bucket(bucketRuns).Stats().KeyN
		dbSizeBytes = tx.Size()
		return nil
	})
	return runs, h.index.Len(), h.currentRev, dbSizeBytes
}

// Compact removes all but the newest keep runs along with their group snapshots.
// It returns the number of runs removed.
func (h *History) Compact(ctx context.Context, keep int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.logger.LogCompaction(ctx, keep, h.currentRev)
	start := time.Now()

	var removedRuns []*RunRecord
	var deleted int

	err := h.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		var total int64
		c := runs.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			total++
		}
		excess := total - keep
		if keep <= 0 || excess <= 0 {
			return nil
		}

		var toDelete [][]byte
		for k, v := c.First(); k != nil && int64(len(toDelete)) < excess; k, v = c.Next() {
			run, err := decodeRun(v)
			if err != nil {
				return err
			}
			toDelete = append(toDelete, append([]byte(nil), k...))
			removedRuns = append(removedRuns, run)
		}

		groups := tx.Bucket(bucketGroups)
		meta := tx.Bucket(bucketMeta)
		for i, key := range toDelete {
			run := removedRuns[i]
			for _, g := range run.Groups {
				if err := groups.Delete(groupRevisionKey(g.Department, g.Title, run.Revision)); err != nil {
					return err
				}
				deleted++
			}
			if err := meta.Delete([]byte(runIDPrefix + run.ID)); err != nil {
				return err
			}
			if err := runs.Delete(key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		h.logger.LogStorageError(ctx, "compact", err)
		return 0, fmt.Errorf("compaction failed: %w", err)
	}

	for _, run := range removedRuns {
		for _, g := range run.Groups {
			h.unindexGroup(g.Department, g.Title, run.Revision)
		}
	}

	h.logger.LogCompactionComplete(ctx, deleted, time.Since(start))
	return len(removedRuns), nil
}

// Helper functions

func (h *History) indexGroup(department, title string, rev int64) {
	key := groupKey(department, title)
	state, found := h.index.Get(&GroupState{Key: key})
	if !found {
		state = &GroupState{Key: key, Department: department, Title: title}
	}
	n := len(state.Revisions)
	state.Revisions = append(state.Revisions, rev)
	if n > 0 && state.Revisions[n-1] > rev {
		sort.Slice(state.Revisions, func(i, j int) bool { return state.Revisions[i] < state.Revisions[j] })
	}
	h.index.ReplaceOrInsert(state)
}

func (h *History) unindexGroup(department, title string, rev int64) {
	key := groupKey(department, title)
	state, found := h.index.Get(&GroupState{Key: key})
	if !found {
		return
	}

	kept := state.Revisions[:0]
	for _, r := range state.Revisions {
		if r != rev {
			kept = append(kept, r)
		}
	}
	state.Revisions = kept

	if len(state.Revisions) == 0 {
		h.index.Delete(state)
	}
}

func (h *History) loadRevision() error {
	return h.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyCurrentRevision)
		if data == nil {
			return nil
		}
		rev, err := parseRevision(data)
		if err != nil {
			return fmt.Errorf("corrupt current revision: %w", err)
		}
		h.currentRev = rev
		return nil
	})
}

// rebuildIndex scans stored group snapshots into the btree
func (h *History) rebuildIndex() error {
	start := time.Now()

	err := h.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketGroups).ForEach(func(k, _ []byte) error {
			department, title, rev, err := parseGroupRevisionKey(k)
			if err != nil {
				return err
			}
			h.indexGroup(department, title, rev)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild index: %w", err)
	}

	h.logger.LogRebuildComplete(context.Background(), h.index.Len(), time.Since(start))
	return nil
}

func decodeRun(value []byte) (*RunRecord, error) {
	if value == nil {
		return nil, ErrRunNotFound
	}
	var run RunRecord
	if err := json.Unmarshal(value, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}
	return &run, nil
}

// groupKey joins department and title with a separator that cannot appear in CSV text
func groupKey(department, title string) string {
	return department + "\x00" + title
}

func revisionKey(rev int64) []byte {
	return []byte(fmt.Sprintf("%016d", rev))
}

func parseRevision(b []byte) (int64, error) {
	return strconv.ParseInt(string(b), 10, 64)
}

func groupRevisionKey(department, title string, rev int64) []byte {
	return []byte(groupKey(department, title) + "\x00" + fmt.Sprintf("%016d", rev))
}

func parseGroupRevisionKey(key []byte) (department, title string, rev int64, err error) {
	parts := strings.Split(string(key), "\x00")
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("malformed group key %q", key)
	}
	rev, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("malformed group revision %q: %w", key, err)
	}
	return parts[0], parts[1], rev, nil
}
