package wal

import (
	"io"
	"path/filepath"
	"time"
)

// Stats represents WAL statistics
type Stats struct {
	TotalFiles     int
	TotalSizeBytes int64
	OldestFile     time.Time
	NewestFile     time.Time

	FirstSequence int64
	LastSequence  int64

	EntriesPerFile map[string]int
	EntriesByType  map[EntryType]int
	Runs           int
}

// GetStats returns statistics for the open journal's directory
func (w *WAL) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return GetStatsFromDir(w.dir, w.config)
}

// GetStatsFromDir returns statistics for a WAL directory (no active WAL needed)
func GetStatsFromDir(dir string, config Config) Stats {
	stats := Stats{
		EntriesPerFile: make(map[string]int),
		EntriesByType:  make(map[EntryType]int),
	}

	files := findAllWALFiles(dir, config.FilePrefix)
	if len(files) == 0 {
		return stats
	}

	stats.TotalFiles = len(files)
	stats.TotalSizeBytes = calculateTotalSize(files)
	stats.OldestFile, stats.NewestFile = findTimeRange(files)

	runs := make(map[string]bool)
	for _, file := range files {
		scanFile(file, func(e *Entry) {
			stats.EntriesPerFile[filepath.Base(file)]++
			stats.EntriesByType[e.Type]++
			if e.RunID != "" {
				runs[e.RunID] = true
			}
			if stats.FirstSequence == 0 || e.Sequence < stats.FirstSequence {
				stats.FirstSequence = e.Sequence
			}
			if e.Sequence > stats.LastSequence {
				stats.LastSequence = e.Sequence
			}
		})
	}
	stats.Runs = len(runs)

	return stats
}

// findLastSequenceInFiles finds highest sequence across files
func findLastSequenceInFiles(files []string) int64 {
	var maxSeq int64
	for _, file := range files {
		scanFile(file, func(e *Entry) {
			if e.Sequence > maxSeq {
				maxSeq = e.Sequence
			}
		})
	}
	return maxSeq
}

// scanFile visits every readable entry, skipping corrupted lines
func scanFile(path string, visit func(*Entry)) {
	reader, err := NewReader(path)
	if err != nil {
		return
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			if reader.scanner.Err() != nil {
				return
			}
			continue
		}
		visit(entry)
	}
}

// getCurrentFileSize returns size of current WAL file
func (w *WAL) getCurrentFileSize() int64 {
	info, err := w.file.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

// HealthStatus represents WAL health
type HealthStatus struct {
	Healthy          bool
	DiskUsagePercent float64
	OldestFileAge    time.Duration
	NeedsCleanup     bool
	Issues           []string
}

// GetHealth returns WAL health status
func (w *WAL) GetHealth() HealthStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	health := HealthStatus{Issues: []string{}}

	if w.config.MaxFileSize > 0 {
		health.DiskUsagePercent = float64(w.getCurrentFileSize()) / float64(w.config.MaxFileSize) * 100
		if health.DiskUsagePercent > 90 {
			health.Issues = append(health.Issues, "current file >90% of max size")
		}
	}

	if oldest, _ := findTimeRange(w.listWALFiles()); !oldest.IsZero() {
		health.OldestFileAge = time.Since(oldest)
		retention := time.Duration(w.config.RetentionDays) * 24 * time.Hour
		if w.config.RetentionDays > 0 && health.OldestFileAge > retention {
			health.NeedsCleanup = true
			health.Issues = append(health.Issues, "old files exceed retention period")
		}
	}

	health.Healthy = len(health.Issues) == 0
	return health
}
