package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucketDrift = []byte("drift")

// StoreDriftEvents stores drift events in a single transaction
func (h *History) StoreDriftEvents(ctx context.Context, events []DriftEvent) error {
	if len(events) == 0 {
		return nil
	}
	for i, e := range events {
		if err := validateDriftEvent(e); err != nil {
			return fmt.Errorf("invalid drift event at index %d: %w", i, err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	base := time.Now().UnixNano()

	err := h.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDrift)
		for i, event := range events {
			if event.Timestamp.IsZero() {
				event.Timestamp = time.Unix(0, base)
			}
			value, err := json.Marshal(event)
			if err != nil {
				return fmt.Errorf("failed to marshal event at index %d: %w", i, err)
			}
			if err := bucket.Put(makeEventKey(event.Timestamp.UnixNano(), int64(i)), value); err != nil {
				return fmt.Errorf("failed to put event at index %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		h.logger.LogStorageError(ctx, "store_drift", err)
		return fmt.Errorf("failed to store drift events: %w", err)
	}

	return nil
}

// QueryDriftSince returns drift events recorded at or after since, oldest first
func (h *History) QueryDriftSince(ctx context.Context, since time.Time) ([]DriftEvent, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var results []DriftEvent
	sinceKey := makeEventKey(since.UnixNano(), 0)

	err := h.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketDrift).Cursor()
		for k, v := c.Seek(sinceKey); k != nil; k, v = c.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var event DriftEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return fmt.Errorf("failed to decode drift event: %w", err)
			}
			results = append(results, event)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	return results, nil
}

// makeEventKey creates timestamp-ordered keys; seq keeps batch entries unique
func makeEventKey(timestamp, seq int64) []byte {
	if timestamp < 0 {
		timestamp = 0
	}
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[0:8], uint64(timestamp)) //nolint:gosec // clamped above
	binary.BigEndian.PutUint64(key[8:16], uint64(seq))      //nolint:gosec // batch index
	return key
}
