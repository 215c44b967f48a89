package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Job status cache. Entries expire via Badger's native TTL so observers
// of recently finished jobs see status without a database query, and
// stale entries vanish on their own.

// SetJobStatus caches a job status snapshot under the configured TTL
func (m *Manager) SetJobStatus(ctx context.Context, jobID string, status interface{}) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status for job %s: %w", jobID, err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(m.statusKey(jobID), data).WithTTL(m.statusTTL)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to cache status for job %s: %w", jobID, err)
	}
	return nil
}

// GetJobStatus loads a cached job status into out. Returns ErrNoJob when
// the entry is missing or expired.
func (m *Manager) GetJobStatus(ctx context.Context, jobID string, out interface{}) error {
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(m.statusKey(jobID))
		if err == badger.ErrKeyNotFound {
			return ErrNoJob
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if err == ErrNoJob {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to read cached status for job %s: %w", jobID, err)
	}
	return nil
}

// DeleteJobStatus drops a cached status entry before its TTL
func (m *Manager) DeleteJobStatus(ctx context.Context, jobID string) error {
	err := m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(m.statusKey(jobID))
	})
	if err != nil {
		return fmt.Errorf("failed to delete cached status for job %s: %w", jobID, err)
	}
	return nil
}
