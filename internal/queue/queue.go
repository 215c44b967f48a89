// -----------------------------------------------------------------------
// Score-ordered job queue on BadgerDB
//
// The queue is a sorted index keyed by a zero-padded decimal score. A
// score is either a small priority value or a wall-clock unix time for
// delayed entries; dequeue claims the lowest score that is not in the
// future. A member key per job makes enqueue idempotent: re-enqueueing
// replaces the previous score instead of adding a second entry.
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
)

// ErrNoJob is returned by Dequeue when no job is due
var ErrNoJob = errors.New("no job due in queue")

// dequeueRetries bounds retry attempts when concurrent workers conflict
// on the same transaction.
const dequeueRetries = 5

// Manager provides the job queue, per-endpoint counters and the job
// status cache on a shared Badger database.
type Manager struct {
	db        *badger.DB
	prefix    string
	statusTTL time.Duration
	logger    arbor.ILogger

	subscribers *broker
}

// NewManager creates a queue manager. All keys are namespaced under the
// given prefix so several deployments can share one database.
func NewManager(db *badger.DB, prefix string, statusTTL time.Duration, logger arbor.ILogger) (*Manager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if prefix == "" {
		prefix = "relay"
	}
	if statusTTL <= 0 {
		statusTTL = 24 * time.Hour
	}

	return &Manager{
		db:          db,
		prefix:      prefix,
		statusTTL:   statusTTL,
		logger:      logger,
		subscribers: newBroker(),
	}, nil
}

// Enqueue adds a job to the queue. With no delay the score is the raw
// priority (lower runs first); with a delay the score is the wall-clock
// time the job becomes due. Re-enqueueing an existing job replaces its
// score.
func (m *Manager) Enqueue(ctx context.Context, jobID string, priority float64, delay time.Duration) error {
	if jobID == "" {
		return errors.New("job id is required")
	}

	score := priority
	if delay > 0 {
		score = float64(time.Now().Add(delay).Unix())
	}
	if score < 0 {
		return fmt.Errorf("queue score must not be negative, got %f", score)
	}

	encoded := encodeScore(score)

	err := m.db.Update(func(txn *badger.Txn) error {
		memberKey := m.memberKey(jobID)

		// Drop the previous index entry if this job is already queued
		if item, err := txn.Get(memberKey); err == nil {
			var oldScore []byte
			oldScore, err = item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Delete(m.indexKey(string(oldScore), jobID)); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := txn.Set(m.indexKey(encoded, jobID), []byte{}); err != nil {
			return err
		}
		return txn.Set(memberKey, []byte(encoded))
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}

	m.logger.Debug().
		Str("job_id", jobID).
		Float64("score", score).
		Dur("delay", delay).
		Msg("Job enqueued")
	return nil
}

// Dequeue removes and returns the job with the lowest due score. ErrNoJob
// is returned when the queue is empty or every entry is delayed into the
// future.
func (m *Manager) Dequeue(ctx context.Context) (string, error) {
	for attempt := 0; ; attempt++ {
		jobID, err := m.dequeueOnce()
		if err == badger.ErrConflict && attempt < dequeueRetries {
			continue
		}
		return jobID, err
	}
}

func (m *Manager) dequeueOnce() (string, error) {
	var jobID string

	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(m.prefix + ":job_queue:index:")
		it := txn.NewIterator(opts)
		defer it.Close()

		now := float64(time.Now().Unix())

		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			return ErrNoJob
		}

		key := it.Item().KeyCopy(nil)
		score, id, err := m.parseIndexKey(key, prefix)
		if err != nil {
			return fmt.Errorf("corrupt queue index key %q: %w", key, err)
		}

		// Keys sort by score, so a future head means nothing is due
		if score > now {
			return ErrNoJob
		}

		if err := txn.Delete(key); err != nil {
			return err
		}
		if err := txn.Delete(m.memberKey(id)); err != nil {
			return err
		}

		jobID = id
		return nil
	})
	if err != nil {
		return "", err
	}

	m.logger.Debug().Str("job_id", jobID).Msg("Job dequeued")
	return jobID, nil
}

// Remove deletes a job from the queue if present. Used when a queued job
// is cancelled.
func (m *Manager) Remove(ctx context.Context, jobID string) error {
	err := m.db.Update(func(txn *badger.Txn) error {
		memberKey := m.memberKey(jobID)
		item, err := txn.Get(memberKey)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		score, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(m.indexKey(string(score), jobID)); err != nil {
			return err
		}
		return txn.Delete(memberKey)
	})
	if err != nil {
		return fmt.Errorf("failed to remove job %s from queue: %w", jobID, err)
	}
	return nil
}

// Length returns the number of queued jobs, due or not
func (m *Manager) Length(ctx context.Context) (int, error) {
	count := 0
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(m.prefix + ":job_queue:member:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure queue length: %w", err)
	}
	return count, nil
}

// Close releases pub/sub subscribers. The database is managed externally.
func (m *Manager) Close() error {
	m.subscribers.close()
	return nil
}

// Key helpers

func (m *Manager) indexKey(encodedScore, jobID string) []byte {
	return []byte(fmt.Sprintf("%s:job_queue:index:%s:%s", m.prefix, encodedScore, jobID))
}

func (m *Manager) memberKey(jobID string) []byte {
	return []byte(fmt.Sprintf("%s:job_queue:member:%s", m.prefix, jobID))
}

func (m *Manager) counterKey(endpointID string) []byte {
	return []byte(fmt.Sprintf("%s:endpoint_counters:%s", m.prefix, endpointID))
}

func (m *Manager) statusKey(jobID string) []byte {
	return []byte(fmt.Sprintf("%s:job_status:%s", m.prefix, jobID))
}

// encodeScore renders a score as a fixed-width decimal so lexicographic
// key order matches numeric order. Scores are non-negative and bounded by
// wall-clock unix seconds, which fits comfortably in the padded width.
func encodeScore(score float64) string {
	return fmt.Sprintf("%020.6f", score)
}

func (m *Manager) parseIndexKey(key, prefix []byte) (float64, string, error) {
	suffix := string(key[len(prefix):])
	idx := strings.Index(suffix, ":")
	if idx < 0 {
		return 0, "", errors.New("missing score separator")
	}

	score, err := strconv.ParseFloat(suffix[:idx], 64)
	if err != nil {
		return 0, "", err
	}

	id := suffix[idx+1:]
	if id == "" {
		return 0, "", errors.New("missing job id")
	}
	return score, id, nil
}
