package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
)

// Per-endpoint active-transfer counters. Counters are shared state: the
// throttle controller reads and conditionally increments them, the worker
// decrements them when a transfer finishes.

// IncrCounter increments an endpoint's active-transfer counter and
// returns the new value.
func (m *Manager) IncrCounter(ctx context.Context, endpointID string) (int64, error) {
	return m.adjustCounter(endpointID, 1)
}

// DecrCounter decrements an endpoint's active-transfer counter, clamped
// at zero so over-release cannot drive it negative.
func (m *Manager) DecrCounter(ctx context.Context, endpointID string) (int64, error) {
	return m.adjustCounter(endpointID, -1)
}

// GetCounter returns an endpoint's current active-transfer count. A
// missing counter reads as zero.
func (m *Manager) GetCounter(ctx context.Context, endpointID string) (int64, error) {
	var value int64
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(m.counterKey(endpointID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			parsed, err := strconv.ParseInt(string(val), 10, 64)
			if err != nil {
				return err
			}
			value = parsed
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read counter for endpoint %s: %w", endpointID, err)
	}
	return value, nil
}

// ResetCounter zeroes an endpoint's counter. Used on startup, when no
// transfers can be in flight yet.
func (m *Manager) ResetCounter(ctx context.Context, endpointID string) error {
	err := m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(m.counterKey(endpointID))
	})
	if err != nil {
		return fmt.Errorf("failed to reset counter for endpoint %s: %w", endpointID, err)
	}
	return nil
}

func (m *Manager) adjustCounter(endpointID string, delta int64) (int64, error) {
	var value int64

	update := func(txn *badger.Txn) error {
		key := m.counterKey(endpointID)

		current := int64(0)
		item, err := txn.Get(key)
		if err == nil {
			err = item.Value(func(val []byte) error {
				parsed, perr := strconv.ParseInt(string(val), 10, 64)
				if perr != nil {
					return perr
				}
				current = parsed
				return nil
			})
			if err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		current += delta
		if current < 0 {
			current = 0
		}

		value = current
		return txn.Set(key, []byte(strconv.FormatInt(current, 10)))
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = m.db.Update(update)
		if err == badger.ErrConflict && attempt < dequeueRetries {
			continue
		}
		break
	}
	if err != nil {
		return 0, fmt.Errorf("failed to adjust counter for endpoint %s: %w", endpointID, err)
	}
	return value, nil
}
