// -----------------------------------------------------------------------
// Per-endpoint transfer throttling
//
// Slots are tracked in the shared endpoint counters, so the limit holds
// across every worker that shares the queue database. Acquisition is
// optimistic: increment, then back out if the counter overshot the
// limit. Two racing workers can both observe a free slot, but the
// post-increment check means at most a transient overshoot that is
// immediately corrected.
// -----------------------------------------------------------------------

package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/queue"
)

// ErrAcquireTimeout is returned when no slot frees up within the
// acquisition timeout.
var ErrAcquireTimeout = fmt.Errorf("timed out waiting for a transfer slot")

// Controller enforces per-endpoint concurrent transfer limits
type Controller struct {
	queue        *queue.Manager
	endpoints    interfaces.EndpointStorage
	defaultLimit int
	timeout      time.Duration
	retryEvery   time.Duration
	logger       arbor.ILogger

	mu     sync.RWMutex
	limits map[string]int
}

// NewController creates a throttle controller
func NewController(q *queue.Manager, endpoints interfaces.EndpointStorage, config *common.ThrottleConfig, logger arbor.ILogger) *Controller {
	defaultLimit := config.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = 5
	}

	return &Controller{
		queue:        q,
		endpoints:    endpoints,
		defaultLimit: defaultLimit,
		timeout:      common.ParseDurationOr(config.AcquireTimeout, 30*time.Second),
		retryEvery:   common.ParseDurationOr(config.RetryInterval, time.Second),
		logger:       logger,
		limits:       make(map[string]int),
	}
}

// AcquireSlot blocks until a transfer slot for the endpoint is acquired,
// the timeout elapses, or the context is cancelled.
func (c *Controller) AcquireSlot(ctx context.Context, endpointID string) error {
	limit, err := c.limitFor(ctx, endpointID)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.timeout)

	for {
		count, err := c.queue.GetCounter(ctx, endpointID)
		if err != nil {
			return err
		}

		if count < int64(limit) {
			after, err := c.queue.IncrCounter(ctx, endpointID)
			if err != nil {
				return err
			}
			if after <= int64(limit) {
				return nil
			}
			// Raced past the limit; undo and retry
			if _, err := c.queue.DecrCounter(ctx, endpointID); err != nil {
				return err
			}
		}

		if time.Now().After(deadline) {
			c.logger.Debug().
				Str("endpoint_id", endpointID).
				Int("limit", limit).
				Msg("Transfer slot acquisition timed out")
			return ErrAcquireTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryEvery):
		}
	}
}

// ReleaseSlot frees a previously acquired slot
func (c *Controller) ReleaseSlot(ctx context.Context, endpointID string) error {
	_, err := c.queue.DecrCounter(ctx, endpointID)
	return err
}

// CanAcquire reports whether a slot currently appears free. The answer
// is advisory: another worker can take the slot before the caller does.
func (c *Controller) CanAcquire(ctx context.Context, endpointID string) (bool, error) {
	limit, err := c.limitFor(ctx, endpointID)
	if err != nil {
		return false, err
	}
	count, err := c.queue.GetCounter(ctx, endpointID)
	if err != nil {
		return false, err
	}
	return count < int64(limit), nil
}

// CanStartTransfer reports whether both endpoints of a transfer appear
// to have capacity. Used by the worker as a pre-check before claiming a
// job; actual admission happens in AcquireSlot.
func (c *Controller) CanStartTransfer(ctx context.Context, sourceEndpointID, destEndpointID string) (bool, error) {
	srcOK, err := c.CanAcquire(ctx, sourceEndpointID)
	if err != nil {
		return false, err
	}
	if !srcOK {
		return false, nil
	}
	if destEndpointID == sourceEndpointID {
		return true, nil
	}
	return c.CanAcquire(ctx, destEndpointID)
}

// ActiveTransfers returns the current counter value for an endpoint
func (c *Controller) ActiveTransfers(ctx context.Context, endpointID string) (int64, error) {
	return c.queue.GetCounter(ctx, endpointID)
}

// Invalidate drops the cached limit for an endpoint so the next acquire
// reloads it from storage.
func (c *Controller) Invalidate(endpointID string) {
	c.mu.Lock()
	delete(c.limits, endpointID)
	c.mu.Unlock()
}

func (c *Controller) limitFor(ctx context.Context, endpointID string) (int, error) {
	c.mu.RLock()
	limit, ok := c.limits[endpointID]
	c.mu.RUnlock()
	if ok {
		return limit, nil
	}

	endpoint, err := c.endpoints.Get(ctx, endpointID)
	if err == interfaces.ErrNotFound {
		// Unknown endpoints fall back to the default rather than failing
		// the transfer outright.
		return c.defaultLimit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load endpoint %s for throttle limit: %w", endpointID, err)
	}

	limit = endpoint.ConcurrencyLimit(c.defaultLimit)

	c.mu.Lock()
	c.limits[endpointID] = limit
	c.mu.Unlock()
	return limit, nil
}
