package monitors

import (
	"context"
)

// Monitor is a long-running event source feeding the dispatcher
type Monitor interface {
	// Start begins watching. It returns once the monitor is running.
	Start(ctx context.Context) error

	// Stop halts watching and releases resources
	Stop()

	// Name identifies the monitor in logs
	Name() string
}
