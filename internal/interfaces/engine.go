package interfaces

import (
	"context"

	"github.com/ternarybob/relay/internal/models"
)

// TransferOptions tunes a single engine copy operation
type TransferOptions struct {
	DeleteSource   bool   // move instead of copy
	BandwidthLimit string // per-transfer --bwlimit, empty for the engine default
}

// TransferHandle tracks one running engine copy
type TransferHandle interface {
	// Progress returns the latest parsed progress snapshot
	Progress() models.TransferProgress

	// Done is closed when the underlying process exits
	Done() <-chan struct{}

	// Err returns the terminal error after Done is closed, nil on success
	Err() error

	// Kill aborts the running copy
	Kill() error
}

// CopyEngine abstracts the external copy engine (rclone). The worker only
// talks to this interface so tests can substitute a fake.
type CopyEngine interface {
	// Configure registers an endpoint as a named remote and returns the
	// remote name used in engine paths.
	Configure(ctx context.Context, endpoint *models.Endpoint) (string, error)

	// BuildPath renders an endpoint-relative path as an engine URL
	BuildPath(endpointName string, path string) (string, error)

	// ListFiles lists files (not directories) under a path, filtered by a
	// glob pattern. An empty listing is not an error.
	ListFiles(ctx context.Context, endpointName string, path string, pattern string) ([]models.FileInfo, error)

	// TestEndpoint probes reachability of a configured endpoint
	TestEndpoint(ctx context.Context, endpoint *models.Endpoint) error

	// StartTransfer begins copying source to dest and returns a handle for
	// progress polling and cancellation.
	StartTransfer(ctx context.Context, source string, dest string, opts TransferOptions) (TransferHandle, error)
}
