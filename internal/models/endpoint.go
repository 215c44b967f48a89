// -----------------------------------------------------------------------
// Endpoint - Storage location reachable by the copy engine
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// EndpointType identifies the protocol family of an endpoint
type EndpointType string

const (
	EndpointTypeLocal  EndpointType = "local"
	EndpointTypeSMB    EndpointType = "smb"
	EndpointTypeSFTP   EndpointType = "sftp"
	EndpointTypeS3     EndpointType = "s3"
	EndpointTypeFTP    EndpointType = "ftp"
	EndpointTypeWebDAV EndpointType = "webdav"
)

// ConnectionStatus reflects the last reachability probe of an endpoint
type ConnectionStatus string

const (
	ConnectionStatusUnknown      ConnectionStatus = "unknown"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)

// EndpointConfig holds the per-protocol connection settings. Only the
// fields relevant to the endpoint type are populated.
type EndpointConfig struct {
	// local
	Path string `json:"path,omitempty"`

	// smb / sftp / ftp
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`

	// smb
	Share  string `json:"share,omitempty"`
	Domain string `json:"domain,omitempty"`

	// sftp
	KeyFile        string `json:"key_file,omitempty"`
	KeyPassphrase  string `json:"key_passphrase,omitempty"`
	KnownHostsFile string `json:"known_hosts_file,omitempty"`

	// s3
	Bucket    string `json:"bucket,omitempty"`
	Region    string `json:"region,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`

	// webdav
	URL string `json:"url,omitempty"`
}

// Endpoint represents a storage location that transfers read from or
// write to.
type Endpoint struct {
	ID   string       `json:"id" badgerhold:"key"`
	Name string       `json:"name" badgerhold:"index" validate:"required"`
	Type EndpointType `json:"type" badgerhold:"index" validate:"required,oneof=local smb sftp s3 ftp webdav"`

	Config EndpointConfig `json:"config"`

	MaxConcurrentTransfers int    `json:"max_concurrent_transfers"` // 0 means use the controller default
	MaxBandwidth           string `json:"max_bandwidth,omitempty"`  // e.g. "10M", empty for unlimited

	IsActive         bool             `json:"is_active"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	LastConnected    *time.Time       `json:"last_connected,omitempty"`

	// Rolling statistics maintained by the worker
	TotalTransfers        int64 `json:"total_transfers"`
	FailedTransfers       int64 `json:"failed_transfers"`
	TotalBytesTransferred int64 `json:"total_bytes_transferred"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEndpoint creates an endpoint with defaults applied
func NewEndpoint(name string, epType EndpointType) *Endpoint {
	now := time.Now()
	return &Endpoint{
		Name:             name,
		Type:             epType,
		IsActive:         true,
		ConnectionStatus: ConnectionStatusUnknown,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Validate checks structural validity plus the per-type required config
func (e *Endpoint) Validate() error {
	if err := validate.Struct(e); err != nil {
		return err
	}

	switch e.Type {
	case EndpointTypeLocal:
		// base path is optional; absolute paths in jobs are allowed
	case EndpointTypeSMB:
		if e.Config.Host == "" {
			return fmt.Errorf("smb endpoint %q requires config.host", e.Name)
		}
	case EndpointTypeSFTP:
		if e.Config.Host == "" {
			return fmt.Errorf("sftp endpoint %q requires config.host", e.Name)
		}
		if e.Config.Password == "" && e.Config.KeyFile == "" {
			return fmt.Errorf("sftp endpoint %q requires a password or key_file", e.Name)
		}
	case EndpointTypeS3:
		if e.Config.AccessKey == "" || e.Config.SecretKey == "" {
			return fmt.Errorf("s3 endpoint %q requires access_key and secret_key", e.Name)
		}
	case EndpointTypeFTP:
		if e.Config.Host == "" {
			return fmt.Errorf("ftp endpoint %q requires config.host", e.Name)
		}
	case EndpointTypeWebDAV:
		if e.Config.URL == "" {
			return fmt.Errorf("webdav endpoint %q requires config.url", e.Name)
		}
	}

	return nil
}

// ConcurrencyLimit returns the endpoint's transfer slot limit, falling back
// to the supplied default when unset.
func (e *Endpoint) ConcurrencyLimit(fallback int) int {
	if e.MaxConcurrentTransfers > 0 {
		return e.MaxConcurrentTransfers
	}
	return fallback
}
