package models

import (
	"time"
)

// FileInfo is one entry from an engine directory listing
type FileInfo struct {
	Path    string    `json:"path"` // path relative to the listed directory
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	IsDir   bool      `json:"is_dir"`
}

// TransferProgress is a point-in-time snapshot of a running engine copy
type TransferProgress struct {
	BytesTransferred int64   `json:"bytes_transferred"`
	Percentage       float64 `json:"percentage"`
	Rate             float64 `json:"rate"` // bytes per second
	ETASeconds       int64   `json:"eta_seconds"`
}
