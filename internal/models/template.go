// -----------------------------------------------------------------------
// TransferTemplate - Event-to-transfer binding with chain rules
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// EventType identifies the external trigger a template responds to
type EventType string

const (
	EventTypeS3ObjectCreated EventType = "s3:ObjectCreated"
	EventTypeFileCreated     EventType = "file:created"
	EventTypeFileModified    EventType = "file:modified"
	EventTypeManual          EventType = "manual"
)

// SourceConfig narrows which events a template matches
type SourceConfig struct {
	// s3 events
	Bucket string `json:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	Suffix string `json:"suffix,omitempty"`

	// filesystem events
	WatchPath string `json:"watch_path,omitempty"`
	Recursive bool   `json:"recursive,omitempty"`
}

// ChainRule describes one follow-up transfer spawned after a job's
// transfers complete. Rules are ordered; the position is the chain index.
type ChainRule struct {
	EndpointID   string `json:"endpoint_id" validate:"required"`
	PathTemplate string `json:"path_template" validate:"required"`
}

// TransferTemplate binds an event source to a transfer destination and an
// optional chain of follow-up transfers.
type TransferTemplate struct {
	ID          string    `json:"id" badgerhold:"key"`
	Name        string    `json:"name" badgerhold:"index" validate:"required"`
	Description string    `json:"description,omitempty"`
	EventType   EventType `json:"event_type" badgerhold:"index" validate:"required,oneof=s3:ObjectCreated file:created file:modified manual"`

	SourceConfig SourceConfig `json:"source_config"`

	SourceEndpointID      string      `json:"source_endpoint_id" validate:"required"`
	DestinationEndpointID string      `json:"destination_endpoint_id" validate:"required"`
	DestinationPath       string      `json:"destination_path" validate:"required"` // path template, expanded per event
	ChainRules            []ChainRule `json:"chain_rules,omitempty"`

	FilePattern               string `json:"file_pattern"` // glob, default "*"
	DeleteSourceAfterTransfer bool   `json:"delete_source_after_transfer"`

	IsActive bool `json:"is_active" badgerhold:"index"`

	// Trigger statistics maintained by the dispatcher and worker
	TotalTriggers       int64      `json:"total_triggers"`
	SuccessfulTransfers int64      `json:"successful_transfers"`
	FailedTransfers     int64      `json:"failed_transfers"`
	LastTriggered       *time.Time `json:"last_triggered,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTransferTemplate creates a template with defaults applied
func NewTransferTemplate(name string, eventType EventType) *TransferTemplate {
	now := time.Now()
	return &TransferTemplate{
		Name:        name,
		EventType:   eventType,
		FilePattern: "*",
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks structural validity of the template and its chain rules
func (t *TransferTemplate) Validate() error {
	return validate.Struct(t)
}

// Pattern returns the template's file pattern, defaulting to match-all
func (t *TransferTemplate) Pattern() string {
	if t.FilePattern == "" {
		return "*"
	}
	return t.FilePattern
}
