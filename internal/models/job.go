// -----------------------------------------------------------------------
// Job - Unit of orchestration: one requested movement of files
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusRetrying  JobStatus = "retrying"
)

// JobType identifies how a job came to exist
type JobType string

const (
	JobTypeManual         JobType = "manual"
	JobTypeEventTriggered JobType = "event_triggered"
	JobTypeScheduled      JobType = "scheduled"
	JobTypeChained        JobType = "chained"
)

// DefaultMaxRetries is applied to jobs that do not specify a retry budget
const DefaultMaxRetries = 3

// EventData captures the external event that triggered a job
type EventData struct {
	EventType EventType `json:"event_type"`
	Bucket    string    `json:"bucket,omitempty"`
	Key       string    `json:"key,omitempty"`
	ETag      string    `json:"etag,omitempty"`
	FilePath  string    `json:"file_path,omitempty"`
	FileName  string    `json:"file_name"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// TransferredFile is one entry in the job's completed-file ledger
type TransferredFile struct {
	FileName        string `json:"file_name"`
	DestinationPath string `json:"destination_path"`
	Size            int64  `json:"size"`
}

// JobConfig is the job's typed configuration bag, serialized as JSON in
// storage. Chain rules are copied in at creation time and are
// authoritative for chaining.
type JobConfig struct {
	TransferTemplateID string      `json:"transfer_template_id,omitempty"`
	ChainRules         []ChainRule `json:"chain_rules,omitempty"`

	// scheduled execution clones
	ScheduledExecution bool   `json:"scheduled_execution,omitempty"`
	ScheduledJobID     string `json:"scheduled_job_id,omitempty"`

	// chained job lineage
	ParentJobID      string     `json:"parent_job_id,omitempty"`
	ParentTransferID string     `json:"parent_transfer_id,omitempty"`
	ChainIndex       int        `json:"chain_index,omitempty"`
	ChainRule        *ChainRule `json:"chain_rule,omitempty"`

	EventData *EventData `json:"event_data,omitempty"`

	TransferredFiles []TransferredFile `json:"transferred_files,omitempty"`
}

// Job represents one requested movement of files between two endpoints
type Job struct {
	ID     string    `json:"id" badgerhold:"key"`
	Name   string    `json:"name" validate:"required"`
	Type   JobType   `json:"type" badgerhold:"index" validate:"required,oneof=manual event_triggered scheduled chained"`
	Status JobStatus `json:"status" badgerhold:"index"`

	SourceEndpointID      string `json:"source_endpoint_id" validate:"required"`
	DestinationEndpointID string `json:"destination_endpoint_id" validate:"required"`
	SourcePath            string `json:"source_path"`
	DestinationPath       string `json:"destination_path"` // may contain template tokens
	FilePattern           string `json:"file_pattern"`     // glob, default "*"

	DeleteSourceAfterTransfer bool `json:"delete_source_after_transfer"`

	ParentJobID string `json:"parent_job_id,omitempty" badgerhold:"index"`

	// Scheduling (type == scheduled)
	Schedule  string     `json:"schedule,omitempty"` // standard 5-field cron
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	IsActive  bool       `json:"is_active"`

	Config JobConfig `json:"config"`

	// Progress counters
	TotalFiles       int   `json:"total_files"`
	CompletedFiles   int   `json:"completed_files"`
	FailedFiles      int   `json:"failed_files"`
	TotalBytes       int64 `json:"total_bytes"`
	TransferredBytes int64 `json:"transferred_bytes"`

	// Run statistics
	TotalRuns      int64      `json:"total_runs"`
	SuccessfulRuns int64      `json:"successful_runs"`
	FailedRuns     int64      `json:"failed_runs"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`

	// Retry bookkeeping
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	ErrorMessage string `json:"error_message,omitempty"`
	CreatedBy    string `json:"created_by,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob creates a job with defaults applied
func NewJob(name string, jobType JobType) *Job {
	now := time.Now()
	return &Job{
		Name:        name,
		Type:        jobType,
		Status:      JobStatusPending,
		FilePattern: "*",
		IsActive:    true,
		MaxRetries:  DefaultMaxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks structural validity of the job
func (j *Job) Validate() error {
	if err := validate.Struct(j); err != nil {
		return err
	}
	if j.Type == JobTypeScheduled && j.Schedule == "" {
		return fmt.Errorf("scheduled job %q requires a cron schedule", j.Name)
	}
	return nil
}

// Pattern returns the job's file pattern, defaulting to match-all
func (j *Job) Pattern() string {
	if j.FilePattern == "" {
		return "*"
	}
	return j.FilePattern
}

// IsTerminal returns true when the job can no longer transition
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// MarkQueued transitions the job to queued
func (j *Job) MarkQueued() {
	j.Status = JobStatusQueued
	j.UpdatedAt = time.Now()
}

// MarkRunning transitions the job to running and stamps the start time.
// LastRunAt records every attempt, not just successful ones.
func (j *Job) MarkRunning() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.LastRunAt = &now
	j.UpdatedAt = now
}

// MarkCompleted transitions the job to completed
func (j *Job) MarkCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.ErrorMessage = ""
}

// MarkFailed transitions the job to failed with the given reason
func (j *Job) MarkFailed(reason string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.ErrorMessage = reason
}

// MarkCancelled transitions the job to cancelled
func (j *Job) MarkCancelled() {
	now := time.Now()
	j.Status = JobStatusCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// CanRetry reports whether the job has retry budget left
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}
