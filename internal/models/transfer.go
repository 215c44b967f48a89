// -----------------------------------------------------------------------
// Transfer - Movement of a single file within a job
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// TransferStatus is the lifecycle state of a single file transfer
type TransferStatus string

const (
	TransferStatusPending    TransferStatus = "pending"
	TransferStatusInProgress TransferStatus = "in_progress"
	TransferStatusCompleted  TransferStatus = "completed"
	TransferStatusFailed     TransferStatus = "failed"
	TransferStatusCancelled  TransferStatus = "cancelled"
)

// Transfer tracks one file within a job
type Transfer struct {
	ID    string `json:"id" badgerhold:"key"`
	JobID string `json:"job_id" badgerhold:"index" validate:"required"`

	FileName string `json:"file_name" validate:"required"`
	FilePath string `json:"file_path"` // resolved source path (job source dir + listed path)
	FileSize int64  `json:"file_size"`

	// Resolved destination, written before any bytes move so operators can
	// see where a file is headed while it is still copying.
	DestinationPath string `json:"destination_path,omitempty"`

	Status TransferStatus `json:"status" badgerhold:"index"`

	BytesTransferred   int64   `json:"bytes_transferred"`
	ProgressPercentage float64 `json:"progress_percentage"`
	TransferRate       float64 `json:"transfer_rate"` // bytes per second
	ETASeconds         int64   `json:"eta_seconds"`

	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTransfer creates a pending transfer for one file of a job
func NewTransfer(jobID, fileName, filePath string, size int64) *Transfer {
	now := time.Now()
	return &Transfer{
		JobID:     jobID,
		FileName:  fileName,
		FilePath:  filePath,
		FileSize:  size,
		Status:    TransferStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsTerminal returns true when the transfer can no longer transition
func (s TransferStatus) IsTerminal() bool {
	return s == TransferStatusCompleted || s == TransferStatusFailed || s == TransferStatusCancelled
}

// MarkInProgress transitions the transfer to in_progress
func (t *Transfer) MarkInProgress() {
	now := time.Now()
	t.Status = TransferStatusInProgress
	t.StartedAt = &now
	t.UpdatedAt = now
}

// MarkCompleted transitions the transfer to completed with full progress
func (t *Transfer) MarkCompleted() {
	now := time.Now()
	t.Status = TransferStatusCompleted
	t.BytesTransferred = t.FileSize
	t.ProgressPercentage = 100
	t.CompletedAt = &now
	t.UpdatedAt = now
}

// MarkFailed transitions the transfer to failed with the given reason
func (t *Transfer) MarkFailed(reason string) {
	now := time.Now()
	t.Status = TransferStatusFailed
	t.ErrorMessage = reason
	t.CompletedAt = &now
	t.UpdatedAt = now
}

// MarkCancelled transitions the transfer to cancelled
func (t *Transfer) MarkCancelled() {
	now := time.Now()
	t.Status = TransferStatusCancelled
	t.CompletedAt = &now
	t.UpdatedAt = now
}
