package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// TransferStorage implements the TransferStorage interface for Badger
type TransferStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTransferStorage creates a new TransferStorage instance
func NewTransferStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TransferStorage {
	return &TransferStorage{
		db:     db,
		logger: logger,
	}
}

// Save inserts or updates a transfer. New transfers get an ID assigned.
func (s *TransferStorage) Save(ctx context.Context, transfer *models.Transfer) error {
	if transfer.ID == "" {
		transfer.ID = common.NewTransferID()
	}
	transfer.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(transfer.ID, transfer); err != nil {
		return fmt.Errorf("failed to save transfer %s: %w", transfer.ID, err)
	}
	return nil
}

// Get retrieves a transfer by ID
func (s *TransferStorage) Get(ctx context.Context, id string) (*models.Transfer, error) {
	var transfer models.Transfer
	err := s.db.Store().Get(id, &transfer)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer %s: %w", id, err)
	}
	return &transfer, nil
}

// ListByJob returns a job's transfers ordered by creation time
func (s *TransferStorage) ListByJob(ctx context.Context, jobID string) ([]*models.Transfer, error) {
	var transfers []models.Transfer
	err := s.db.Store().Find(&transfers, badgerhold.Where("JobID").Eq(jobID).Index("JobID"))
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers for job %s: %w", jobID, err)
	}

	sort.Slice(transfers, func(i, j int) bool {
		return transfers[i].CreatedAt.Before(transfers[j].CreatedAt)
	})
	return toPointers(transfers), nil
}

// Delete removes a transfer
func (s *TransferStorage) Delete(ctx context.Context, id string) error {
	err := s.db.Store().Delete(id, &models.Transfer{})
	if err == badgerhold.ErrNotFound {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete transfer %s: %w", id, err)
	}
	return nil
}

// DeleteByJob removes all transfers belonging to a job
func (s *TransferStorage) DeleteByJob(ctx context.Context, jobID string) error {
	err := s.db.Store().DeleteMatching(&models.Transfer{}, badgerhold.Where("JobID").Eq(jobID).Index("JobID"))
	if err != nil {
		return fmt.Errorf("failed to delete transfers for job %s: %w", jobID, err)
	}
	return nil
}
