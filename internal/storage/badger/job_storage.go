package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// Save inserts or updates a job. New jobs get an ID assigned.
func (s *JobStorage) Save(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = common.NewJobID()
	}
	job.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// Get retrieves a job by ID
func (s *JobStorage) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := s.db.Store().Get(id, &job)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return &job, nil
}

// List returns all jobs
func (s *JobStorage) List(ctx context.Context) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, nil); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return toPointers(jobs), nil
}

// ListByStatus returns jobs in a given status
func (s *JobStorage) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	var jobs []models.Job
	err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status).Index("Status"))
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs by status %s: %w", status, err)
	}
	return toPointers(jobs), nil
}

// ListByType returns jobs of a given type
func (s *JobStorage) ListByType(ctx context.Context, jobType models.JobType) ([]*models.Job, error) {
	var jobs []models.Job
	err := s.db.Store().Find(&jobs, badgerhold.Where("Type").Eq(jobType).Index("Type"))
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs by type %s: %w", jobType, err)
	}
	return toPointers(jobs), nil
}

// ListDueScheduled returns active scheduled jobs whose next run is due
func (s *JobStorage) ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Job, error) {
	scheduled, err := s.ListActiveScheduled(ctx)
	if err != nil {
		return nil, err
	}

	due := make([]*models.Job, 0, len(scheduled))
	for _, job := range scheduled {
		if job.NextRunAt != nil && !job.NextRunAt.After(now) {
			due = append(due, job)
		}
	}
	return due, nil
}

// ListActiveScheduled returns all active scheduled jobs
func (s *JobStorage) ListActiveScheduled(ctx context.Context) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("Type").Eq(models.JobTypeScheduled).Index("Type").And("IsActive").Eq(true)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list scheduled jobs: %w", err)
	}
	return toPointers(jobs), nil
}

// ListChildren returns jobs spawned by a parent job
func (s *JobStorage) ListChildren(ctx context.Context, parentJobID string) ([]*models.Job, error) {
	var jobs []models.Job
	err := s.db.Store().Find(&jobs, badgerhold.Where("ParentJobID").Eq(parentJobID).Index("ParentJobID"))
	if err != nil {
		return nil, fmt.Errorf("failed to list children of job %s: %w", parentJobID, err)
	}
	return toPointers(jobs), nil
}

// MarkRunningAsPending resets running jobs to pending. Called on startup so
// jobs interrupted by a crash get picked up again.
func (s *JobStorage) MarkRunningAsPending(ctx context.Context) (int, error) {
	running, err := s.ListByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, job := range running {
		job.Status = models.JobStatusPending
		job.StartedAt = nil
		if err := s.Save(ctx, job); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to reset running job")
			continue
		}
		count++
	}

	if count > 0 {
		s.logger.Info().Int("count", count).Msg("Reset interrupted running jobs to pending")
	}
	return count, nil
}

// Delete removes a job
func (s *JobStorage) Delete(ctx context.Context, id string) error {
	err := s.db.Store().Delete(id, &models.Job{})
	if err == badgerhold.ErrNotFound {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}
