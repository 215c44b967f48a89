// -----------------------------------------------------------------------
// Job service
//
// Entry point for creating, cancelling and inspecting jobs. Validation
// happens here, before anything reaches the queue, so a misconfigured
// job fails fast instead of failing mid-transfer.
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	"github.com/ternarybob/relay/internal/queue"
)

// Service creates and manages jobs
type Service struct {
	storage interfaces.StorageManager
	queue   *queue.Manager
	logger  arbor.ILogger
}

// NewService creates a job service
func NewService(storage interfaces.StorageManager, q *queue.Manager, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		queue:   q,
		logger:  logger,
	}
}

// CreateJob validates and persists a job. Manual jobs are enqueued
// immediately; scheduled jobs wait for the scheduler to fire them.
func (s *Service) CreateJob(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	if err := s.validateEndpoints(ctx, job); err != nil {
		return err
	}

	if job.Type == models.JobTypeScheduled {
		if err := common.ValidateSchedule(job.Schedule); err != nil {
			return err
		}
		next, err := common.NextScheduleTime(job.Schedule, job.CreatedAt)
		if err != nil {
			return err
		}
		job.NextRunAt = &next
		job.Status = models.JobStatusPending
		return s.storage.JobStorage().Save(ctx, job)
	}

	job.Status = models.JobStatusQueued
	if err := s.storage.JobStorage().Save(ctx, job); err != nil {
		return err
	}

	if err := s.queue.Enqueue(ctx, job.ID, 0, 0); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Str("name", job.Name).
		Msg("Job created and queued")
	return nil
}

func (s *Service) validateEndpoints(ctx context.Context, job *models.Job) error {
	endpoints := s.storage.EndpointStorage()

	src, err := endpoints.Get(ctx, job.SourceEndpointID)
	if err != nil {
		return fmt.Errorf("source endpoint %s: %w", job.SourceEndpointID, err)
	}
	if !src.IsActive {
		return fmt.Errorf("source endpoint %s is inactive", src.Name)
	}

	dst, err := endpoints.Get(ctx, job.DestinationEndpointID)
	if err != nil {
		return fmt.Errorf("destination endpoint %s: %w", job.DestinationEndpointID, err)
	}
	if !dst.IsActive {
		return fmt.Errorf("destination endpoint %s is inactive", dst.Name)
	}

	for idx, rule := range job.Config.ChainRules {
		if _, err := endpoints.Get(ctx, rule.EndpointID); err != nil {
			return fmt.Errorf("chain rule %d endpoint %s: %w", idx, rule.EndpointID, err)
		}
	}
	return nil
}

// CancelJob requests cancellation. Queued jobs are removed from the
// queue; running jobs are killed by the worker on its next progress
// check.
func (s *Service) CancelJob(ctx context.Context, jobID string) error {
	job, err := s.storage.JobStorage().Get(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s is already %s", jobID, job.Status)
	}

	if err := s.queue.Remove(ctx, jobID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to remove cancelled job from queue")
	}

	job.MarkCancelled()
	if err := s.storage.JobStorage().Save(ctx, job); err != nil {
		return err
	}

	s.logger.Info().Str("job_id", jobID).Msg("Job cancelled")
	return nil
}

// JobStatus returns the cached status snapshot when fresh, falling back
// to storage.
func (s *Service) JobStatus(ctx context.Context, jobID string) (map[string]interface{}, error) {
	var cached map[string]interface{}
	if err := s.queue.GetJobStatus(ctx, jobID, &cached); err == nil {
		return cached, nil
	}

	job, err := s.storage.JobStorage().Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"id":                job.ID,
		"name":              job.Name,
		"status":            string(job.Status),
		"total_files":       job.TotalFiles,
		"completed_files":   job.CompletedFiles,
		"failed_files":      job.FailedFiles,
		"transferred_bytes": job.TransferredBytes,
		"updated_at":        job.UpdatedAt,
	}, nil
}

// RecoverQueue restores queue state after a restart: interrupted and
// queued jobs are re-enqueued, and chained jobs whose parent finished
// while the service was down are promoted.
func (s *Service) RecoverQueue(ctx context.Context) error {
	jobStore := s.storage.JobStorage()

	if _, err := jobStore.MarkRunningAsPending(ctx); err != nil {
		return err
	}

	queued, err := jobStore.ListByStatus(ctx, models.JobStatusQueued)
	if err != nil {
		return err
	}
	for _, job := range queued {
		if err := s.queue.Enqueue(ctx, job.ID, 0, 0); err != nil {
			return err
		}
	}

	pending, err := jobStore.ListByStatus(ctx, models.JobStatusPending)
	if err != nil {
		return err
	}
	recovered := 0
	for _, job := range pending {
		switch job.Type {
		case models.JobTypeScheduled:
			// Definitions are fired by the scheduler, never enqueued
			continue
		case models.JobTypeChained:
			parent, err := jobStore.Get(ctx, job.ParentJobID)
			if err != nil || parent.Status != models.JobStatusCompleted {
				continue
			}
		}

		job.MarkQueued()
		if err := jobStore.Save(ctx, job); err != nil {
			return err
		}
		if err := s.queue.Enqueue(ctx, job.ID, 0, 0); err != nil {
			return err
		}
		recovered++
	}

	if len(queued) > 0 || recovered > 0 {
		s.logger.Info().
			Int("requeued", len(queued)).
			Int("recovered", recovered).
			Msg("Queue state recovered")
	}
	return nil
}
