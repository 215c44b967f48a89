// -----------------------------------------------------------------------
// Cron scheduler
//
// Scheduled jobs are definitions, not executions: when a schedule fires
// the definition is cloned into a manual job that runs once, and the
// definition's next_run_at advances. Missed occurrences collapse into a
// single immediate run; there is no backfill.
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	"github.com/ternarybob/relay/internal/queue"
)

// Service wakes periodically and fires due scheduled jobs
type Service struct {
	jobs     interfaces.JobStorage
	queue    *queue.Manager
	interval time.Duration
	logger   arbor.ILogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewService creates a scheduler service
func NewService(jobs interfaces.JobStorage, q *queue.Manager, config *common.SchedulerConfig, logger arbor.ILogger) *Service {
	return &Service{
		jobs:     jobs,
		queue:    q,
		interval: common.ParseDurationOr(config.CheckInterval, 60*time.Second),
		logger:   logger,
	}
}

// Start recomputes next run times and begins the check loop
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	if err := s.RefreshNextRunTimes(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to refresh scheduled job run times")
	}

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info().Dur("interval", s.interval).Msg("Scheduler started")
	return nil
}

// Stop halts the check loop
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.CheckDueJobs(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Scheduled job check failed")
			}
		}
	}
}

// CheckDueJobs fires every active scheduled job whose next run is due
func (s *Service) CheckDueJobs(ctx context.Context) error {
	now := time.Now()
	due, err := s.jobs.ListDueScheduled(ctx, now)
	if err != nil {
		return err
	}

	for _, job := range due {
		if err := s.fireJob(ctx, job, now); err != nil {
			s.logger.Error().Err(err).
				Str("job_id", job.ID).
				Str("schedule", job.Schedule).
				Msg("Failed to fire scheduled job")
		}
	}
	return nil
}

func (s *Service) fireJob(ctx context.Context, definition *models.Job, now time.Time) error {
	next, err := common.NextScheduleTime(definition.Schedule, now)
	if err != nil {
		return fmt.Errorf("invalid schedule on job %s: %w", definition.ID, err)
	}

	execution := s.cloneForExecution(definition, now)
	if err := s.jobs.Save(ctx, execution); err != nil {
		return fmt.Errorf("failed to save execution clone: %w", err)
	}

	if err := s.queue.Enqueue(ctx, execution.ID, 0, 0); err != nil {
		return fmt.Errorf("failed to enqueue execution %s: %w", execution.ID, err)
	}

	// Advance the definition only after the clone is safely queued
	definition.NextRunAt = &next
	definition.TotalRuns++
	definition.LastRunAt = &now
	if err := s.jobs.Save(ctx, definition); err != nil {
		return fmt.Errorf("failed to advance schedule: %w", err)
	}

	s.logger.Info().
		Str("job_id", definition.ID).
		Str("execution_id", execution.ID).
		Str("schedule", definition.Schedule).
		Str("next_run", next.Format(time.RFC3339)).
		Msg("Scheduled job fired")
	return nil
}

// cloneForExecution turns a scheduled definition into a one-shot manual
// job marked as a scheduled execution.
func (s *Service) cloneForExecution(definition *models.Job, firedAt time.Time) *models.Job {
	execution := models.NewJob(
		fmt.Sprintf("%s @ %s", definition.Name, firedAt.Format("2006-01-02 15:04")),
		models.JobTypeManual,
	)
	execution.Status = models.JobStatusQueued
	execution.SourceEndpointID = definition.SourceEndpointID
	execution.DestinationEndpointID = definition.DestinationEndpointID
	execution.SourcePath = definition.SourcePath
	execution.DestinationPath = definition.DestinationPath
	execution.FilePattern = definition.FilePattern
	execution.DeleteSourceAfterTransfer = definition.DeleteSourceAfterTransfer
	execution.MaxRetries = definition.MaxRetries
	execution.CreatedBy = definition.CreatedBy

	execution.Config = definition.Config
	execution.Config.ScheduledExecution = true
	execution.Config.ScheduledJobID = definition.ID
	execution.Config.TransferredFiles = nil

	return execution
}

// RefreshNextRunTimes recomputes next_run_at for every active scheduled
// job. Called at startup so time spent down does not replay a backlog:
// anything that became due while stopped fires at most once on the next
// check.
func (s *Service) RefreshNextRunTimes(ctx context.Context) error {
	scheduled, err := s.jobs.ListActiveScheduled(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, job := range scheduled {
		if job.Schedule == "" {
			continue
		}

		// Keep an already-due run due; only fill missing or future values
		if job.NextRunAt != nil && !job.NextRunAt.After(now) {
			continue
		}

		next, err := common.NextScheduleTime(job.Schedule, now)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("job_id", job.ID).
				Str("schedule", job.Schedule).
				Msg("Scheduled job has an invalid cron expression")
			continue
		}

		if job.NextRunAt == nil || !job.NextRunAt.Equal(next) {
			job.NextRunAt = &next
			if err := s.jobs.Save(ctx, job); err != nil {
				return fmt.Errorf("failed to update next run for job %s: %w", job.ID, err)
			}
		}
	}
	return nil
}
