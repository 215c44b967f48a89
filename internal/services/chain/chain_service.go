// -----------------------------------------------------------------------
// Chain job generation
//
// When a job with chain rules completes, every (completed transfer x
// rule) pair spawns a follow-up job whose source is the exact resolved
// destination of the parent transfer. Chain jobs are created pending and
// never enqueued here; the worker promotes and enqueues them so chaining
// survives a crash between creation and enqueue.
// -----------------------------------------------------------------------

package chain

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	"github.com/ternarybob/relay/internal/templates"
)

// Service creates chained follow-up jobs
type Service struct {
	jobs      interfaces.JobStorage
	endpoints interfaces.EndpointStorage
	logger    arbor.ILogger
}

// NewService creates a chain service
func NewService(jobs interfaces.JobStorage, endpoints interfaces.EndpointStorage, logger arbor.ILogger) *Service {
	return &Service{
		jobs:      jobs,
		endpoints: endpoints,
		logger:    logger,
	}
}

// remotePrefixRe matches a leading "remote:" engine prefix
var remotePrefixRe = regexp.MustCompile(`^[^/]+:`)

// stripRemotePrefix removes an engine remote prefix from a resolved
// destination so the chain job stores an endpoint-relative path.
func stripRemotePrefix(p string) string {
	return remotePrefixRe.ReplaceAllString(p, "")
}

// CreateChainJobs builds one pending chained job per completed transfer
// per rule. Invalid rules are logged and skipped; a bad rule never
// blocks the remaining chain.
func (s *Service) CreateChainJobs(ctx context.Context, parent *models.Job, transfers []*models.Transfer) ([]*models.Job, error) {
	rules := parent.Config.ChainRules
	if len(rules) == 0 {
		return nil, nil
	}

	completed := make([]*models.Transfer, 0, len(transfers))
	for _, transfer := range transfers {
		if transfer.Status == models.TransferStatusCompleted && transfer.DestinationPath != "" {
			completed = append(completed, transfer)
		}
	}

	if len(completed) == 0 {
		// Older jobs may predate per-file transfer records; fall back to
		// a single chain job per rule off the parent's destination.
		return s.createLegacyChainJobs(ctx, parent)
	}

	jobs := make([]*models.Job, 0, len(completed)*len(rules))
	for _, transfer := range completed {
		for idx, rule := range rules {
			job, err := s.buildChainJob(ctx, parent, transfer, rule, idx)
			if err != nil {
				s.logger.Warn().Err(err).
					Str("job_id", parent.ID).
					Str("transfer_id", transfer.ID).
					Int("chain_index", idx).
					Msg("Skipping invalid chain rule")
				continue
			}
			if err := s.jobs.Save(ctx, job); err != nil {
				return jobs, fmt.Errorf("failed to save chain job for transfer %s: %w", transfer.ID, err)
			}
			jobs = append(jobs, job)
		}
	}

	if len(jobs) > 0 {
		s.logger.Info().
			Str("job_id", parent.ID).
			Int("transfers", len(completed)).
			Int("rules", len(rules)).
			Int("chain_jobs", len(jobs)).
			Msg("Chain jobs created")
	}
	return jobs, nil
}

func (s *Service) buildChainJob(ctx context.Context, parent *models.Job, transfer *models.Transfer, rule models.ChainRule, chainIndex int) (*models.Job, error) {
	if rule.EndpointID == "" || rule.PathTemplate == "" {
		return nil, fmt.Errorf("chain rule %d is missing endpoint or path template", chainIndex)
	}
	if _, err := s.endpoints.Get(ctx, rule.EndpointID); err != nil {
		return nil, fmt.Errorf("chain rule %d endpoint %s: %w", chainIndex, rule.EndpointID, err)
	}

	// The parent's resolved destination is the chain source. Strip any
	// engine remote prefix so the stored path is endpoint-relative.
	resolved := stripRemotePrefix(transfer.DestinationPath)
	sourceDir := path.Dir(resolved)
	fileName := path.Base(resolved)
	if fileName == "." || fileName == "/" {
		return nil, fmt.Errorf("chain rule %d: transfer %s has no resolvable file name", chainIndex, transfer.ID)
	}
	if sourceDir == "." {
		sourceDir = ""
	}

	destination := templates.ExpandNow(rule.PathTemplate, resolved)

	ruleCopy := rule
	job := models.NewJob(fmt.Sprintf("%s - Chain %d", parent.Name, chainIndex+1), models.JobTypeChained)
	job.SourceEndpointID = parent.DestinationEndpointID
	job.DestinationEndpointID = rule.EndpointID
	job.SourcePath = sourceDir
	job.DestinationPath = destination
	job.FilePattern = fileName
	job.DeleteSourceAfterTransfer = false
	job.ParentJobID = parent.ID
	job.Config = models.JobConfig{
		ParentJobID:      parent.ID,
		ParentTransferID: transfer.ID,
		ChainIndex:       chainIndex,
		ChainRule:        &ruleCopy,
	}

	return job, nil
}

// createLegacyChainJobs handles parents without per-file transfer
// records: one chain job per rule, sourced from the parent's own
// destination path.
func (s *Service) createLegacyChainJobs(ctx context.Context, parent *models.Job) ([]*models.Job, error) {
	if parent.DestinationPath == "" {
		return nil, nil
	}

	resolved := stripRemotePrefix(parent.DestinationPath)
	jobs := make([]*models.Job, 0, len(parent.Config.ChainRules))

	for idx, rule := range parent.Config.ChainRules {
		if rule.EndpointID == "" || rule.PathTemplate == "" {
			s.logger.Warn().
				Str("job_id", parent.ID).
				Int("chain_index", idx).
				Msg("Skipping invalid chain rule")
			continue
		}

		ruleCopy := rule
		job := models.NewJob(fmt.Sprintf("%s - Chain %d", parent.Name, idx+1), models.JobTypeChained)
		job.SourceEndpointID = parent.DestinationEndpointID
		job.DestinationEndpointID = rule.EndpointID
		job.SourcePath = strings.TrimSuffix(resolved, "/")
		job.DestinationPath = templates.ExpandNow(rule.PathTemplate, resolved)
		job.FilePattern = parent.Pattern()
		job.DeleteSourceAfterTransfer = false
		job.ParentJobID = parent.ID
		job.Config = models.JobConfig{
			ParentJobID: parent.ID,
			ChainIndex:  idx,
			ChainRule:   &ruleCopy,
		}

		if err := s.jobs.Save(ctx, job); err != nil {
			return jobs, fmt.Errorf("failed to save legacy chain job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// PendingChainJobs returns a parent's chained children still pending
func (s *Service) PendingChainJobs(ctx context.Context, parentJobID string) ([]*models.Job, error) {
	children, err := s.jobs.ListChildren(ctx, parentJobID)
	if err != nil {
		return nil, err
	}

	pending := make([]*models.Job, 0, len(children))
	for _, child := range children {
		if child.Type == models.JobTypeChained && child.Status == models.JobStatusPending {
			pending = append(pending, child)
		}
	}
	return pending, nil
}
