// -----------------------------------------------------------------------
// Transfer worker
//
// Workers poll the queue, claim jobs, and drive the per-file transfer
// pipeline: list, materialize transfers, acquire throttle slots, copy
// with progress, then finalize and spawn chain jobs. Several workers can
// run against the same queue; the dequeue transaction ensures each job
// is claimed once.
// -----------------------------------------------------------------------

package worker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	"github.com/ternarybob/relay/internal/queue"
	"github.com/ternarybob/relay/internal/services/chain"
	"github.com/ternarybob/relay/internal/services/throttle"
	"github.com/ternarybob/relay/internal/templates"
)

// progressInterval is how often a running transfer's progress is
// persisted and published.
const progressInterval = time.Second

// Processor runs the worker pool
type Processor struct {
	queue    *queue.Manager
	storage  interfaces.StorageManager
	engine   interfaces.CopyEngine
	throttle *throttle.Controller
	chain    *chain.Service
	logger   arbor.ILogger

	workers      int
	pollInterval time.Duration
	errorBackoff time.Duration
	requeueDelay time.Duration

	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewProcessor creates the worker pool
func NewProcessor(
	q *queue.Manager,
	storage interfaces.StorageManager,
	engine interfaces.CopyEngine,
	throttleCtl *throttle.Controller,
	chainSvc *chain.Service,
	workerCfg *common.WorkerConfig,
	queueCfg *common.QueueConfig,
	logger arbor.ILogger,
) *Processor {
	workers := workerCfg.Count
	if workers <= 0 {
		workers = 1
	}

	return &Processor{
		queue:        q,
		storage:      storage,
		engine:       engine,
		throttle:     throttleCtl,
		chain:        chainSvc,
		logger:       logger,
		workers:      workers,
		pollInterval: common.ParseDurationOr(workerCfg.PollInterval, time.Second),
		errorBackoff: common.ParseDurationOr(workerCfg.ErrorBackoff, 5*time.Second),
		requeueDelay: common.ParseDurationOr(queueCfg.RequeueDelay, 60*time.Second),
	}
}

// Start launches the worker goroutines
func (p *Processor) Start(ctx context.Context) error {
	if p.running {
		return nil
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.running = true

	common.SafeGo(p.logger, "worker-pool", func() {
		defer close(p.done)

		workerDone := make(chan struct{}, p.workers)
		for i := 0; i < p.workers; i++ {
			// Stagger starts so workers do not poll in lockstep
			time.Sleep(time.Duration(i) * 100 * time.Millisecond)
			id := i
			common.SafeGo(p.logger, fmt.Sprintf("worker-%d", id), func() {
				defer func() { workerDone <- struct{}{} }()
				p.workerLoop(ctx, id)
			})
		}
		for i := 0; i < p.workers; i++ {
			<-workerDone
		}
	})

	p.logger.Info().
		Int("workers", p.workers).
		Dur("poll_interval", p.pollInterval).
		Msg("Transfer workers started")
	return nil
}

// Stop halts the worker pool and waits for in-flight jobs to unwind
func (p *Processor) Stop() {
	if !p.running {
		return
	}
	p.cancel()
	<-p.done
	p.running = false
	p.logger.Info().Msg("Transfer workers stopped")
}

func (p *Processor) workerLoop(ctx context.Context, id int) {
	logger := p.logger.WithCorrelationId(fmt.Sprintf("worker-%d", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, err := p.queue.Dequeue(ctx)
		if err == queue.ErrNoJob {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}
		if err != nil {
			logger.Error().Err(err).Msg("Dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.errorBackoff):
			}
			continue
		}

		if err := p.processJob(ctx, jobID, logger); err != nil {
			logger.Error().Err(err).Str("job_id", jobID).Msg("Job processing failed")
		}
	}
}

// processJob drives one claimed job through the transfer pipeline
func (p *Processor) processJob(ctx context.Context, jobID string, logger arbor.ILogger) error {
	jobs := p.storage.JobStorage()

	job, err := jobs.Get(ctx, jobID)
	if err == interfaces.ErrNotFound {
		logger.Warn().Str("job_id", jobID).Msg("Dequeued job no longer exists")
		return nil
	}
	if err != nil {
		return err
	}

	if job.Status.IsTerminal() {
		logger.Debug().Str("job_id", jobID).Str("status", string(job.Status)).Msg("Skipping terminal job")
		return nil
	}

	// Pre-check before claiming: if either endpoint is saturated the job
	// goes back on the queue with a delay instead of burning the slot
	// acquisition timeout.
	canStart, err := p.throttle.CanStartTransfer(ctx, job.SourceEndpointID, job.DestinationEndpointID)
	if err != nil {
		return err
	}
	if !canStart {
		job.MarkQueued()
		if err := jobs.Save(ctx, job); err != nil {
			return err
		}
		logger.Debug().Str("job_id", jobID).Dur("delay", p.requeueDelay).Msg("Endpoints saturated, requeueing job")
		return p.queue.Enqueue(ctx, jobID, 0, p.requeueDelay)
	}

	job.MarkRunning()
	job.TotalRuns++
	if err := jobs.Save(ctx, job); err != nil {
		return err
	}
	p.cacheStatus(ctx, job)

	result, runErr := p.runJob(ctx, job, logger)
	return p.finalizeJob(ctx, job, result, runErr, logger)
}

// runResult summarizes a job execution
type runResult struct {
	transfers []*models.Transfer
	completed int
	failed    int
	cancelled bool
	bytes     int64
}

func (p *Processor) runJob(ctx context.Context, job *models.Job, logger arbor.ILogger) (*runResult, error) {
	srcEndpoint, dstEndpoint, err := p.loadEndpoints(ctx, job)
	if err != nil {
		return nil, err
	}

	srcRemote, err := p.engine.Configure(ctx, srcEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to configure source endpoint: %w", err)
	}
	dstRemote, err := p.engine.Configure(ctx, dstEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to configure destination endpoint: %w", err)
	}

	// Chained jobs carry an exact file name as their pattern, so the same
	// listing call resolves to the single chained file.
	files, err := p.engine.ListFiles(ctx, srcRemote, job.SourcePath, job.Pattern())
	if err != nil {
		return nil, fmt.Errorf("failed to list source files: %w", err)
	}

	result := &runResult{}

	if len(files) == 0 {
		logger.Info().Str("job_id", job.ID).Str("path", job.SourcePath).Str("pattern", job.Pattern()).Msg("No files matched")
		return result, nil
	}

	transfers, err := p.materializeTransfers(ctx, job, files)
	if err != nil {
		return nil, err
	}
	result.transfers = transfers

	for _, transfer := range transfers {
		if p.jobCancelled(ctx, job.ID) {
			result.cancelled = true
			transfer.MarkCancelled()
			if err := p.storage.TransferStorage().Save(ctx, transfer); err != nil {
				logger.Warn().Err(err).Str("transfer_id", transfer.ID).Msg("Failed to save cancelled transfer")
			}
			continue
		}

		if err := p.executeTransfer(ctx, job, transfer, srcEndpoint, dstEndpoint, srcRemote, dstRemote, logger); err != nil {
			logger.Error().Err(err).
				Str("job_id", job.ID).
				Str("file", transfer.FileName).
				Msg("Transfer failed")
		}

		switch transfer.Status {
		case models.TransferStatusCompleted:
			result.completed++
			result.bytes += transfer.FileSize
			job.CompletedFiles++
			job.TransferredBytes += transfer.FileSize
			job.Config.TransferredFiles = append(job.Config.TransferredFiles, models.TransferredFile{
				FileName:        transfer.FileName,
				DestinationPath: transfer.DestinationPath,
				Size:            transfer.FileSize,
			})
		case models.TransferStatusFailed:
			result.failed++
			job.FailedFiles++
		case models.TransferStatusCancelled:
			result.cancelled = true
		}

		if err := p.persistJobProgress(ctx, job); err != nil {
			logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist job progress")
		}
		if job.Status == models.JobStatusCancelled {
			result.cancelled = true
		}
		p.cacheStatus(ctx, job)
	}

	p.updateEndpointStats(ctx, srcEndpoint, dstEndpoint, result, logger)
	return result, nil
}

func (p *Processor) loadEndpoints(ctx context.Context, job *models.Job) (*models.Endpoint, *models.Endpoint, error) {
	endpoints := p.storage.EndpointStorage()

	src, err := endpoints.Get(ctx, job.SourceEndpointID)
	if err != nil {
		return nil, nil, fmt.Errorf("source endpoint %s: %w", job.SourceEndpointID, err)
	}
	dst, err := endpoints.Get(ctx, job.DestinationEndpointID)
	if err != nil {
		return nil, nil, fmt.Errorf("destination endpoint %s: %w", job.DestinationEndpointID, err)
	}
	return src, dst, nil
}

// materializeTransfers creates one pending transfer per listed file and
// seeds the job's counters.
func (p *Processor) materializeTransfers(ctx context.Context, job *models.Job, files []models.FileInfo) ([]*models.Transfer, error) {
	store := p.storage.TransferStorage()

	transfers := make([]*models.Transfer, 0, len(files))
	var totalBytes int64

	for _, file := range files {
		// FilePath holds the full source path, not the listing-relative one
		transfer := models.NewTransfer(job.ID, file.Name, joinPath(job.SourcePath, file.Path), file.Size)
		if err := store.Save(ctx, transfer); err != nil {
			return nil, fmt.Errorf("failed to create transfer for %s: %w", file.Name, err)
		}
		transfers = append(transfers, transfer)
		totalBytes += file.Size
	}

	job.TotalFiles = len(transfers)
	job.TotalBytes = totalBytes
	job.CompletedFiles = 0
	job.FailedFiles = 0
	job.TransferredBytes = 0
	if err := p.persistJobProgress(ctx, job); err != nil {
		return nil, err
	}
	return transfers, nil
}

// persistJobProgress writes the job's progress counters back to storage.
// The whole struct is upserted, so the stored status is re-read first: a
// cancel raced in through the job service is authoritative and must not
// be clobbered back to running.
func (p *Processor) persistJobProgress(ctx context.Context, job *models.Job) error {
	stored, err := p.storage.JobStorage().Get(ctx, job.ID)
	if err == nil && stored.Status == models.JobStatusCancelled && job.Status != models.JobStatusCancelled {
		job.Status = models.JobStatusCancelled
		job.CompletedAt = stored.CompletedAt
	}
	return p.storage.JobStorage().Save(ctx, job)
}

// executeTransfer copies a single file, holding one throttle slot on
// each endpoint for the duration.
func (p *Processor) executeTransfer(
	ctx context.Context,
	job *models.Job,
	transfer *models.Transfer,
	srcEndpoint, dstEndpoint *models.Endpoint,
	srcRemote, dstRemote string,
	logger arbor.ILogger,
) error {
	store := p.storage.TransferStorage()

	if err := p.throttle.AcquireSlot(ctx, srcEndpoint.ID); err != nil {
		transfer.MarkFailed(fmt.Sprintf("source endpoint slot: %v", err))
		return store.Save(ctx, transfer)
	}
	defer p.throttle.ReleaseSlot(ctx, srcEndpoint.ID)

	if dstEndpoint.ID != srcEndpoint.ID {
		if err := p.throttle.AcquireSlot(ctx, dstEndpoint.ID); err != nil {
			transfer.MarkFailed(fmt.Sprintf("destination endpoint slot: %v", err))
			return store.Save(ctx, transfer)
		}
		defer p.throttle.ReleaseSlot(ctx, dstEndpoint.ID)
	}

	// Resolve the destination directory for this file. When the expanded
	// template already names the file, the engine gets its parent
	// directory; rclone always treats the destination as a directory.
	destDir := resolveDestinationDir(job.DestinationPath, transfer.FileName)
	transfer.DestinationPath = joinPath(destDir, transfer.FileName)

	// Persist the resolved destination before any bytes move
	transfer.MarkInProgress()
	if err := store.Save(ctx, transfer); err != nil {
		return err
	}

	sourceURL, err := p.engine.BuildPath(srcRemote, transfer.FilePath)
	if err != nil {
		transfer.MarkFailed(err.Error())
		return store.Save(ctx, transfer)
	}
	destURL, err := p.engine.BuildPath(dstRemote, destDir)
	if err != nil {
		transfer.MarkFailed(err.Error())
		return store.Save(ctx, transfer)
	}

	opts := interfaces.TransferOptions{
		DeleteSource:   job.DeleteSourceAfterTransfer,
		BandwidthLimit: bandwidthLimit(srcEndpoint, dstEndpoint),
	}

	handle, err := p.engine.StartTransfer(ctx, sourceURL, destURL, opts)
	if err != nil {
		transfer.MarkFailed(err.Error())
		return store.Save(ctx, transfer)
	}

	if err := p.superviseTransfer(ctx, job, transfer, handle); err != nil {
		transfer.MarkFailed(err.Error())
		if saveErr := store.Save(ctx, transfer); saveErr != nil {
			return saveErr
		}
		return err
	}

	// A cancelled copy was already persisted by the supervisor
	if transfer.Status == models.TransferStatusCancelled {
		return nil
	}

	transfer.MarkCompleted()
	if err := store.Save(ctx, transfer); err != nil {
		return err
	}

	logger.Info().
		Str("job_id", job.ID).
		Str("file", transfer.FileName).
		Str("destination", transfer.DestinationPath).
		Int64("bytes", transfer.FileSize).
		Msg("Transfer completed")
	return nil
}

// superviseTransfer polls progress until the engine finishes, killing
// the copy if the job is cancelled underneath it.
func (p *Processor) superviseTransfer(ctx context.Context, job *models.Job, transfer *models.Transfer, handle interfaces.TransferHandle) error {
	store := p.storage.TransferStorage()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			handle.Kill()
			<-handle.Done()
			return ctx.Err()

		case <-handle.Done():
			return handle.Err()

		case <-ticker.C:
			if p.jobCancelled(ctx, job.ID) {
				handle.Kill()
				<-handle.Done()
				transfer.MarkCancelled()
				return store.Save(ctx, transfer)
			}

			progress := handle.Progress()
			transfer.BytesTransferred = progress.BytesTransferred
			transfer.ProgressPercentage = progress.Percentage
			transfer.TransferRate = progress.Rate
			transfer.ETASeconds = progress.ETASeconds
			if err := store.Save(ctx, transfer); err != nil {
				p.logger.Warn().Err(err).Str("transfer_id", transfer.ID).Msg("Failed to persist transfer progress")
			}

			p.queue.Publish(ctx, "transfer_progress", map[string]interface{}{
				"job_id":      job.ID,
				"transfer_id": transfer.ID,
				"file_name":   transfer.FileName,
				"bytes":       progress.BytesTransferred,
				"percentage":  progress.Percentage,
				"rate":        progress.Rate,
				"eta_seconds": progress.ETASeconds,
			})
		}
	}
}

// finalizeJob writes the job's terminal state and, on full success,
// promotes its chain jobs.
func (p *Processor) finalizeJob(ctx context.Context, job *models.Job, result *runResult, runErr error, logger arbor.ILogger) error {
	jobs := p.storage.JobStorage()

	// A cancel that landed after the last progress write is authoritative
	if runErr == nil && result != nil && !result.cancelled && p.jobCancelled(ctx, job.ID) {
		result.cancelled = true
	}

	switch {
	case runErr != nil:
		job.FailedRuns++
		job.MarkFailed(runErr.Error())

	case result.cancelled:
		job.MarkCancelled()

	case result.failed > 0:
		job.FailedRuns++
		job.MarkFailed(fmt.Sprintf("%d of %d transfers failed", result.failed, len(result.transfers)))

	default:
		job.SuccessfulRuns++
		job.MarkCompleted()
	}

	if err := jobs.Save(ctx, job); err != nil {
		return err
	}
	p.cacheStatus(ctx, job)
	p.updateTemplateStats(ctx, job, result)

	p.queue.Publish(ctx, "job_status", map[string]interface{}{
		"job_id": job.ID,
		"status": string(job.Status),
	})

	if job.Status != models.JobStatusCompleted {
		// Chains only follow a fully successful run
		return runErr
	}

	if len(result.transfers) == 0 || len(job.Config.ChainRules) == 0 {
		return nil
	}

	chainJobs, err := p.chain.CreateChainJobs(ctx, job, result.transfers)
	if err != nil {
		logger.Error().Err(err).Str("job_id", job.ID).Msg("Chain job creation failed")
		return nil
	}

	// Promote and enqueue: chain jobs are created pending so a crash here
	// leaves them discoverable rather than lost.
	for _, chainJob := range chainJobs {
		chainJob.MarkQueued()
		if err := jobs.Save(ctx, chainJob); err != nil {
			logger.Error().Err(err).Str("job_id", chainJob.ID).Msg("Failed to promote chain job")
			continue
		}
		if err := p.queue.Enqueue(ctx, chainJob.ID, 0, 0); err != nil {
			logger.Error().Err(err).Str("job_id", chainJob.ID).Msg("Failed to enqueue chain job")
		}
	}
	return nil
}

// jobCancelled reloads the job and reports a cancellation request
func (p *Processor) jobCancelled(ctx context.Context, jobID string) bool {
	job, err := p.storage.JobStorage().Get(ctx, jobID)
	if err != nil {
		return false
	}
	return job.Status == models.JobStatusCancelled
}

// cacheStatus snapshots the job into the queue's status cache
func (p *Processor) cacheStatus(ctx context.Context, job *models.Job) {
	snapshot := map[string]interface{}{
		"id":                job.ID,
		"name":              job.Name,
		"status":            string(job.Status),
		"total_files":       job.TotalFiles,
		"completed_files":   job.CompletedFiles,
		"failed_files":      job.FailedFiles,
		"transferred_bytes": job.TransferredBytes,
		"updated_at":        job.UpdatedAt,
	}
	if err := p.queue.SetJobStatus(ctx, job.ID, snapshot); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to cache job status")
	}
}

// updateEndpointStats folds a run's outcome into both endpoints
func (p *Processor) updateEndpointStats(ctx context.Context, src, dst *models.Endpoint, result *runResult, logger arbor.ILogger) {
	endpoints := p.storage.EndpointStorage()

	for _, endpoint := range []*models.Endpoint{src, dst} {
		endpoint.TotalTransfers += int64(result.completed + result.failed)
		endpoint.FailedTransfers += int64(result.failed)
		endpoint.TotalBytesTransferred += result.bytes
		if err := endpoints.Save(ctx, endpoint); err != nil {
			logger.Warn().Err(err).Str("endpoint_id", endpoint.ID).Msg("Failed to update endpoint statistics")
		}
		if src.ID == dst.ID {
			break
		}
	}
}

// updateTemplateStats credits the originating template, when there is one
func (p *Processor) updateTemplateStats(ctx context.Context, job *models.Job, result *runResult) {
	templateID := job.Config.TransferTemplateID
	if templateID == "" || result == nil {
		return
	}

	template, err := p.storage.TemplateStorage().Get(ctx, templateID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			p.logger.Warn().Err(err).Str("template_id", templateID).Msg("Failed to load template for stats")
		}
		return
	}

	template.SuccessfulTransfers += int64(result.completed)
	template.FailedTransfers += int64(result.failed)
	if err := p.storage.TemplateStorage().Save(ctx, template); err != nil {
		p.logger.Warn().Err(err).Str("template_id", templateID).Msg("Failed to update template statistics")
	}
}

// resolveDestinationDir decides the directory the engine copies into.
// Templates may expand to either a directory or a full file path; when
// the expansion ends with the file's own name the parent directory is
// used so the file is not nested under a directory named after itself.
func resolveDestinationDir(destTemplate, fileName string) string {
	expanded := templates.ExpandNow(destTemplate, fileName)

	if expanded == fileName || strings.HasSuffix(expanded, "/"+fileName) {
		dir := path.Dir(expanded)
		if dir == "." {
			return ""
		}
		return dir
	}
	return strings.TrimSuffix(expanded, "/")
}

// bandwidthLimit picks the tighter per-endpoint bandwidth cap
func bandwidthLimit(src, dst *models.Endpoint) string {
	if dst.MaxBandwidth != "" {
		return dst.MaxBandwidth
	}
	return src.MaxBandwidth
}

// joinPath joins slash paths, tolerating empty segments
func joinPath(dir, file string) string {
	if dir == "" {
		return file
	}
	if file == "" {
		return dir
	}
	return strings.TrimSuffix(dir, "/") + "/" + strings.TrimPrefix(file, "/")
}
