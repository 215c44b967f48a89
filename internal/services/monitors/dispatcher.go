// -----------------------------------------------------------------------
// Event dispatcher
//
// Both monitors feed events here. The dispatcher matches events against
// active transfer templates and turns each match into a queued
// event-triggered job. Chain rules are copied onto the job at creation
// time; later template edits do not affect jobs already created.
// -----------------------------------------------------------------------

package monitors

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	"github.com/ternarybob/relay/internal/queue"
	"github.com/ternarybob/relay/internal/templates"
)

// Dispatcher routes external events to transfer templates
type Dispatcher struct {
	templates interfaces.TemplateStorage
	jobs      interfaces.JobStorage
	queue     *queue.Manager
	logger    arbor.ILogger
}

// NewDispatcher creates an event dispatcher
func NewDispatcher(tmpl interfaces.TemplateStorage, jobs interfaces.JobStorage, q *queue.Manager, logger arbor.ILogger) *Dispatcher {
	return &Dispatcher{
		templates: tmpl,
		jobs:      jobs,
		queue:     q,
		logger:    logger,
	}
}

// Dispatch matches one event against active templates and creates a
// queued job per match. A failure on one template does not stop the
// others.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.EventData) error {
	matching, err := d.templates.ListActiveByEventType(ctx, event.EventType)
	if err != nil {
		return fmt.Errorf("failed to load templates for %s: %w", event.EventType, err)
	}

	triggered := 0
	for _, template := range matching {
		if !d.matches(template, event) {
			continue
		}

		if err := d.trigger(ctx, template, event); err != nil {
			d.logger.Error().Err(err).
				Str("template_id", template.ID).
				Str("file", event.FileName).
				Msg("Failed to trigger template")
			continue
		}
		triggered++
	}

	if triggered > 0 {
		d.logger.Info().
			Str("event_type", string(event.EventType)).
			Str("file", event.FileName).
			Int("templates", triggered).
			Msg("Event dispatched")
	}
	return nil
}

// matches applies the template's source filters to an event
func (d *Dispatcher) matches(template *models.TransferTemplate, event *models.EventData) bool {
	ok, err := doublestar.Match(template.Pattern(), event.FileName)
	if err != nil || !ok {
		return false
	}

	src := template.SourceConfig

	switch event.EventType {
	case models.EventTypeS3ObjectCreated:
		if src.Bucket != "" && src.Bucket != event.Bucket {
			return false
		}
		if src.Prefix != "" && !strings.HasPrefix(event.Key, src.Prefix) {
			return false
		}
		if src.Suffix != "" && !strings.HasSuffix(event.Key, src.Suffix) {
			return false
		}

	case models.EventTypeFileCreated, models.EventTypeFileModified:
		if src.WatchPath != "" && !strings.HasPrefix(event.FilePath, src.WatchPath) {
			return false
		}
	}

	return true
}

// trigger creates and enqueues one event-triggered job from a template
func (d *Dispatcher) trigger(ctx context.Context, template *models.TransferTemplate, event *models.EventData) error {
	sourceDir, fileName := splitEventPath(event)
	if fileName == "" {
		return fmt.Errorf("event has no file name")
	}

	job := models.NewJob(fmt.Sprintf("%s - %s", template.Name, fileName), models.JobTypeEventTriggered)
	job.Status = models.JobStatusQueued
	job.SourceEndpointID = template.SourceEndpointID
	job.DestinationEndpointID = template.DestinationEndpointID
	job.SourcePath = sourceDir
	job.DestinationPath = templates.ExpandNow(template.DestinationPath, fileName)
	job.FilePattern = fileName
	job.DeleteSourceAfterTransfer = template.DeleteSourceAfterTransfer
	job.Config = models.JobConfig{
		TransferTemplateID: template.ID,
		ChainRules:         template.ChainRules,
		EventData:          event,
	}

	if err := d.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to save event job: %w", err)
	}
	if err := d.queue.Enqueue(ctx, job.ID, 0, 0); err != nil {
		return fmt.Errorf("failed to enqueue event job %s: %w", job.ID, err)
	}

	now := time.Now()
	template.TotalTriggers++
	template.LastTriggered = &now
	if err := d.templates.Save(ctx, template); err != nil {
		d.logger.Warn().Err(err).
			Str("template_id", template.ID).
			Msg("Failed to update template trigger stats")
	}

	return nil
}

// splitEventPath derives the job's source directory and file name from
// an event's object key or file path.
func splitEventPath(event *models.EventData) (string, string) {
	full := event.Key
	if full == "" {
		full = event.FilePath
	}
	if full == "" {
		return "", event.FileName
	}

	full = strings.ReplaceAll(full, "\\", "/")
	dir := path.Dir(full)
	if dir == "." {
		dir = ""
	}
	return dir, path.Base(full)
}
