// -----------------------------------------------------------------------
// Filesystem watcher
//
// Watches the directories named by active file templates. The raw
// notification stream is decoupled from dispatch by a bounded channel:
// when a burst overflows it, events are dropped and logged rather than
// blocking the notifier thread.
// -----------------------------------------------------------------------

package monitors

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// watchQueueSize bounds the pending-event channel
const watchQueueSize = 1000

// FileWatcher turns filesystem notifications into dispatcher events
type FileWatcher struct {
	templates  interfaces.TemplateStorage
	dispatcher *Dispatcher
	logger     arbor.ILogger

	watcher *fsnotify.Watcher
	pending chan fsnotify.Event

	mu      sync.Mutex
	watched map[string]bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	dropped int64
}

// NewFileWatcher creates a filesystem monitor
func NewFileWatcher(tmpl interfaces.TemplateStorage, dispatcher *Dispatcher, logger arbor.ILogger) *FileWatcher {
	return &FileWatcher{
		templates:  tmpl,
		dispatcher: dispatcher,
		logger:     logger,
		pending:    make(chan fsnotify.Event, watchQueueSize),
		watched:    make(map[string]bool),
	}
}

// Name identifies the monitor in logs
func (w *FileWatcher) Name() string { return "file" }

// Start registers watches for all active file templates and begins
// consuming notifications.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	w.watcher = watcher

	ctx, w.cancel = context.WithCancel(ctx)
	w.running = true

	if err := w.registerTemplateWatches(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("Some watch paths could not be registered")
	}

	w.wg.Add(2)
	go w.readLoop(ctx)
	go w.dispatchLoop(ctx)

	w.logger.Info().Int("paths", len(w.watched)).Msg("File watcher started")
	return nil
}

// Stop halts watching
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.cancel()
	w.running = false
	w.mu.Unlock()

	w.watcher.Close()
	w.wg.Wait()
	w.logger.Info().Msg("File watcher stopped")
}

// registerTemplateWatches adds watches for every active file template.
// Missing watch directories are created so a template can be configured
// before its drop directory exists. Caller holds w.mu.
func (w *FileWatcher) registerTemplateWatches(ctx context.Context) error {
	var firstErr error

	for _, eventType := range []models.EventType{models.EventTypeFileCreated, models.EventTypeFileModified} {
		active, err := w.templates.ListActiveByEventType(ctx, eventType)
		if err != nil {
			return err
		}

		for _, template := range active {
			watchPath := template.SourceConfig.WatchPath
			if watchPath == "" {
				continue
			}

			if err := os.MkdirAll(watchPath, 0755); err != nil {
				w.logger.Warn().Err(err).Str("path", watchPath).Msg("Cannot create watch directory")
				if firstErr == nil {
					firstErr = err
				}
				continue
			}

			if err := w.addRecursiveLocked(watchPath, template.SourceConfig.Recursive); err != nil {
				w.logger.Warn().Err(err).Str("path", watchPath).Msg("Cannot watch directory")
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

// addRecursiveLocked watches a directory and, when recursive, its
// subtree. Caller holds w.mu.
func (w *FileWatcher) addRecursiveLocked(root string, recursive bool) error {
	if !recursive {
		if w.watched[root] {
			return nil
		}
		if err := w.watcher.Add(root); err != nil {
			return err
		}
		w.watched[root] = false
		return nil
	}

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || w.watched[p] {
			return nil
		}
		if err := w.watcher.Add(p); err != nil {
			return err
		}
		w.watched[p] = true
		return nil
	})
}

// readLoop drains raw notifications into the bounded pending channel
func (w *FileWatcher) readLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op.Has(fsnotify.Create) {
				// New subdirectories under a recursive watch join it
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.mu.Lock()
					if parent := filepath.Dir(event.Name); w.watched[parent] {
						if err := w.addRecursiveLocked(event.Name, true); err != nil {
							w.logger.Warn().Err(err).Str("path", event.Name).Msg("Cannot watch new directory")
						}
					}
					w.mu.Unlock()
					continue
				}
			}

			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}

			select {
			case w.pending <- event:
			default:
				w.mu.Lock()
				w.dropped++
				dropped := w.dropped
				w.mu.Unlock()
				w.logger.Warn().
					Str("path", event.Name).
					Int64("dropped_total", dropped).
					Msg("File event queue full, dropping event")
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Filesystem watcher error")
		}
	}
}

// dispatchLoop converts pending notifications into dispatcher events
func (w *FileWatcher) dispatchLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case raw, ok := <-w.pending:
			if !ok {
				return
			}

			eventType := models.EventTypeFileModified
			if raw.Op.Has(fsnotify.Create) {
				eventType = models.EventTypeFileCreated
			}

			var size int64
			if info, err := os.Stat(raw.Name); err == nil {
				if info.IsDir() {
					continue
				}
				size = info.Size()
			}

			event := &models.EventData{
				EventType: eventType,
				FilePath:  raw.Name,
				FileName:  filepath.Base(raw.Name),
				Size:      size,
				Timestamp: time.Now(),
			}

			if err := w.dispatcher.Dispatch(ctx, event); err != nil {
				w.logger.Error().Err(err).Str("path", raw.Name).Msg("Failed to dispatch file event")
			}
		}
	}
}
