// -----------------------------------------------------------------------
// S3 object monitor
//
// Polls monitored buckets for recently created objects. There is no
// event stream: recency is inferred from LastModified, and a bounded
// (bucket, key, etag) set suppresses duplicate triggers across polls.
// -----------------------------------------------------------------------

package monitors

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

const (
	// maxKeysPerPoll bounds how many objects one poll examines per bucket
	maxKeysPerPoll = 100

	// seenHighWater / seenLowWater bound the dedup set: at the high
	// water mark the oldest entries are dropped down to the low one.
	seenHighWater = 10000
	seenLowWater  = 5000
)

// S3Monitor polls S3 buckets and emits object-created events
type S3Monitor struct {
	config     *common.S3MonitorConfig
	templates  interfaces.TemplateStorage
	dispatcher *Dispatcher
	logger     arbor.ILogger

	client   *minio.Client
	interval time.Duration

	mu        sync.Mutex
	seen      map[string]time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	startedAt time.Time
}

// NewS3Monitor creates an S3 polling monitor
func NewS3Monitor(config *common.S3MonitorConfig, tmpl interfaces.TemplateStorage, dispatcher *Dispatcher, logger arbor.ILogger) *S3Monitor {
	return &S3Monitor{
		config:     config,
		templates:  tmpl,
		dispatcher: dispatcher,
		logger:     logger,
		interval:   common.ParseDurationOr(config.PollInterval, 30*time.Second),
		seen:       make(map[string]time.Time),
	}
}

// Name identifies the monitor in logs
func (m *S3Monitor) Name() string { return "s3" }

// Start connects the S3 client and begins the poll loop
func (m *S3Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	client, err := minio.New(m.config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(m.config.AccessKey, m.config.SecretKey, ""),
		Secure: m.config.UseSSL,
		Region: m.config.Region,
	})
	if err != nil {
		return fmt.Errorf("failed to create s3 client: %w", err)
	}
	m.client = client
	m.startedAt = time.Now()

	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	m.wg.Add(1)
	go m.loop(ctx)

	m.logger.Info().
		Str("endpoint", m.config.Endpoint).
		Dur("interval", m.interval).
		Msg("S3 monitor started")
	return nil
}

// Stop halts the poll loop
func (m *S3Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info().Msg("S3 monitor stopped")
}

func (m *S3Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.poll(ctx); err != nil {
				m.logger.Error().Err(err).Msg("S3 poll failed")
			}
		}
	}
}

// poll lists every monitored bucket and dispatches new objects
func (m *S3Monitor) poll(ctx context.Context) error {
	buckets, err := m.monitoredBuckets(ctx)
	if err != nil {
		return err
	}

	for _, bucket := range buckets {
		if err := m.pollBucket(ctx, bucket); err != nil {
			m.logger.Error().Err(err).Str("bucket", bucket).Msg("Bucket poll failed")
		}
	}
	return nil
}

// monitoredBuckets unions the statically configured buckets with those
// named by active object-created templates.
func (m *S3Monitor) monitoredBuckets(ctx context.Context) ([]string, error) {
	set := make(map[string]struct{})
	for _, bucket := range m.config.Buckets {
		set[bucket] = struct{}{}
	}

	active, err := m.templates.ListActiveByEventType(ctx, models.EventTypeS3ObjectCreated)
	if err != nil {
		return nil, err
	}
	for _, template := range active {
		if template.SourceConfig.Bucket != "" {
			set[template.SourceConfig.Bucket] = struct{}{}
		}
	}

	buckets := make([]string, 0, len(set))
	for bucket := range set {
		buckets = append(buckets, bucket)
	}
	sort.Strings(buckets)
	return buckets, nil
}

func (m *S3Monitor) pollBucket(ctx context.Context, bucket string) error {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := m.client.ListObjects(listCtx, bucket, minio.ListObjectsOptions{
		Recursive: true,
		MaxKeys:   maxKeysPerPoll,
	})

	// Objects older than two poll intervals were either seen already or
	// predate the monitor; skipping them keeps restarts from replaying
	// the whole bucket.
	cutoff := time.Now().Add(-2 * m.interval)

	examined := 0
	for object := range objects {
		if object.Err != nil {
			return fmt.Errorf("listing %s: %w", bucket, object.Err)
		}
		if examined >= maxKeysPerPoll {
			break
		}
		examined++

		if object.LastModified.Before(cutoff) {
			continue
		}

		eventID := fmt.Sprintf("%s:%s:%s", bucket, object.Key, object.ETag)
		if !m.markSeen(eventID) {
			continue
		}

		event := &models.EventData{
			EventType: models.EventTypeS3ObjectCreated,
			Bucket:    bucket,
			Key:       object.Key,
			ETag:      object.ETag,
			FileName:  path.Base(object.Key),
			Size:      object.Size,
			Timestamp: object.LastModified,
		}

		if err := m.dispatcher.Dispatch(ctx, event); err != nil {
			m.logger.Error().Err(err).
				Str("bucket", bucket).
				Str("key", object.Key).
				Msg("Failed to dispatch object event")
		}
	}
	return nil
}

// markSeen records an event ID, returning false when it was already
// known. The set is trimmed oldest-first once it hits the high water
// mark.
func (m *S3Monitor) markSeen(eventID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[eventID]; ok {
		return false
	}
	m.seen[eventID] = time.Now()

	if len(m.seen) > seenHighWater {
		type entry struct {
			id string
			at time.Time
		}
		entries := make([]entry, 0, len(m.seen))
		for id, at := range m.seen {
			entries = append(entries, entry{id, at})
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].at.Before(entries[j].at)
		})
		for _, old := range entries[:len(entries)-seenLowWater] {
			delete(m.seen, old.id)
		}
	}
	return true
}
