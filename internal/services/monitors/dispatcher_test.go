package monitors

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	"github.com/ternarybob/relay/internal/queue"
	badgerstorage "github.com/ternarybob/relay/internal/storage/badger"
)

type dispatcherFixture struct {
	dispatcher *Dispatcher
	templates  interfaces.TemplateStorage
	jobs       interfaces.JobStorage
	queue      *queue.Manager
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()

	logger := arbor.NewLogger()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q, err := queue.NewManager(db, "relay", time.Hour, logger)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	storage, err := badgerstorage.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	return &dispatcherFixture{
		dispatcher: NewDispatcher(storage.TemplateStorage(), storage.JobStorage(), q, logger),
		templates:  storage.TemplateStorage(),
		jobs:       storage.JobStorage(),
		queue:      q,
	}
}

func (f *dispatcherFixture) saveS3Template(t *testing.T, mutate func(*models.TransferTemplate)) *models.TransferTemplate {
	t.Helper()

	template := models.NewTransferTemplate("Ingest videos", models.EventTypeS3ObjectCreated)
	template.SourceEndpointID = "ep_s3"
	template.DestinationEndpointID = "ep_nas"
	template.DestinationPath = "/media/{year}"
	template.FilePattern = "*.mp4"
	template.SourceConfig.Bucket = "uploads"
	if mutate != nil {
		mutate(template)
	}
	require.NoError(t, f.templates.Save(context.Background(), template))
	return template
}

func TestDispatch_CreatesEventJob(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	template := f.saveS3Template(t, func(tmpl *models.TransferTemplate) {
		tmpl.ChainRules = []models.ChainRule{
			{EndpointID: "ep_backup", PathTemplate: "/backup/{year}"},
		}
	})

	event := &models.EventData{
		EventType: models.EventTypeS3ObjectCreated,
		Bucket:    "uploads",
		Key:       "incoming/2025/video.mp4",
		FileName:  "video.mp4",
		Size:      2048,
		Timestamp: time.Now(),
	}

	require.NoError(t, f.dispatcher.Dispatch(ctx, event))

	created, err := f.jobs.ListByType(ctx, models.JobTypeEventTriggered)
	require.NoError(t, err)
	require.Len(t, created, 1)

	job := created[0]
	assert.Equal(t, "Ingest videos - video.mp4", job.Name)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, "ep_s3", job.SourceEndpointID)
	assert.Equal(t, "ep_nas", job.DestinationEndpointID)
	assert.Equal(t, "incoming/2025", job.SourcePath)
	assert.Equal(t, "video.mp4", job.FilePattern)
	assert.Equal(t, template.ID, job.Config.TransferTemplateID)
	assert.Equal(t, template.ChainRules, job.Config.ChainRules)
	require.NotNil(t, job.Config.EventData)
	assert.Equal(t, "uploads", job.Config.EventData.Bucket)

	length, err := f.queue.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, length)

	updated, err := f.templates.Get(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.TotalTriggers)
	require.NotNil(t, updated.LastTriggered)
}

func TestDispatch_GlobFilter(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	f.saveS3Template(t, nil) // *.mp4

	event := &models.EventData{
		EventType: models.EventTypeS3ObjectCreated,
		Bucket:    "uploads",
		Key:       "incoming/readme.txt",
		FileName:  "readme.txt",
		Timestamp: time.Now(),
	}

	require.NoError(t, f.dispatcher.Dispatch(ctx, event))

	created, err := f.jobs.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestDispatch_BucketFilter(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	f.saveS3Template(t, nil) // bucket "uploads"

	event := &models.EventData{
		EventType: models.EventTypeS3ObjectCreated,
		Bucket:    "other-bucket",
		Key:       "incoming/video.mp4",
		FileName:  "video.mp4",
		Timestamp: time.Now(),
	}

	require.NoError(t, f.dispatcher.Dispatch(ctx, event))

	created, err := f.jobs.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestDispatch_PrefixAndSuffixFilters(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	f.saveS3Template(t, func(tmpl *models.TransferTemplate) {
		tmpl.SourceConfig.Prefix = "incoming/"
		tmpl.SourceConfig.Suffix = ".mp4"
	})

	miss := &models.EventData{
		EventType: models.EventTypeS3ObjectCreated,
		Bucket:    "uploads",
		Key:       "outgoing/video.mp4",
		FileName:  "video.mp4",
		Timestamp: time.Now(),
	}
	require.NoError(t, f.dispatcher.Dispatch(ctx, miss))

	hit := &models.EventData{
		EventType: models.EventTypeS3ObjectCreated,
		Bucket:    "uploads",
		Key:       "incoming/video.mp4",
		FileName:  "video.mp4",
		Timestamp: time.Now(),
	}
	require.NoError(t, f.dispatcher.Dispatch(ctx, hit))

	created, err := f.jobs.List(ctx)
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestDispatch_WatchPathFilter(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	template := models.NewTransferTemplate("Drop folder", models.EventTypeFileCreated)
	template.SourceEndpointID = "ep_local"
	template.DestinationEndpointID = "ep_nas"
	template.DestinationPath = "/archive/{filename}"
	template.SourceConfig.WatchPath = "/watch/drop"
	require.NoError(t, f.templates.Save(ctx, template))

	miss := &models.EventData{
		EventType: models.EventTypeFileCreated,
		FilePath:  "/elsewhere/report.pdf",
		FileName:  "report.pdf",
		Timestamp: time.Now(),
	}
	require.NoError(t, f.dispatcher.Dispatch(ctx, miss))

	hit := &models.EventData{
		EventType: models.EventTypeFileCreated,
		FilePath:  "/watch/drop/report.pdf",
		FileName:  "report.pdf",
		Timestamp: time.Now(),
	}
	require.NoError(t, f.dispatcher.Dispatch(ctx, hit))

	created, err := f.jobs.List(ctx)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "/watch/drop", created[0].SourcePath)
	assert.Equal(t, "/archive/report.pdf", created[0].DestinationPath)
}

func TestDispatch_InactiveTemplateIgnored(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	f.saveS3Template(t, func(tmpl *models.TransferTemplate) {
		tmpl.IsActive = false
	})

	event := &models.EventData{
		EventType: models.EventTypeS3ObjectCreated,
		Bucket:    "uploads",
		Key:       "incoming/video.mp4",
		FileName:  "video.mp4",
		Timestamp: time.Now(),
	}
	require.NoError(t, f.dispatcher.Dispatch(ctx, event))

	created, err := f.jobs.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestDispatch_EventTypeIsolation(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	f.saveS3Template(t, nil)

	// A filesystem event never reaches an s3 template
	event := &models.EventData{
		EventType: models.EventTypeFileCreated,
		FilePath:  "/watch/video.mp4",
		FileName:  "video.mp4",
		Timestamp: time.Now(),
	}
	require.NoError(t, f.dispatcher.Dispatch(ctx, event))

	created, err := f.jobs.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestDispatch_MultipleTemplatesMatchOneEvent(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	f.saveS3Template(t, func(tmpl *models.TransferTemplate) {
		tmpl.Name = "Ingest A"
	})
	f.saveS3Template(t, func(tmpl *models.TransferTemplate) {
		tmpl.Name = "Ingest B"
	})

	event := &models.EventData{
		EventType: models.EventTypeS3ObjectCreated,
		Bucket:    "uploads",
		Key:       "incoming/video.mp4",
		FileName:  "video.mp4",
		Timestamp: time.Now(),
	}
	require.NoError(t, f.dispatcher.Dispatch(ctx, event))

	created, err := f.jobs.List(ctx)
	require.NoError(t, err)
	assert.Len(t, created, 2)

	length, err := f.queue.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, length)
}

func TestSplitEventPath(t *testing.T) {
	tests := []struct {
		name         string
		event        *models.EventData
		expectedDir  string
		expectedFile string
	}{
		{
			name:         "s3 key with prefix",
			event:        &models.EventData{Key: "incoming/2025/video.mp4", FileName: "video.mp4"},
			expectedDir:  "incoming/2025",
			expectedFile: "video.mp4",
		},
		{
			name:         "s3 key at bucket root",
			event:        &models.EventData{Key: "video.mp4", FileName: "video.mp4"},
			expectedDir:  "",
			expectedFile: "video.mp4",
		},
		{
			name:         "file path",
			event:        &models.EventData{FilePath: "/watch/drop/report.pdf", FileName: "report.pdf"},
			expectedDir:  "/watch/drop",
			expectedFile: "report.pdf",
		},
		{
			name:         "windows file path",
			event:        &models.EventData{FilePath: `C:\watch\report.pdf`, FileName: "report.pdf"},
			expectedDir:  "C:/watch",
			expectedFile: "report.pdf",
		},
		{
			name:         "name only",
			event:        &models.EventData{FileName: "video.mp4"},
			expectedDir:  "",
			expectedFile: "video.mp4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, file := splitEventPath(tt.event)
			assert.Equal(t, tt.expectedDir, dir)
			assert.Equal(t, tt.expectedFile, file)
		})
	}
}
