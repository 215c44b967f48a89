package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

func newTestStorage(t *testing.T) interfaces.StorageManager {
	t.Helper()

	storage, err := NewManager(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestEndpointStorage_SaveAssignsID(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	endpoint := models.NewEndpoint("nas", models.EndpointTypeSMB)
	require.NoError(t, storage.EndpointStorage().Save(ctx, endpoint))
	assert.NotEmpty(t, endpoint.ID)
	assert.Contains(t, endpoint.ID, "ep_")
}

func TestEndpointStorage_GetByName(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	endpoint := models.NewEndpoint("nas", models.EndpointTypeSMB)
	require.NoError(t, storage.EndpointStorage().Save(ctx, endpoint))

	found, err := storage.EndpointStorage().GetByName(ctx, "nas")
	require.NoError(t, err)
	assert.Equal(t, endpoint.ID, found.ID)

	_, err = storage.EndpointStorage().GetByName(ctx, "unknown")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestEndpointStorage_ListActive(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	active := models.NewEndpoint("active", models.EndpointTypeLocal)
	require.NoError(t, storage.EndpointStorage().Save(ctx, active))

	inactive := models.NewEndpoint("inactive", models.EndpointTypeLocal)
	inactive.IsActive = false
	require.NoError(t, storage.EndpointStorage().Save(ctx, inactive))

	endpoints, err := storage.EndpointStorage().ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, "active", endpoints[0].Name)
}

func TestEndpointStorage_Delete(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	endpoint := models.NewEndpoint("nas", models.EndpointTypeLocal)
	require.NoError(t, storage.EndpointStorage().Save(ctx, endpoint))
	require.NoError(t, storage.EndpointStorage().Delete(ctx, endpoint.ID))

	_, err := storage.EndpointStorage().Get(ctx, endpoint.ID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	assert.ErrorIs(t, storage.EndpointStorage().Delete(ctx, endpoint.ID), interfaces.ErrNotFound)
}

func TestTemplateStorage_ListActiveByEventType(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	s3Active := models.NewTransferTemplate("s3 active", models.EventTypeS3ObjectCreated)
	s3Active.SourceEndpointID = "ep_src"
	s3Active.DestinationEndpointID = "ep_dst"
	s3Active.DestinationPath = "/dst"
	require.NoError(t, storage.TemplateStorage().Save(ctx, s3Active))

	s3Inactive := models.NewTransferTemplate("s3 inactive", models.EventTypeS3ObjectCreated)
	s3Inactive.SourceEndpointID = "ep_src"
	s3Inactive.DestinationEndpointID = "ep_dst"
	s3Inactive.DestinationPath = "/dst"
	s3Inactive.IsActive = false
	require.NoError(t, storage.TemplateStorage().Save(ctx, s3Inactive))

	fileWatch := models.NewTransferTemplate("file watch", models.EventTypeFileCreated)
	fileWatch.SourceEndpointID = "ep_src"
	fileWatch.DestinationEndpointID = "ep_dst"
	fileWatch.DestinationPath = "/dst"
	require.NoError(t, storage.TemplateStorage().Save(ctx, fileWatch))

	matching, err := storage.TemplateStorage().ListActiveByEventType(ctx, models.EventTypeS3ObjectCreated)
	require.NoError(t, err)
	require.Len(t, matching, 1)
	assert.Equal(t, "s3 active", matching[0].Name)
}

func TestJobStorage_ListByStatusAndType(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	queued := models.NewJob("queued", models.JobTypeManual)
	queued.SourceEndpointID = "ep_src"
	queued.DestinationEndpointID = "ep_dst"
	queued.MarkQueued()
	require.NoError(t, storage.JobStorage().Save(ctx, queued))

	chained := models.NewJob("chained", models.JobTypeChained)
	chained.SourceEndpointID = "ep_src"
	chained.DestinationEndpointID = "ep_dst"
	require.NoError(t, storage.JobStorage().Save(ctx, chained))

	byStatus, err := storage.JobStorage().ListByStatus(ctx, models.JobStatusQueued)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, queued.ID, byStatus[0].ID)

	byType, err := storage.JobStorage().ListByType(ctx, models.JobTypeChained)
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, chained.ID, byType[0].ID)
}

func TestJobStorage_ListDueScheduled(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	due := models.NewJob("due", models.JobTypeScheduled)
	due.SourceEndpointID = "ep_src"
	due.DestinationEndpointID = "ep_dst"
	due.Schedule = "0 2 * * *"
	past := now.Add(-time.Minute)
	due.NextRunAt = &past
	require.NoError(t, storage.JobStorage().Save(ctx, due))

	future := models.NewJob("future", models.JobTypeScheduled)
	future.SourceEndpointID = "ep_src"
	future.DestinationEndpointID = "ep_dst"
	future.Schedule = "0 2 * * *"
	later := now.Add(time.Hour)
	future.NextRunAt = &later
	require.NoError(t, storage.JobStorage().Save(ctx, future))

	unset := models.NewJob("unset", models.JobTypeScheduled)
	unset.SourceEndpointID = "ep_src"
	unset.DestinationEndpointID = "ep_dst"
	unset.Schedule = "0 2 * * *"
	require.NoError(t, storage.JobStorage().Save(ctx, unset))

	dueJobs, err := storage.JobStorage().ListDueScheduled(ctx, now)
	require.NoError(t, err)
	require.Len(t, dueJobs, 1)
	assert.Equal(t, due.ID, dueJobs[0].ID)
}

func TestJobStorage_ListChildren(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	parent := models.NewJob("parent", models.JobTypeManual)
	parent.SourceEndpointID = "ep_src"
	parent.DestinationEndpointID = "ep_dst"
	require.NoError(t, storage.JobStorage().Save(ctx, parent))

	child := models.NewJob("child", models.JobTypeChained)
	child.SourceEndpointID = "ep_dst"
	child.DestinationEndpointID = "ep_backup"
	child.ParentJobID = parent.ID
	require.NoError(t, storage.JobStorage().Save(ctx, child))

	unrelated := models.NewJob("unrelated", models.JobTypeManual)
	unrelated.SourceEndpointID = "ep_src"
	unrelated.DestinationEndpointID = "ep_dst"
	require.NoError(t, storage.JobStorage().Save(ctx, unrelated))

	children, err := storage.JobStorage().ListChildren(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)
}

func TestJobStorage_MarkRunningAsPending(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	running := models.NewJob("running", models.JobTypeManual)
	running.SourceEndpointID = "ep_src"
	running.DestinationEndpointID = "ep_dst"
	running.MarkRunning()
	require.NoError(t, storage.JobStorage().Save(ctx, running))

	completed := models.NewJob("completed", models.JobTypeManual)
	completed.SourceEndpointID = "ep_src"
	completed.DestinationEndpointID = "ep_dst"
	completed.MarkCompleted()
	require.NoError(t, storage.JobStorage().Save(ctx, completed))

	count, err := storage.JobStorage().MarkRunningAsPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	reset, err := storage.JobStorage().Get(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, reset.Status)
	assert.Nil(t, reset.StartedAt)

	untouched, err := storage.JobStorage().Get(ctx, completed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, untouched.Status)
}

func TestTransferStorage_ListByJobSortedByCreation(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	first := models.NewTransfer("job_1", "a.mp4", "a.mp4", 1024)
	first.CreatedAt = time.Now().Add(-time.Minute)
	require.NoError(t, storage.TransferStorage().Save(ctx, first))

	second := models.NewTransfer("job_1", "b.mp4", "b.mp4", 2048)
	require.NoError(t, storage.TransferStorage().Save(ctx, second))

	other := models.NewTransfer("job_2", "c.mp4", "c.mp4", 512)
	require.NoError(t, storage.TransferStorage().Save(ctx, other))

	transfers, err := storage.TransferStorage().ListByJob(ctx, "job_1")
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.Equal(t, "a.mp4", transfers[0].FileName)
	assert.Equal(t, "b.mp4", transfers[1].FileName)
}

func TestTransferStorage_DeleteByJob(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.TransferStorage().Save(ctx, models.NewTransfer("job_1", "a.mp4", "a.mp4", 1024)))
	require.NoError(t, storage.TransferStorage().Save(ctx, models.NewTransfer("job_1", "b.mp4", "b.mp4", 2048)))
	keep := models.NewTransfer("job_2", "c.mp4", "c.mp4", 512)
	require.NoError(t, storage.TransferStorage().Save(ctx, keep))

	require.NoError(t, storage.TransferStorage().DeleteByJob(ctx, "job_1"))

	gone, err := storage.TransferStorage().ListByJob(ctx, "job_1")
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := storage.TransferStorage().ListByJob(ctx, "job_2")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestKVStorage_CaseInsensitiveKeys(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.KeyValueStorage().Set(ctx, "Notify-URL", "https://hooks.example.com", "webhook"))

	value, err := storage.KeyValueStorage().Get(ctx, "notify-url")
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com", value)

	value, err = storage.KeyValueStorage().Get(ctx, "  NOTIFY-URL  ")
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com", value)
}

func TestKVStorage_MissingKey(t *testing.T) {
	storage := newTestStorage(t)

	_, err := storage.KeyValueStorage().Get(context.Background(), "nope")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestKVStorage_GetAll(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.KeyValueStorage().Set(ctx, "k1", "v1", ""))
	require.NoError(t, storage.KeyValueStorage().Set(ctx, "k2", "v2", ""))

	all, err := storage.KeyValueStorage().GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k1": "v1", "k2": "v2"}, all)
}
