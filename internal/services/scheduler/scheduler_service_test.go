package scheduler

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

func newTestService(t *testing.T) (*Service, interfaces.JobStorage, *queue.Manager) {
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

	svc := NewService(storage.JobStorage(), q, &common.SchedulerConfig{CheckInterval: "60s"}, logger)
	return svc, storage.JobStorage(), q
}

func saveDefinition(t *testing.T, jobs interfaces.JobStorage, schedule string, nextRunAt time.Time) *models.Job {
	t.Helper()

	definition := models.NewJob("Nightly sync", models.JobTypeScheduled)
	definition.SourceEndpointID = "ep_src"
	definition.DestinationEndpointID = "ep_dst"
	definition.SourcePath = "/media/incoming"
	definition.DestinationPath = "/dst/{year}"
	definition.FilePattern = "*.mp4"
	definition.Schedule = schedule
	definition.NextRunAt = &nextRunAt
	definition.Config.ChainRules = []models.ChainRule{
		{EndpointID: "ep_backup", PathTemplate: "/backup/{year}"},
	}
	require.NoError(t, jobs.Save(context.Background(), definition))
	return definition
}

func TestCheckDueJobs_FiresDueDefinition(t *testing.T) {
	svc, jobs, q := newTestService(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	definition := saveDefinition(t, jobs, "0 2 * * *", past)

	require.NoError(t, svc.CheckDueJobs(ctx))

	// The execution clone is a one-shot manual job, already queued
	executions, err := jobs.ListByType(ctx, models.JobTypeManual)
	require.NoError(t, err)
	require.Len(t, executions, 1)

	execution := executions[0]
	assert.Equal(t, models.JobStatusQueued, execution.Status)
	assert.Contains(t, execution.Name, "Nightly sync @ ")
	assert.Equal(t, definition.SourceEndpointID, execution.SourceEndpointID)
	assert.Equal(t, definition.DestinationEndpointID, execution.DestinationEndpointID)
	assert.Equal(t, definition.SourcePath, execution.SourcePath)
	assert.Equal(t, definition.DestinationPath, execution.DestinationPath)
	assert.Equal(t, definition.FilePattern, execution.FilePattern)
	assert.True(t, execution.Config.ScheduledExecution)
	assert.Equal(t, definition.ID, execution.Config.ScheduledJobID)
	assert.Equal(t, definition.Config.ChainRules, execution.Config.ChainRules)
	assert.Empty(t, execution.Schedule)

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, length)

	// The definition advanced past now
	updated, err := jobs.Get(ctx, definition.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(time.Now()))
	assert.Equal(t, int64(1), updated.TotalRuns)
	require.NotNil(t, updated.LastRunAt)
	assert.Equal(t, models.JobStatusPending, updated.Status)
}

func TestCheckDueJobs_SkipsFutureDefinition(t *testing.T) {
	svc, jobs, q := newTestService(t)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	saveDefinition(t, jobs, "0 2 * * *", future)

	require.NoError(t, svc.CheckDueJobs(ctx))

	executions, err := jobs.ListByType(ctx, models.JobTypeManual)
	require.NoError(t, err)
	assert.Empty(t, executions)

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, length)
}

func TestCheckDueJobs_SkipsInactiveDefinition(t *testing.T) {
	svc, jobs, _ := newTestService(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	definition := saveDefinition(t, jobs, "0 2 * * *", past)
	definition.IsActive = false
	require.NoError(t, jobs.Save(ctx, definition))

	require.NoError(t, svc.CheckDueJobs(ctx))

	executions, err := jobs.ListByType(ctx, models.JobTypeManual)
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestCheckDueJobs_MissedRunsCollapseToOne(t *testing.T) {
	svc, jobs, q := newTestService(t)
	ctx := context.Background()

	// Due three days ago; only one execution fires now
	past := time.Now().Add(-72 * time.Hour)
	saveDefinition(t, jobs, "0 2 * * *", past)

	require.NoError(t, svc.CheckDueJobs(ctx))
	require.NoError(t, svc.CheckDueJobs(ctx))

	executions, err := jobs.ListByType(ctx, models.JobTypeManual)
	require.NoError(t, err)
	assert.Len(t, executions, 1)

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, length)
}

func TestRefreshNextRunTimes_FillsMissingValue(t *testing.T) {
	svc, jobs, _ := newTestService(t)
	ctx := context.Background()

	definition := models.NewJob("Hourly sync", models.JobTypeScheduled)
	definition.SourceEndpointID = "ep_src"
	definition.DestinationEndpointID = "ep_dst"
	definition.Schedule = "0 * * * *"
	require.NoError(t, jobs.Save(ctx, definition))

	require.NoError(t, svc.RefreshNextRunTimes(ctx))

	updated, err := jobs.Get(ctx, definition.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(time.Now()))
}

func TestRefreshNextRunTimes_KeepsDueRunDue(t *testing.T) {
	svc, jobs, _ := newTestService(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	definition := saveDefinition(t, jobs, "0 * * * *", past)

	require.NoError(t, svc.RefreshNextRunTimes(ctx))

	updated, err := jobs.Get(ctx, definition.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.Equal(past))
}

func TestRefreshNextRunTimes_SkipsInvalidSchedule(t *testing.T) {
	svc, jobs, _ := newTestService(t)
	ctx := context.Background()

	definition := models.NewJob("Broken", models.JobTypeScheduled)
	definition.SourceEndpointID = "ep_src"
	definition.DestinationEndpointID = "ep_dst"
	definition.Schedule = "not a cron line"
	require.NoError(t, jobs.Save(ctx, definition))

	assert.NoError(t, svc.RefreshNextRunTimes(ctx))
}
