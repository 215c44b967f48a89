package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/relay/internal/models"
)

// KeyValuePair represents a stored key/value setting
type KeyValuePair struct {
	Key         string    `badgerhold:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EndpointStorage persists endpoints
type EndpointStorage interface {
	Save(ctx context.Context, endpoint *models.Endpoint) error
	Get(ctx context.Context, id string) (*models.Endpoint, error)
	GetByName(ctx context.Context, name string) (*models.Endpoint, error)
	List(ctx context.Context) ([]*models.Endpoint, error)
	ListActive(ctx context.Context) ([]*models.Endpoint, error)
	Delete(ctx context.Context, id string) error
}

// TemplateStorage persists transfer templates
type TemplateStorage interface {
	Save(ctx context.Context, template *models.TransferTemplate) error
	Get(ctx context.Context, id string) (*models.TransferTemplate, error)
	GetByName(ctx context.Context, name string) (*models.TransferTemplate, error)
	List(ctx context.Context) ([]*models.TransferTemplate, error)
	ListActiveByEventType(ctx context.Context, eventType models.EventType) ([]*models.TransferTemplate, error)
	Delete(ctx context.Context, id string) error
}

// JobStorage persists jobs
type JobStorage interface {
	Save(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context) ([]*models.Job, error)
	ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	ListByType(ctx context.Context, jobType models.JobType) ([]*models.Job, error)
	ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Job, error)
	ListActiveScheduled(ctx context.Context) ([]*models.Job, error)
	ListChildren(ctx context.Context, parentJobID string) ([]*models.Job, error)
	MarkRunningAsPending(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) error
}

// TransferStorage persists per-file transfers
type TransferStorage interface {
	Save(ctx context.Context, transfer *models.Transfer) error
	Get(ctx context.Context, id string) (*models.Transfer, error)
	ListByJob(ctx context.Context, jobID string) ([]*models.Transfer, error)
	Delete(ctx context.Context, id string) error
	DeleteByJob(ctx context.Context, jobID string) error
}

// KeyValueStorage persists operator-tunable settings
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, description string) error
	Delete(ctx context.Context, key string) error
	GetAll(ctx context.Context) (map[string]string, error)
}

// StorageManager aggregates the entity storages behind one connection
type StorageManager interface {
	EndpointStorage() EndpointStorage
	TemplateStorage() TemplateStorage
	JobStorage() JobStorage
	TransferStorage() TransferStorage
	KeyValueStorage() KeyValueStorage
	Close() error
}
