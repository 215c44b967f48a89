package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// EndpointStorage implements the EndpointStorage interface for Badger
type EndpointStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewEndpointStorage creates a new EndpointStorage instance
func NewEndpointStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EndpointStorage {
	return &EndpointStorage{
		db:     db,
		logger: logger,
	}
}

// Save inserts or updates an endpoint. New endpoints get an ID assigned.
func (s *EndpointStorage) Save(ctx context.Context, endpoint *models.Endpoint) error {
	if endpoint.ID == "" {
		endpoint.ID = common.NewEndpointID()
	}
	endpoint.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(endpoint.ID, endpoint); err != nil {
		return fmt.Errorf("failed to save endpoint %s: %w", endpoint.ID, err)
	}
	return nil
}

// Get retrieves an endpoint by ID
func (s *EndpointStorage) Get(ctx context.Context, id string) (*models.Endpoint, error) {
	var endpoint models.Endpoint
	err := s.db.Store().Get(id, &endpoint)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint %s: %w", id, err)
	}
	return &endpoint, nil
}

// GetByName retrieves an endpoint by its unique name
func (s *EndpointStorage) GetByName(ctx context.Context, name string) (*models.Endpoint, error) {
	var endpoints []models.Endpoint
	err := s.db.Store().Find(&endpoints, badgerhold.Where("Name").Eq(name).Index("Name"))
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoint by name %s: %w", name, err)
	}
	if len(endpoints) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &endpoints[0], nil
}

// List returns all endpoints
func (s *EndpointStorage) List(ctx context.Context) ([]*models.Endpoint, error) {
	var endpoints []models.Endpoint
	if err := s.db.Store().Find(&endpoints, nil); err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	return toPointers(endpoints), nil
}

// ListActive returns all active endpoints
func (s *EndpointStorage) ListActive(ctx context.Context) ([]*models.Endpoint, error) {
	var endpoints []models.Endpoint
	if err := s.db.Store().Find(&endpoints, badgerhold.Where("IsActive").Eq(true)); err != nil {
		return nil, fmt.Errorf("failed to list active endpoints: %w", err)
	}
	return toPointers(endpoints), nil
}

// Delete removes an endpoint
func (s *EndpointStorage) Delete(ctx context.Context, id string) error {
	err := s.db.Store().Delete(id, &models.Endpoint{})
	if err == badgerhold.ErrNotFound {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete endpoint %s: %w", id, err)
	}
	return nil
}

// toPointers converts a value slice to a pointer slice
func toPointers[T any](items []T) []*T {
	out := make([]*T, len(items))
	for i := range items {
		out[i] = &items[i]
	}
	return out
}
