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

// TemplateStorage implements the TemplateStorage interface for Badger
type TemplateStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTemplateStorage creates a new TemplateStorage instance
func NewTemplateStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TemplateStorage {
	return &TemplateStorage{
		db:     db,
		logger: logger,
	}
}

// Save inserts or updates a transfer template
func (s *TemplateStorage) Save(ctx context.Context, template *models.TransferTemplate) error {
	if template.ID == "" {
		template.ID = common.NewTemplateID()
	}
	template.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(template.ID, template); err != nil {
		return fmt.Errorf("failed to save template %s: %w", template.ID, err)
	}
	return nil
}

// Get retrieves a template by ID
func (s *TemplateStorage) Get(ctx context.Context, id string) (*models.TransferTemplate, error) {
	var template models.TransferTemplate
	err := s.db.Store().Get(id, &template)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template %s: %w", id, err)
	}
	return &template, nil
}

// GetByName retrieves a template by its unique name
func (s *TemplateStorage) GetByName(ctx context.Context, name string) (*models.TransferTemplate, error) {
	var templates []models.TransferTemplate
	err := s.db.Store().Find(&templates, badgerhold.Where("Name").Eq(name).Index("Name"))
	if err != nil {
		return nil, fmt.Errorf("failed to query template by name %s: %w", name, err)
	}
	if len(templates) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &templates[0], nil
}

// List returns all templates
func (s *TemplateStorage) List(ctx context.Context) ([]*models.TransferTemplate, error) {
	var templates []models.TransferTemplate
	if err := s.db.Store().Find(&templates, nil); err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return toPointers(templates), nil
}

// ListActiveByEventType returns active templates matching an event type
func (s *TemplateStorage) ListActiveByEventType(ctx context.Context, eventType models.EventType) ([]*models.TransferTemplate, error) {
	var templates []models.TransferTemplate
	query := badgerhold.Where("EventType").Eq(eventType).Index("EventType").And("IsActive").Eq(true)
	if err := s.db.Store().Find(&templates, query); err != nil {
		return nil, fmt.Errorf("failed to list templates for event type %s: %w", eventType, err)
	}
	return toPointers(templates), nil
}

// Delete removes a template
func (s *TemplateStorage) Delete(ctx context.Context, id string) error {
	err := s.db.Store().Delete(id, &models.TransferTemplate{})
	if err == badgerhold.ErrNotFound {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete template %s: %w", id, err)
	}
	return nil
}
