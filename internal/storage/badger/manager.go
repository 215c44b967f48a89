package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	endpoint interfaces.EndpointStorage
	template interfaces.TemplateStorage
	job      interfaces.JobStorage
	transfer interfaces.TransferStorage
	kv       interfaces.KeyValueStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		endpoint: NewEndpointStorage(db, logger),
		template: NewTemplateStorage(db, logger),
		job:      NewJobStorage(db, logger),
		transfer: NewTransferStorage(db, logger),
		kv:       NewKVStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// EndpointStorage returns the Endpoint storage interface
func (m *Manager) EndpointStorage() interfaces.EndpointStorage {
	return m.endpoint
}

// TemplateStorage returns the TransferTemplate storage interface
func (m *Manager) TemplateStorage() interfaces.TemplateStorage {
	return m.template
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// TransferStorage returns the Transfer storage interface
func (m *Manager) TransferStorage() interfaces.TransferStorage {
	return m.transfer
}

// KeyValueStorage returns the KeyValue storage interface
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

// DB returns the underlying database connection
func (m *Manager) DB() *BadgerDB {
	return m.db
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
