package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/common"
	"github.com/ternarybob/caseflow/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db        *BadgerDB
	cases     interfaces.CaseStorage
	documents interfaces.DocumentStorage
	pages     interfaces.PageStorage
	embedding interfaces.EmbeddingStorage
	failed    interfaces.FailedJobStorage
	logger    arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:        db,
		cases:     NewCaseStorage(db, logger),
		documents: NewDocumentStorage(db, logger),
		pages:     NewPageStorage(db, logger),
		embedding: NewEmbeddingStorage(db, logger),
		failed:    NewFailedJobStorage(db, logger),
		logger:    logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// CaseStorage returns the Case storage interface
func (m *Manager) CaseStorage() interfaces.CaseStorage {
	return m.cases
}

// DocumentStorage returns the Document storage interface
func (m *Manager) DocumentStorage() interfaces.DocumentStorage {
	return m.documents
}

// PageStorage returns the Page storage interface
func (m *Manager) PageStorage() interfaces.PageStorage {
	return m.pages
}

// EmbeddingStorage returns the Embedding storage interface
func (m *Manager) EmbeddingStorage() interfaces.EmbeddingStorage {
	return m.embedding
}

// FailedJobStorage returns the FailedJob storage interface
func (m *Manager) FailedJobStorage() interfaces.FailedJobStorage {
	return m.failed
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
