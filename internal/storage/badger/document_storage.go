package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// DocumentStorage implements the DocumentStorage interface for Badger
type DocumentStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDocumentStorage creates a new DocumentStorage instance
func NewDocumentStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DocumentStorage {
	return &DocumentStorage{db: db, logger: logger}
}

func (s *DocumentStorage) StoreDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	if doc.CaseID == "" {
		return fmt.Errorf("document case ID is required")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	doc.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(doc.ID, *doc); err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	return nil
}

func (s *DocumentStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := s.db.Store().Get(id, &doc); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("document not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (s *DocumentStorage) UpdateDocument(ctx context.Context, doc *models.Document) error {
	return s.StoreDocument(ctx, doc)
}

func (s *DocumentStorage) GetDocumentsByCase(ctx context.Context, caseID string) ([]*models.Document, error) {
	var docs []models.Document
	err := s.db.Store().Find(&docs, badgerhold.Where("CaseID").Eq(caseID).Index("CaseID"))
	if err != nil {
		return nil, fmt.Errorf("failed to find documents for case %s: %w", caseID, err)
	}

	// Insertion order: the case-level merge iterates documents oldest first
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})

	result := make([]*models.Document, len(docs))
	for i := range docs {
		result[i] = &docs[i]
	}
	return result, nil
}

func (s *DocumentStorage) GetPendingDocuments(ctx context.Context, caseID string) ([]*models.Document, error) {
	docs, err := s.GetDocumentsByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	var pending []*models.Document
	for _, doc := range docs {
		if doc.Status == models.DocumentStatusSuccess && doc.IsCompleted {
			continue
		}
		if doc.Status == models.DocumentStatusFailed {
			continue
		}
		pending = append(pending, doc)
	}
	return pending, nil
}

func (s *DocumentStorage) CountDocumentsByCase(ctx context.Context, caseID string) (int, error) {
	count, err := s.db.Store().Count(&models.Document{}, badgerhold.Where("CaseID").Eq(caseID).Index("CaseID"))
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return int(count), nil
}
