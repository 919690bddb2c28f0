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

// PageStorage implements the PageStorage interface for Badger
type PageStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPageStorage creates a new PageStorage instance
func NewPageStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PageStorage {
	return &PageStorage{db: db, logger: logger}
}

func (s *PageStorage) StorePage(ctx context.Context, page *models.PageRecord) error {
	if page.ID == "" {
		return fmt.Errorf("page ID is required")
	}
	if page.DocumentID == "" {
		return fmt.Errorf("page document ID is required")
	}
	if page.CreatedAt.IsZero() {
		page.CreatedAt = time.Now()
	}
	page.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(page.ID, *page); err != nil {
		return fmt.Errorf("failed to store page record: %w", err)
	}
	return nil
}

func (s *PageStorage) GetPage(ctx context.Context, id string) (*models.PageRecord, error) {
	var page models.PageRecord
	if err := s.db.Store().Get(id, &page); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("page record not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get page record: %w", err)
	}
	return &page, nil
}

func (s *PageStorage) UpdatePage(ctx context.Context, page *models.PageRecord) error {
	return s.StorePage(ctx, page)
}

func (s *PageStorage) GetPagesByDocument(ctx context.Context, documentID string) ([]*models.PageRecord, error) {
	var pages []models.PageRecord
	err := s.db.Store().Find(&pages, badgerhold.Where("DocumentID").Eq(documentID).Index("DocumentID"))
	if err != nil {
		return nil, fmt.Errorf("failed to find pages for document %s: %w", documentID, err)
	}

	// Page-number order keeps merges deterministic regardless of which
	// page finished first
	sort.Slice(pages, func(i, j int) bool {
		return pages[i].PageNumber < pages[j].PageNumber
	})

	result := make([]*models.PageRecord, len(pages))
	for i := range pages {
		result[i] = &pages[i]
	}
	return result, nil
}

func (s *PageStorage) GetPageByNumber(ctx context.Context, documentID string, pageNumber int) (*models.PageRecord, error) {
	pages, err := s.GetPagesByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	for _, page := range pages {
		if page.PageNumber == pageNumber {
			return page, nil
		}
	}
	return nil, nil
}

func (s *PageStorage) CountPendingPages(ctx context.Context, documentID string) (int, error) {
	pages, err := s.GetPagesByDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}

	pending := 0
	for _, page := range pages {
		if !page.IsCompleted {
			pending++
		}
	}
	return pending, nil
}

func (s *PageStorage) GetPagesWithPendingOCR(ctx context.Context) ([]*models.PageRecord, error) {
	var pages []models.PageRecord
	err := s.db.Store().Find(&pages,
		badgerhold.Where("IsCompleted").Eq(false).And("Failed").Eq(false))
	if err != nil {
		return nil, fmt.Errorf("failed to find pages with pending OCR: %w", err)
	}

	result := make([]*models.PageRecord, 0, len(pages))
	for i := range pages {
		if pages[i].OCRJobID != nil {
			result = append(result, &pages[i])
		}
	}
	return result, nil
}

func (s *PageStorage) DeletePagesByDocument(ctx context.Context, documentID string) error {
	err := s.db.Store().DeleteMatching(&models.PageRecord{},
		badgerhold.Where("DocumentID").Eq(documentID).Index("DocumentID"))
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete pages for document %s: %w", documentID, err)
	}
	return nil
}
