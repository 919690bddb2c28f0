package interfaces

import (
	"context"

	"github.com/ternarybob/caseflow/internal/models"
)

// PageSource loads one page of a source document for extraction.
type PageSource interface {
	// PageCount reports how many pages the document bytes contain.
	PageCount(documentBytes []byte) (int, error)

	// ExtractPage returns the raw single-page bytes and any native text
	// embedded in that page. Native text may be empty for scanned pages.
	ExtractPage(documentBytes []byte, pageNumber int) (pageBytes []byte, nativeText string, err error)
}

// TextStrategy is one step of the extraction fallback chain. The
// orchestrator tries strategies in fixed priority order and records which
// one succeeded.
type TextStrategy interface {
	Method() models.ExtractionMethod
	Extract(ctx context.Context, page *models.PageRecord) (string, error)
}

// EmbeddingService computes and persists page vectors and assembles
// multi-page context windows for extraction.
type EmbeddingService interface {
	EmbedPage(ctx context.Context, page *models.PageRecord) error
	BuildContext(ctx context.Context, page *models.PageRecord, topK int) (string, error)
}

// StructuredExtractor derives a per-page clinical/claims bundle from page
// text plus its context window.
type StructuredExtractor interface {
	ExtractBundle(ctx context.Context, pageText, contextWindow string) (*models.Bundle, error)
}
