// -----------------------------------------------------------------------
// Embedding service - page vectors and context window assembly for the
// structured extraction stage.
// -----------------------------------------------------------------------

package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/common"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
)

// Service implements EmbeddingService interface
type Service struct {
	llmService interfaces.LLMService
	storage    interfaces.EmbeddingStorage
	logger     arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.EmbeddingService = (*Service)(nil)

// NewService creates a new embedding service
func NewService(llmService interfaces.LLMService, storage interfaces.EmbeddingStorage, logger arbor.ILogger) *Service {
	return &Service{
		llmService: llmService,
		storage:    storage,
		logger:     logger,
	}
}

// EmbedPage computes and persists the vector for a page's extracted text.
// Re-embedding the same page replaces the previous vector.
func (s *Service) EmbedPage(ctx context.Context, page *models.PageRecord) error {
	if page.Text == nil || strings.TrimSpace(*page.Text) == "" {
		return fmt.Errorf("page %s has no text to embed", page.ID)
	}

	vector, err := s.llmService.Embed(ctx, *page.Text)
	if err != nil {
		return fmt.Errorf("failed to embed page %s: %w", page.ID, err)
	}

	// Deterministic id keeps re-runs idempotent: same page, same record
	emb := &models.PageEmbedding{
		ID:         embeddingID(page),
		DocumentID: page.DocumentID,
		CaseID:     page.CaseID,
		PageNumber: page.PageNumber,
		Text:       *page.Text,
		Vector:     vector,
	}

	if err := s.storage.StoreEmbedding(ctx, emb); err != nil {
		return fmt.Errorf("failed to store embedding for page %s: %w", page.ID, err)
	}

	s.logger.Debug().
		Str("page_id", page.ID).
		Str("document_id", page.DocumentID).
		Int("page_number", page.PageNumber).
		Int("dimension", len(vector)).
		Msg("Page embedded")

	return nil
}

// BuildContext assembles the extraction context window for a page: the
// topK nearest pages in the case by cosine similarity, the page itself
// included, concatenated most similar first.
func (s *Service) BuildContext(ctx context.Context, page *models.PageRecord, topK int) (string, error) {
	if topK < 1 {
		topK = 1
	}

	own, err := s.ownEmbedding(ctx, page)
	if err != nil {
		return "", err
	}

	neighbours, err := s.storage.SearchSimilar(ctx, page.CaseID, own.Vector, topK)
	if err != nil {
		return "", fmt.Errorf("similarity search failed for page %s: %w", page.ID, err)
	}

	var builder strings.Builder
	for i, neighbour := range neighbours {
		if i > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(fmt.Sprintf("--- Page %d ---\n", neighbour.PageNumber))
		builder.WriteString(neighbour.Text)
	}

	return builder.String(), nil
}

// ownEmbedding loads the page's persisted vector, embedding on the fly if
// the page was never embedded (possible after a partial failure).
func (s *Service) ownEmbedding(ctx context.Context, page *models.PageRecord) (*models.PageEmbedding, error) {
	all, err := s.storage.GetEmbeddingsByCase(ctx, page.CaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load case embeddings: %w", err)
	}

	for _, emb := range all {
		if emb.DocumentID == page.DocumentID && emb.PageNumber == page.PageNumber {
			return emb, nil
		}
	}

	if err := s.EmbedPage(ctx, page); err != nil {
		return nil, err
	}

	all, err = s.storage.GetEmbeddingsByCase(ctx, page.CaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload case embeddings: %w", err)
	}
	for _, emb := range all {
		if emb.DocumentID == page.DocumentID && emb.PageNumber == page.PageNumber {
			return emb, nil
		}
	}
	return nil, fmt.Errorf("embedding for page %s missing after creation", page.ID)
}

func embeddingID(page *models.PageRecord) string {
	return common.EmbeddingIDFor(page.DocumentID, page.PageNumber)
}
