package badger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// EmbeddingStorage implements the EmbeddingStorage interface for Badger.
// Nearest-neighbour search is a brute-force cosine scan over the case
// scope; a case holds at most a few thousand pages.
type EmbeddingStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewEmbeddingStorage creates a new EmbeddingStorage instance
func NewEmbeddingStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EmbeddingStorage {
	return &EmbeddingStorage{db: db, logger: logger}
}

func (s *EmbeddingStorage) StoreEmbedding(ctx context.Context, emb *models.PageEmbedding) error {
	if emb.ID == "" {
		return fmt.Errorf("embedding ID is required")
	}
	if len(emb.Vector) == 0 {
		return fmt.Errorf("embedding vector is required")
	}
	if emb.CreatedAt.IsZero() {
		emb.CreatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(emb.ID, *emb); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

func (s *EmbeddingStorage) GetEmbeddingsByCase(ctx context.Context, caseID string) ([]*models.PageEmbedding, error) {
	var embeddings []models.PageEmbedding
	err := s.db.Store().Find(&embeddings, badgerhold.Where("CaseID").Eq(caseID).Index("CaseID"))
	if err != nil {
		return nil, fmt.Errorf("failed to find embeddings for case %s: %w", caseID, err)
	}

	result := make([]*models.PageEmbedding, len(embeddings))
	for i := range embeddings {
		result[i] = &embeddings[i]
	}
	return result, nil
}

func (s *EmbeddingStorage) SearchSimilar(ctx context.Context, caseID string, vector []float32, topK int) ([]*models.PageEmbedding, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive")
	}

	candidates, err := s.GetEmbeddingsByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	type scored struct {
		emb   *models.PageEmbedding
		score float64
	}

	ranked := make([]scored, 0, len(candidates))
	for _, candidate := range candidates {
		score, ok := cosineSimilarity(vector, candidate.Vector)
		if !ok {
			continue
		}
		ranked = append(ranked, scored{candidate, score})
	}

	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	result := make([]*models.PageEmbedding, len(ranked))
	for i, r := range ranked {
		result[i] = r.emb
	}
	return result, nil
}

func (s *EmbeddingStorage) DeleteEmbeddingsByDocument(ctx context.Context, documentID string) error {
	err := s.db.Store().DeleteMatching(&models.PageEmbedding{},
		badgerhold.Where("DocumentID").Eq(documentID).Index("DocumentID"))
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete embeddings for document %s: %w", documentID, err)
	}
	return nil
}

// cosineSimilarity returns the cosine of the angle between a and b.
// The second return is false when the vectors are incomparable (length
// mismatch or zero magnitude).
func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
