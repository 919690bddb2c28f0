package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/common"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
	badgerstore "github.com/ternarybob/caseflow/internal/storage/badger"
)

// fakeLLM returns a canned vector per text.
type fakeLLM struct {
	vectors map[string][]float32
	calls   int
}

func (f *fakeLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeLLM) GenerateStructured(ctx context.Context, messages []interfaces.Message, schema map[string]interface{}) ([]byte, error) {
	return []byte("{}"), nil
}

func (f *fakeLLM) GetMode() interfaces.LLMMode { return interfaces.LLMModeGemini }
func (f *fakeLLM) Close() error                { return nil }

func newFixture(t *testing.T, llm *fakeLLM) (*Service, interfaces.EmbeddingStorage) {
	t.Helper()

	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	storage := badgerstore.NewEmbeddingStorage(db, logger)
	return NewService(llm, storage, logger), storage
}

func textPage(id, docID string, number int, text string) *models.PageRecord {
	return &models.PageRecord{
		ID:         id,
		DocumentID: docID,
		CaseID:     "case_1",
		PageNumber: number,
		Text:       &text,
	}
}

func TestEmbedPagePersistsVector(t *testing.T) {
	llm := &fakeLLM{vectors: map[string][]float32{"hello": {1, 0, 0}}}
	svc, storage := newFixture(t, llm)

	page := textPage("page_1", "doc_1", 1, "hello")
	require.NoError(t, svc.EmbedPage(context.Background(), page))

	embeddings, err := storage.GetEmbeddingsByCase(context.Background(), "case_1")
	require.NoError(t, err)
	require.Len(t, embeddings, 1)
	assert.Equal(t, []float32{1, 0, 0}, embeddings[0].Vector)
	assert.Equal(t, "hello", embeddings[0].Text)
}

func TestEmbedPageIsIdempotent(t *testing.T) {
	llm := &fakeLLM{vectors: map[string][]float32{"hello": {1, 0, 0}}}
	svc, storage := newFixture(t, llm)

	page := textPage("page_1", "doc_1", 1, "hello")
	require.NoError(t, svc.EmbedPage(context.Background(), page))
	require.NoError(t, svc.EmbedPage(context.Background(), page))

	embeddings, err := storage.GetEmbeddingsByCase(context.Background(), "case_1")
	require.NoError(t, err)
	assert.Len(t, embeddings, 1)
}

func TestEmbedPageRequiresText(t *testing.T) {
	svc, _ := newFixture(t, &fakeLLM{})

	page := &models.PageRecord{ID: "page_1", DocumentID: "doc_1", CaseID: "case_1", PageNumber: 1}
	assert.Error(t, svc.EmbedPage(context.Background(), page))

	empty := ""
	page.Text = &empty
	assert.Error(t, svc.EmbedPage(context.Background(), page))
}

func TestBuildContextOrdersBySimilarity(t *testing.T) {
	llm := &fakeLLM{vectors: map[string][]float32{
		"diabetes diagnosis":     {1, 0, 0},
		"diabetes follow-up":     {0.9, 0.1, 0},
		"unrelated billing page": {0, 1, 0},
	}}
	svc, _ := newFixture(t, llm)
	ctx := context.Background()

	pages := []*models.PageRecord{
		textPage("page_1", "doc_1", 1, "diabetes diagnosis"),
		textPage("page_2", "doc_1", 2, "unrelated billing page"),
		textPage("page_3", "doc_1", 3, "diabetes follow-up"),
	}
	for _, page := range pages {
		require.NoError(t, svc.EmbedPage(ctx, page))
	}

	window, err := svc.BuildContext(ctx, pages[0], 2)
	require.NoError(t, err)

	// Self first, then the nearest neighbour; the unrelated page is cut
	assert.Contains(t, window, "--- Page 1 ---")
	assert.Contains(t, window, "diabetes diagnosis")
	assert.Contains(t, window, "diabetes follow-up")
	assert.NotContains(t, window, "unrelated billing page")
	assert.Less(t, 0, len(window))
}

func TestBuildContextEmbedsMissingPage(t *testing.T) {
	llm := &fakeLLM{vectors: map[string][]float32{"fresh text": {0, 0.5, 0.5}}}
	svc, _ := newFixture(t, llm)

	page := textPage("page_1", "doc_1", 1, "fresh text")
	window, err := svc.BuildContext(context.Background(), page, 3)
	require.NoError(t, err)
	assert.Contains(t, window, "fresh text")
	assert.Equal(t, 1, llm.calls)
}
