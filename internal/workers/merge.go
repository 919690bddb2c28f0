package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
	"github.com/ternarybob/caseflow/internal/services/merge"
	"github.com/ternarybob/caseflow/internal/services/progress"
)

// DocumentMergeProcessor handles the document-merge queue. A message is a
// hint that the document may be ready; the processor re-checks readiness
// and no-ops when pages are still outstanding, so spurious triggers are
// harmless.
type DocumentMergeProcessor struct {
	pages      interfaces.PageStorage
	documents  interfaces.DocumentStorage
	embeddings interfaces.EmbeddingStorage
	queues     interfaces.QueueManager
	tracker    *progress.Tracker
	logger     arbor.ILogger
}

func NewDocumentMergeProcessor(
	pages interfaces.PageStorage,
	documents interfaces.DocumentStorage,
	embeddings interfaces.EmbeddingStorage,
	queues interfaces.QueueManager,
	tracker *progress.Tracker,
	logger arbor.ILogger,
) *DocumentMergeProcessor {
	return &DocumentMergeProcessor{
		pages:      pages,
		documents:  documents,
		embeddings: embeddings,
		queues:     queues,
		tracker:    tracker,
		logger:     logger,
	}
}

func (p *DocumentMergeProcessor) Process(ctx context.Context, msg *models.QueueMessage) error {
	var payload models.MergePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid merge payload: %w", err)
	}

	doc, err := p.documents.GetDocument(ctx, payload.DocumentID)
	if err != nil {
		return fmt.Errorf("failed to load document %s: %w", payload.DocumentID, err)
	}
	if doc.IsCompleted || doc.Status == models.DocumentStatusFailed {
		return nil
	}

	pages, err := p.pages.GetPagesByDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to load pages for %s: %w", doc.ID, err)
	}

	if !documentReady(doc, pages) {
		return nil
	}

	doc.Bundle = merge.MergePages(pages)
	doc.RawText = merge.ConcatPageText(pages)
	doc.Status = models.DocumentStatusSuccess
	doc.IsCompleted = true
	doc.UpdatedAt = time.Now()
	if err := p.documents.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to finalize document %s: %w", doc.ID, err)
	}

	// Page records and vectors are ephemeral working state; the document
	// bundle is now the source of truth.
	if err := p.pages.DeletePagesByDocument(ctx, doc.ID); err != nil {
		p.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("Failed to purge page records")
	}
	if err := p.embeddings.DeleteEmbeddingsByDocument(ctx, doc.ID); err != nil {
		p.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("Failed to purge page embeddings")
	}

	if err := p.tracker.SetStage(ctx, payload.CaseID, progress.StageMerging); err != nil {
		p.logger.Warn().Err(err).Str("case_id", payload.CaseID).Msg("Failed to update extraction stage")
	}

	p.logger.Info().
		Str("document_id", doc.ID).
		Str("case_id", payload.CaseID).
		Int("entries", len(doc.Bundle.Entries())).
		Msg("Document finalized")

	mergeMsg, err := models.NewQueueMessage("case-merge", models.MergePayload{CaseID: payload.CaseID})
	if err != nil {
		return err
	}
	return p.queues.Enqueue(ctx, models.QueueCaseMerge, mergeMsg, &interfaces.EnqueueOptions{
		DedupID: fmt.Sprintf("case-merge:%s:%s", payload.CaseID, doc.ID),
	})
}

// documentReady requires every page record to exist, be completed, and
// carry its bundle. A failed or still-pending page parks the document.
func documentReady(doc *models.Document, pages []*models.PageRecord) bool {
	if doc.PageCount < 1 || len(pages) < doc.PageCount {
		return false
	}
	for _, page := range pages {
		if !page.IsCompleted || page.Failed {
			return false
		}
		if page.Text != nil && *page.Text != "" && page.Bundle == nil {
			return false
		}
	}
	return true
}

// CaseMergeProcessor handles the case-merge queue: once every document in
// the case is terminal, fold the document bundles into the case bundle and
// finalize the case.
type CaseMergeProcessor struct {
	cases     interfaces.CaseStorage
	documents interfaces.DocumentStorage
	tracker   *progress.Tracker
	logger    arbor.ILogger
}

func NewCaseMergeProcessor(
	cases interfaces.CaseStorage,
	documents interfaces.DocumentStorage,
	tracker *progress.Tracker,
	logger arbor.ILogger,
) *CaseMergeProcessor {
	return &CaseMergeProcessor{
		cases:     cases,
		documents: documents,
		tracker:   tracker,
		logger:    logger,
	}
}

func (p *CaseMergeProcessor) Process(ctx context.Context, msg *models.QueueMessage) error {
	var payload models.MergePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid merge payload: %w", err)
	}

	docs, err := p.documents.GetDocumentsByCase(ctx, payload.CaseID)
	if err != nil {
		return fmt.Errorf("failed to load documents for case %s: %w", payload.CaseID, err)
	}
	if len(docs) == 0 {
		return nil
	}

	for _, doc := range docs {
		if !documentTerminal(doc) {
			return nil
		}
	}

	// Insertion order across documents: oldest document first
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})

	bundles := make([]*models.Bundle, 0, len(docs))
	for _, doc := range docs {
		if doc.Status == models.DocumentStatusSuccess && doc.Bundle != nil {
			bundles = append(bundles, doc.Bundle)
		}
	}

	c, err := p.cases.GetCase(ctx, payload.CaseID)
	if err != nil {
		return fmt.Errorf("failed to load case %s: %w", payload.CaseID, err)
	}
	if c.CronStatus == models.CronStatusProcessed {
		return nil
	}

	c.Bundle = merge.MergeDocuments(bundles)
	if err := p.cases.UpdateCase(ctx, c); err != nil {
		return fmt.Errorf("failed to store case bundle: %w", err)
	}

	if err := p.tracker.Finalize(ctx, payload.CaseID); err != nil {
		return fmt.Errorf("failed to finalize case %s: %w", payload.CaseID, err)
	}

	p.logger.Info().
		Str("case_id", payload.CaseID).
		Int("documents", len(docs)).
		Int("entries", len(c.Bundle.Entries())).
		Msg("Case bundle merged")

	return nil
}

func documentTerminal(doc *models.Document) bool {
	if doc.Status == models.DocumentStatusFailed {
		return true
	}
	return doc.Status == models.DocumentStatusSuccess && doc.IsCompleted
}
