package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/common"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
	"github.com/ternarybob/caseflow/internal/services/ocr"
	"github.com/ternarybob/caseflow/internal/services/progress"
)

// ExtractProcessor handles the page-extract queue: embed the page text,
// assemble a similarity context window, run structured extraction and
// attach the resulting bundle to the page.
type ExtractProcessor struct {
	embeddings interfaces.EmbeddingService
	extractor  interfaces.StructuredExtractor
	pages      interfaces.PageStorage
	documents  interfaces.DocumentStorage
	queues     interfaces.QueueManager
	tracker    *progress.Tracker
	config     common.ExtractionConfig
	logger     arbor.ILogger
}

func NewExtractProcessor(
	embeddings interfaces.EmbeddingService,
	extractor interfaces.StructuredExtractor,
	pages interfaces.PageStorage,
	documents interfaces.DocumentStorage,
	queues interfaces.QueueManager,
	tracker *progress.Tracker,
	config common.ExtractionConfig,
	logger arbor.ILogger,
) *ExtractProcessor {
	return &ExtractProcessor{
		embeddings: embeddings,
		extractor:  extractor,
		pages:      pages,
		documents:  documents,
		queues:     queues,
		tracker:    tracker,
		config:     config,
		logger:     logger,
	}
}

func (p *ExtractProcessor) Process(ctx context.Context, msg *models.QueueMessage) error {
	var payload models.ExtractPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid extract payload: %w", err)
	}

	page, err := p.pages.GetPage(ctx, payload.PageID)
	if err != nil {
		return fmt.Errorf("failed to load page %s: %w", payload.PageID, err)
	}
	if page.Failed || page.Text == nil || *page.Text == "" {
		return nil
	}

	if page.Bundle == nil {
		if err := p.extractBundle(ctx, page); err != nil {
			return err
		}
	}

	// Every finished bundle re-evaluates whether the document is ready to
	// merge; the merge processor does the actual readiness check.
	mergeMsg, err := models.NewQueueMessage("document-merge", models.MergePayload{
		DocumentID: page.DocumentID,
		CaseID:     page.CaseID,
	})
	if err != nil {
		return err
	}
	return p.queues.Enqueue(ctx, models.QueueDocumentMerge, mergeMsg, &interfaces.EnqueueOptions{
		DedupID: fmt.Sprintf("document-merge:%s:%s", page.DocumentID, page.ID),
	})
}

func (p *ExtractProcessor) extractBundle(ctx context.Context, page *models.PageRecord) error {
	if err := p.tracker.SetStage(ctx, page.CaseID, progress.StageStructuring); err != nil {
		p.logger.Warn().Err(err).Str("case_id", page.CaseID).Msg("Failed to update extraction stage")
	}

	if err := p.embeddings.EmbedPage(ctx, page); err != nil {
		return fmt.Errorf("failed to embed page %s: %w", page.ID, err)
	}

	window, err := p.embeddings.BuildContext(ctx, page, p.config.ContextPages)
	if err != nil {
		return fmt.Errorf("failed to build context for page %s: %w", page.ID, err)
	}

	bundle, err := p.extractor.ExtractBundle(ctx, *page.Text, window)
	if err != nil {
		return fmt.Errorf("structured extraction failed for page %s: %w", page.ID, err)
	}

	page.Bundle = bundle
	if err := p.pages.UpdatePage(ctx, page); err != nil {
		return fmt.Errorf("failed to store bundle for page %s: %w", page.ID, err)
	}

	p.logger.Info().
		Str("page_id", page.ID).
		Int("entries", len(bundle.Entries())).
		Msg("Page bundle extracted")

	docCount, err := p.documents.CountDocumentsByCase(ctx, page.CaseID)
	if err == nil {
		if _, err := p.tracker.AddPageProgress(ctx, page.CaseID, page.TotalPages, docCount); err != nil && !errors.Is(err, progress.ErrNoPages) {
			p.logger.Warn().Err(err).Str("case_id", page.CaseID).Msg("Failed to credit extraction progress")
		}
	}

	return nil
}

// NewOCRCompletionHandler builds the poller callback that moves a page into
// the extraction stage once its cloud analysis text arrives. It mirrors the
// synchronous completion path in PageProcessor.
func NewOCRCompletionHandler(
	queues interfaces.QueueManager,
	documents interfaces.DocumentStorage,
	tracker *progress.Tracker,
	logger arbor.ILogger,
) ocr.PageHandler {
	return func(ctx context.Context, page *models.PageRecord) {
		docCount, err := documents.CountDocumentsByCase(ctx, page.CaseID)
		if err == nil {
			if _, err := tracker.AddPageProgress(ctx, page.CaseID, page.TotalPages, docCount); err != nil && !errors.Is(err, progress.ErrNoPages) {
				logger.Warn().Err(err).Str("case_id", page.CaseID).Msg("Failed to credit page progress")
			}
		}

		extractMsg, err := models.NewQueueMessage("page-extract", models.ExtractPayload{
			PageID:     page.ID,
			DocumentID: page.DocumentID,
			CaseID:     page.CaseID,
		})
		if err != nil {
			logger.Error().Err(err).Str("page_id", page.ID).Msg("Failed to build extract message")
			return
		}
		err = queues.Enqueue(ctx, models.QueuePageExtract, extractMsg, &interfaces.EnqueueOptions{
			DedupID: "page-extract:" + page.ID,
		})
		if err != nil {
			logger.Error().Err(err).Str("page_id", page.ID).Msg("Failed to enqueue extraction after OCR")
		}
	}
}

// NewOCRFailureHandler builds the poller callback for permanently failed
// pages. The failed page blocks its document, but sibling pages and other
// documents keep flowing; the document-merge check stays parked until an
// operator intervenes.
func NewOCRFailureHandler(logger arbor.ILogger) ocr.PageHandler {
	return func(ctx context.Context, page *models.PageRecord) {
		logger.Error().
			Str("page_id", page.ID).
			Str("document_id", page.DocumentID).
			Str("case_id", page.CaseID).
			Str("reason", page.FailureReason).
			Msg("Page permanently failed OCR, document blocked")
	}
}
