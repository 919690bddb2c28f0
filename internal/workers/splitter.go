package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/httpclient"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
)

// SplitProcessor handles the document-split queue: download the source,
// count its pages, and fan out one page-process job per page. It creates no
// page records, so a retried split is harmless.
type SplitProcessor struct {
	downloader *httpclient.Downloader
	source     interfaces.PageSource
	documents  interfaces.DocumentStorage
	queues     interfaces.QueueManager
	logger     arbor.ILogger
}

func NewSplitProcessor(
	downloader *httpclient.Downloader,
	source interfaces.PageSource,
	documents interfaces.DocumentStorage,
	queues interfaces.QueueManager,
	logger arbor.ILogger,
) *SplitProcessor {
	return &SplitProcessor{
		downloader: downloader,
		source:     source,
		documents:  documents,
		queues:     queues,
		logger:     logger,
	}
}

func (p *SplitProcessor) Process(ctx context.Context, msg *models.QueueMessage) error {
	var payload models.SplitPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid split payload: %w", err)
	}

	doc, err := p.documents.GetDocument(ctx, payload.DocumentID)
	if err != nil {
		return fmt.Errorf("failed to load document %s: %w", payload.DocumentID, err)
	}
	if doc == nil || doc.IsCompleted {
		return nil
	}

	data, err := p.downloader.Fetch(ctx, payload.SourceURL)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", payload.SourceURL, err)
	}

	pageCount, err := p.source.PageCount(data)
	if err != nil {
		// Unreadable source bytes do not improve with retries
		return p.failDocument(ctx, doc, payload.CaseID, fmt.Sprintf("unreadable document: %v", err))
	}
	if pageCount < 1 {
		return p.failDocument(ctx, doc, payload.CaseID, "document has no pages")
	}

	doc.PageCount = pageCount
	doc.Status = models.DocumentStatusPending
	if err := p.documents.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to store page count: %w", err)
	}

	for pageNumber := 1; pageNumber <= pageCount; pageNumber++ {
		pageMsg, err := models.NewQueueMessage("page-process", models.PagePayload{
			PageNumber: pageNumber,
			TotalPages: pageCount,
			DocumentID: doc.ID,
			CaseID:     payload.CaseID,
			SourceURL:  payload.SourceURL,
		})
		if err != nil {
			return fmt.Errorf("failed to build page message: %w", err)
		}

		err = p.queues.Enqueue(ctx, models.QueuePageProcess, pageMsg, &interfaces.EnqueueOptions{
			DedupID: fmt.Sprintf("page-process:%s:%d", doc.ID, pageNumber),
		})
		if err != nil {
			return fmt.Errorf("failed to enqueue page %d: %w", pageNumber, err)
		}
	}

	p.logger.Info().
		Str("document_id", doc.ID).
		Str("case_id", payload.CaseID).
		Int("pages", pageCount).
		Msg("Document split into page jobs")

	return nil
}

// failDocument marks a permanent document failure and nudges the case-level
// merge so the case does not wait on it forever.
func (p *SplitProcessor) failDocument(ctx context.Context, doc *models.Document, caseID, reason string) error {
	doc.Status = models.DocumentStatusFailed
	doc.FailureReason = reason
	doc.UpdatedAt = time.Now()
	if err := p.documents.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to mark document failed: %w", err)
	}

	p.logger.Warn().
		Str("document_id", doc.ID).
		Str("reason", reason).
		Msg("Document failed during split")

	mergeMsg, err := models.NewQueueMessage("case-merge", models.MergePayload{CaseID: caseID})
	if err != nil {
		return err
	}
	return p.queues.Enqueue(ctx, models.QueueCaseMerge, mergeMsg, &interfaces.EnqueueOptions{
		DedupID: fmt.Sprintf("case-merge:%s:%s", caseID, doc.ID),
	})
}
