package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/common"
	"github.com/ternarybob/caseflow/internal/httpclient"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
	"github.com/ternarybob/caseflow/internal/services/extraction"
	"github.com/ternarybob/caseflow/internal/services/ocr"
	"github.com/ternarybob/caseflow/internal/services/progress"
)

// PageProcessor handles the page-process queue: extract one page, resolve
// its text through the strategy chain, and either complete the page or hand
// it to the asynchronous cloud OCR path.
type PageProcessor struct {
	downloader *httpclient.Downloader
	source     interfaces.PageSource
	chain      *extraction.Chain
	cloud      interfaces.CloudOCR
	poller     *ocr.Poller
	pages      interfaces.PageStorage
	documents  interfaces.DocumentStorage
	queues     interfaces.QueueManager
	tracker    *progress.Tracker
	logger     arbor.ILogger
}

func NewPageProcessor(
	downloader *httpclient.Downloader,
	source interfaces.PageSource,
	chain *extraction.Chain,
	cloud interfaces.CloudOCR,
	poller *ocr.Poller,
	pages interfaces.PageStorage,
	documents interfaces.DocumentStorage,
	queues interfaces.QueueManager,
	tracker *progress.Tracker,
	logger arbor.ILogger,
) *PageProcessor {
	return &PageProcessor{
		downloader: downloader,
		source:     source,
		chain:      chain,
		cloud:      cloud,
		poller:     poller,
		pages:      pages,
		documents:  documents,
		queues:     queues,
		tracker:    tracker,
		logger:     logger,
	}
}

func (p *PageProcessor) Process(ctx context.Context, msg *models.QueueMessage) error {
	var payload models.PagePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid page payload: %w", err)
	}

	page, err := p.pages.GetPageByNumber(ctx, payload.DocumentID, payload.PageNumber)
	if err != nil {
		return fmt.Errorf("failed to look up page %d of %s: %w", payload.PageNumber, payload.DocumentID, err)
	}

	// Redelivery after a crash: the page may already be settled or waiting
	// on a cloud job.
	if page != nil {
		if page.IsCompleted || page.Failed {
			return nil
		}
		if page.OCRJobID != nil {
			if err := p.poller.RegisterPoll(page.ID); err != nil {
				return fmt.Errorf("failed to reschedule OCR poll for page %s: %w", page.ID, err)
			}
			return nil
		}
	}

	if page == nil {
		page, err = p.createPage(ctx, payload)
		if err != nil {
			return err
		}
	}

	text, method := p.chain.Resolve(ctx, page)
	if text != "" {
		return p.completePage(ctx, page, payload, text, method)
	}

	return p.submitCloudOCR(ctx, page)
}

func (p *PageProcessor) createPage(ctx context.Context, payload models.PagePayload) (*models.PageRecord, error) {
	data, err := p.downloader.Fetch(ctx, payload.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", payload.SourceURL, err)
	}

	pageBytes, _, err := p.source.ExtractPage(data, payload.PageNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to extract page %d: %w", payload.PageNumber, err)
	}

	page := &models.PageRecord{
		ID:         common.NewPageID(),
		DocumentID: payload.DocumentID,
		CaseID:     payload.CaseID,
		PageNumber: payload.PageNumber,
		TotalPages: payload.TotalPages,
		RawBytes:   pageBytes,
		CreatedAt:  time.Now(),
	}
	if err := p.pages.StorePage(ctx, page); err != nil {
		return nil, fmt.Errorf("failed to store page record: %w", err)
	}
	return page, nil
}

func (p *PageProcessor) completePage(ctx context.Context, page *models.PageRecord, payload models.PagePayload, text string, method models.ExtractionMethod) error {
	page.Text = &text
	page.ExtractionMethod = method
	page.IsCompleted = true
	page.RawBytes = nil
	if err := p.pages.UpdatePage(ctx, page); err != nil {
		return fmt.Errorf("failed to complete page %s: %w", page.ID, err)
	}

	p.logger.Info().
		Str("page_id", page.ID).
		Str("document_id", page.DocumentID).
		Int("page_number", page.PageNumber).
		Str("method", string(method)).
		Msg("Page text resolved")

	docCount, err := p.documents.CountDocumentsByCase(ctx, page.CaseID)
	if err == nil {
		if _, err := p.tracker.AddPageProgress(ctx, page.CaseID, page.TotalPages, docCount); err != nil && !errors.Is(err, progress.ErrNoPages) {
			p.logger.Warn().Err(err).Str("case_id", page.CaseID).Msg("Failed to credit page progress")
		}
	}

	extractMsg, err := models.NewQueueMessage("page-extract", models.ExtractPayload{
		PageID:     page.ID,
		DocumentID: page.DocumentID,
		CaseID:     page.CaseID,
	})
	if err != nil {
		return err
	}
	return p.queues.Enqueue(ctx, models.QueuePageExtract, extractMsg, &interfaces.EnqueueOptions{
		DedupID: "page-extract:" + page.ID,
	})
}

func (p *PageProcessor) submitCloudOCR(ctx context.Context, page *models.PageRecord) error {
	jobID, err := p.cloud.SubmitAnalysis(ctx, page.RawBytes)
	if err != nil {
		var unsupported *interfaces.UnsupportedDocumentError
		if errors.As(err, &unsupported) {
			page.Failed = true
			page.FailureReason = unsupported.Error()
			page.RawBytes = nil
			if updateErr := p.pages.UpdatePage(ctx, page); updateErr != nil {
				return updateErr
			}
			p.logger.Warn().
				Str("page_id", page.ID).
				Str("reason", unsupported.Reason).
				Msg("Page permanently unsupported by analysis service")
			return nil
		}
		return fmt.Errorf("failed to submit analysis for page %s: %w", page.ID, err)
	}

	page.OCRJobID = &jobID
	if err := p.pages.UpdatePage(ctx, page); err != nil {
		return fmt.Errorf("failed to store analysis job id: %w", err)
	}

	if err := p.poller.RegisterPoll(page.ID); err != nil {
		return fmt.Errorf("failed to schedule OCR poll for page %s: %w", page.ID, err)
	}

	p.logger.Info().
		Str("page_id", page.ID).
		Str("job_id", jobID).
		Msg("Cloud analysis submitted, polling scheduled")

	return nil
}
