// -----------------------------------------------------------------------
// OCR job poller - keyed schedules that re-query the cloud analysis
// service until a page's job completes, fails, or exhausts its attempts.
// -----------------------------------------------------------------------

package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/common"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
)

// PageHandler is invoked after the poller settles a page: completion
// handlers continue the pipeline, failure handlers surface the page.
type PageHandler func(ctx context.Context, page *models.PageRecord)

// Poller drives the cloud-OCR fallback. Each pending page gets a keyed
// schedule `ocr-poll:<pageID>`; schedules are in-memory, so Resume
// re-creates them from persisted page state after a restart.
type Poller struct {
	cloud     interfaces.CloudOCR
	scheduler interfaces.SchedulerService
	pages     interfaces.PageStorage
	logger    arbor.ILogger

	interval    time.Duration
	maxAttempts int

	mu       sync.Mutex
	attempts map[string]int

	onComplete PageHandler
	onFailed   PageHandler
}

// NewPoller creates an OCR poller from the scheduler section of the
// configuration.
func NewPoller(cloud interfaces.CloudOCR, scheduler interfaces.SchedulerService, pages interfaces.PageStorage, config common.SchedulerConfig, logger arbor.ILogger) *Poller {
	interval := common.ParseDuration(config.OCRPollInterval, 2*time.Minute)

	maxAttempts := config.OCRMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Poller{
		cloud:       cloud,
		scheduler:   scheduler,
		pages:       pages,
		logger:      logger,
		interval:    interval,
		maxAttempts: maxAttempts,
		attempts:    make(map[string]int),
	}
}

// OnComplete sets the handler called after a page's OCR text is persisted.
func (p *Poller) OnComplete(handler PageHandler) { p.onComplete = handler }

// OnFailed sets the handler called after a page is marked failed.
func (p *Poller) OnFailed(handler PageHandler) { p.onFailed = handler }

// ScheduleKey returns the stable schedule id for a page.
func ScheduleKey(pageID string) string {
	return "ocr-poll:" + pageID
}

// RegisterPoll starts (or restarts) polling for a page with an in-flight
// analysis job. Re-registering the same page replaces the old schedule.
func (p *Poller) RegisterPoll(pageID string) error {
	p.mu.Lock()
	p.attempts[pageID] = 0
	p.mu.Unlock()

	return p.registerWithInterval(pageID, p.interval)
}

// Resume re-creates poll schedules for every page that was waiting on a
// cloud job when the process last stopped.
func (p *Poller) Resume(ctx context.Context) error {
	pending, err := p.pages.GetPagesWithPendingOCR(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pages with pending OCR: %w", err)
	}

	for _, page := range pending {
		if err := p.RegisterPoll(page.ID); err != nil {
			p.logger.Error().Err(err).Str("page_id", page.ID).Msg("Failed to resume OCR poll schedule")
			continue
		}
	}

	if len(pending) > 0 {
		p.logger.Info().Int("count", len(pending)).Msg("Resumed OCR poll schedules from persisted pages")
	}
	return nil
}

func (p *Poller) registerWithInterval(pageID string, interval time.Duration) error {
	return p.scheduler.UpsertSchedule(ScheduleKey(pageID), interval, func() error {
		return p.poll(context.Background(), pageID)
	})
}

// poll runs one tick for a page. Ticks are cheap no-ops once the page is
// settled; cancelling the schedule of an already-settled page is also a
// no-op.
func (p *Poller) poll(ctx context.Context, pageID string) error {
	page, err := p.pages.GetPage(ctx, pageID)
	if err != nil || page == nil {
		// Page purged after document finalization; drop the schedule
		p.scheduler.CancelSchedule(ScheduleKey(pageID))
		p.forget(pageID)
		return nil
	}

	if page.IsCompleted || page.Failed || page.OCRJobID == nil {
		p.scheduler.CancelSchedule(ScheduleKey(pageID))
		p.forget(pageID)
		return nil
	}

	attempt := p.bumpAttempts(pageID)

	result, err := p.cloud.GetAnalysisResult(ctx, *page.OCRJobID, "")
	if err != nil {
		var unsupported *interfaces.UnsupportedDocumentError
		if errors.As(err, &unsupported) {
			return p.failPage(ctx, page, err.Error())
		}
		if attempt >= p.maxAttempts {
			return p.failPage(ctx, page, fmt.Sprintf("OCR polling exhausted after %d attempts: %v", attempt, err))
		}
		p.backoff(pageID, attempt)
		return fmt.Errorf("analysis poll for page %s failed: %w", pageID, err)
	}

	switch result.Status {
	case interfaces.AnalysisStatusSucceeded:
		return p.completePage(ctx, page, result)

	case interfaces.AnalysisStatusFailed:
		reason := result.Error
		if reason == "" {
			reason = "analysis job failed"
		}
		return p.failPage(ctx, page, reason)

	default:
		if attempt >= p.maxAttempts {
			return p.failPage(ctx, page, fmt.Sprintf("OCR job did not complete within %d polls", attempt))
		}
		p.backoff(pageID, attempt)
		p.logger.Debug().
			Str("page_id", pageID).
			Str("job_id", *page.OCRJobID).
			Int("attempt", attempt).
			Msg("OCR job still in progress")
		return nil
	}
}

// completePage drains the paginated result set, persists the text and
// continues the page pipeline.
func (p *Poller) completePage(ctx context.Context, page *models.PageRecord, first *interfaces.AnalysisResult) error {
	lines := make([]string, 0, len(first.Lines))
	for _, line := range first.Lines {
		lines = append(lines, line.Text)
	}

	token := first.NextToken
	for token != "" {
		next, err := p.cloud.GetAnalysisResult(ctx, *page.OCRJobID, token)
		if err != nil {
			return fmt.Errorf("failed to fetch continuation for page %s: %w", page.ID, err)
		}
		for _, line := range next.Lines {
			lines = append(lines, line.Text)
		}
		token = next.NextToken
	}

	text := strings.Join(lines, "\n")
	page.Text = &text
	page.ExtractionMethod = models.ExtractionMethodCloudOCR
	page.IsCompleted = true
	page.RawBytes = nil

	if err := p.pages.UpdatePage(ctx, page); err != nil {
		return fmt.Errorf("failed to persist OCR result for page %s: %w", page.ID, err)
	}

	p.scheduler.CancelSchedule(ScheduleKey(page.ID))
	p.forget(page.ID)

	p.logger.Info().
		Str("page_id", page.ID).
		Str("document_id", page.DocumentID).
		Int("page_number", page.PageNumber).
		Int("lines", len(lines)).
		Msg("Cloud OCR completed for page")

	if p.onComplete != nil {
		p.onComplete(ctx, page)
	}
	return nil
}

// failPage marks a page permanently failed. A failed page does not block
// its siblings but keeps the parent document from reaching Success.
func (p *Poller) failPage(ctx context.Context, page *models.PageRecord, reason string) error {
	page.Failed = true
	page.FailureReason = reason
	page.RawBytes = nil

	if err := p.pages.UpdatePage(ctx, page); err != nil {
		return fmt.Errorf("failed to mark page %s failed: %w", page.ID, err)
	}

	p.scheduler.CancelSchedule(ScheduleKey(page.ID))
	p.forget(page.ID)

	p.logger.Error().
		Str("page_id", page.ID).
		Str("document_id", page.DocumentID).
		Int("page_number", page.PageNumber).
		Str("reason", reason).
		Msg("Page OCR permanently failed")

	if p.onFailed != nil {
		p.onFailed(ctx, page)
	}
	return nil
}

// backoff stretches the poll interval exponentially, capped at 8x the
// base interval.
func (p *Poller) backoff(pageID string, attempt int) {
	multiplier := time.Duration(1) << uint(attempt)
	if multiplier > 8 {
		multiplier = 8
	}
	if err := p.registerWithInterval(pageID, p.interval*multiplier); err != nil {
		p.logger.Warn().Err(err).Str("page_id", pageID).Msg("Failed to reschedule OCR poll with backoff")
	}
}

func (p *Poller) bumpAttempts(pageID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[pageID]++
	return p.attempts[pageID]
}

func (p *Poller) forget(pageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attempts, pageID)
}
