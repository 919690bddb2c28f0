// -----------------------------------------------------------------------
// Completion tracker - per-page progress increments on the owning case.
// -----------------------------------------------------------------------

package progress

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/common"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
)

// ErrNoPages signals a progress update for a case with zero pages or zero
// documents, which would otherwise divide by zero.
var ErrNoPages = errors.New("case has no pages to track progress against")

// Stage labels for CurrentExtractionState.
const (
	StageTextExtraction = "text_extraction"
	StageStructuring    = "structuring"
	StageMerging        = "merging"
	StageComplete       = "complete"
)

// Tracker applies capped monotonic completion increments to cases. The
// underlying storage add is a single transaction, so concurrent page
// completions never lose updates.
type Tracker struct {
	cases            interfaces.CaseStorage
	logger           arbor.ILogger
	stageDenominator int
	ceiling          int
}

func NewTracker(cases interfaces.CaseStorage, config common.ExtractionConfig, logger arbor.ILogger) *Tracker {
	denominator := config.StageDenominator
	if denominator < 1 {
		denominator = 1
	}
	ceiling := config.CompletionCeiling
	if ceiling < 1 || ceiling > 99 {
		ceiling = 95
	}
	return &Tracker{
		cases:            cases,
		logger:           logger,
		stageDenominator: denominator,
		ceiling:          ceiling,
	}
}

// AddPageProgress credits one page-stage completion to the case. The
// increment is round(100 / totalPages / (documentCount * stageDenominator)),
// and the running total never exceeds the ceiling; only the final case
// merge moves a case to 100.
func (t *Tracker) AddPageProgress(ctx context.Context, caseID string, totalPages, documentCount int) (int, error) {
	delta, err := t.pageDelta(totalPages, documentCount)
	if err != nil {
		return 0, err
	}

	value, err := t.cases.AddCompletionDelta(ctx, caseID, delta, t.ceiling)
	if err != nil {
		return 0, fmt.Errorf("failed to add completion delta for case %s: %w", caseID, err)
	}

	t.logger.Debug().
		Str("case_id", caseID).
		Int("delta", delta).
		Int("completion", value).
		Msg("Case progress updated")

	return value, nil
}

// SetStage updates the case's human-readable extraction stage label.
func (t *Tracker) SetStage(ctx context.Context, caseID, stage string) error {
	return t.cases.SetExtractionState(ctx, caseID, stage)
}

// Finalize marks the case fully processed: completion 100, stage complete,
// CronStatus Processed. Called only after all documents are finalized and
// page artifacts purged.
func (t *Tracker) Finalize(ctx context.Context, caseID string) error {
	c, err := t.cases.GetCase(ctx, caseID)
	if err != nil {
		return fmt.Errorf("failed to load case %s: %w", caseID, err)
	}
	if c == nil {
		return fmt.Errorf("case %s not found", caseID)
	}

	c.PercentageCompletion = 100
	c.CurrentExtractionState = StageComplete
	c.CronStatus = models.CronStatusProcessed

	if err := t.cases.UpdateCase(ctx, c); err != nil {
		return fmt.Errorf("failed to finalize case %s: %w", caseID, err)
	}

	t.logger.Info().Str("case_id", caseID).Msg("Case processing complete")
	return nil
}

func (t *Tracker) pageDelta(totalPages, documentCount int) (int, error) {
	if totalPages <= 0 || documentCount <= 0 {
		return 0, ErrNoPages
	}

	delta := int(math.Round(100.0 / float64(totalPages) / float64(documentCount*t.stageDenominator)))
	if delta < 1 {
		delta = 1
	}
	return delta, nil
}
