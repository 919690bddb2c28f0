// -----------------------------------------------------------------------
// Case orchestrator - the cron-driven entry point of the pipeline. Each
// tick claims at most one pending case and fans out its documents.
// -----------------------------------------------------------------------

package cases

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
	"github.com/ternarybob/caseflow/internal/services/progress"
)

type Orchestrator struct {
	cases     interfaces.CaseStorage
	documents interfaces.DocumentStorage
	queues    interfaces.QueueManager
	tracker   *progress.Tracker
	logger    arbor.ILogger
}

func NewOrchestrator(
	cases interfaces.CaseStorage,
	documents interfaces.DocumentStorage,
	queues interfaces.QueueManager,
	tracker *progress.Tracker,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		cases:     cases,
		documents: documents,
		queues:    queues,
		tracker:   tracker,
		logger:    logger,
	}
}

// ProcessNextPendingCase claims the oldest pending case and enqueues a
// document-split job for each of its unfinished documents. A tick that
// finds no pending case, or loses the claim race, does nothing.
func (o *Orchestrator) ProcessNextPendingCase(ctx context.Context) error {
	c, err := o.cases.GetNextPendingCase(ctx)
	if err != nil {
		return fmt.Errorf("failed to find pending case: %w", err)
	}
	if c == nil {
		return nil
	}

	claimed, err := o.cases.ClaimCase(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("failed to claim case %s: %w", c.ID, err)
	}
	if !claimed {
		return nil
	}

	docs, err := o.documents.GetPendingDocuments(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("failed to load documents for case %s: %w", c.ID, err)
	}
	if len(docs) == 0 {
		o.logger.Warn().Str("case_id", c.ID).Msg("Claimed case has no pending documents")
		return nil
	}

	if err := o.tracker.SetStage(ctx, c.ID, progress.StageTextExtraction); err != nil {
		o.logger.Warn().Err(err).Str("case_id", c.ID).Msg("Failed to set extraction stage")
	}

	for _, doc := range docs {
		msg, err := models.NewQueueMessage("document-split", models.SplitPayload{
			DocumentID: doc.ID,
			CaseID:     c.ID,
			SourceURL:  doc.SourceURL,
		})
		if err != nil {
			return fmt.Errorf("failed to build split message: %w", err)
		}

		err = o.queues.Enqueue(ctx, models.QueueDocumentSplit, msg, &interfaces.EnqueueOptions{
			DedupID: "document-split:" + doc.ID,
		})
		if err != nil {
			return fmt.Errorf("failed to enqueue split for document %s: %w", doc.ID, err)
		}
	}

	o.logger.Info().
		Str("case_id", c.ID).
		Int("documents", len(docs)).
		Msg("Case claimed, documents queued for splitting")

	return nil
}
