package cases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/common"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
	"github.com/ternarybob/caseflow/internal/queue"
	"github.com/ternarybob/caseflow/internal/services/progress"
	badgerstore "github.com/ternarybob/caseflow/internal/storage/badger"
)

type orchestratorFixture struct {
	orchestrator *Orchestrator
	cases        interfaces.CaseStorage
	documents    interfaces.DocumentStorage
	queues       *queue.BadgerQueue
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cases := badgerstore.NewCaseStorage(db, logger)
	documents := badgerstore.NewDocumentStorage(db, logger)
	failed := badgerstore.NewFailedJobStorage(db, logger)

	queues, err := queue.NewBadgerQueue(db.Badger(), queue.Config{}, failed, logger)
	require.NoError(t, err)

	tracker := progress.NewTracker(cases, common.ExtractionConfig{StageDenominator: 2, CompletionCeiling: 95}, logger)

	return &orchestratorFixture{
		orchestrator: NewOrchestrator(cases, documents, queues, tracker, logger),
		cases:        cases,
		documents:    documents,
		queues:       queues,
	}
}

func (f *orchestratorFixture) storePendingCase(t *testing.T, caseID string, createdAt time.Time, docCount int) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.cases.StoreCase(ctx, &models.Case{
		ID:         caseID,
		Status:     models.CaseStatusNew,
		CronStatus: models.CronStatusPending,
		CreatedAt:  createdAt,
	}))

	for i := 0; i < docCount; i++ {
		require.NoError(t, f.documents.StoreDocument(ctx, &models.Document{
			ID:        caseID + "_doc_" + string(rune('a'+i)),
			CaseID:    caseID,
			SourceURL: "https://files.example.com/" + caseID + ".pdf",
			Status:    models.DocumentStatusPending,
		}))
	}
}

func TestProcessNextPendingCaseClaimsAndFansOut(t *testing.T) {
	fixture := newOrchestratorFixture(t)
	fixture.storePendingCase(t, "case_1", time.Now(), 2)
	ctx := context.Background()

	require.NoError(t, fixture.orchestrator.ProcessNextPendingCase(ctx))

	c, err := fixture.cases.GetCase(ctx, "case_1")
	require.NoError(t, err)
	assert.Equal(t, models.CronStatusProcessing, c.CronStatus)
	assert.Equal(t, progress.StageTextExtraction, c.CurrentExtractionState)

	length, err := fixture.queues.QueueLength(ctx, models.QueueDocumentSplit)
	require.NoError(t, err)
	assert.Equal(t, 2, length)
}

func TestRepeatedTicksAreNoOpsWhileProcessing(t *testing.T) {
	fixture := newOrchestratorFixture(t)
	fixture.storePendingCase(t, "case_1", time.Now(), 1)
	ctx := context.Background()

	require.NoError(t, fixture.orchestrator.ProcessNextPendingCase(ctx))
	require.NoError(t, fixture.orchestrator.ProcessNextPendingCase(ctx))
	require.NoError(t, fixture.orchestrator.ProcessNextPendingCase(ctx))

	length, err := fixture.queues.QueueLength(ctx, models.QueueDocumentSplit)
	require.NoError(t, err)
	assert.Equal(t, 1, length)
}

func TestOldestPendingCaseGoesFirst(t *testing.T) {
	fixture := newOrchestratorFixture(t)
	now := time.Now()
	fixture.storePendingCase(t, "case_newer", now, 1)
	fixture.storePendingCase(t, "case_older", now.Add(-time.Hour), 1)
	ctx := context.Background()

	require.NoError(t, fixture.orchestrator.ProcessNextPendingCase(ctx))

	older, err := fixture.cases.GetCase(ctx, "case_older")
	require.NoError(t, err)
	assert.Equal(t, models.CronStatusProcessing, older.CronStatus)

	newer, err := fixture.cases.GetCase(ctx, "case_newer")
	require.NoError(t, err)
	assert.Equal(t, models.CronStatusPending, newer.CronStatus)
}

func TestTickWithNoPendingCasesDoesNothing(t *testing.T) {
	fixture := newOrchestratorFixture(t)
	require.NoError(t, fixture.orchestrator.ProcessNextPendingCase(context.Background()))

	length, err := fixture.queues.QueueLength(context.Background(), models.QueueDocumentSplit)
	require.NoError(t, err)
	assert.Equal(t, 0, length)
}
