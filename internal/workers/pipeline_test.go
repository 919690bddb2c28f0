package workers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/common"
	"github.com/ternarybob/caseflow/internal/httpclient"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
	"github.com/ternarybob/caseflow/internal/queue"
	"github.com/ternarybob/caseflow/internal/services/embeddings"
	"github.com/ternarybob/caseflow/internal/services/extraction"
	"github.com/ternarybob/caseflow/internal/services/ocr"
	pdfservice "github.com/ternarybob/caseflow/internal/services/pdf"
	"github.com/ternarybob/caseflow/internal/services/progress"
	"github.com/ternarybob/caseflow/internal/services/scheduler"
	badgerstore "github.com/ternarybob/caseflow/internal/storage/badger"
)

// fakeAnalysisClient is a scripted cloud OCR collaborator.
type fakeAnalysisClient struct {
	submitJobID string
	submitErr   error
	submits     int
}

func (f *fakeAnalysisClient) SubmitAnalysis(ctx context.Context, documentBytes []byte) (string, error) {
	f.submits++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.submitJobID, nil
}

func (f *fakeAnalysisClient) GetAnalysisResult(ctx context.Context, jobID, nextToken string) (*interfaces.AnalysisResult, error) {
	return &interfaces.AnalysisResult{Status: interfaces.AnalysisStatusInProgress}, nil
}

// fixedLLM returns the same vector and bundle for every call.
type fixedLLM struct {
	bundleJSON string
	genErr     error
}

func (f *fixedLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fixedLLM) GenerateStructured(ctx context.Context, messages []interfaces.Message, schema map[string]interface{}) ([]byte, error) {
	if f.genErr != nil {
		return nil, f.genErr
	}
	return []byte(f.bundleJSON), nil
}

func (f *fixedLLM) GetMode() interfaces.LLMMode { return interfaces.LLMModeGemini }
func (f *fixedLLM) Close() error                { return nil }

type pipelineFixture struct {
	cases      interfaces.CaseStorage
	documents  interfaces.DocumentStorage
	pages      interfaces.PageStorage
	embStorage interfaces.EmbeddingStorage
	queues     *queue.BadgerQueue
	tracker    *progress.Tracker
	scheduler  interfaces.SchedulerService
	poller     *ocr.Poller
	cloud      *fakeAnalysisClient

	split     *SplitProcessor
	page      *PageProcessor
	extract   *ExtractProcessor
	docMerge  *DocumentMergeProcessor
	caseMerge *CaseMergeProcessor
}

func buildPDF(t *testing.T, pageTexts ...string) []byte {
	t.Helper()

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 12)
	for _, text := range pageTexts {
		doc.AddPage()
		if text != "" {
			doc.Cell(40, 10, text)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func newPipelineFixture(t *testing.T, pdfBytes []byte) (*pipelineFixture, string) {
	t.Helper()

	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(pdfBytes)
	}))
	t.Cleanup(server.Close)

	cases := badgerstore.NewCaseStorage(db, logger)
	documents := badgerstore.NewDocumentStorage(db, logger)
	pages := badgerstore.NewPageStorage(db, logger)
	embStorage := badgerstore.NewEmbeddingStorage(db, logger)
	failed := badgerstore.NewFailedJobStorage(db, logger)

	queues, err := queue.NewBadgerQueue(db.Badger(), queue.Config{}, failed, logger)
	require.NoError(t, err)

	tracker := progress.NewTracker(cases, common.ExtractionConfig{ContextPages: 3, StageDenominator: 2, CompletionCeiling: 95}, logger)

	sched := scheduler.NewService(logger)
	cloud := &fakeAnalysisClient{submitJobID: "job_cloud_1"}
	poller := ocr.NewPoller(cloud, sched, pages, common.SchedulerConfig{OCRPollInterval: "2m", OCRMaxAttempts: 5}, logger)

	downloader := httpclient.NewDownloader(common.DownloadConfig{Timeout: "10s", MaxSizeMB: 10, MaxRetries: 1, RetryBackoff: "10ms"}, logger)
	source := pdfservice.NewService(logger)
	chain := extraction.NewChain(logger, extraction.NewNativeStrategy(source))

	llm := &fixedLLM{bundleJSON: `{
		"patients": [{"id": "patient-1", "family_name": "Doe", "birth_date": "1961-03-04"}],
		"conditions": [{"id": "cond-1", "patient_id": "patient-1", "code": "E11.9"}]
	}`}
	embSvc := embeddings.NewService(llm, embStorage, logger)
	extractor := extraction.NewExtractor(llm, logger)

	fixture := &pipelineFixture{
		cases:      cases,
		documents:  documents,
		pages:      pages,
		embStorage: embStorage,
		queues:     queues,
		tracker:    tracker,
		scheduler:  sched,
		poller:     poller,
		cloud:      cloud,
	}
	fixture.split = NewSplitProcessor(downloader, source, documents, queues, logger)
	fixture.page = NewPageProcessor(downloader, source, chain, cloud, poller, pages, documents, queues, tracker, logger)
	fixture.extract = NewExtractProcessor(embSvc, extractor, pages, documents, queues, tracker, common.ExtractionConfig{ContextPages: 3, StageDenominator: 2, CompletionCeiling: 95}, logger)
	fixture.docMerge = NewDocumentMergeProcessor(pages, documents, embStorage, queues, tracker, logger)
	fixture.caseMerge = NewCaseMergeProcessor(cases, documents, tracker, logger)

	return fixture, server.URL
}

func (f *pipelineFixture) storeCaseWithDocument(t *testing.T, sourceURL string) (*models.Case, *models.Document) {
	t.Helper()
	ctx := context.Background()

	c := &models.Case{ID: "case_1", Status: models.CaseStatusNew, CronStatus: models.CronStatusProcessing}
	require.NoError(t, f.cases.StoreCase(ctx, c))

	doc := &models.Document{ID: "doc_1", CaseID: c.ID, SourceURL: sourceURL, Status: models.DocumentStatusPending}
	require.NoError(t, f.documents.StoreDocument(ctx, doc))
	return c, doc
}

func message(t *testing.T, msgType string, payload interface{}) *models.QueueMessage {
	t.Helper()
	msg, err := models.NewQueueMessage(msgType, payload)
	require.NoError(t, err)
	return msg
}

// drain receives every visible message on a queue, runs the processor, and
// acks. Returns the number of messages handled.
func (f *pipelineFixture) drain(t *testing.T, queueName string, process func(context.Context, *models.QueueMessage) error) int {
	t.Helper()
	ctx := context.Background()

	handled := 0
	for {
		received, err := f.queues.Receive(ctx, queueName)
		if err != nil {
			return handled
		}
		require.NoError(t, process(ctx, received.Message))
		require.NoError(t, received.Ack())
		handled++
	}
}

func TestSplitProcessorFansOutPages(t *testing.T) {
	pdfBytes := buildPDF(t, "intake form", "diagnosis summary", "billing statement")
	fixture, url := newPipelineFixture(t, pdfBytes)
	_, doc := fixture.storeCaseWithDocument(t, url)
	ctx := context.Background()

	msg := message(t, "document-split", models.SplitPayload{DocumentID: doc.ID, CaseID: "case_1", SourceURL: url})
	require.NoError(t, fixture.split.Process(ctx, msg))

	loaded, err := fixture.documents.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.PageCount)

	length, err := fixture.queues.QueueLength(ctx, models.QueuePageProcess)
	require.NoError(t, err)
	assert.Equal(t, 3, length)

	// A retried split is a no-op thanks to per-page dedup ids
	require.NoError(t, fixture.split.Process(ctx, msg))
	length, err = fixture.queues.QueueLength(ctx, models.QueuePageProcess)
	require.NoError(t, err)
	assert.Equal(t, 3, length)
}

func TestSplitProcessorFailsUnreadableDocument(t *testing.T) {
	fixture, url := newPipelineFixture(t, []byte("not a pdf at all"))
	_, doc := fixture.storeCaseWithDocument(t, url)
	ctx := context.Background()

	msg := message(t, "document-split", models.SplitPayload{DocumentID: doc.ID, CaseID: "case_1", SourceURL: url})
	require.NoError(t, fixture.split.Process(ctx, msg))

	loaded, err := fixture.documents.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusFailed, loaded.Status)
	assert.NotEmpty(t, loaded.FailureReason)

	// The failed document nudges the case-level merge check
	length, err := fixture.queues.QueueLength(ctx, models.QueueCaseMerge)
	require.NoError(t, err)
	assert.Equal(t, 1, length)
}

func TestPageProcessorResolvesNativeText(t *testing.T) {
	pdfBytes := buildPDF(t, "patient intake form", "diagnosis summary")
	fixture, url := newPipelineFixture(t, pdfBytes)
	fixture.storeCaseWithDocument(t, url)
	ctx := context.Background()

	msg := message(t, "page-process", models.PagePayload{
		PageNumber: 1, TotalPages: 2, DocumentID: "doc_1", CaseID: "case_1", SourceURL: url,
	})
	require.NoError(t, fixture.page.Process(ctx, msg))

	page, err := fixture.pages.GetPageByNumber(ctx, "doc_1", 1)
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.True(t, page.IsCompleted)
	assert.Equal(t, models.ExtractionMethodNative, page.ExtractionMethod)
	require.NotNil(t, page.Text)
	assert.Contains(t, *page.Text, "patient intake form")
	assert.Nil(t, page.OCRJobID, "native text never reaches the analysis service")
	assert.Nil(t, page.RawBytes, "raw bytes dropped once text is resolved")

	length, err := fixture.queues.QueueLength(ctx, models.QueuePageExtract)
	require.NoError(t, err)
	assert.Equal(t, 1, length)

	// Redelivery of the same page job is a no-op
	require.NoError(t, fixture.page.Process(ctx, msg))
	length, err = fixture.queues.QueueLength(ctx, models.QueuePageExtract)
	require.NoError(t, err)
	assert.Equal(t, 1, length)
	assert.Equal(t, 0, fixture.cloud.submits)
}

func TestPageProcessorSubmitsCloudOCRForScannedPage(t *testing.T) {
	// A page with no text layer resolves nothing natively
	pdfBytes := buildPDF(t, "")
	fixture, url := newPipelineFixture(t, pdfBytes)
	fixture.storeCaseWithDocument(t, url)
	ctx := context.Background()

	msg := message(t, "page-process", models.PagePayload{
		PageNumber: 1, TotalPages: 1, DocumentID: "doc_1", CaseID: "case_1", SourceURL: url,
	})
	require.NoError(t, fixture.page.Process(ctx, msg))

	page, err := fixture.pages.GetPageByNumber(ctx, "doc_1", 1)
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.False(t, page.IsCompleted)
	require.NotNil(t, page.OCRJobID)
	assert.Equal(t, "job_cloud_1", *page.OCRJobID)
	assert.NotEmpty(t, page.RawBytes, "raw bytes kept while OCR is in flight")
	assert.True(t, fixture.scheduler.HasSchedule(ocr.ScheduleKey(page.ID)))
	assert.Equal(t, 1, fixture.cloud.submits)
}

func TestPageProcessorMarksUnsupportedPageFailed(t *testing.T) {
	pdfBytes := buildPDF(t, "")
	fixture, url := newPipelineFixture(t, pdfBytes)
	fixture.storeCaseWithDocument(t, url)
	fixture.cloud.submitErr = &interfaces.UnsupportedDocumentError{Reason: "password protected"}
	ctx := context.Background()

	msg := message(t, "page-process", models.PagePayload{
		PageNumber: 1, TotalPages: 1, DocumentID: "doc_1", CaseID: "case_1", SourceURL: url,
	})
	require.NoError(t, fixture.page.Process(ctx, msg))

	page, err := fixture.pages.GetPageByNumber(ctx, "doc_1", 1)
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.True(t, page.Failed)
	assert.Contains(t, page.FailureReason, "password protected")
	assert.Nil(t, page.RawBytes)
}

func TestExtractProcessorAttachesBundle(t *testing.T) {
	pdfBytes := buildPDF(t, "diagnosis: type 2 diabetes E11.9")
	fixture, url := newPipelineFixture(t, pdfBytes)
	c, _ := fixture.storeCaseWithDocument(t, url)
	ctx := context.Background()

	text := "diagnosis: type 2 diabetes E11.9"
	page := &models.PageRecord{
		ID: "page_1", DocumentID: "doc_1", CaseID: c.ID,
		PageNumber: 1, TotalPages: 1,
		Text: &text, ExtractionMethod: models.ExtractionMethodNative, IsCompleted: true,
	}
	require.NoError(t, fixture.pages.StorePage(ctx, page))

	msg := message(t, "page-extract", models.ExtractPayload{PageID: page.ID, DocumentID: "doc_1", CaseID: c.ID})
	require.NoError(t, fixture.extract.Process(ctx, msg))

	loaded, err := fixture.pages.GetPage(ctx, page.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.Bundle)
	assert.Len(t, loaded.Bundle.Conditions, 1)

	embs, err := fixture.embStorage.GetEmbeddingsByCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, embs, 1)

	length, err := fixture.queues.QueueLength(ctx, models.QueueDocumentMerge)
	require.NoError(t, err)
	assert.Equal(t, 1, length)

	// Second delivery does not re-extract or duplicate the merge trigger
	require.NoError(t, fixture.extract.Process(ctx, msg))
	length, err = fixture.queues.QueueLength(ctx, models.QueueDocumentMerge)
	require.NoError(t, err)
	assert.Equal(t, 1, length)
}

func storeCompletedPage(t *testing.T, pages interfaces.PageStorage, id string, number, total int, bundle *models.Bundle) {
	t.Helper()
	text := fmt.Sprintf("text of page %d", number)
	page := &models.PageRecord{
		ID: id, DocumentID: "doc_1", CaseID: "case_1",
		PageNumber: number, TotalPages: total,
		Text: &text, IsCompleted: true, Bundle: bundle,
	}
	require.NoError(t, pages.StorePage(context.Background(), page))
}

func TestDocumentMergeWaitsForAllPages(t *testing.T) {
	fixture, url := newPipelineFixture(t, buildPDF(t, "a", "b"))
	_, doc := fixture.storeCaseWithDocument(t, url)
	ctx := context.Background()

	doc.PageCount = 2
	require.NoError(t, fixture.documents.UpdateDocument(ctx, doc))

	storeCompletedPage(t, fixture.pages, "page_1", 1, 2, &models.Bundle{
		Conditions: []models.Condition{{ID: "cond-1", Code: "E11.9"}},
	})

	// Only one of two pages exists yet
	msg := message(t, "document-merge", models.MergePayload{DocumentID: doc.ID, CaseID: "case_1"})
	require.NoError(t, fixture.docMerge.Process(ctx, msg))

	loaded, err := fixture.documents.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, loaded.IsCompleted)

	storeCompletedPage(t, fixture.pages, "page_2", 2, 2, &models.Bundle{
		Conditions: []models.Condition{{ID: "cond-2", Code: "I10"}},
	})

	require.NoError(t, fixture.docMerge.Process(ctx, msg))

	loaded, err = fixture.documents.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, loaded.IsCompleted)
	assert.Equal(t, models.DocumentStatusSuccess, loaded.Status)
	require.NotNil(t, loaded.Bundle)
	assert.Len(t, loaded.Bundle.Conditions, 2)
	assert.Contains(t, loaded.RawText, "text of page 1")

	// Working records purged after finalization
	remaining, err := fixture.pages.GetPagesByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	length, err := fixture.queues.QueueLength(ctx, models.QueueCaseMerge)
	require.NoError(t, err)
	assert.Equal(t, 1, length)
}

func TestDocumentMergeBlockedByFailedPage(t *testing.T) {
	fixture, url := newPipelineFixture(t, buildPDF(t, "a"))
	_, doc := fixture.storeCaseWithDocument(t, url)
	ctx := context.Background()

	doc.PageCount = 2
	require.NoError(t, fixture.documents.UpdateDocument(ctx, doc))

	storeCompletedPage(t, fixture.pages, "page_1", 1, 2, &models.Bundle{})
	failedPage := &models.PageRecord{
		ID: "page_2", DocumentID: doc.ID, CaseID: "case_1",
		PageNumber: 2, TotalPages: 2,
		Failed: true, FailureReason: "analysis attempts exhausted",
	}
	require.NoError(t, fixture.pages.StorePage(ctx, failedPage))

	msg := message(t, "document-merge", models.MergePayload{DocumentID: doc.ID, CaseID: "case_1"})
	require.NoError(t, fixture.docMerge.Process(ctx, msg))

	loaded, err := fixture.documents.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, loaded.IsCompleted, "failed page blocks the document")
	assert.NotEqual(t, models.DocumentStatusSuccess, loaded.Status)
}

func TestCaseMergeFinalizesWhenAllDocumentsTerminal(t *testing.T) {
	fixture, url := newPipelineFixture(t, buildPDF(t, "a"))
	c, doc := fixture.storeCaseWithDocument(t, url)
	ctx := context.Background()

	doc.Status = models.DocumentStatusSuccess
	doc.IsCompleted = true
	doc.Bundle = &models.Bundle{
		Patients:   []models.Patient{{ID: "patient-abc", FamilyName: "Doe"}},
		Conditions: []models.Condition{{ID: "cond-abc", Code: "E11.9"}},
	}
	require.NoError(t, fixture.documents.UpdateDocument(ctx, doc))

	secondDoc := &models.Document{
		ID: "doc_2", CaseID: c.ID, SourceURL: url,
		Status: models.DocumentStatusSuccess, IsCompleted: true,
		Bundle: &models.Bundle{
			// Overlaps doc_1's condition, plus one new encounter
			Conditions: []models.Condition{{ID: "cond-abc", Code: "E11.9"}},
			Encounters: []models.Encounter{{ID: "enc-xyz", Class: "outpatient"}},
		},
	}
	require.NoError(t, fixture.documents.StoreDocument(ctx, secondDoc))

	msg := message(t, "case-merge", models.MergePayload{CaseID: c.ID})
	require.NoError(t, fixture.caseMerge.Process(ctx, msg))

	final, err := fixture.cases.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, final.PercentageCompletion)
	assert.Equal(t, models.CronStatusProcessed, final.CronStatus)
	require.NotNil(t, final.Bundle)
	assert.Len(t, final.Bundle.Conditions, 1, "cross-document overlap deduplicated")
	assert.Len(t, final.Bundle.Patients, 1)
	assert.Len(t, final.Bundle.Encounters, 1)
}

func TestCaseMergeWaitsForPendingDocuments(t *testing.T) {
	fixture, url := newPipelineFixture(t, buildPDF(t, "a"))
	c, doc := fixture.storeCaseWithDocument(t, url)
	ctx := context.Background()

	doc.Status = models.DocumentStatusSuccess
	doc.IsCompleted = true
	require.NoError(t, fixture.documents.UpdateDocument(ctx, doc))

	pending := &models.Document{ID: "doc_2", CaseID: c.ID, SourceURL: url, Status: models.DocumentStatusPending}
	require.NoError(t, fixture.documents.StoreDocument(ctx, pending))

	msg := message(t, "case-merge", models.MergePayload{CaseID: c.ID})
	require.NoError(t, fixture.caseMerge.Process(ctx, msg))

	loaded, err := fixture.cases.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.NotEqual(t, models.CronStatusProcessed, loaded.CronStatus)
	assert.Nil(t, loaded.Bundle)
}

func TestFullPipelineNativeDocument(t *testing.T) {
	pdfBytes := buildPDF(t, "patient intake form", "diagnosis summary", "billing statement")
	fixture, url := newPipelineFixture(t, pdfBytes)
	c, doc := fixture.storeCaseWithDocument(t, url)
	ctx := context.Background()

	// Kick off the split, then drain each stage in pipeline order
	splitMsg := message(t, "document-split", models.SplitPayload{DocumentID: doc.ID, CaseID: c.ID, SourceURL: url})
	require.NoError(t, fixture.split.Process(ctx, splitMsg))

	assert.Equal(t, 3, fixture.drain(t, models.QueuePageProcess, fixture.page.Process))
	assert.Equal(t, 3, fixture.drain(t, models.QueuePageExtract, fixture.extract.Process))
	assert.GreaterOrEqual(t, fixture.drain(t, models.QueueDocumentMerge, fixture.docMerge.Process), 1)
	assert.GreaterOrEqual(t, fixture.drain(t, models.QueueCaseMerge, fixture.caseMerge.Process), 1)

	final, err := fixture.cases.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, final.PercentageCompletion)
	assert.Equal(t, models.CronStatusProcessed, final.CronStatus)
	require.NotNil(t, final.Bundle)
	assert.False(t, final.Bundle.IsEmpty())

	finalDoc, err := fixture.documents.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, finalDoc.IsCompleted)

	remaining, err := fixture.pages.GetPagesByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining, "page records purged at document finalization")

	embs, err := fixture.embStorage.GetEmbeddingsByCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, embs, "embeddings purged at document finalization")
}
