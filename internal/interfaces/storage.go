package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/caseflow/internal/models"
)

// CaseStorage - persistence for cases and their pipeline state
type CaseStorage interface {
	StoreCase(ctx context.Context, c *models.Case) error
	GetCase(ctx context.Context, id string) (*models.Case, error)
	UpdateCase(ctx context.Context, c *models.Case) error

	// GetNextPendingCase returns the oldest case with CronStatus=Pending,
	// or nil when none exist.
	GetNextPendingCase(ctx context.Context) (*models.Case, error)

	// ClaimCase transitions a case from Pending to Processing. Returns
	// false without error when the case is no longer Pending, which makes
	// repeated scheduler ticks no-ops.
	ClaimCase(ctx context.Context, id string) (bool, error)

	// AddCompletionDelta atomically adds delta to PercentageCompletion,
	// capping the result at ceiling. The read-add-write happens inside a
	// single store transaction. Returns the new value.
	AddCompletionDelta(ctx context.Context, id string, delta, ceiling int) (int, error)

	// SetExtractionState updates the human-readable stage label.
	SetExtractionState(ctx context.Context, id string, state string) error
}

// DocumentStorage - persistence for source documents
type DocumentStorage interface {
	StoreDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentsByCase(ctx context.Context, caseID string) ([]*models.Document, error)

	// GetPendingDocuments returns the case's documents that are not yet
	// finalized (not Success/Failed or not completed).
	GetPendingDocuments(ctx context.Context, caseID string) ([]*models.Document, error)
	CountDocumentsByCase(ctx context.Context, caseID string) (int, error)
}

// PageStorage - persistence for ephemeral per-page working records
type PageStorage interface {
	StorePage(ctx context.Context, page *models.PageRecord) error
	GetPage(ctx context.Context, id string) (*models.PageRecord, error)
	UpdatePage(ctx context.Context, page *models.PageRecord) error
	GetPagesByDocument(ctx context.Context, documentID string) ([]*models.PageRecord, error)

	// GetPageByNumber returns the page record for (documentID, pageNumber)
	// or nil when processing has not created one yet.
	GetPageByNumber(ctx context.Context, documentID string, pageNumber int) (*models.PageRecord, error)

	// CountPendingPages returns how many of the document's page records
	// have IsCompleted=false.
	CountPendingPages(ctx context.Context, documentID string) (int, error)

	// GetPagesWithPendingOCR returns unsettled pages that have an
	// in-flight cloud analysis job. Used to resume poll schedules after a
	// restart.
	GetPagesWithPendingOCR(ctx context.Context) ([]*models.PageRecord, error)

	// DeletePagesByDocument purges all page records of a finalized document.
	DeletePagesByDocument(ctx context.Context, documentID string) error
}

// EmbeddingStorage - persistence and nearest-neighbour search for page vectors
type EmbeddingStorage interface {
	StoreEmbedding(ctx context.Context, emb *models.PageEmbedding) error
	GetEmbeddingsByCase(ctx context.Context, caseID string) ([]*models.PageEmbedding, error)

	// SearchSimilar returns the topK embeddings in the case scope nearest
	// to the query vector by cosine similarity, most similar first.
	SearchSimilar(ctx context.Context, caseID string, vector []float32, topK int) ([]*models.PageEmbedding, error)
	DeleteEmbeddingsByDocument(ctx context.Context, documentID string) error
}

// FailedJob is the operator-visible record of a job that exhausted its
// retry attempts. Failed jobs are queryable, never silently dropped.
type FailedJob struct {
	ID        string    `badgerhold:"key" json:"id"`
	QueueName string    `badgerhold:"index" json:"queue_name"`
	Type      string    `json:"type"`
	Payload   []byte    `json:"payload"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}

// FailedJobStorage - dead-letter surface for exhausted queue jobs
type FailedJobStorage interface {
	StoreFailedJob(ctx context.Context, job *FailedJob) error
	ListFailedJobs(ctx context.Context, queueName string, limit int) ([]*FailedJob, error)
	CountFailedJobs(ctx context.Context) (int, error)
}

// StorageManager provides access to all storage interfaces
type StorageManager interface {
	CaseStorage() CaseStorage
	DocumentStorage() DocumentStorage
	PageStorage() PageStorage
	EmbeddingStorage() EmbeddingStorage
	FailedJobStorage() FailedJobStorage
	Close() error
}
