package interfaces

import "context"

// OCRLine is one line-level text block from an analysis result.
type OCRLine struct {
	Text       string  `json:"text"`
	Page       int     `json:"page"`
	Confidence float64 `json:"confidence,omitempty"`
}

// AnalysisStatus is the lifecycle state of an asynchronous analysis job.
type AnalysisStatus string

const (
	AnalysisStatusInProgress AnalysisStatus = "in_progress"
	AnalysisStatusSucceeded  AnalysisStatus = "succeeded"
	AnalysisStatusFailed     AnalysisStatus = "failed"
)

// AnalysisResult is one page of results from the cloud analysis service.
type AnalysisResult struct {
	Status    AnalysisStatus
	Lines     []OCRLine
	NextToken string // Continuation token; empty on the last page
	Error     string // Populated when Status is failed
}

// LocalOCR extracts text from a page image synchronously within the
// calling job.
type LocalOCR interface {
	ExtractText(ctx context.Context, pageBytes []byte) (string, error)
	Enabled() bool
}

// CloudOCR is the asynchronous document-analysis collaborator. Submit
// returns an opaque job id that is polled until completion.
type CloudOCR interface {
	SubmitAnalysis(ctx context.Context, documentBytes []byte) (string, error)
	GetAnalysisResult(ctx context.Context, jobID string, nextToken string) (*AnalysisResult, error)
}

// ErrUnsupportedDocument marks a permanent extraction failure: the page can
// never be analyzed and must not be retried.
type UnsupportedDocumentError struct {
	Reason string
}

func (e *UnsupportedDocumentError) Error() string {
	return "unsupported document: " + e.Reason
}
