package models

import "time"

// ExtractionMethod records which strategy produced a page's text.
type ExtractionMethod string

const (
	ExtractionMethodNative   ExtractionMethod = "native"
	ExtractionMethodLocalOCR ExtractionMethod = "local_ocr"
	ExtractionMethodCloudOCR ExtractionMethod = "cloud_ocr"
)

// PageRecord is the per-page working record for one document page. It is
// ephemeral: raw bytes are discarded (and the record deleted) once the
// parent document is finalized.
type PageRecord struct {
	ID         string `badgerhold:"key" json:"id"`
	DocumentID string `badgerhold:"index" json:"document_id"`
	CaseID     string `badgerhold:"index" json:"case_id"`

	PageNumber int `json:"page_number"`
	TotalPages int `json:"total_pages"`

	// RawBytes holds the single extracted PDF page, kept only while the
	// page may still need OCR.
	RawBytes []byte `json:"raw_bytes,omitempty"`

	// Text is nil until one of the extraction strategies resolves it.
	Text             *string          `json:"text,omitempty"`
	ExtractionMethod ExtractionMethod `json:"extraction_method,omitempty"`

	// OCRJobID is the opaque id of an in-flight cloud analysis job.
	OCRJobID *string `json:"ocr_job_id,omitempty"`

	Bundle *Bundle `json:"bundle,omitempty"`

	IsCompleted   bool   `json:"is_completed"`
	Failed        bool   `json:"failed"`
	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PageEmbedding stores the vector for one page's text. Read-only after
// creation; deleted when the owning document's lifecycle completes.
type PageEmbedding struct {
	ID         string `badgerhold:"key" json:"id"`
	DocumentID string `badgerhold:"index" json:"document_id"`
	CaseID     string `badgerhold:"index" json:"case_id"`

	PageNumber int       `json:"page_number"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"vector"`

	CreatedAt time.Time `json:"created_at"`
}
