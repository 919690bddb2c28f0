package models

import "time"

// DocumentStatus is the terminal-state marker for a source document.
type DocumentStatus string

const (
	DocumentStatusPending DocumentStatus = "pending"
	DocumentStatusSuccess DocumentStatus = "success"
	DocumentStatusFailed  DocumentStatus = "failed"
)

// Document is one source file belonging to a Case. A document is terminal
// once Status=Success and IsCompleted=true. Invariant: a document is never
// marked Success while any of its page records has IsCompleted=false.
type Document struct {
	ID     string `badgerhold:"key" json:"id"`
	CaseID string `badgerhold:"index" json:"case_id"`

	SourceURL   string         `json:"source_url"`
	Status      DocumentStatus `json:"status"`
	IsCompleted bool           `json:"is_completed"`

	// PageCount is written by the splitter once the source is downloaded.
	PageCount int `json:"page_count"`

	// RawText is the concatenated per-page text, populated at merge time.
	RawText string  `json:"raw_text,omitempty"`
	Bundle  *Bundle `json:"bundle,omitempty"`

	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
