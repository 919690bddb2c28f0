package models

import (
	"encoding/json"
	"errors"
)

// ErrNoMessage is returned when a queue has no visible messages.
var ErrNoMessage = errors.New("no messages in queue")

// Queue names for the pipeline stages. Each hand-off between stages goes
// through one of these queues, never through a direct call.
const (
	QueueDocumentSplit = "document-split"
	QueuePageProcess   = "page-process"
	QueuePageExtract   = "page-extract"
	QueueDocumentMerge = "document-merge"
	QueueCaseMerge     = "case-merge"
)

// QueueMessage is the envelope stored in a queue. Payload is job-specific
// and passed through untouched.
type QueueMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SplitPayload drives the page splitter for one document.
type SplitPayload struct {
	DocumentID string `json:"document_id"`
	CaseID     string `json:"case_id"`
	SourceURL  string `json:"source_url"`
}

// PagePayload drives per-page processing. One message is enqueued per page
// index by the splitter.
type PagePayload struct {
	PageNumber int    `json:"page_number"`
	TotalPages int    `json:"total_pages"`
	DocumentID string `json:"document_id"`
	CaseID     string `json:"case_id"`
	SourceURL  string `json:"source_url"`
}

// ExtractPayload drives structured extraction for one resolved page.
type ExtractPayload struct {
	PageID     string `json:"page_id"`
	DocumentID string `json:"document_id"`
	CaseID     string `json:"case_id"`
}

// MergePayload drives the document-level and case-level merge steps.
type MergePayload struct {
	DocumentID string `json:"document_id,omitempty"`
	CaseID     string `json:"case_id"`
}

// NewQueueMessage marshals a payload into an envelope.
func NewQueueMessage(msgType string, payload interface{}) (*QueueMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &QueueMessage{Type: msgType, Payload: data}, nil
}
