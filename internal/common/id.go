package common

import (
	"fmt"

	"github.com/google/uuid"
)

// NewCaseID generates a unique case ID with the "case_" prefix
func NewCaseID() string {
	return "case_" + uuid.New().String()
}

// NewDocumentID generates a unique document ID with the "doc_" prefix
func NewDocumentID() string {
	return "doc_" + uuid.New().String()
}

// NewPageID generates a unique page record ID with the "page_" prefix
func NewPageID() string {
	return "page_" + uuid.New().String()
}

// NewEmbeddingID generates a unique page embedding ID with the "emb_" prefix
func NewEmbeddingID() string {
	return "emb_" + uuid.New().String()
}

// EmbeddingIDFor derives the stable embedding ID for a document page, so
// re-embedding a page replaces its record instead of duplicating it.
func EmbeddingIDFor(documentID string, pageNumber int) string {
	return fmt.Sprintf("emb_%s_%d", documentID, pageNumber)
}
