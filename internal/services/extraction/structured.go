// -----------------------------------------------------------------------
// Structured extraction - turns page text plus its context window into a
// schema-validated clinical/claims bundle via the LLM service.
// -----------------------------------------------------------------------

package extraction

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
)

const extractionSystemPrompt = `You are a medical records analyst extracting structured data from legal case documents.

Rules:
- Extract only facts stated on the CURRENT PAGE. The context pages are for disambiguation only; never copy resources from them.
- Every diagnosis must carry its ICD-10 code in the "code" field. Omit a diagnosis you cannot code.
- Never invent names, dates, codes or amounts. Omit a field rather than guess it.
- Dates use YYYY-MM-DD; partial dates keep whatever precision the page gives.
- Assign each resource a short stable id unique within your response (e.g. "patient-1", "cond-1").
- Return an empty object {} when the page contains no extractable clinical or claims data.`

// Extractor implements StructuredExtractor on top of the LLM service.
type Extractor struct {
	llm    interfaces.LLMService
	logger arbor.ILogger
	retry  RetryConfig
}

var _ interfaces.StructuredExtractor = (*Extractor)(nil)

func NewExtractor(llm interfaces.LLMService, logger arbor.ILogger) *Extractor {
	return &Extractor{
		llm:    llm,
		logger: logger,
		retry:  DefaultLLMRetryConfig,
	}
}

// ExtractBundle asks the LLM for a bundle conforming to the bundle schema,
// validates the output, and parses it. Provider errors and schema
// mismatches are retryable; they leave the page for the next pass.
func (e *Extractor) ExtractBundle(ctx context.Context, pageText, contextWindow string) (*models.Bundle, error) {
	if strings.TrimSpace(pageText) == "" {
		return nil, &ExtractionError{
			Stage:   StageStructured,
			Message: "page text is empty",
		}
	}

	schema := bundleSchema()
	messages := []interfaces.Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: buildUserPrompt(pageText, contextWindow)},
	}

	raw, err := WithRetry(ctx, e.retry, func(ctx context.Context) ([]byte, error) {
		data, genErr := e.llm.GenerateStructured(ctx, messages, schema)
		if genErr != nil {
			return nil, &ExtractionError{
				Stage:     StageStructured,
				Message:   "structured generation failed",
				Retryable: true,
				Cause:     genErr,
			}
		}
		if valErr := validateAgainstSchema(schema, data); valErr != nil {
			return nil, &ExtractionError{
				Stage:     StageStructured,
				Message:   "generated bundle rejected",
				Retryable: true,
				Cause:     valErr,
			}
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	var bundle models.Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, &ExtractionError{
			Stage:     StageStructured,
			Message:   "failed to parse validated bundle",
			Retryable: true,
			Cause:     err,
		}
	}

	e.logger.Debug().
		Int("patients", len(bundle.Patients)).
		Int("conditions", len(bundle.Conditions)).
		Int("encounters", len(bundle.Encounters)).
		Int("reports", len(bundle.DiagnosticReports)).
		Int("claims", len(bundle.Claims)).
		Msg("Bundle extracted")

	return &bundle, nil
}

func buildUserPrompt(pageText, contextWindow string) string {
	var builder strings.Builder
	if strings.TrimSpace(contextWindow) != "" {
		builder.WriteString("CONTEXT PAGES (for disambiguation only):\n\n")
		builder.WriteString(contextWindow)
		builder.WriteString("\n\n")
	}
	builder.WriteString("CURRENT PAGE:\n\n")
	builder.WriteString(pageText)
	return builder.String()
}
