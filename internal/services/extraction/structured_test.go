package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/interfaces"
)

type scriptedLLM struct {
	outputs []string
	errs    []error
	calls   int
	lastMsg []interfaces.Message
}

func (s *scriptedLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("not used")
}

func (s *scriptedLLM) GenerateStructured(ctx context.Context, messages []interfaces.Message, schema map[string]interface{}) ([]byte, error) {
	s.lastMsg = messages
	idx := s.calls
	s.calls++
	if idx >= len(s.outputs) {
		idx = len(s.outputs) - 1
	}
	if s.errs != nil && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	return []byte(s.outputs[idx]), nil
}

func (s *scriptedLLM) GetMode() interfaces.LLMMode { return interfaces.LLMModeGemini }
func (s *scriptedLLM) Close() error                { return nil }

func newExtractor(llm interfaces.LLMService) *Extractor {
	ext := NewExtractor(llm, arbor.NewLogger())
	ext.retry = RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1.0}
	return ext
}

const validBundleJSON = `{
	"patients": [{"id": "patient-1", "family_name": "Doe", "birth_date": "1961-03-04"}],
	"conditions": [{"id": "cond-1", "patient_id": "patient-1", "code": "E11.9", "display": "Type 2 diabetes"}],
	"claims": [{"id": "claim-1", "total": 240.50, "line_items": [{"sequence": 1, "service": "Office visit", "amount": 240.50}]}]
}`

func TestExtractBundleParsesValidOutput(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{validBundleJSON}}
	ext := newExtractor(llm)

	bundle, err := ext.ExtractBundle(context.Background(), "page text about diabetes", "")
	require.NoError(t, err)
	require.Len(t, bundle.Patients, 1)
	assert.Equal(t, "Doe", bundle.Patients[0].FamilyName)
	require.Len(t, bundle.Conditions, 1)
	assert.Equal(t, "E11.9", bundle.Conditions[0].Code)
	require.Len(t, bundle.Claims, 1)
	assert.Equal(t, 240.50, bundle.Claims[0].LineItems[0].Amount)
}

func TestExtractBundleEmptyObjectMeansNoResources(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{`{}`}}
	ext := newExtractor(llm)

	bundle, err := ext.ExtractBundle(context.Background(), "cover letter with no clinical data", "")
	require.NoError(t, err)
	assert.True(t, bundle.IsEmpty())
}

func TestExtractBundleRejectsSchemaViolations(t *testing.T) {
	// Condition without its required ICD-10 code
	invalid := `{"conditions": [{"id": "cond-1", "display": "diabetes"}]}`
	llm := &scriptedLLM{outputs: []string{invalid}}
	ext := newExtractor(llm)

	_, err := ext.ExtractBundle(context.Background(), "page text", "")
	require.Error(t, err)

	var extErr *ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, StageStructured, extErr.Stage)
	assert.True(t, extErr.Retryable)
	assert.Equal(t, 2, llm.calls) // schema mismatch is retried once
}

func TestExtractBundleRetriesProviderErrors(t *testing.T) {
	llm := &scriptedLLM{
		outputs: []string{"", validBundleJSON},
		errs:    []error{errors.New("deadline exceeded"), nil},
	}
	ext := newExtractor(llm)

	bundle, err := ext.ExtractBundle(context.Background(), "page text", "")
	require.NoError(t, err)
	assert.False(t, bundle.IsEmpty())
	assert.Equal(t, 2, llm.calls)
}

func TestExtractBundleRequiresPageText(t *testing.T) {
	ext := newExtractor(&scriptedLLM{outputs: []string{`{}`}})

	_, err := ext.ExtractBundle(context.Background(), "   ", "context")
	require.Error(t, err)
}

func TestExtractBundlePromptsSeparateContextFromPage(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{`{}`}}
	ext := newExtractor(llm)

	_, err := ext.ExtractBundle(context.Background(), "current page body", "--- Page 2 ---\nneighbour body")
	require.NoError(t, err)

	require.Len(t, llm.lastMsg, 2)
	assert.Equal(t, "system", llm.lastMsg[0].Role)
	assert.Contains(t, llm.lastMsg[0].Content, "ICD-10")
	assert.Equal(t, "user", llm.lastMsg[1].Role)
	assert.Contains(t, llm.lastMsg[1].Content, "CONTEXT PAGES")
	assert.Contains(t, llm.lastMsg[1].Content, "CURRENT PAGE")
	assert.Contains(t, llm.lastMsg[1].Content, "current page body")
}
