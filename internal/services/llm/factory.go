package llm

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/common"
	"github.com/ternarybob/caseflow/internal/interfaces"
)

// NewLLMService creates the configured LLM provider. The claude provider
// has no embedding endpoint, so it is paired with a Gemini embedder; the
// Gemini API key remains required in that mode.
func NewLLMService(config *common.LLMConfig, logger arbor.ILogger) (interfaces.LLMService, error) {
	switch config.Provider {
	case "gemini", "":
		return NewGeminiService(config, logger)

	case "claude":
		claude, err := NewClaudeService(config, logger)
		if err != nil {
			return nil, err
		}

		embedder, err := NewGeminiService(config, logger)
		if err != nil {
			claude.Close()
			return nil, fmt.Errorf("claude provider needs a Gemini embedder for vectors: %w", err)
		}

		logger.Info().Msg("Using Claude for structured extraction with Gemini embeddings")
		return &hybridService{structured: claude, embedder: embedder}, nil

	default:
		return nil, fmt.Errorf("invalid LLM provider '%s': must be 'gemini' or 'claude'", config.Provider)
	}
}

// hybridService routes embeddings and completions to different providers.
type hybridService struct {
	structured *ClaudeService
	embedder   *GeminiService
}

var _ interfaces.LLMService = (*hybridService)(nil)

func (h *hybridService) Embed(ctx context.Context, text string) ([]float32, error) {
	return h.embedder.Embed(ctx, text)
}

func (h *hybridService) GenerateStructured(ctx context.Context, messages []interfaces.Message, schema map[string]interface{}) ([]byte, error) {
	return h.structured.GenerateStructured(ctx, messages, schema)
}

func (h *hybridService) GetMode() interfaces.LLMMode {
	return interfaces.LLMModeClaude
}

func (h *hybridService) Close() error {
	h.structured.Close()
	return h.embedder.Close()
}
