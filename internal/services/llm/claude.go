package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/common"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"golang.org/x/time/rate"
)

// ClaudeService implements structured completions using the Anthropic API.
// Claude has no embedding endpoint; the factory pairs this service with a
// Gemini embedder.
type ClaudeService struct {
	config  *common.LLMConfig
	logger  arbor.ILogger
	client  *anthropic.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// convertMessagesToClaude converts []interfaces.Message to Claude
// MessageParam format. System messages are extracted for the System
// parameter.
func convertMessagesToClaude(messages []interfaces.Message) ([]anthropic.MessageParam, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("messages cannot be empty")
	}

	hasUserMessage := false
	for _, msg := range messages {
		if msg.Role == "user" {
			hasUserMessage = true
			break
		}
	}
	if !hasUserMessage {
		return nil, "", fmt.Errorf("at least one message must have role 'user'")
	}

	claudeMessages := make([]anthropic.MessageParam, 0, len(messages))
	var systemText string
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			if systemText == "" {
				systemText = msg.Content
			}
		case "assistant":
			claudeMessages = append(claudeMessages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		default:
			claudeMessages = append(claudeMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}

	return claudeMessages, systemText, nil
}

// NewClaudeService creates a new Claude LLM service instance.
func NewClaudeService(config *common.LLMConfig, logger arbor.ILogger) (*ClaudeService, error) {
	if config.ClaudeAPIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY or llm.claude_api_key in config)")
	}

	if config.Model == "" {
		config.Model = "claude-sonnet-4-20250514"
	}

	timeout := common.ParseDuration(config.Timeout, 60*time.Second)

	client := anthropic.NewClient(
		option.WithAPIKey(config.ClaudeAPIKey),
	)

	service := &ClaudeService{
		config:  config,
		logger:  logger,
		client:  &client,
		limiter: newRequestLimiter(config.RequestsPerMin),
		timeout: timeout,
	}

	logger.Info().
		Str("model", config.Model).
		Int("requests_per_min", config.RequestsPerMin).
		Msg("Claude LLM service initialized")

	return service, nil
}

// Embed is unsupported on the Anthropic API.
func (s *ClaudeService) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("claude provider has no embedding endpoint")
}

// GenerateStructured produces a JSON document conforming to the schema.
func (s *ClaudeService) GenerateStructured(ctx context.Context, messages []interfaces.Message, schema map[string]interface{}) ([]byte, error) {
	claudeMessages, systemText, err := convertMessagesToClaude(messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages to Claude format: %w", err)
	}

	instruction, err := schemaInstruction(schema)
	if err != nil {
		return nil, err
	}
	if systemText != "" {
		systemText += "\n\n"
	}
	systemText += instruction

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.config.Model),
		MaxTokens: 8192,
		Messages:  claudeMessages,
		System: []anthropic.TextBlockParam{
			{Text: systemText},
		},
	}
	if s.config.Temperature > 0 {
		params.Temperature = anthropic.Float(s.config.Temperature)
	}

	var raw string
	for attempt := 0; ; attempt++ {
		raw, err = s.generate(ctx, params)
		if err == nil {
			break
		}
		if !isRateLimitError(err) || attempt >= 3 {
			return nil, err
		}

		backoff := rateLimitBackoff(attempt)
		s.logger.Warn().
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Claude quota rejection, backing off")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return extractJSON(raw)
}

func (s *ClaudeService) generate(ctx context.Context, params anthropic.MessageNewParams) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.limiter.Wait(timeoutCtx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}

	resp, err := s.client.Messages.New(timeoutCtx, params)
	if err != nil {
		return "", fmt.Errorf("Claude API call failed: %w", err)
	}

	var response strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			response.WriteString(block.Text)
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from Claude API")
	}
	return response.String(), nil
}

// GetMode returns the provider identity behind this service.
func (s *ClaudeService) GetMode() interfaces.LLMMode {
	return interfaces.LLMModeClaude
}

// Close releases provider resources.
func (s *ClaudeService) Close() error {
	s.client = nil
	return nil
}
