// -----------------------------------------------------------------------
// Shared provider helpers for the LLM services: rate limiting, rate-limit
// error detection and JSON payload extraction from model output.
// -----------------------------------------------------------------------

package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// newRequestLimiter builds a client-side limiter from a requests-per-minute
// budget. A zero or negative budget disables limiting.
func newRequestLimiter(requestsPerMin int) *rate.Limiter {
	if requestsPerMin <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerMin)/60.0), 1)
}

// isRateLimitError checks whether a provider error is a quota rejection.
// Matches 429 status codes and RESOURCE_EXHAUSTED errors.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "quota")
}

// rateLimitBackoff returns the wait before retrying a quota rejection.
func rateLimitBackoff(attempt int) time.Duration {
	backoff := 45 * time.Second
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * 1.5)
	}
	if backoff > 90*time.Second {
		backoff = 90 * time.Second
	}
	return backoff
}

// extractJSON pulls the JSON document out of model output. Models sometimes
// wrap structured replies in markdown fences or add prose around them.
func extractJSON(output string) ([]byte, error) {
	trimmed := strings.TrimSpace(output)

	// Strip markdown code fences
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	// Fall back to the outermost object braces
	if !strings.HasPrefix(trimmed, "{") {
		start := strings.Index(trimmed, "{")
		end := strings.LastIndex(trimmed, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("model output contains no JSON object")
		}
		trimmed = trimmed[start : end+1]
	}

	if !json.Valid([]byte(trimmed)) {
		return nil, fmt.Errorf("model output is not valid JSON")
	}
	return []byte(trimmed), nil
}

// schemaInstruction renders the JSON schema as a prompt suffix for
// providers without native schema constraints.
func schemaInstruction(schema map[string]interface{}) (string, error) {
	encoded, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode schema: %w", err)
	}
	return "Respond with a single JSON object conforming to this JSON schema. " +
		"Output only the JSON, no prose or markdown fences.\n\n" + string(encoded), nil
}
