package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
)

// NativeStrategy reads the text layer embedded in the page bytes. Scanned
// pages have no text layer and yield an empty string.
type NativeStrategy struct {
	source interfaces.PageSource
}

var _ interfaces.TextStrategy = (*NativeStrategy)(nil)

func NewNativeStrategy(source interfaces.PageSource) *NativeStrategy {
	return &NativeStrategy{source: source}
}

func (s *NativeStrategy) Method() models.ExtractionMethod {
	return models.ExtractionMethodNative
}

func (s *NativeStrategy) Extract(ctx context.Context, page *models.PageRecord) (string, error) {
	if len(page.RawBytes) == 0 {
		return "", &ExtractionError{
			Stage:   StageNative,
			Message: fmt.Sprintf("page %s has no raw bytes", page.ID),
		}
	}

	// RawBytes always holds a single extracted page
	_, text, err := s.source.ExtractPage(page.RawBytes, 1)
	if err != nil {
		return "", &ExtractionError{
			Stage:     StageNative,
			Message:   "native text extraction failed",
			Retryable: false,
			Cause:     err,
		}
	}
	return strings.TrimSpace(text), nil
}

// LocalOCRStrategy runs the synchronous local OCR engine over the page
// bytes. A disabled engine yields an empty string so the chain moves on.
type LocalOCRStrategy struct {
	engine interfaces.LocalOCR
}

var _ interfaces.TextStrategy = (*LocalOCRStrategy)(nil)

func NewLocalOCRStrategy(engine interfaces.LocalOCR) *LocalOCRStrategy {
	return &LocalOCRStrategy{engine: engine}
}

func (s *LocalOCRStrategy) Method() models.ExtractionMethod {
	return models.ExtractionMethodLocalOCR
}

func (s *LocalOCRStrategy) Extract(ctx context.Context, page *models.PageRecord) (string, error) {
	if s.engine == nil || !s.engine.Enabled() {
		return "", nil
	}
	if len(page.RawBytes) == 0 {
		return "", &ExtractionError{
			Stage:   StageLocalOCR,
			Message: fmt.Sprintf("page %s has no raw bytes", page.ID),
		}
	}

	text, err := s.engine.ExtractText(ctx, page.RawBytes)
	if err != nil {
		return "", &ExtractionError{
			Stage:     StageLocalOCR,
			Message:   "local OCR failed",
			Retryable: true,
			Cause:     err,
		}
	}
	return strings.TrimSpace(text), nil
}

// Chain tries the synchronous text strategies in priority order and reports
// which one produced text. An empty result from every strategy means the
// page needs the asynchronous cloud OCR path.
type Chain struct {
	strategies []interfaces.TextStrategy
	logger     arbor.ILogger
}

func NewChain(logger arbor.ILogger, strategies ...interfaces.TextStrategy) *Chain {
	return &Chain{strategies: strategies, logger: logger}
}

// Resolve returns the first non-empty text and the method that produced it.
// Strategy errors are logged and treated as empty results; the chain never
// fails a page on its own.
func (c *Chain) Resolve(ctx context.Context, page *models.PageRecord) (string, models.ExtractionMethod) {
	for _, strategy := range c.strategies {
		if ctx.Err() != nil {
			return "", ""
		}

		text, err := strategy.Extract(ctx, page)
		if err != nil {
			c.logger.Warn().
				Str("page_id", page.ID).
				Str("method", string(strategy.Method())).
				Err(err).
				Msg("Text strategy failed, trying next")
			continue
		}
		if text != "" {
			return text, strategy.Method()
		}
	}
	return "", ""
}
