package extraction

import "fmt"

// Stage names the pipeline step an extraction error came from.
type Stage string

const (
	StageNative     Stage = "native"
	StageLocalOCR   Stage = "local_ocr"
	StageCloudOCR   Stage = "cloud_ocr"
	StageEmbedding  Stage = "embedding"
	StageStructured Stage = "structured"
)

// ExtractionError is a structured failure from one extraction stage.
// Retryable distinguishes transient provider trouble from permanent
// page-level failures.
type ExtractionError struct {
	Stage     Stage
	Message   string
	Retryable bool
	Cause     error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the failed operation may succeed on a later
// attempt.
func (e *ExtractionError) IsRetryable() bool {
	return e.Retryable
}
