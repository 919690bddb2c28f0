// -----------------------------------------------------------------------
// Local OCR - synchronous text extraction by shelling out to tesseract.
// Preferred over the cloud path when enabled: no network, no polling.
// -----------------------------------------------------------------------

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/common"
	"github.com/ternarybob/caseflow/internal/interfaces"
)

// TesseractOCR implements LocalOCR by invoking the tesseract binary with
// stdin/stdout pipes.
type TesseractOCR struct {
	binary   string
	language string
	enabled  bool
	logger   arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.LocalOCR = (*TesseractOCR)(nil)

// NewTesseractOCR creates a local OCR service. When the configured binary
// is not on PATH the service reports itself disabled rather than failing
// every page.
func NewTesseractOCR(config common.OCRConfig, logger arbor.ILogger) *TesseractOCR {
	binary := config.LocalBinary
	if binary == "" {
		binary = "tesseract"
	}
	language := config.LocalLanguage
	if language == "" {
		language = "eng"
	}

	enabled := config.LocalEnabled
	if enabled {
		if _, err := exec.LookPath(binary); err != nil {
			logger.Warn().
				Str("binary", binary).
				Msg("Local OCR enabled but binary not found, disabling")
			enabled = false
		}
	}

	return &TesseractOCR{
		binary:   binary,
		language: language,
		enabled:  enabled,
		logger:   logger,
	}
}

// Enabled reports whether the local engine is usable.
func (t *TesseractOCR) Enabled() bool {
	return t.enabled
}

// ExtractText runs tesseract over the page image and returns the plain
// text output.
func (t *TesseractOCR) ExtractText(ctx context.Context, pageBytes []byte) (string, error) {
	if !t.enabled {
		return "", fmt.Errorf("local OCR is disabled")
	}

	cmd := exec.CommandContext(ctx, t.binary, "stdin", "stdout", "-l", t.language)
	cmd.Stdin = bytes.NewReader(pageBytes)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return strings.TrimSpace(stdout.String()), nil
}
