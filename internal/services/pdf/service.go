// -----------------------------------------------------------------------
// PDF page source - page counting, single-page splitting and native text
// extraction for the page pipeline. Uses pdfcpu for structure operations
// and ledongthuc/pdf for text, which pdfcpu does not provide.
// -----------------------------------------------------------------------

package pdf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	ledongthuc "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/interfaces"
)

// Service implements the PageSource interface.
type Service struct {
	logger arbor.ILogger
	conf   *model.Configuration
}

// Compile-time interface assertion
var _ interfaces.PageSource = (*Service)(nil)

// NewService creates a new PDF page source
func NewService(logger arbor.ILogger) *Service {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	return &Service{
		logger: logger,
		conf:   conf,
	}
}

// PageCount reports how many pages the document bytes contain. Multi-page
// TIFF scans are counted by walking the IFD chain since pdfcpu only
// understands PDF.
func (s *Service) PageCount(documentBytes []byte) (int, error) {
	if isTIFF(documentBytes) {
		return countTIFFPages(documentBytes)
	}

	count, err := api.PageCount(bytes.NewReader(documentBytes), s.conf)
	if err != nil {
		return 0, fmt.Errorf("failed to count PDF pages: %w", err)
	}
	if count < 1 {
		return 0, fmt.Errorf("document contains no pages")
	}
	return count, nil
}

// ExtractPage returns the single-page bytes for pageNumber (1-indexed) and
// any native text embedded in that page. Scanned pages yield empty text,
// which sends them down the OCR path.
func (s *Service) ExtractPage(documentBytes []byte, pageNumber int) ([]byte, string, error) {
	if pageNumber < 1 {
		return nil, "", fmt.Errorf("page number must be positive, got %d", pageNumber)
	}

	if isTIFF(documentBytes) {
		// TIFF pages are never split; OCR services accept the container
		// with a page selector and image scans carry no native text.
		return documentBytes, "", nil
	}

	pageBytes, err := s.extractSinglePage(documentBytes, pageNumber)
	if err != nil {
		return nil, "", err
	}

	text := s.nativePageText(documentBytes, pageNumber)
	return pageBytes, text, nil
}

// extractSinglePage trims the document down to one page using pdfcpu.
func (s *Service) extractSinglePage(documentBytes []byte, pageNumber int) ([]byte, error) {
	var out bytes.Buffer
	selected := []string{fmt.Sprintf("%d", pageNumber)}

	if err := api.Trim(bytes.NewReader(documentBytes), &out, selected, s.conf); err != nil {
		return nil, fmt.Errorf("failed to extract page %d: %w", pageNumber, err)
	}
	return out.Bytes(), nil
}

// nativePageText pulls the embedded text layer from one page. The pdf
// library panics on some malformed documents, so failures of any kind are
// treated as "no native text" rather than page failures.
func (s *Service) nativePageText(documentBytes []byte, pageNumber int) (text string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn().
				Int("page", pageNumber).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Native text extraction panicked, treating page as scanned")
			text = ""
		}
	}()

	reader, err := ledongthuc.NewReader(bytes.NewReader(documentBytes), int64(len(documentBytes)))
	if err != nil {
		s.logger.Debug().Err(err).Int("page", pageNumber).Msg("Failed to open PDF for text extraction")
		return ""
	}

	if pageNumber > reader.NumPage() {
		return ""
	}

	page := reader.Page(pageNumber)
	if page.V.IsNull() {
		return ""
	}

	content, err := page.GetPlainText(nil)
	if err != nil {
		s.logger.Debug().Err(err).Int("page", pageNumber).Msg("Failed to read page text layer")
		return ""
	}

	return strings.TrimSpace(content)
}

// isTIFF checks the TIFF magic: "II*\0" (little endian) or "MM\0*" (big
// endian).
func isTIFF(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	little := data[0] == 'I' && data[1] == 'I' && data[2] == 42 && data[3] == 0
	big := data[0] == 'M' && data[1] == 'M' && data[2] == 0 && data[3] == 42
	return little || big
}

// countTIFFPages walks the IFD chain. Each IFD is one page.
func countTIFFPages(data []byte) (int, error) {
	var order binary.ByteOrder
	switch {
	case data[0] == 'I':
		order = binary.LittleEndian
	case data[0] == 'M':
		order = binary.BigEndian
	default:
		return 0, fmt.Errorf("invalid TIFF header")
	}

	offset := order.Uint32(data[4:8])
	count := 0

	// A broken offset chain could loop; cap the walk well above any real
	// scanned document.
	const maxPages = 10000

	for offset != 0 {
		if count >= maxPages {
			return 0, fmt.Errorf("TIFF IFD chain exceeds %d entries", maxPages)
		}
		if int64(offset)+2 > int64(len(data)) {
			return 0, fmt.Errorf("TIFF IFD offset %d out of bounds", offset)
		}

		entries := order.Uint16(data[offset : offset+2])
		next := int64(offset) + 2 + int64(entries)*12
		if next+4 > int64(len(data)) {
			return 0, fmt.Errorf("truncated TIFF IFD at offset %d", offset)
		}

		count++
		offset = order.Uint32(data[next : next+4])
	}

	if count == 0 {
		return 0, fmt.Errorf("TIFF contains no pages")
	}
	return count, nil
}
