// -----------------------------------------------------------------------
// Cloud OCR - client for the asynchronous document-analysis service.
// Submit returns an opaque job id; results are polled and paginated by a
// continuation token.
// -----------------------------------------------------------------------

package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/common"
	"github.com/ternarybob/caseflow/internal/httpclient"
	"github.com/ternarybob/caseflow/internal/interfaces"
)

// CloudClient implements CloudOCR over HTTP.
type CloudClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.CloudOCR = (*CloudClient)(nil)

type submitResponse struct {
	JobID string `json:"job_id"`
}

type analysisResponse struct {
	Status    string               `json:"status"`
	Lines     []interfaces.OCRLine `json:"lines"`
	NextToken string               `json:"next_token"`
	Error     string               `json:"error"`
}

// NewCloudClient creates a cloud OCR client from configuration.
func NewCloudClient(config common.OCRConfig, logger arbor.ILogger) *CloudClient {
	return &CloudClient{
		endpoint: strings.TrimRight(config.CloudEndpoint, "/"),
		apiKey:   config.CloudAPIKey,
		client:   httpclient.NewDefaultHTTPClient(60 * time.Second),
		logger:   logger,
	}
}

// SubmitAnalysis uploads the page bytes and returns the analysis job id.
// An HTTP 422 means the service can never process this document and is
// surfaced as a permanent UnsupportedDocumentError.
func (c *CloudClient) SubmitAnalysis(ctx context.Context, documentBytes []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/analyses", bytes.NewReader(documentBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("analysis submit failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read submit response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		// proceed
	case http.StatusUnprocessableEntity:
		return "", &interfaces.UnsupportedDocumentError{Reason: strings.TrimSpace(string(body))}
	default:
		return "", fmt.Errorf("analysis submit returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed submitResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse submit response: %w", err)
	}
	if parsed.JobID == "" {
		return "", fmt.Errorf("analysis submit returned empty job id")
	}

	c.logger.Debug().Str("job_id", parsed.JobID).Msg("Cloud analysis submitted")
	return parsed.JobID, nil
}

// GetAnalysisResult fetches one page of results for a job. Callers pass
// the NextToken from the previous page until it comes back empty.
func (c *CloudClient) GetAnalysisResult(ctx context.Context, jobID string, nextToken string) (*interfaces.AnalysisResult, error) {
	endpoint := fmt.Sprintf("%s/v1/analyses/%s", c.endpoint, url.PathEscape(jobID))
	if nextToken != "" {
		endpoint += "?next_token=" + url.QueryEscape(nextToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create result request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis result fetch failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read result response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		// proceed
	case http.StatusUnprocessableEntity:
		return nil, &interfaces.UnsupportedDocumentError{Reason: strings.TrimSpace(string(body))}
	default:
		return nil, fmt.Errorf("analysis result returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed analysisResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse result response: %w", err)
	}

	result := &interfaces.AnalysisResult{
		Lines:     parsed.Lines,
		NextToken: parsed.NextToken,
		Error:     parsed.Error,
	}

	switch parsed.Status {
	case "succeeded", "SUCCEEDED":
		result.Status = interfaces.AnalysisStatusSucceeded
	case "failed", "FAILED":
		result.Status = interfaces.AnalysisStatusFailed
	default:
		result.Status = interfaces.AnalysisStatusInProgress
	}

	return result, nil
}

// CollectText drains all result pages of a completed job into one text
// blob, lines joined in service order.
func (c *CloudClient) CollectText(ctx context.Context, jobID string) (string, error) {
	var lines []string
	token := ""

	for {
		result, err := c.GetAnalysisResult(ctx, jobID, token)
		if err != nil {
			return "", err
		}
		if result.Status != interfaces.AnalysisStatusSucceeded {
			return "", fmt.Errorf("job %s is not complete (status %s)", jobID, result.Status)
		}

		for _, line := range result.Lines {
			lines = append(lines, line.Text)
		}

		if result.NextToken == "" {
			break
		}
		token = result.NextToken
	}

	return strings.Join(lines, "\n"), nil
}

func (c *CloudClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
}
