package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/common"
	"github.com/ternarybob/caseflow/internal/interfaces"
)

func newCloudServer(t *testing.T, handler http.HandlerFunc) *CloudClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewCloudClient(common.OCRConfig{
		CloudEndpoint: server.URL,
		CloudAPIKey:   "test-key",
	}, arbor.NewLogger())
}

func TestSubmitAnalysis(t *testing.T) {
	client := newCloudServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/analyses", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"job_id": "job_42"})
	})

	jobID, err := client.SubmitAnalysis(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "job_42", jobID)
}

func TestSubmitAnalysisUnsupportedDocument(t *testing.T) {
	client := newCloudServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte("encrypted documents are not supported"))
	})

	_, err := client.SubmitAnalysis(context.Background(), []byte("%PDF-1.4"))
	require.Error(t, err)

	var unsupported *interfaces.UnsupportedDocumentError
	assert.ErrorAs(t, err, &unsupported)
}

func TestGetAnalysisResultPassesToken(t *testing.T) {
	client := newCloudServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/analyses/job_42", r.URL.Path)
		assert.Equal(t, "tok-2", r.URL.Query().Get("next_token"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "succeeded",
			"lines":  []map[string]interface{}{{"text": "line a", "page": 1}},
		})
	})

	result, err := client.GetAnalysisResult(context.Background(), "job_42", "tok-2")
	require.NoError(t, err)
	assert.Equal(t, interfaces.AnalysisStatusSucceeded, result.Status)
	require.Len(t, result.Lines, 1)
	assert.Equal(t, "line a", result.Lines[0].Text)
	assert.Empty(t, result.NextToken)
}

func TestCollectTextDrainsPagination(t *testing.T) {
	client := newCloudServer(t, func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("next_token")
		response := map[string]interface{}{"status": "succeeded"}

		if token == "" {
			response["lines"] = []map[string]interface{}{{"text": "alpha"}, {"text": "beta"}}
			response["next_token"] = "page-2"
		} else {
			response["lines"] = []map[string]interface{}{{"text": "gamma"}}
		}
		json.NewEncoder(w).Encode(response)
	})

	text, err := client.CollectText(context.Background(), "job_42")
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta\ngamma", text)
}

func TestGetAnalysisResultInProgress(t *testing.T) {
	client := newCloudServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "in_progress"})
	})

	result, err := client.GetAnalysisResult(context.Background(), "job_42", "")
	require.NoError(t, err)
	assert.Equal(t, interfaces.AnalysisStatusInProgress, result.Status)
}
