package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint.
type HTTPEmbedder struct {
	url        string
	apiKey     string
	model      string
	dim        int
	httpClient *http.Client
}

func NewHTTPEmbedder(url, apiKey, model string, dim int, timeout time.Duration) *HTTPEmbedder {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if dim <= 0 {
		dim = 384
	}
	return &HTTPEmbedder{
		url:    url,
		apiKey: apiKey,
		model:  model,
		dim:    dim,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (e *HTTPEmbedder) Dim() int { return e.dim }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed implements EmbeddingOracle.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, &EmbeddingError{Message: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, &EmbeddingError{Message: "create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, &EmbeddingError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &EmbeddingError{Message: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &EmbeddingError{Message: fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(respBody), 200))}
	}

	var apiResp embedResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &EmbeddingError{Message: "decode response", Err: err}
	}
	if apiResp.Error != nil {
		return nil, &EmbeddingError{Message: apiResp.Error.Message}
	}
	if len(apiResp.Data) == 0 || len(apiResp.Data[0].Embedding) == 0 {
		return nil, &EmbeddingError{Message: "empty embedding"}
	}
	return apiResp.Data[0].Embedding, nil
}
