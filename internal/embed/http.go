package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient talks to a JSON embedding endpoint.
type HTTPClient struct {
	http   *http.Client
	url    string
	apiKey string
	model  string
}

func NewHTTPClient(url, model, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{http: &http.Client{Timeout: timeout}, url: url, apiKey: apiKey, model: model}
}

func (c *HTTPClient) Name() string { return "http" }

// Model is used when a Request leaves Model empty.
func (c *HTTPClient) Model() string { return c.model }

type embedReq struct {
	Model  string      `json:"model"`
	Images []PageImage `json:"images"`
}

type embedResp struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dim        int         `json:"dim"`
}

func (c *HTTPClient) Embed(ctx context.Context, req Request) (Response, error) {
	if c.url == "" {
		return Response{}, fmt.Errorf("%w: EMBED_URL not set", ErrUnavailable)
	}
	model := req.Model
	if model == "" {
		model = c.model
	}

	body, err := json.Marshal(embedReq{Model: model, Images: req.Images})
	if err != nil {
		return Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if req.JobID != "" {
		httpReq.Header.Set("X-Job-ID", req.JobID)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Response{}, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Response{}, &HTTPError{StatusCode: resp.StatusCode, Body: string(snippet), Provider: c.Name()}
	}

	var r embedResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return Response{Embeddings: r.Embeddings, Dim: r.Dim}, nil
}
