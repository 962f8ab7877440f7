package embed

import (
	"context"
	"errors"
	"fmt"
)

// PageImage is one rendered page sent for embedding.
type PageImage struct {
	Page int    `json:"page"`
	MIME string `json:"mime"`
	Data string `json:"data"` // base64
}

// Request asks the embedding service for one vector per image.
type Request struct {
	JobID  string
	Model  string
	Images []PageImage
}

// Response carries vectors aligned with Request.Images.
type Response struct {
	Embeddings [][]float64
	Dim        int
}

// Client is a page embedding backend.
type Client interface {
	Name() string
	Embed(ctx context.Context, req Request) (Response, error)
}

var (
	ErrRateLimited = errors.New("rate_limited")
	ErrUnavailable = errors.New("embedder unavailable")
	ErrBadResponse = errors.New("malformed embedding response")
)

// HTTPError is a non-2xx answer from the embedding service.
type HTTPError struct {
	StatusCode int
	Body       string
	Provider   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.Provider, e.Body)
}

// Transient reports whether retrying the same request may succeed.
func (e *HTTPError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }
