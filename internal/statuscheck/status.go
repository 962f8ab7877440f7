// Package statuscheck reports the readiness of the services the outline
// pipeline depends on.
package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Pinger is anything with a cheap liveness probe (Redis, S3 bucket).
type Pinger interface {
	Ping(ctx context.Context) error
}

type Checker struct {
	redis      Pinger
	s3         Pinger
	embedURL   string
	httpClient *http.Client
	mupdf      func() bool
}

type Options struct {
	Redis      Pinger
	S3         Pinger
	EmbedURL   string
	HTTPClient *http.Client
	// MuPDF reports whether documents can be opened.
	MuPDF func() bool
}

type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type Summary struct {
	Redis    Status `json:"redis"`
	S3       Status `json:"s3"`
	Embedder Status `json:"embedder"`
	MuPDF    Status `json:"mupdf"`
}

// Healthy reports whether every subsystem is OK.
func (s Summary) Healthy() bool {
	return s.Redis.OK && s.S3.OK && s.Embedder.OK && s.MuPDF.OK
}

func New(opts Options) *Checker {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Checker{
		redis:      opts.Redis,
		s3:         opts.S3,
		embedURL:   strings.TrimSpace(opts.EmbedURL),
		httpClient: client,
		mupdf:      opts.MuPDF,
	}
}

func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis:    c.ping(ctx, c.redis, 2*time.Second, "client unavailable"),
		S3:       c.ping(ctx, c.s3, 5*time.Second, "Bucket not configured"),
		Embedder: c.checkEmbedder(ctx),
		MuPDF:    c.checkMuPDF(),
	}
}

func (c *Checker) ping(ctx context.Context, p Pinger, timeout time.Duration, missing string) Status {
	if p == nil {
		return Status{OK: false, Message: missing}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

// checkEmbedder treats any answer below 500 as reachable; the embed
// endpoint only accepts POST.
func (c *Checker) checkEmbedder(ctx context.Context) Status {
	if c.embedURL == "" {
		return Status{OK: false, Message: "URL not configured"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.embedURL, nil)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return Status{OK: false, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return Status{OK: true, Message: "Available"}
}

func (c *Checker) checkMuPDF() Status {
	if c.mupdf == nil || !c.mupdf() {
		return Status{OK: false, Message: "Library unavailable"}
	}
	return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
