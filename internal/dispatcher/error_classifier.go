package dispatcher

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"

	"github.com/local/pdfoutline/internal/classify"
	"github.com/local/pdfoutline/internal/embed"
	"github.com/local/pdfoutline/internal/fetch"
	"github.com/local/pdfoutline/internal/outline"
	"github.com/local/pdfoutline/internal/pipeline"
	"github.com/local/pdfoutline/internal/storage"
)

type errorClass int

const (
	classUnknown errorClass = iota
	classTransient
	classFatal
)

func (c errorClass) String() string {
	switch c {
	case classTransient:
		return "transient"
	case classFatal:
		return "fatal"
	}
	return "unknown"
}

func classifyError(err error) errorClass {
	switch {
	case err == nil:
		return classUnknown
	case isFatalError(err):
		return classFatal
	case isTransientError(err):
		return classTransient
	}
	return classUnknown
}

// isTransientError reports errors worth retrying: rate limits, 5xx,
// timeouts and network failures.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, embed.ErrRateLimited) || errors.Is(err, embed.ErrUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var httpErr *embed.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Transient()
	}
	var dlErr *fetch.HTTPStatusError
	if errors.As(err, &dlErr) {
		return dlErr.StatusCode == 429 || dlErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "eof")
}

// isFatalError reports errors a retry cannot fix.
func isFatalError(err error) bool {
	if err == nil {
		return false
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return true
	}
	for _, target := range []error{
		pipeline.ErrNotPDF,
		pipeline.ErrInvalidPDF,
		pipeline.ErrPageMismatch,
		outline.ErrInputMismatch,
		outline.ErrInvalidProbability,
		outline.ErrInvalidThreshold,
		classify.ErrDimension,
		classify.ErrPageOutOfRange,
		embed.ErrBadResponse,
		storage.ErrPasswordRequired,
		storage.ErrInvalidRef,
		fetch.ErrUnsupportedRef,
		os.ErrNotExist,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	var httpErr *embed.HTTPError
	if errors.As(err, &httpErr) {
		return !httpErr.Transient()
	}
	var dlErr *fetch.HTTPStatusError
	if errors.As(err, &dlErr) {
		return dlErr.StatusCode >= 400 && dlErr.StatusCode < 500 && dlErr.StatusCode != 429
	}
	return false
}

// isEmbedderError reports failures that count against the embedder breaker.
func isEmbedderError(err error) bool {
	var httpErr *embed.HTTPError
	return errors.Is(err, embed.ErrRateLimited) ||
		errors.Is(err, embed.ErrUnavailable) ||
		(errors.As(err, &httpErr) && httpErr.Transient())
}
