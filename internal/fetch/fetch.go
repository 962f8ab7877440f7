// Package fetch turns a job's file reference into a local PDF path.
// Supported refs: file://path, bare filesystem paths, http(s):// URLs and
// s3://bucket/key objects.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfoutline/internal/storage"
)

// Temp file prefixes removed by CleanupTemps.
const (
	HTTPPrefix = "pdfdl-"
	S3Prefix   = "s3pdf-"
)

var ErrUnsupportedRef = errors.New("unsupported file reference")

// ObjectReader downloads one object from a bucket.
type ObjectReader interface {
	Download(ctx context.Context, key, password string) ([]byte, *storage.FileMetadata, error)
}

type Resolver struct {
	// Objects returns a reader bound to bucket ("" is the default bucket).
	// Nil disables s3 refs.
	Objects func(bucket string) ObjectReader
	HTTP    *http.Client
	TempDir string
}

// Local is a resolved file. Release removes it when it was downloaded.
type Local struct {
	Path string
	Temp bool
}

func (l *Local) Release() {
	if l == nil || !l.Temp {
		return
	}
	if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("file", l.Path).Msg("failed to remove temp file")
	}
}

// Resolve fetches ref. A "#..." fragment is ignored.
func (r *Resolver) Resolve(ctx context.Context, ref, password string) (*Local, error) {
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}
	switch {
	case strings.HasPrefix(ref, "s3://"):
		return r.fromS3(ctx, ref, password)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return r.fromHTTP(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		return r.fromDisk(strings.TrimPrefix(ref, "file://"))
	case strings.Contains(ref, "://"):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRef, ref)
	default:
		return r.fromDisk(ref)
	}
}

func (r *Resolver) fromDisk(path string) (*Local, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrUnsupportedRef)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &Local{Path: path}, nil
}

func (r *Resolver) fromHTTP(ctx context.Context, url string) (*Local, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := r.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return r.writeTemp(HTTPPrefix, resp.Body)
}

func (r *Resolver) fromS3(ctx context.Context, ref, password string) (*Local, error) {
	if r.Objects == nil {
		return nil, fmt.Errorf("%w: s3 storage is not configured", ErrUnsupportedRef)
	}
	bucket, key, err := storage.ParseRef(ref)
	if err != nil {
		return nil, err
	}
	data, meta, err := r.Objects(bucket).Download(ctx, key, password)
	if err != nil {
		return nil, err
	}
	local, err := r.writeTemp(S3Prefix, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	log.Info().Str("bucket", bucket).Str("key", key).Str("format", meta.Format).
		Str("file", filepath.Base(local.Path)).Msg("downloaded s3 pdf to temp")
	return local, nil
}

func (r *Resolver) writeTemp(prefix string, src io.Reader) (*Local, error) {
	f, err := os.CreateTemp(r.TempDir, prefix+"*.pdf")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, err
	}
	return &Local{Path: f.Name(), Temp: true}, nil
}

// HTTPStatusError is a non-200 answer from a source URL.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("download %s: http %d", e.URL, e.StatusCode)
}

// CleanupTemps removes this package's temp files in dir older than maxAge
// and returns how many were removed. An empty dir is os.TempDir().
func CleanupTemps(dir string, maxAge time.Duration) int {
	if dir == "" {
		dir = os.TempDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	now := time.Now()
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasPrefix(name, HTTPPrefix) || strings.HasPrefix(name, S3Prefix)) {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if os.Remove(filepath.Join(dir, name)) == nil {
			removed++
		}
	}
	return removed
}
