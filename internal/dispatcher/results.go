package dispatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfoutline/internal/outline"
	"github.com/local/pdfoutline/internal/storage"
)

type ResultSaver interface {
	Save(ctx context.Context, jobID string, doc []byte) error
}

type ObjectWriter interface {
	Upload(ctx context.Context, key string, data []byte, password string, meta map[string]string) error
}

// ResultSink persists a finished outline: always to the result store, then
// next to the source object for s3 refs or under ResultDir otherwise.
type ResultSink struct {
	Results   ResultSaver
	Objects   func(bucket string) ObjectWriter
	ResultDir string
}

// SavedResult locates the written outline.
type SavedResult struct {
	S3URL     string `json:"result_s3_url,omitempty"`
	LocalPath string `json:"result_local_path,omitempty"`
}

func (s *ResultSink) Save(ctx context.Context, job Job, doc outline.Document) (SavedResult, error) {
	body, err := doc.MarshalIndent()
	if err != nil {
		return SavedResult{}, fmt.Errorf("encode outline: %w", err)
	}
	if s.Results != nil {
		if err := s.Results.Save(ctx, job.JobID, body); err != nil {
			return SavedResult{}, err
		}
	}

	if strings.HasPrefix(job.FilePath, "s3://") && s.Objects != nil {
		return s.saveS3(ctx, job, body)
	}
	return s.saveLocal(job, body)
}

func (s *ResultSink) saveS3(ctx context.Context, job Job, body []byte) (SavedResult, error) {
	bucket, key, err := storage.ParseRef(job.FilePath)
	if err != nil {
		return SavedResult{}, err
	}
	outKey := storage.OutlineKey(key)
	meta := map[string]string{
		"job_id":  job.JobID,
		"source":  "pdfoutline",
		"format":  "outline_json",
		"created": time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.Objects(bucket).Upload(ctx, outKey, body, job.Password, meta); err != nil {
		return SavedResult{}, err
	}
	url := fmt.Sprintf("s3://%s/%s", bucket, outKey)
	log.Info().Str("job_id", job.JobID).Str("s3_url", url).Msg("outline uploaded")
	return SavedResult{S3URL: url}, nil
}

func (s *ResultSink) saveLocal(job Job, body []byte) (SavedResult, error) {
	dir := s.ResultDir
	if dir == "" {
		dir = filepath.Join("data", "results")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return SavedResult{}, err
	}
	p := LocalResultPath(dir, job.JobID)
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return SavedResult{}, err
	}
	return SavedResult{LocalPath: p}, nil
}

// LocalResultPath is "<dir>/<jobID>_outline.json".
func LocalResultPath(dir, jobID string) string {
	return filepath.Join(dir, jobID+"_outline.json")
}
