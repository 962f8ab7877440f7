package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdfoutline/internal/outline"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, outline.ThresholdPipeline, cfg.Outline.HeadingThreshold)
	assert.Equal(t, outline.NewConfig(outline.ThresholdPipeline), cfg.Outline.EngineConfig())
	assert.Equal(t, 120.0, cfg.Render.DPI)
	assert.Equal(t, 8, cfg.Embed.BatchSize)
	assert.Equal(t, 2, cfg.Embed.MaxInflight)
	assert.Equal(t, "models/donut_head.msgpack", cfg.Classifier.HeadPath)
	assert.Equal(t, "server", cfg.Server.RunMode)
	assert.Equal(t, "/app/input", cfg.Batch.InputDir)
	assert.Equal(t, "/app/output", cfg.Batch.OutputDir)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HEADING_THRESHOLD", "0.9")
	t.Setenv("REPEAT_MIN_COUNT", "4")
	t.Setenv("X_BUCKET_WIDTH", "3.5")
	t.Setenv("RUN_MODE", "BATCH")
	t.Setenv("JOB_TIMEOUT", "90s")
	t.Setenv("RETRY_MAX_RETRIES", "5")

	cfg := FromEnv()
	assert.Equal(t, outline.ThresholdStrict, cfg.Outline.HeadingThreshold)
	assert.Equal(t, 4, cfg.Outline.RepeatMinCount)
	assert.Equal(t, 3.5, cfg.Outline.XBucketWidth)
	assert.Equal(t, "batch", cfg.Server.RunMode)
	assert.Equal(t, 90*time.Second, cfg.Worker.JobTimeout)
	assert.Equal(t, uint64(5), cfg.Worker.RetryMaxRetries)
}

func TestFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("HEADING_THRESHOLD", "high")
	t.Setenv("EMBED_BATCH_SIZE", "many")
	t.Setenv("EMBED_TIMEOUT", "soon")

	cfg := FromEnv()
	assert.Equal(t, outline.ThresholdPipeline, cfg.Outline.HeadingThreshold)
	assert.Equal(t, 8, cfg.Embed.BatchSize)
	assert.Equal(t, 60*time.Second, cfg.Embed.Timeout)
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("INPUT_DIR=/data/in\nRENDER_WORKERS=6\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("INPUT_DIR")
		os.Unsetenv("RENDER_WORKERS")
	})

	cfg := Load(path)
	assert.Equal(t, "/data/in", cfg.Batch.InputDir)
	assert.Equal(t, 6, cfg.Render.Workers)
}

func TestLoadMissingFile(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		in       string
		expected bool
	}{
		{"1", true},
		{"true", true},
		{" YES ", true},
		{"on", true},
		{"0", false},
		{"", false},
		{"nope", false},
	}
	for _, tt := range tests {
		if got := parseBool(tt.in); got != tt.expected {
			t.Errorf("parseBool(%q) = %v, want %v", tt.in, got, tt.expected)
		}
	}
}
