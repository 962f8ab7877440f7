package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct{ events []axiom.Event }

func (r *recordingSink) Send(ev axiom.Event) { r.events = append(r.events, ev) }

func TestInitWritesJSONToConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "app.log")

	require.NoError(t, Init(Options{Level: "debug", File: file, MaxSizeMB: 1, Console: &console}))
	t.Cleanup(Close)

	log.Info().Str("job_id", "j1").Msg("outline ready")

	var ev map[string]interface{}
	require.NoError(t, json.Unmarshal(console.Bytes(), &ev))
	assert.Equal(t, "outline ready", ev["message"])
	assert.Equal(t, "j1", ev["job_id"])
	assert.Equal(t, DefaultService, ev["service"])

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "outline ready")
}

func TestInitUnknownLevelFallsBackToInfo(t *testing.T) {
	var console bytes.Buffer
	require.NoError(t, Init(Options{Level: "chatty", Console: &console}))

	log.Debug().Msg("hidden")
	assert.Empty(t, console.String())

	batchLog := Component("batch")
	batchLog.Info().Msg("shown")
	assert.Contains(t, console.String(), `"component":"batch"`)
}

func TestAxiomWriterDropsDebugAndTagsService(t *testing.T) {
	sink := &recordingSink{}
	w := &axiomWriter{sink: sink, service: "pdfoutline"}

	_, err := w.Write([]byte(`{"level":"debug","message":"noisy"}`))
	require.NoError(t, err)
	_, err = w.Write([]byte(`{"level":"warn","message":"slow page"}`))
	require.NoError(t, err)
	_, err = w.Write([]byte("not json"))
	require.NoError(t, err)

	require.Len(t, sink.events, 2)
	assert.Equal(t, "slow page", sink.events[0]["message"])
	assert.Equal(t, "pdfoutline", sink.events[0]["service"])
	assert.Equal(t, "not json", sink.events[1]["message"])
}
