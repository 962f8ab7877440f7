package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(documentsProcessed.WithLabelValues("success"))
	IncProcessed("success")
	assert.Equal(t, before+1, testutil.ToFloat64(documentsProcessed.WithLabelValues("success")))

	h1 := testutil.ToFloat64(headingsTotal.WithLabelValues("H1"))
	AddHeadings("H1", 3)
	AddHeadings("H1", 0)
	assert.Equal(t, h1+3, testutil.ToFloat64(headingsTotal.WithLabelValues("H1")))

	opened := testutil.ToFloat64(breakerEvents.WithLabelValues("opened"))
	BreakerOpened()
	assert.Equal(t, opened+1, testutil.ToFloat64(breakerEvents.WithLabelValues("opened")))

	SetQueueDepth("dlq", 7)
	assert.Equal(t, 7.0, testutil.ToFloat64(queueDepth.WithLabelValues("dlq")))
}

func TestHandlerExposesNamespace(t *testing.T) {
	Init()
	Init()
	ObserveStage("extract", 20*time.Millisecond)
	IncEmbed("ok")
	IncRetry()
	SetEmbedInflight("http:donut", 2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "pdfoutline_stage_duration_seconds")
	assert.Contains(t, body, `pdfoutline_embed_requests_total{result="ok"}`)
	assert.Contains(t, body, `pdfoutline_embed_inflight{backend="http:donut"} 2`)
	assert.Contains(t, body, "pdfoutline_retries_total")
}
