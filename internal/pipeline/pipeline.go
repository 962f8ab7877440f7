// Package pipeline turns a PDF file into an outline document: preflight,
// line extraction, page rendering, page embedding, heading probabilities
// and level assignment.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfoutline/internal/classify"
	"github.com/local/pdfoutline/internal/filetype"
	"github.com/local/pdfoutline/internal/metrics"
	"github.com/local/pdfoutline/internal/outline"
	"github.com/local/pdfoutline/internal/pdftest"
)

var (
	// ErrNotPDF is returned when the input is not a PDF. Not retryable.
	ErrNotPDF = filetype.ErrNotPDF
	// ErrInvalidPDF is returned when the PDF cannot be parsed. Not retryable.
	ErrInvalidPDF = errors.New("invalid pdf")
	// ErrNoExtractableText is recorded in Stats.Skipped, never returned by Run.
	ErrNoExtractableText = pdftest.ErrNoExtractableText
	// ErrPageMismatch means the renderer and the line source disagree on pages.
	ErrPageMismatch = errors.New("rendered pages do not cover extracted lines")
)

// Stage names used in Stats.Durations and the stage_duration_seconds metric.
const (
	StageValidate = "validate"
	StageExtract  = "extract"
	StageRender   = "render"
	StageEmbed    = "embed"
	StageClassify = "classify"
	StageAssign   = "assign"
)

type TypeChecker interface {
	RequirePDF(path string) (*filetype.FileTypeInfo, error)
}

type TextProber interface {
	Check(path string) (*pdftest.Diagnostics, error)
}

type LineSource interface {
	ExtractLines(pdfPath string) ([]outline.Line, error)
}

type PageRenderer interface {
	RenderPages(ctx context.Context, pdfPath string) ([]image.Image, error)
}

type PageEmbedder interface {
	EmbedPages(ctx context.Context, jobID string, images []image.Image) ([][]float64, error)
}

type Predictor interface {
	Predict(vecs [][]float64) ([]float64, error)
}

// Pipeline wires the stages. Detector, Prober and PageCount are optional.
type Pipeline struct {
	Detector  TypeChecker
	Prober    TextProber
	PageCount func(path string) (int, error)
	Lines     LineSource
	Renderer  PageRenderer
	Embedder  PageEmbedder
	Head      Predictor
	Engine    *outline.Engine
}

// Stats describes one run.
type Stats struct {
	Pages      int                      `json:"pages"`
	Lines      int                      `json:"lines"`
	Candidates int                      `json:"candidates"`
	Headings   map[outline.Level]int    `json:"headings"`
	Durations  map[string]time.Duration `json:"durations"`
	Skipped    string                   `json:"skipped,omitempty"`
}

// Result is the outcome of Run. Lines carry the assigned levels.
type Result struct {
	Document outline.Document `json:"document"`
	Lines    []outline.Line   `json:"-"`
	Stats    Stats            `json:"stats"`
}

type runOptions struct {
	jobID  string
	engine *outline.Engine
}

// RunOption customizes a single Run.
type RunOption func(*runOptions)

// WithJobID tags logs and embedding requests.
func WithJobID(id string) RunOption { return func(o *runOptions) { o.jobID = id } }

// WithEngine overrides the pipeline engine, e.g. for a per-job threshold.
func WithEngine(e *outline.Engine) RunOption { return func(o *runOptions) { o.engine = e } }

// New builds a pipeline with the pdfcpu page counter.
func New(p Pipeline) *Pipeline {
	if p.PageCount == nil {
		p.PageCount = api.PageCountFile
	}
	return &p
}

// Run processes one PDF. Context cancellation is checked between stages.
func (p *Pipeline) Run(ctx context.Context, pdfPath string, opts ...RunOption) (Result, error) {
	ro := runOptions{engine: p.Engine}
	for _, o := range opts {
		o(&ro)
	}
	if ro.engine == nil {
		return Result{}, errors.New("pipeline: no outline engine configured")
	}

	res := Result{
		Document: outline.Document{Outline: []outline.Entry{}},
		Stats:    Stats{Durations: map[string]time.Duration{}},
	}
	logger := log.With().Str("job_id", ro.jobID).Str("pdf", pdfPath).Logger()

	err := p.stage(ctx, StageValidate, &res.Stats, func() error {
		if p.Detector != nil {
			if _, err := p.Detector.RequirePDF(pdfPath); err != nil {
				return err
			}
		}
		if p.PageCount != nil {
			n, err := p.PageCount(pdfPath)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidPDF, err)
			}
			res.Stats.Pages = n
		}
		if p.Prober != nil {
			if _, err := p.Prober.Check(pdfPath); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrNoExtractableText) {
		res.Stats.Skipped = "no_text"
		logger.Info().Err(err).Msg("skipping pdf without text layer")
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}

	var lines []outline.Line
	if err := p.stage(ctx, StageExtract, &res.Stats, func() (err error) {
		lines, err = p.Lines.ExtractLines(pdfPath)
		return err
	}); err != nil {
		return Result{}, fmt.Errorf("extract lines: %w", err)
	}
	res.Stats.Lines = len(lines)
	if len(lines) == 0 {
		res.Stats.Skipped = "no_lines"
		logger.Info().Msg("no text lines extracted")
		return res, nil
	}

	var images []image.Image
	if err := p.stage(ctx, StageRender, &res.Stats, func() (err error) {
		images, err = p.Renderer.RenderPages(ctx, pdfPath)
		return err
	}); err != nil {
		return Result{}, fmt.Errorf("render pages: %w", err)
	}
	if res.Stats.Pages == 0 {
		res.Stats.Pages = len(images)
	}
	if last := lines[len(lines)-1].Page; last >= len(images) {
		return Result{}, fmt.Errorf("%w: line on page %d, %d pages rendered", ErrPageMismatch, last+1, len(images))
	}

	var vecs [][]float64
	if err := p.stage(ctx, StageEmbed, &res.Stats, func() (err error) {
		vecs, err = p.Embedder.EmbedPages(ctx, ro.jobID, images)
		return err
	}); err != nil {
		return Result{}, fmt.Errorf("embed pages: %w", err)
	}

	var probs []float64
	if err := p.stage(ctx, StageClassify, &res.Stats, func() error {
		pageProbs, err := p.Head.Predict(vecs)
		if err != nil {
			return err
		}
		probs, err = classify.Broadcast(pageProbs, lines)
		return err
	}); err != nil {
		return Result{}, fmt.Errorf("classify pages: %w", err)
	}

	if err := p.stage(ctx, StageAssign, &res.Stats, func() (err error) {
		lines, err = ro.engine.Assign(lines, probs)
		return err
	}); err != nil {
		return Result{}, fmt.Errorf("assign levels: %w", err)
	}

	res.Lines = lines
	res.Document = outline.Render(lines)
	res.Stats.Headings = res.Document.Counts()
	for _, l := range lines {
		if l.IsHead {
			res.Stats.Candidates++
		}
	}
	for lvl, n := range res.Stats.Headings {
		metrics.AddHeadings(string(lvl), n)
	}

	logger.Info().
		Int("pages", res.Stats.Pages).
		Int("lines", res.Stats.Lines).
		Int("candidates", res.Stats.Candidates).
		Str("title", res.Document.Title).
		Int("entries", len(res.Document.Outline)).
		Msg("outline built")

	return res, nil
}

func (p *Pipeline) stage(ctx context.Context, name string, st *Stats, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	d := time.Since(start)
	st.Durations[name] = d
	metrics.ObserveStage(name, d)
	return err
}
