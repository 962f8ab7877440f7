package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdfoutline/internal/classify"
	"github.com/local/pdfoutline/internal/filetype"
	"github.com/local/pdfoutline/internal/outline"
	"github.com/local/pdfoutline/internal/pdftest"
)

type fakeLines struct {
	lines []outline.Line
	err   error
}

func (f fakeLines) ExtractLines(string) ([]outline.Line, error) { return f.lines, f.err }

type fakeRenderer struct{ pages int }

func (f fakeRenderer) RenderPages(ctx context.Context, _ string) ([]image.Image, error) {
	imgs := make([]image.Image, f.pages)
	for i := range imgs {
		imgs[i] = image.NewGray(image.Rect(0, 0, 1, 1))
	}
	return imgs, nil
}

// fakeEmbedder returns a one-dimensional vector per page holding the logit.
type fakeEmbedder struct {
	logits []float64
	err    error
	calls  int
}

func (f *fakeEmbedder) EmbedPages(ctx context.Context, jobID string, images []image.Image) ([][]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vecs := make([][]float64, len(images))
	for i := range images {
		vecs[i] = []float64{f.logits[i]}
	}
	return vecs, nil
}

type fakeDetector struct{ err error }

func (f fakeDetector) RequirePDF(string) (*filetype.FileTypeInfo, error) { return nil, f.err }

type fakeProber struct{ err error }

func (f fakeProber) Check(string) (*pdftest.Diagnostics, error) { return nil, f.err }

func ln(page int, text string, size float64) outline.Line {
	return outline.Line{Page: page, Text: text, FontSize: size, BBox: [4]float64{72, 0, 72, size}}
}

func newPipeline(t *testing.T, lines []outline.Line, logits []float64) (*Pipeline, *fakeEmbedder) {
	t.Helper()
	engine, err := outline.NewEngine(outline.NewConfig(outline.ThresholdPipeline))
	require.NoError(t, err)
	emb := &fakeEmbedder{logits: logits}
	return New(Pipeline{
		Detector:  fakeDetector{},
		Prober:    fakeProber{},
		PageCount: func(string) (int, error) { return len(logits), nil },
		Lines:     fakeLines{lines: lines},
		Renderer:  fakeRenderer{pages: len(logits)},
		Embedder:  emb,
		Head:      &classify.Head{Weights: []float64{1}},
		Engine:    engine,
	}), emb
}

func TestRunBuildsOutline(t *testing.T) {
	lines := []outline.Line{
		ln(0, "Annual", 20),
		ln(0, "Report", 20),
		ln(1, "1. Overview", 14),
		ln(1, "regular body text on page two", 10),
		ln(2, "Appendix Material", 12),
	}
	// sigmoid(3) ~ 0.95, sigmoid(-3) ~ 0.05
	p, _ := newPipeline(t, lines, []float64{3, 3, -3})

	res, err := p.Run(context.Background(), "doc.pdf", WithJobID("job-1"))
	require.NoError(t, err)

	assert.Equal(t, "Annual Report", res.Document.Title)
	assert.Equal(t, []outline.Entry{
		{Level: outline.LevelH1, Text: "1. Overview", Page: 2},
		{Level: outline.LevelH1, Text: "regular body text on page two", Page: 2},
	}, res.Document.Outline)
	assert.Equal(t, 3, res.Stats.Pages)
	assert.Equal(t, 5, res.Stats.Lines)
	assert.Equal(t, 4, res.Stats.Candidates)
	assert.Equal(t, 2, res.Stats.Headings[outline.LevelH1])
	assert.Len(t, res.Lines, len(lines))
	for _, stage := range []string{StageValidate, StageExtract, StageRender, StageEmbed, StageClassify, StageAssign} {
		assert.Contains(t, res.Stats.Durations, stage)
	}
	assert.Equal(t, outline.LevelNone, lines[0].Level, "caller lines untouched")
}

func TestRunWithStrictEngine(t *testing.T) {
	lines := []outline.Line{ln(0, "Cover Title Here", 20), ln(1, "Chapter Summary", 14)}
	p, _ := newPipeline(t, lines, []float64{3, 1}) // 0.95, 0.73

	strict, err := outline.NewEngine(outline.NewConfig(outline.ThresholdStrict))
	require.NoError(t, err)

	res, err := p.Run(context.Background(), "doc.pdf", WithEngine(strict))
	require.NoError(t, err)
	assert.Equal(t, "Cover Title Here", res.Document.Title)
	assert.Empty(t, res.Document.Outline)
}

func TestRunSkipsPDFWithoutText(t *testing.T) {
	p, emb := newPipeline(t, nil, []float64{0})
	p.Prober = fakeProber{err: fmt.Errorf("%w: 0 chars", pdftest.ErrNoExtractableText)}

	res, err := p.Run(context.Background(), "scan.pdf")
	require.NoError(t, err)
	assert.Equal(t, "no_text", res.Stats.Skipped)
	assert.Equal(t, outline.Document{Outline: []outline.Entry{}}, res.Document)
	assert.Zero(t, emb.calls)
}

func TestRunNoLines(t *testing.T) {
	p, emb := newPipeline(t, nil, []float64{0, 0})

	res, err := p.Run(context.Background(), "blank.pdf")
	require.NoError(t, err)
	assert.Equal(t, "no_lines", res.Stats.Skipped)
	assert.Zero(t, emb.calls)
}

func TestRunErrors(t *testing.T) {
	lines := []outline.Line{ln(0, "Introduction", 14)}
	embedErr := errors.New("embedder down")

	tests := []struct {
		name   string
		mutate func(p *Pipeline, emb *fakeEmbedder)
		want   error
	}{
		{"not a pdf", func(p *Pipeline, _ *fakeEmbedder) { p.Detector = fakeDetector{err: filetype.ErrNotPDF} }, ErrNotPDF},
		{"unparseable", func(p *Pipeline, _ *fakeEmbedder) {
			p.PageCount = func(string) (int, error) { return 0, errors.New("xref broken") }
		}, ErrInvalidPDF},
		{"extract", func(p *Pipeline, _ *fakeEmbedder) { p.Lines = fakeLines{err: errors.New("mupdf")} }, nil},
		{"embed", func(_ *Pipeline, emb *fakeEmbedder) { emb.err = embedErr }, embedErr},
		{"dimension", func(p *Pipeline, _ *fakeEmbedder) { p.Head = &classify.Head{Weights: []float64{1, 2}} }, classify.ErrDimension},
		{"page mismatch", func(p *Pipeline, _ *fakeEmbedder) { p.Renderer = fakeRenderer{pages: 0} }, ErrPageMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, emb := newPipeline(t, lines, []float64{2})
			tt.mutate(p, emb)
			_, err := p.Run(context.Background(), "doc.pdf")
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestRunCancelled(t *testing.T) {
	p, emb := newPipeline(t, []outline.Line{ln(0, "Introduction", 14)}, []float64{2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, "doc.pdf")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, emb.calls)
}

func TestRunWithoutEngine(t *testing.T) {
	p, _ := newPipeline(t, nil, nil)
	p.Engine = nil
	_, err := p.Run(context.Background(), "doc.pdf")
	assert.Error(t, err)
}
