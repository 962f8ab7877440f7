// Package pdftest decides whether a PDF carries a usable text layer before
// the outline pipeline spends time rendering and embedding it.
package pdftest

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"sync"
	"time"
)

// ErrNoExtractableText marks a PDF whose sampled pages hold too little text
// for an outline.
var ErrNoExtractableText = errors.New("pdf has no extractable text")

// PageProbe captures the result of probing a single PDF page.
type PageProbe struct {
	PageIndex int    `json:"page_index"`
	CharCount int    `json:"char_count"`
	Err       string `json:"err,omitempty"`
}

// Diagnostics provides detailed information about the text-extractability check.
type Diagnostics struct {
	FilePath           string      `json:"file_path"`
	TotalPages         int         `json:"total_pages"`
	SampledPages       []int       `json:"sampled_pages"`
	TotalCharsInSample int         `json:"total_chars_in_sample"`
	Threshold          int         `json:"threshold"`
	Probes             []PageProbe `json:"probes"`
	HasExtractableText bool        `json:"has_extractable_text"`
	DurationMs         int64       `json:"duration_ms"`
}

// DefaultThreshold is used when a non-positive threshold is passed in.
const DefaultThreshold = 40

var whitespaceRegex = regexp.MustCompile(`\s+`)

// Doc abstracts a PDF document for text extraction.
type Doc interface {
	NumPage() int
	Text(i int) (string, error)
	Close() error
}

// Opener abstracts opening a PDF path into a Doc.
type Opener interface {
	Open(path string) (Doc, error)
}

// Prober samples pages through an Opener.
type Prober struct {
	opener    Opener
	threshold int

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewProber returns a Prober backed by go-fitz.
func NewProber(threshold int) *Prober {
	return NewProberWithOpener(fitzOpener{}, threshold)
}

// NewProberWithOpener is NewProber with a custom backend.
func NewProberWithOpener(o Opener, threshold int) *Prober {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Prober{opener: o, threshold: threshold, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Check samples the PDF and returns ErrNoExtractableText (with diagnostics)
// when the sample is below the threshold.
func (p *Prober) Check(pdfPath string) (*Diagnostics, error) {
	diag, err := p.probe(pdfPath, nil)
	if err != nil {
		return nil, err
	}
	if !diag.HasExtractableText {
		return diag, fmt.Errorf("%w: %d chars in %d sampled pages", ErrNoExtractableText, diag.TotalCharsInSample, len(diag.SampledPages))
	}
	return diag, nil
}

// HasExtractableTextWithPages samples explicit page indices. Out-of-range
// indices are dropped.
func (p *Prober) HasExtractableTextWithPages(pdfPath string, pages []int) (bool, *Diagnostics, error) {
	diag, err := p.probe(pdfPath, pages)
	if err != nil {
		return false, nil, err
	}
	return diag.HasExtractableText, diag, nil
}

func (p *Prober) probe(pdfPath string, pages []int) (*Diagnostics, error) {
	start := time.Now()
	d, err := p.opener.Open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer d.Close()

	total := d.NumPage()
	diag := &Diagnostics{FilePath: pdfPath, TotalPages: total, SampledPages: []int{}, Threshold: p.threshold}
	if total <= 0 {
		diag.DurationMs = time.Since(start).Milliseconds()
		return diag, nil
	}

	if pages != nil {
		diag.SampledPages = normalizeAndClampPages(pages, total)
	} else {
		diag.SampledPages = p.sampleIndices(total)
	}

	for _, idx := range diag.SampledPages {
		probe := PageProbe{PageIndex: idx}
		text, terr := d.Text(idx)
		if terr != nil {
			probe.Err = terr.Error()
			diag.Probes = append(diag.Probes, probe)
			continue
		}
		probe.CharCount = len([]rune(whitespaceRegex.ReplaceAllString(text, "")))
		diag.TotalCharsInSample += probe.CharCount
		diag.Probes = append(diag.Probes, probe)
		if diag.TotalCharsInSample >= p.threshold {
			break
		}
	}

	diag.HasExtractableText = diag.TotalCharsInSample >= p.threshold
	diag.DurationMs = time.Since(start).Milliseconds()
	return diag, nil
}

// sampleIndices returns every page for short documents, otherwise first,
// middle and last plus two random distinct pages.
func (p *Prober) sampleIndices(total int) []int {
	if total <= 5 {
		idx := make([]int, total)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}

	base := map[int]struct{}{0: {}, total / 2: {}, total - 1: {}}
	p.mu.Lock()
	for len(base) < 5 {
		base[p.rnd.Intn(total)] = struct{}{}
	}
	p.mu.Unlock()

	out := make([]int, 0, len(base))
	for i := range base {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// normalizeAndClampPages ensures indices are unique, in-range, and sorted.
func normalizeAndClampPages(pages []int, total int) []int {
	m := make(map[int]struct{})
	for _, p := range pages {
		if p < 0 || p >= total {
			continue
		}
		m[p] = struct{}{}
	}
	out := make([]int, 0, len(m))
	for i := range m {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
