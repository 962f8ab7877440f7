package mupdf

import (
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfoutline/internal/outline"
)

// document is the part of *fitz.Document the extractor needs.
type document interface {
	NumPage() int
	HTML(pageNumber int, header bool) (string, error)
	Close() error
}

func openFitz(path string) (document, error) {
	return fitz.New(path)
}

// GoFitzExtractor reads text lines out of PDFs with the embedded MuPDF.
type GoFitzExtractor struct {
	open func(path string) (document, error)
}

// NewGoFitzExtractor creates a new go-fitz based extractor
func NewGoFitzExtractor() *GoFitzExtractor {
	return &GoFitzExtractor{open: openFitz}
}

// IsAvailable always returns true since go-fitz is embedded
func (g *GoFitzExtractor) IsAvailable() bool {
	return true
}

// ExtractLines returns every text line of the PDF in page order, top to
// bottom as MuPDF reports them. Pages whose HTML cannot be produced are
// skipped with a warning.
func (g *GoFitzExtractor) ExtractLines(pdfPath string) ([]outline.Line, error) {
	doc, err := g.open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	var lines []outline.Line
	skipped := 0
	for i := 0; i < doc.NumPage(); i++ {
		page, err := g.pageLines(doc, i)
		if err != nil {
			log.Warn().Err(err).Str("pdf", pdfPath).Int("page", i+1).Msg("Failed to extract page lines")
			skipped++
			continue
		}
		lines = append(lines, page...)
	}

	log.Debug().
		Str("pdf", pdfPath).
		Int("pages", doc.NumPage()).
		Int("skipped", skipped).
		Int("lines", len(lines)).
		Msg("Extracted lines")

	return lines, nil
}

func (g *GoFitzExtractor) pageLines(doc document, i int) ([]outline.Line, error) {
	markup, err := doc.HTML(i, false)
	if err != nil {
		return nil, err
	}
	return ParsePageHTML(i, strings.NewReader(markup))
}
