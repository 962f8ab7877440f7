package pipeline

import (
	"context"
	"image"

	"github.com/local/pdfoutline/internal/embed"
	"github.com/local/pdfoutline/internal/imagerender"
)

// FitzRenderer renders pages with imagerender.RenderPages.
type FitzRenderer struct {
	Options imagerender.Options
}

func (r FitzRenderer) RenderPages(ctx context.Context, pdfPath string) ([]image.Image, error) {
	return imagerender.RenderPages(ctx, pdfPath, r.Options)
}

// ClientEmbedder batches pages through an embed.Client.
type ClientEmbedder struct {
	Client      embed.Client
	BatchSize   int
	JPEGQuality int
}

func (e ClientEmbedder) EmbedPages(ctx context.Context, jobID string, images []image.Image) ([][]float64, error) {
	return embed.EmbedPages(ctx, e.Client, jobID, images, e.BatchSize, e.JPEGQuality)
}
