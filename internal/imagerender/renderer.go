package imagerender

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ColorMode defines the color mode for rendering
type ColorMode string

const (
	ColorRGB  ColorMode = "rgb"
	ColorGray ColorMode = "gray"
)

// Options controls RenderPages.
type Options struct {
	DPI     float64
	Workers int
	Color   ColorMode
}

// pageDoc is the part of *fitz.Document used for rasterisation.
type pageDoc interface {
	NumPage() int
	ImageDPI(pageNumber int, dpi float64) (*image.RGBA, error)
	Close() error
}

var openDoc = func(path string) (pageDoc, error) { return fitz.New(path) }

// RenderPages rasterises every page of the PDF. Each worker opens its own
// document handle because MuPDF contexts are not shared across goroutines.
// The result is indexed by page.
func RenderPages(ctx context.Context, pdfPath string, opts Options) ([]image.Image, error) {
	if opts.DPI <= 0 {
		opts.DPI = 120
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	doc, err := openDoc(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	total := doc.NumPage()
	doc.Close()

	images := make([]image.Image, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for i := 0; i < total; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := openDoc(pdfPath)
			if err != nil {
				return fmt.Errorf("failed to open PDF: %w", err)
			}
			defer d.Close()

			img, err := d.ImageDPI(i, opts.DPI)
			if err != nil {
				return fmt.Errorf("failed to render page %d: %w", i+1, err)
			}
			images[i] = toColor(img, opts.Color)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("pdf", pdfPath).
		Int("pages", total).
		Float64("dpi", opts.DPI).
		Int("workers", opts.Workers).
		Msg("rendered pages")

	return images, nil
}

func toColor(img image.Image, mode ColorMode) image.Image {
	if mode != ColorGray {
		return img
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)
	return gray
}

// EncodeJPEG encodes img at the given quality (1-100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeToBase64 converts binary data to base64 string
func EncodeToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
