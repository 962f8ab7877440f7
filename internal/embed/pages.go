package embed

import (
	"context"
	"fmt"
	"image"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfoutline/internal/imagerender"
	"github.com/local/pdfoutline/internal/metrics"
)

// DefaultBatchSize is used when EmbedPages gets a non-positive batch size.
const DefaultBatchSize = 8

// EmbedPages embeds every page image in batches and returns one vector per
// page, in page order. All vectors must share one dimension.
func EmbedPages(ctx context.Context, client Client, jobID string, images []image.Image, batchSize, quality int) ([][]float64, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	vecs := make([][]float64, 0, len(images))
	dim := 0

	for start := 0; start < len(images); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + batchSize
		if end > len(images) {
			end = len(images)
		}

		req := Request{JobID: jobID, Images: make([]PageImage, 0, end-start)}
		for i := start; i < end; i++ {
			data, err := imagerender.EncodeJPEG(images[i], quality)
			if err != nil {
				return nil, fmt.Errorf("page %d: %w", i+1, err)
			}
			req.Images = append(req.Images, PageImage{Page: i, MIME: "image/jpeg", Data: imagerender.EncodeToBase64(data)})
		}

		resp, err := client.Embed(ctx, req)
		if err != nil {
			metrics.IncEmbed("error")
			return nil, fmt.Errorf("embed pages %d-%d: %w", start+1, end, err)
		}
		if len(resp.Embeddings) != end-start {
			metrics.IncEmbed("invalid")
			return nil, fmt.Errorf("%w: %d vectors for %d pages", ErrBadResponse, len(resp.Embeddings), end-start)
		}
		for k, v := range resp.Embeddings {
			if dim == 0 {
				dim = len(v)
			}
			if len(v) == 0 || len(v) != dim {
				metrics.IncEmbed("invalid")
				return nil, fmt.Errorf("%w: page %d has dimension %d, want %d", ErrBadResponse, start+k+1, len(v), dim)
			}
		}
		metrics.IncEmbed("ok")
		vecs = append(vecs, resp.Embeddings...)

		log.Debug().Str("job_id", jobID).Int("from", start+1).Int("to", end).Int("dim", dim).Msg("embedded page batch")
	}
	return vecs, nil
}
