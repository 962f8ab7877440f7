package embed

import (
	"context"

	"github.com/local/pdfoutline/internal/limiter"
	"github.com/local/pdfoutline/internal/metrics"
)

// Limited bounds the number of concurrent Embed calls made through client.
// Slots are keyed by client name and the model the request resolves to.
func Limited(client Client, lim *limiter.Inflight) Client {
	return &limitedClient{Client: client, lim: lim}
}

type limitedClient struct {
	Client
	lim *limiter.Inflight
}

func (c *limitedClient) slotKey(req Request) string {
	model := req.Model
	if m, ok := c.Client.(interface{ Model() string }); ok && model == "" {
		model = m.Model()
	}
	return c.Name() + ":" + model
}

func (c *limitedClient) Embed(ctx context.Context, req Request) (Response, error) {
	key := c.slotKey(req)
	release, err := c.lim.Acquire(ctx, key)
	if err != nil {
		return Response{}, err
	}
	metrics.SetEmbedInflight(key, c.lim.InUse(key))
	defer func() {
		release()
		metrics.SetEmbedInflight(key, c.lim.InUse(key))
	}()
	return c.Client.Embed(ctx, req)
}
