package embedding

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// ErrDimensionMismatch indicates the provider returned vectors whose length
// does not match the configured model dimension. The query side and the
// indexed side must agree, so this is a configuration error rather than a
// recoverable runtime one.
var ErrDimensionMismatch = errors.New("embedding: vector dimension mismatch")

// Client converts text to fixed-dimension vectors through an
// OpenAI-compatible embeddings endpoint. It is stateless beyond its
// configuration.
type Client struct {
	api       *openai.Client
	model     string
	dimension int
}

// New creates an embeddings client. model fixes the vector dimension; the
// pair is recorded per chunk at ingest so stale vectors are detectable after
// a model upgrade.
func New(baseURL, apiKey, model string, dimension int) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:       openai.NewClientWithConfig(config),
		model:     model,
		dimension: dimension,
	}
}

// ModelVersion returns the configured model identifier.
func (c *Client) ModelVersion() string { return c.model }

// Dimension returns the configured vector dimension.
func (c *Client) Dimension() int { return c.dimension }

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts preserving input order and count. A response with
// a different vector count than requested is an error, never a silent drop.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings API call: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings API returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embeddings API returned out-of-range index %d", d.Index)
		}
		if c.dimension > 0 && len(d.Embedding) != c.dimension {
			return nil, fmt.Errorf("%w: model %s returned %d, configured %d",
				ErrDimensionMismatch, c.model, len(d.Embedding), c.dimension)
		}
		vecs[d.Index] = d.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("embeddings API returned no vector for input %d", i)
		}
	}
	return vecs, nil
}
