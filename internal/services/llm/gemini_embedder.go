// -----------------------------------------------------------------------
// Gemini Embedder - embedding vectors via the Google Gemini API
// -----------------------------------------------------------------------

package llm

import (
	"context"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// GeminiEmbedder implements the Embedder interface using gemini-embedding-001
// with a fixed output dimensionality. Quota errors retry with the
// API-suggested delay before the circuit breaker sees a failure.
type GeminiEmbedder struct {
	logger  arbor.ILogger
	client  *genai.Client
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
	model   string
	timeout time.Duration
}

// Compile-time interface assertion
var _ interfaces.Embedder = (*GeminiEmbedder)(nil)

// NewGeminiEmbedder creates a Gemini embedding client from configuration.
// The API key must already be resolved (GEMINI_API_KEY or gemini.api_key).
func NewGeminiEmbedder(ctx context.Context, config *common.GeminiConfig, logger arbor.ILogger) (*GeminiEmbedder, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, common.E(common.KindValidation, "Gemini API key is required (set GEMINI_API_KEY or gemini.api_key)")
	}

	model := config.EmbedModel
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, common.WrapErr(common.KindInternal, err, "failed to initialize genai client")
	}

	embedder := &GeminiEmbedder{
		logger:  logger,
		client:  client,
		breaker: newBreaker("gemini", logger),
		retry:   NewDefaultRetryConfig(),
		model:   model,
		timeout: config.RequestTimeout(),
	}

	logger.Debug().
		Str("embed_model", model).
		Int("dimension", models.EmbeddingDim).
		Dur("timeout", embedder.timeout).
		Msg("Gemini embedder initialized")

	return embedder, nil
}

// Dimension reports the vector width.
func (g *GeminiEmbedder) Dimension() int {
	return models.EmbeddingDim
}

// Embed returns the vector for one text.
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in order; result[i] corresponds to texts[i].
func (g *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, common.E(common.KindValidation, "no texts to embed")
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, common.Ef(common.KindValidation, "text %d is empty", i)
		}
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}

	outputDim := int32(models.EmbeddingDim)
	embeddingConfig := &genai.EmbedContentConfig{
		OutputDimensionality: &outputDim,
	}

	start := time.Now()
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.embedWithRetry(ctx, contents, embeddingConfig)
	})
	if err != nil {
		g.logger.Error().Err(err).Int("texts", len(texts)).Msg("Embedding generation failed")
		return nil, mapProviderErr(err, "gemini", "embedding")
	}

	resp := result.(*genai.EmbedContentResponse)
	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, common.Ef(common.KindUnavailable, "gemini returned %d embeddings for %d texts", got, len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, embedding := range resp.Embeddings {
		if embedding == nil || len(embedding.Values) != models.EmbeddingDim {
			got := 0
			if embedding != nil {
				got = len(embedding.Values)
			}
			return nil, common.Ef(common.KindInternal, "embedding %d has %d dimensions, want %d", i, got, models.EmbeddingDim)
		}
		vectors[i] = embedding.Values
	}

	g.logger.Debug().
		Int("texts", len(texts)).
		Dur("duration", time.Since(start)).
		Msg("Embedding batch completed")

	return vectors, nil
}

// embedWithRetry calls EmbedContent, backing off on quota errors. Each
// attempt gets its own timeout; the backoff sleep respects the caller's
// context.
func (g *GeminiEmbedder) embedWithRetry(ctx context.Context, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := g.retry.CalculateBackoff(attempt-1, ExtractRetryDelay(lastErr))
			g.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("Gemini quota hit, backing off")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		resp, err := g.client.Models.EmbedContent(attemptCtx, g.model, contents, config)
		cancel()
		if err == nil {
			return resp, nil
		}
		if !IsRateLimitError(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
