package interfaces

import (
	"context"
)

// ChatTurn is a single message in a model conversation.
type ChatTurn struct {
	// Role identifies the sender: "user" or "assistant"
	Role string

	// Content contains the text content of the message
	Content string
}

// TokenHandler receives streamed completion text as it arrives. Returning an
// error aborts the stream.
type TokenHandler func(token string) error

// LLMService defines chat-model operations. The implementation wraps calls
// in a circuit breaker: breaker-open and connectivity failures surface as
// Unavailable-kinded errors.
type LLMService interface {
	// Complete generates a full response for the conversation. The system
	// directive travels separately from the turn list.
	Complete(ctx context.Context, system string, turns []ChatTurn) (string, error)

	// CompleteStream streams the response token-by-token through onToken and
	// returns the accumulated text. Cancelling ctx aborts generation.
	CompleteStream(ctx context.Context, system string, turns []ChatTurn, onToken TokenHandler) (string, error)

	// HealthCheck verifies connectivity with a minimal probe request.
	HealthCheck(ctx context.Context) error
}

// Embedder generates fixed-dimension embedding vectors.
type Embedder interface {
	// Embed returns the vector for one text. Vectors are validated against
	// Dimension() before they are returned.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in order; result[i] corresponds to texts[i].
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the vector width (models.EmbeddingDim)
	Dimension() int
}
