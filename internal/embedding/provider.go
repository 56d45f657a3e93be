package embedding

import "context"

// Provider generates embeddings from text.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) (Embedding, error)

	// EmbedBatch generates embeddings for several texts in one provider
	// call. Batching is for throughput only; the call is synchronous and
	// results are returned in input order.
	EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error)

	// ModelName returns the name of the embedding model.
	ModelName() string

	// Dimensions returns the expected vector dimensions.
	Dimensions() int
}
