// Package embeddings defines the contract for text-embedding backends.
//
// The memory layer embeds distilled memories as they are saved and embeds
// recall queries at prompt-assembly time; nearest-neighbour search over the
// stored vectors then surfaces memories related to what a viewer just said.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// All vectors produced by one Provider share the dimensionality reported by
// Dimensions. Vectors from different providers or models must not be mixed in
// the same similarity search.
type Provider interface {
	// Embed computes the vector for a single text. The text is passed to the
	// backend verbatim; any model-specific prefix ("query: ", "passage: ")
	// is the caller's responsibility.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for all texts in one backend call. The
	// result has the same length and order as texts. On error no partial
	// results are returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector this provider
	// produces.
	Dimensions() int

	// ModelID returns the backend model identifier, for logging and for
	// detecting a model change between runs.
	ModelID() string
}
