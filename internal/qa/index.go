// Package qa answers viewer questions about a video by retrieving the most
// relevant transcript passages from a vector index and asking an LLM to
// answer from them.
//
// This is a read-only side path over the same transcript the dubbing
// pipeline uses; it never touches the audio cache.
package qa

import "context"

// Chunk is one indexed transcript passage.
type Chunk struct {
	// VideoID scopes the chunk to a video.
	VideoID string

	// ChunkIndex is the 0-based position of the chunk within the video.
	ChunkIndex int

	// FirstSegment and LastSegment are the 1-based segment numbers the
	// chunk spans, so answers can cite timestamps.
	FirstSegment int
	LastSegment  int

	// Text is the passage text.
	Text string

	// Embedding is the passage's embedding vector.
	Embedding []float32
}

// Result is one search hit, most similar first.
type Result struct {
	Chunk Chunk

	// Distance is the cosine distance to the query embedding; smaller is
	// more similar.
	Distance float64
}

// Index is the vector index over transcript chunks.
//
// Implementations must be safe for concurrent use.
type Index interface {
	// IndexChunks upserts pre-embedded chunks. Re-indexing the same
	// (video, chunk) key replaces the stored chunk.
	IndexChunks(ctx context.Context, chunks []Chunk) error

	// Search returns the topK chunks of videoID closest to embedding,
	// ordered by ascending distance.
	Search(ctx context.Context, videoID string, embedding []float32, topK int) ([]Result, error)

	// HasVideo reports whether any chunks are indexed for videoID.
	HasVideo(ctx context.Context, videoID string) (bool, error)
}
