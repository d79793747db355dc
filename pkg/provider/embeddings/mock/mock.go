// Package mock provides a test double for the embeddings.Provider interface.
//
// By default the mock returns deterministic low-dimension vectors derived from
// the input text, so retrieval tests can rank results without a live backend.
package mock

import (
	"context"
	"sync"

	"github.com/omniglot-dev/dubbler/pkg/provider/embeddings"
)

const defaultDims = 4

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Vectors, if non-nil, maps input text to the vector Embed returns.
	// Texts missing from the map fall back to the derived default vector.
	Vectors map[string][]float32

	// Err, if non-nil, is returned by Embed and EmbedBatch.
	Err error

	// Dims is the dimensionality reported by Dimensions. Defaults to 4.
	Dims int

	// Model is returned by ModelID. Defaults to "mock-embeddings".
	Model string

	// --- Call records (read after test) ---

	// EmbedCalls records every text passed to Embed or EmbedBatch in order.
	EmbedCalls []string
}

// Embed records the call and returns a configured or derived vector.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	vecs, err := p.Vectors, p.Err
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if v, ok := vecs[text]; ok {
		return v, nil
	}
	return p.derive(text), nil
}

// EmbedBatch records each text and returns one vector per input.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns Dims, defaulting to 4.
func (p *Provider) Dimensions() int {
	if p.Dims > 0 {
		return p.Dims
	}
	return defaultDims
}

// ModelID returns Model, defaulting to "mock-embeddings".
func (p *Provider) ModelID() string {
	if p.Model != "" {
		return p.Model
	}
	return "mock-embeddings"
}

// derive produces a stable vector from the text bytes so identical inputs
// embed identically.
func (p *Provider) derive(text string) []float32 {
	dims := p.Dimensions()
	v := make([]float32, dims)
	for i, b := range []byte(text) {
		v[i%dims] += float32(b) / 255
	}
	return v
}

// Calls returns the number of texts embedded so far. Thread-safe.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls)
}

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)
