// Package mock provides a test double for the transcript.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/omniglot-dev/dubbler/pkg/provider/transcript"
)

// FetchCall records a single invocation of Fetch.
type FetchCall struct {
	VideoID   string
	Preferred []string
}

// Provider is a mock implementation of transcript.Provider.
// Zero values cause Fetch to return an empty track in language "en".
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Entries is returned by Fetch.
	Entries []transcript.RawEntry

	// Lang is the language code returned by Fetch. Defaults to "en".
	Lang string

	// Err, if non-nil, is returned by Fetch.
	Err error

	// FetchFunc, if non-nil, overrides the static response fields.
	FetchFunc func(ctx context.Context, videoID string, preferred []string) ([]transcript.RawEntry, string, error)

	// --- Call records (read after test) ---

	// FetchCalls records every invocation of Fetch in order.
	FetchCalls []FetchCall
}

// Fetch records the call and returns the configured track.
func (p *Provider) Fetch(ctx context.Context, videoID string, preferred []string) ([]transcript.RawEntry, string, error) {
	p.mu.Lock()
	p.FetchCalls = append(p.FetchCalls, FetchCall{VideoID: videoID, Preferred: preferred})
	fn := p.FetchFunc
	entries, lang, err := p.Entries, p.Lang, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, videoID, preferred)
	}
	if err != nil {
		return nil, "", err
	}
	if lang == "" {
		lang = "en"
	}
	return entries, lang, nil
}

// Calls returns the number of recorded Fetch invocations. Thread-safe.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.FetchCalls)
}

// Ensure Provider implements transcript.Provider at compile time.
var _ transcript.Provider = (*Provider)(nil)
