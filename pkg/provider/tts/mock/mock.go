// Package mock provides a test double for the tts.Provider interface.
//
// By default the mock returns a deterministic fake clip ("mp3:<lang>:<text>")
// so tests can assert which text was synthesized without a live backend.
package mock

import (
	"context"
	"sync"

	"github.com/omniglot-dev/dubbler/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text string
	Lang string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Audio, if non-nil, is returned by Synthesize instead of the default
	// marker clip.
	Audio []byte

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// SynthesizeFunc, if non-nil, overrides the default behaviour. Useful
	// for per-call behaviour such as failing one language only.
	SynthesizeFunc func(ctx context.Context, text, lang string) ([]byte, error)

	// Format is returned by OutputFormat. Defaults to "audio/mpeg" when empty.
	Format string

	// --- Call records (read after test) ---

	// SynthesizeCalls records every invocation of Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns "mp3:<lang>:<text>" unless a hook,
// static audio, or error is configured.
func (p *Provider) Synthesize(ctx context.Context, text string, lang string) ([]byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Lang: lang})
	fn := p.SynthesizeFunc
	audio, err := p.Audio, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, lang)
	}
	if err != nil {
		return nil, err
	}
	if audio != nil {
		return audio, nil
	}
	return []byte("mp3:" + lang + ":" + text), nil
}

// OutputFormat returns Format, defaulting to "audio/mpeg".
func (p *Provider) OutputFormat() string {
	if p.Format != "" {
		return p.Format
	}
	return "audio/mpeg"
}

// Calls returns the number of recorded Synthesize invocations. Thread-safe.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
