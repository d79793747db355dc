// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Microsoft Edge's
// neural voices or a local Piper instance) and renders one transcript segment
// at a time into a complete encoded audio clip. Segments are short (a few
// seconds of speech), so the interface is whole-clip rather than streaming:
// the audio cache needs a finished artifact it can write to disk atomically.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrNoVoice indicates that no voice is configured or available for the
// requested language.
var ErrNoVoice = errors.New("tts: no voice for language")

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel (e.g., a background window fill racing a
// synchronous miss).
type Provider interface {
	// Synthesize renders text into a complete encoded audio clip in the
	// voice configured for lang (an ISO 639-1 style code such as "hi").
	// The returned bytes are a full, playable file in the provider's
	// output format (MP3 for the Edge backend).
	//
	// Implementations choose their own fallback when lang has no
	// dedicated voice; they return an error wrapping [ErrNoVoice] only
	// when no fallback exists.
	Synthesize(ctx context.Context, text string, lang string) ([]byte, error)

	// OutputFormat returns the container/codec of the bytes produced by
	// Synthesize (e.g., "audio/mpeg"). The HTTP layer uses it as the
	// Content-Type when serving cached artifacts.
	OutputFormat() string
}
