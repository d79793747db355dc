// Package transcript defines the Provider interface for caption sources.
//
// A transcript provider fetches the raw caption track for a video in the best
// available language. Entries come back exactly as the source delivered them
// (start plus duration, untrimmed text); normalization into display segments
// happens downstream.
//
// Implementations must be safe for concurrent use.
package transcript

import (
	"context"
	"errors"
)

// ErrNotAvailable indicates the video has no caption track at all, or
// captions are disabled for it.
var ErrNotAvailable = errors.New("transcript: not available")

// RawEntry is one caption line as delivered by the source.
type RawEntry struct {
	// Text is the caption text, possibly containing newlines.
	Text string

	// Start is the onset of the line in seconds from the video start.
	Start float64

	// Duration is the nominal display duration in seconds. It may overlap
	// the next entry's Start.
	Duration float64
}

// Provider is the abstraction over any caption source.
type Provider interface {
	// Fetch returns the caption track for videoID in the first language
	// from preferred that the video has, falling back to any available
	// track when none match. The second return value is the language code
	// of the track actually fetched.
	//
	// Returns an error wrapping [ErrNotAvailable] when the video has no
	// captions in any language.
	Fetch(ctx context.Context, videoID string, preferred []string) ([]RawEntry, string, error)
}
