// Package translate defines the Translator interface for machine translation
// backends.
//
// Two deliberately different strategies live behind one interface:
//
//   - Translate is the bulk path: it renders a standalone piece of text into
//     the target language with no surrounding document. The audio cache uses
//     it for opportunistic background dubbing where throughput matters more
//     than cross-segment fidelity.
//   - TranslateInContext is the high-fidelity path: it receives a window of
//     reference-language text surrounding one segment and must preserve the
//     segment's meaning and approximate word count. The synchronous miss path
//     of the dub orchestrator uses it.
//
// Implementations must be safe for concurrent use.
package translate

import (
	"context"
	"errors"
)

// ErrRateLimited indicates the translation backend rejected the request due to
// a rate or quota limit. Callers may retry after backing off.
var ErrRateLimited = errors.New("translate: rate limited")

// IsRateLimited reports whether err (or anything it wraps) is a retryable
// rate-limit rejection.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// Translator is the abstraction over any translation backend.
type Translator interface {
	// Translate renders text into targetLang with no additional context.
	// targetLang is an ISO 639-1 style language code ("es", "hi", …).
	//
	// Errors wrapping [ErrRateLimited] are retryable; anything else is
	// unrecoverable for this input.
	Translate(ctx context.Context, text string, targetLang string) (string, error)

	// TranslateInContext renders segment from srcLang into targetLang using
	// contextText — a window of reference-language text surrounding the
	// segment — to disambiguate meaning. The translation should convey the
	// same meaning as segment and keep approximately the same word count.
	//
	// Errors wrapping [ErrRateLimited] are retryable; anything else is
	// unrecoverable for this input.
	TranslateInContext(ctx context.Context, contextText, segment, srcLang, targetLang string) (string, error)
}
