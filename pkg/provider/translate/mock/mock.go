// Package mock provides a test double for the translate.Translator interface.
//
// By default the mock returns a deterministic marker translation
// ("<lang>:<input>") so tests can assert which path produced a string without
// a live backend. Inject errors per call via the Err fields or the Func hooks.
package mock

import (
	"context"
	"sync"

	"github.com/omniglot-dev/dubbler/pkg/provider/translate"
)

// TranslateCall records a single invocation of Translate.
type TranslateCall struct {
	Text       string
	TargetLang string
}

// ContextCall records a single invocation of TranslateInContext.
type ContextCall struct {
	ContextText string
	Segment     string
	SrcLang     string
	TargetLang  string
}

// Translator is a mock implementation of translate.Translator.
type Translator struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// TranslateErr, if non-nil, is returned by Translate.
	TranslateErr error

	// ContextErr, if non-nil, is returned by TranslateInContext.
	ContextErr error

	// TranslateFunc, if non-nil, overrides the default marker behaviour of
	// Translate.
	TranslateFunc func(ctx context.Context, text, targetLang string) (string, error)

	// ContextFunc, if non-nil, overrides the default marker behaviour of
	// TranslateInContext.
	ContextFunc func(ctx context.Context, contextText, segment, srcLang, targetLang string) (string, error)

	// --- Call records (read after test) ---

	// TranslateCalls records every invocation of Translate in order.
	TranslateCalls []TranslateCall

	// ContextCalls records every invocation of TranslateInContext in order.
	ContextCalls []ContextCall
}

// Translate records the call and returns "<targetLang>:<text>" unless a hook
// or error is configured.
func (t *Translator) Translate(ctx context.Context, text string, targetLang string) (string, error) {
	t.mu.Lock()
	t.TranslateCalls = append(t.TranslateCalls, TranslateCall{Text: text, TargetLang: targetLang})
	fn, err := t.TranslateFunc, t.TranslateErr
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, targetLang)
	}
	if err != nil {
		return "", err
	}
	return targetLang + ":" + text, nil
}

// TranslateInContext records the call and returns "<targetLang>:<segment>"
// unless a hook or error is configured.
func (t *Translator) TranslateInContext(ctx context.Context, contextText, segment, srcLang, targetLang string) (string, error) {
	t.mu.Lock()
	t.ContextCalls = append(t.ContextCalls, ContextCall{
		ContextText: contextText,
		Segment:     segment,
		SrcLang:     srcLang,
		TargetLang:  targetLang,
	})
	fn, err := t.ContextFunc, t.ContextErr
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, contextText, segment, srcLang, targetLang)
	}
	if err != nil {
		return "", err
	}
	return targetLang + ":" + segment, nil
}

// BulkCalls returns the number of recorded Translate invocations. Thread-safe.
func (t *Translator) BulkCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.TranslateCalls)
}

// InContextCalls returns the number of recorded TranslateInContext
// invocations. Thread-safe.
func (t *Translator) InContextCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ContextCalls)
}

// Ensure Translator implements translate.Translator at compile time.
var _ translate.Translator = (*Translator)(nil)
