// Package llm implements translate.Translator on top of an llm.Provider.
//
// Prompts instruct the model to act as a translator and to return only the
// translated text. The context-aware variant additionally pins meaning and
// word count to the original segment, mirroring how a human subtitler works
// from the full transcript.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/omniglot-dev/dubbler/pkg/provider/llm"
	"github.com/omniglot-dev/dubbler/pkg/provider/translate"
)

// translateTemperature keeps translations deterministic; creativity is a
// liability when the output is re-synthesized over fixed timestamps.
const translateTemperature = 0.3

const bulkSystemPrompt = "You are a professional translator. Translate the " +
	"user's text accurately, preserving meaning, tone, and context. Reply with " +
	"the translated text only — no explanations, no quotes."

const contextSystemPrompt = "You are a context-aware translator. You will be " +
	"given a reference excerpt from a transcript and one segment taken from " +
	"it. Translate only the segment, using the excerpt to resolve ambiguity. " +
	"The translation must convey the same meaning and have approximately the " +
	"same number of words as the segment. Reply with the translated segment " +
	"only — no explanations, no quotes."

// Translator implements translate.Translator using a chat-completion model.
type Translator struct {
	provider  llm.Provider
	maxTokens int
}

// Option is a functional option for Translator.
type Option func(*Translator)

// WithMaxTokens caps the completion size for a single translation call.
// Defaults to 1024, which comfortably covers a 500-word chunk.
func WithMaxTokens(n int) Option {
	return func(t *Translator) { t.maxTokens = n }
}

// New creates a Translator backed by provider.
func New(provider llm.Provider, opts ...Option) (*Translator, error) {
	if provider == nil {
		return nil, fmt.Errorf("translate/llm: provider must not be nil")
	}
	t := &Translator{
		provider:  provider,
		maxTokens: 1024,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Translate implements translate.Translator.
func (t *Translator) Translate(ctx context.Context, text string, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	resp, err := t.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: bulkSystemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf("Translate the following text into %s:\n\n%s", languageName(targetLang), text)},
		},
		Temperature: translateTemperature,
		MaxTokens:   t.maxTokens,
	})
	if err != nil {
		return "", wrapErr("translate", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// TranslateInContext implements translate.Translator.
func (t *Translator) TranslateInContext(ctx context.Context, contextText, segment, srcLang, targetLang string) (string, error) {
	if strings.TrimSpace(segment) == "" {
		return "", nil
	}

	prompt := fmt.Sprintf(
		"Reference excerpt (English):\n%s\n\nSegment (%s):\n%s\n\nTranslate the segment from %s into %s.",
		contextText, languageName(srcLang), segment, languageName(srcLang), languageName(targetLang),
	)

	resp, err := t.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: contextSystemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: prompt},
		},
		Temperature: translateTemperature,
		MaxTokens:   t.maxTokens,
	})
	if err != nil {
		return "", wrapErr("translate in context", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// wrapErr converts backend rate-limit errors into the translate package's
// retryable sentinel; everything else passes through as unrecoverable.
func wrapErr(op string, err error) error {
	if llm.IsRateLimited(err) {
		return fmt.Errorf("translate/llm: %s: %w: %v", op, translate.ErrRateLimited, err)
	}
	return fmt.Errorf("translate/llm: %s: %w", op, err)
}

// languageName maps common ISO 639-1 codes to English language names so the
// model is never asked to translate "into zh". Unknown codes pass through.
func languageName(code string) string {
	names := map[string]string{
		"en": "English",
		"hi": "Hindi",
		"es": "Spanish",
		"fr": "French",
		"de": "German",
		"ja": "Japanese",
		"ko": "Korean",
		"zh": "Chinese",
		"it": "Italian",
		"pt": "Portuguese",
		"ru": "Russian",
		"nl": "Dutch",
		"tr": "Turkish",
		"pl": "Polish",
		"id": "Indonesian",
		"th": "Thai",
		"vi": "Vietnamese",
	}
	if name, ok := names[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

// Ensure Translator implements translate.Translator at compile time.
var _ translate.Translator = (*Translator)(nil)
