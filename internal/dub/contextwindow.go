// Package dub drives on-demand segment dubbing: context-aware segment
// translation on the synchronous path and the request orchestration that
// ties sessions, translation, synthesis, and the audio cache together.
package dub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/omniglot-dev/dubbler/internal/observe"
	"github.com/omniglot-dev/dubbler/internal/transcript"
	"github.com/omniglot-dev/dubbler/pkg/provider/translate"
)

// ErrSegmentNotFound indicates the requested segment index is out of range
// for the video's transcript.
var ErrSegmentNotFound = errors.New("dub: segment not found")

const (
	// contextRadius is how many reference words surround a segment on each
	// side.
	contextRadius = 50

	// edgeWindowWords is the window size for the first and last segments,
	// which have context on one side only.
	edgeWindowWords = 100

	// maxAttempts bounds translation attempts for one segment.
	maxAttempts = 3

	// initialBackoff is the wait after the first rate-limited attempt; it
	// doubles per attempt (5s, 10s, 20s).
	initialBackoff = 5 * time.Second
)

// ContextTranslator translates single segments using a bounded window of the
// whole-document reference text as context, retrying rate-limited attempts
// with exponential backoff. When every attempt is rate-limited it degrades
// to the untranslated segment text so a window fill keeps moving.
type ContextTranslator struct {
	translator translate.Translator
	logger     *slog.Logger
	metrics    *observe.Metrics
	sleep      func(ctx context.Context, d time.Duration) error
}

// TranslatorOption is a functional option for ContextTranslator.
type TranslatorOption func(*ContextTranslator)

// WithSleeper replaces the backoff sleep. Used by tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) TranslatorOption {
	return func(t *ContextTranslator) { t.sleep = sleep }
}

// WithTranslatorMetrics records retry counts into m.
func WithTranslatorMetrics(m *observe.Metrics) TranslatorOption {
	return func(t *ContextTranslator) { t.metrics = m }
}

// NewContextTranslator creates a ContextTranslator. logger may be nil.
func NewContextTranslator(translator translate.Translator, logger *slog.Logger, opts ...TranslatorOption) *ContextTranslator {
	if logger == nil {
		logger = slog.Default()
	}
	t := &ContextTranslator{
		translator: translator,
		logger:     logger,
		sleep:      sleepCtx,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// TranslateSegment translates segment number segment of store into
// targetLang. Rate-limited attempts back off 5s, 10s, 20s; after the third
// rate-limited attempt the original segment text is returned unmodified.
// Non-rate-limit errors propagate immediately.
func (t *ContextTranslator) TranslateSegment(ctx context.Context, store *transcript.Store, segment int, targetLang string) (string, error) {
	entry, ok := store.Entry(segment)
	if !ok {
		return "", fmt.Errorf("dub: video %s segment %d: %w", store.VideoID, segment, ErrSegmentNotFound)
	}
	if t.translator == nil {
		return "", fmt.Errorf("dub: translate segment %d: no translator configured", segment)
	}

	window := contextWindow(store, segment)

	backoff := initialBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := t.translator.TranslateInContext(ctx, window, entry.Text, store.SourceLang, targetLang)
		if err == nil {
			return out, nil
		}
		if !translate.IsRateLimited(err) {
			return "", fmt.Errorf("dub: translate segment %d: %w", segment, err)
		}

		t.metrics.RecordTranslateRetry(ctx)
		t.logger.Warn("translation rate limited",
			"video_id", store.VideoID, "segment", segment,
			"attempt", attempt, "backoff", backoff)
		if err := t.sleep(ctx, backoff); err != nil {
			return "", fmt.Errorf("dub: translate segment %d: %w", segment, err)
		}
		backoff *= 2
	}

	// All attempts rate limited. Passing the original text through keeps
	// the pipeline moving; the segment can be re-dubbed later.
	t.logger.Warn("translation attempts exhausted, using original text",
		"video_id", store.VideoID, "segment", segment)
	return entry.Text, nil
}

// contextWindow extracts the reference-text span surrounding a segment. The
// segment's word offset within the reference is estimated by summing the
// word counts of all preceding segments' original texts — approximate, since
// the reference is itself a translation, but stable and monotonic. The first
// and last segments take the document's first and last 100 words instead.
func contextWindow(store *transcript.Store, segment int) string {
	words := strings.Fields(store.ReferenceText)
	if len(words) == 0 {
		return ""
	}

	if segment <= 1 {
		return strings.Join(words[:min(edgeWindowWords, len(words))], " ")
	}
	if segment >= len(store.Entries) {
		return strings.Join(words[max(0, len(words)-edgeWindowWords):], " ")
	}

	startOffset := 0
	for _, e := range store.Entries[:segment-1] {
		startOffset += len(strings.Fields(e.Text))
	}
	endOffset := startOffset + len(strings.Fields(store.Entries[segment-1].Text))

	lo := max(0, startOffset-contextRadius)
	hi := min(len(words), endOffset+contextRadius)
	if lo >= hi {
		// The estimated offset overshot the reference (it can be shorter
		// than the original); fall back to the document tail.
		lo, hi = max(0, len(words)-edgeWindowWords), len(words)
	}
	return strings.Join(words[lo:hi], " ")
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
