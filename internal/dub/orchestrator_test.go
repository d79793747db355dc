package dub

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/omniglot-dev/dubbler/internal/audiocache"
	"github.com/omniglot-dev/dubbler/internal/session"
	"github.com/omniglot-dev/dubbler/internal/transcript"
	transcriptprov "github.com/omniglot-dev/dubbler/pkg/provider/transcript"
	transcriptmock "github.com/omniglot-dev/dubbler/pkg/provider/transcript/mock"
	translatemock "github.com/omniglot-dev/dubbler/pkg/provider/translate/mock"
	ttsmock "github.com/omniglot-dev/dubbler/pkg/provider/tts/mock"
)

// harness wires an Orchestrator over mock providers and a temp-dir cache.
type harness struct {
	orch       *Orchestrator
	cache      *audiocache.Cache
	translator *translatemock.Translator
	synth      *ttsmock.Provider
}

// newHarness builds an orchestrator over a video with n one-word segments in
// the given source language.
func newHarness(t *testing.T, n int, srcLang string) *harness {
	t.Helper()

	raw := make([]transcriptprov.RawEntry, n)
	for i := range raw {
		raw[i] = transcriptprov.RawEntry{
			Text:     fmt.Sprintf("text%02d", i+1),
			Start:    float64(i),
			Duration: 1,
		}
	}
	source := &transcriptmock.Provider{Entries: raw, Lang: srcLang}
	translator := &translatemock.Translator{}
	synth := &ttsmock.Provider{}

	builder := transcript.NewBuilder(source, translator, nil)
	sessions := session.NewManager(builder, nil)

	cache, err := audiocache.New(t.TempDir(), translator, synth, nil)
	if err != nil {
		t.Fatalf("audiocache.New: %v", err)
	}

	noSleep := func(ctx context.Context, d time.Duration) error { return nil }
	ct := NewContextTranslator(translator, nil, WithSleeper(noSleep))

	return &harness{
		orch:       NewOrchestrator(sessions, cache, ct, nil, nil),
		cache:      cache,
		translator: translator,
		synth:      synth,
	}
}

func TestSegment_MissFillsWindowSynchronously(t *testing.T) {
	h := newHarness(t, 20, "en")

	data, err := h.orch.Segment(context.Background(), "vid1", "es", 2)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected audio bytes")
	}

	// The window spans max(1, 2-5)=1 through min(20, 2+10)=12 and uses the
	// context-aware strategy for every segment.
	if got := h.translator.InContextCalls(); got != 12 {
		t.Errorf("expected 12 context translations, got %d", got)
	}
	if got := h.translator.BulkCalls(); got != 0 {
		t.Errorf("expected no bulk translations on the miss path, got %d", got)
	}
	for n := 1; n <= 12; n++ {
		if !h.cache.Exists("vid1", "es", n) {
			t.Errorf("expected segment %d cached after window fill", n)
		}
	}
	if h.cache.Exists("vid1", "es", 13) {
		t.Error("expected segment 13 outside the window to stay absent")
	}

	// No prefetch piggybacks on a miss; the window was just filled.
	h.orch.Close()
	if got := h.synth.Calls(); got != 12 {
		t.Errorf("expected 12 syntheses total, got %d", got)
	}
}

func TestSegment_HitServesAndPrefetches(t *testing.T) {
	h := newHarness(t, 30, "en")
	ctx := context.Background()

	// First request for segment 20 fills its window 15..30 synchronously.
	if _, err := h.orch.Segment(ctx, "vid1", "es", 20); err != nil {
		t.Fatalf("first Segment: %v", err)
	}
	h.orch.Close()
	h.translator.ContextCalls = nil
	h.translator.TranslateCalls = nil
	h.synth.Reset()

	// Second request for a cached segment is a hit: no synchronous work,
	// but a bulk-strategy prefetch of its neighborhood runs in the
	// background and fills 1..14 where absent.
	data, err := h.orch.Segment(ctx, "vid1", "es", 15)
	if err != nil {
		t.Fatalf("second Segment: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected cached audio bytes")
	}
	h.orch.Close()

	if got := h.translator.InContextCalls(); got != 0 {
		t.Errorf("expected no context translations on a hit, got %d", got)
	}
	// Prefetch window is 10..25; 10..14 were absent and filled in bulk.
	if got := h.translator.BulkCalls(); got != 5 {
		t.Errorf("expected 5 bulk prefetch translations, got %d", got)
	}
	for n := 10; n <= 25; n++ {
		if !h.cache.Exists("vid1", "es", n) {
			t.Errorf("expected segment %d cached after prefetch", n)
		}
	}
}

func TestSegment_SameLanguageServesOriginalText(t *testing.T) {
	h := newHarness(t, 5, "en")

	data, err := h.orch.Segment(context.Background(), "vid1", "en", 1)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected audio bytes")
	}
	if got := h.translator.InContextCalls() + h.translator.BulkCalls(); got != 0 {
		t.Errorf("expected no translation for source-language request, got %d calls", got)
	}
	if got := h.synth.SynthesizeCalls[0].Text; got != "text01" {
		t.Errorf("expected original text synthesized, got %q", got)
	}
}

func TestSegment_NoTranscript(t *testing.T) {
	source := &transcriptmock.Provider{
		Err: fmt.Errorf("nothing: %w", transcriptprov.ErrNotAvailable),
	}
	translator := &translatemock.Translator{}
	builder := transcript.NewBuilder(source, translator, nil)
	sessions := session.NewManager(builder, nil)
	cache, err := audiocache.New(t.TempDir(), translator, &ttsmock.Provider{}, nil)
	if err != nil {
		t.Fatalf("audiocache.New: %v", err)
	}
	orch := NewOrchestrator(sessions, cache, NewContextTranslator(translator, nil), nil, nil)

	_, err = orch.Segment(context.Background(), "vid1", "es", 1)
	if !errors.Is(err, ErrNoTranscript) {
		t.Errorf("expected ErrNoTranscript, got %v", err)
	}
}

func TestSegment_OutOfRange(t *testing.T) {
	h := newHarness(t, 5, "en")

	_, err := h.orch.Segment(context.Background(), "vid1", "es", 99)
	if !errors.Is(err, ErrSegmentNotFound) {
		t.Errorf("expected ErrSegmentNotFound, got %v", err)
	}
	if got := h.synth.Calls(); got != 0 {
		t.Errorf("expected no synthesis for out-of-range segment, got %d", got)
	}
}

func TestSegment_RequestedSegmentFailureSurfaces(t *testing.T) {
	h := newHarness(t, 5, "en")
	// Synthesis fails only for the requested segment's translated text.
	h.synth.SynthesizeFunc = func(ctx context.Context, text, lang string) ([]byte, error) {
		if text == "es:text02" {
			return nil, fmt.Errorf("voice service hiccup")
		}
		return []byte("audio"), nil
	}
	// Marker context translations match the bulk marker shape.
	h.translator.ContextFunc = func(ctx context.Context, contextText, segment, srcLang, targetLang string) (string, error) {
		return targetLang + ":" + segment, nil
	}

	_, err := h.orch.Segment(context.Background(), "vid1", "es", 2)
	if !errors.Is(err, audiocache.ErrNotCached) {
		t.Fatalf("expected not-cached error for failed segment, got %v", err)
	}
	// Siblings were not aborted by the failure.
	if !h.cache.Exists("vid1", "es", 1) || !h.cache.Exists("vid1", "es", 3) {
		t.Error("expected sibling segments cached despite requested-segment failure")
	}
}

func TestTranscript(t *testing.T) {
	h := newHarness(t, 3, "en")

	entries, err := h.orch.Transcript(context.Background(), "vid1")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].SegmentIndex != 1 || entries[0].Text != "text01" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, 8, "en")
	ctx := context.Background()

	// Unknown video: no session is built.
	if st := h.orch.Status("unseen"); st.TranscriptExists {
		t.Error("expected no transcript for unseen video")
	}

	if _, err := h.orch.Segment(ctx, "vid1", "es", 1); err != nil {
		t.Fatalf("Segment: %v", err)
	}
	h.orch.Close()

	st := h.orch.Status("vid1")
	if !st.TranscriptExists {
		t.Fatal("expected transcript to exist")
	}
	if st.TotalSegments != 8 {
		t.Errorf("expected 8 total segments, got %d", st.TotalSegments)
	}
	if st.SourceLanguage != "en" {
		t.Errorf("expected source language en, got %q", st.SourceLanguage)
	}
	if st.DubLanguage != "es" {
		t.Errorf("expected dub language es, got %q", st.DubLanguage)
	}
	// Segment 1's window is 1..11, clamped to 8.
	if st.AudioGenerated != 8 {
		t.Errorf("expected 8 generated artifacts, got %d", st.AudioGenerated)
	}
}

func TestWindowIndices(t *testing.T) {
	cases := []struct {
		segment, total int
		lo, hi         int
	}{
		{2, 20, 1, 12},
		{1, 20, 1, 11},
		{20, 20, 15, 20},
		{7, 8, 2, 8},
		{1, 1, 1, 1},
	}
	for _, tc := range cases {
		got := windowIndices(tc.segment, tc.total)
		if got[0] != tc.lo || got[len(got)-1] != tc.hi {
			t.Errorf("windowIndices(%d, %d): expected %d..%d, got %d..%d",
				tc.segment, tc.total, tc.lo, tc.hi, got[0], got[len(got)-1])
		}
	}
}
