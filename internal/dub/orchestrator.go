package dub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/omniglot-dev/dubbler/internal/audiocache"
	"github.com/omniglot-dev/dubbler/internal/observe"
	"github.com/omniglot-dev/dubbler/internal/session"
	"github.com/omniglot-dev/dubbler/internal/transcript"
)

// ErrNoTranscript indicates the video has no transcript in any language, so
// nothing can be dubbed. Terminal for the video.
var ErrNoTranscript = errors.New("dub: no transcript available")

const (
	// A fill window spans this many segments before and after the
	// requested one, clamped to the transcript.
	windowBefore = 5
	windowAfter  = 10

	// prefetchTimeout bounds a background window fill after a cache hit.
	prefetchTimeout = 5 * time.Minute
)

// Status is the coarse per-video progress report.
type Status struct {
	TranscriptExists bool   `json:"transcript_exists"`
	SourceLanguage   string `json:"source_language,omitempty"`
	TotalSegments    int    `json:"total_segments"`
	AudioGenerated   int    `json:"audio_generated"`
	DubLanguage      string `json:"dub_language,omitempty"`
	DubInProgress    bool   `json:"dub_in_progress"`
}

// Orchestrator handles dub requests: it ensures a session exists, serves
// cache hits with a background prefetch of the surrounding window, and fills
// the window synchronously on a miss using context-aware translation.
type Orchestrator struct {
	sessions   *session.Manager
	cache      *audiocache.Cache
	translator *ContextTranslator
	logger     *slog.Logger
	metrics    *observe.Metrics

	// prefetching dedups concurrent background fills per (video, lang).
	prefetching sync.Map

	// bg tracks background prefetches so Close can wait for them.
	bg sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator. logger and metrics may be nil.
func NewOrchestrator(sessions *session.Manager, cache *audiocache.Cache, translator *ContextTranslator, logger *slog.Logger, metrics *observe.Metrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sessions:   sessions,
		cache:      cache,
		translator: translator,
		logger:     logger,
		metrics:    metrics,
	}
}

// Segment returns the dubbed audio for one segment of a video, materializing
// it and its neighborhood first when absent. Requesting the video's own
// source language serves original-language audio rather than erroring.
func (o *Orchestrator) Segment(ctx context.Context, videoID, lang string, segment int) ([]byte, error) {
	start := time.Now()

	store, err := o.sessions.Get(ctx, videoID)
	if err != nil {
		o.metrics.RecordDubRequest(ctx, lang, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("dub: create session for %s: %w", videoID, err)
	}
	if !store.HasTranscript() {
		o.metrics.RecordDubRequest(ctx, lang, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("dub: video %s: %w", videoID, ErrNoTranscript)
	}
	if _, ok := store.Entry(segment); !ok {
		o.metrics.RecordDubRequest(ctx, lang, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("dub: video %s segment %d: %w", videoID, segment, ErrSegmentNotFound)
	}

	// Hit: serve immediately, refill the neighborhood in the background.
	if data, err := o.cache.Read(videoID, lang, segment); err == nil {
		o.schedulePrefetch(store, lang, segment)
		o.metrics.RecordDubRequest(ctx, lang, "hit", time.Since(start).Seconds())
		return data, nil
	}

	// Miss: fill the same neighborhood synchronously with the
	// high-fidelity context-aware strategy, then serve. The latency is
	// already on the critical path, so the quality upgrade is free.
	filled := o.fillWindow(ctx, store, lang, segment)
	o.metrics.RecordMaterialized(ctx, "sync", filled)

	data, err := o.cache.Read(videoID, lang, segment)
	if err != nil {
		o.metrics.RecordDubRequest(ctx, lang, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("dub: video %s segment %d not materialized: %w", videoID, segment, err)
	}
	o.metrics.RecordDubRequest(ctx, lang, "miss", time.Since(start).Seconds())
	return data, nil
}

// AudioContentType returns the media type of the artifacts served by
// Segment, as reported by the synthesis backend.
func (o *Orchestrator) AudioContentType() string {
	return o.cache.ContentType()
}

// Transcript returns the normalized transcript for a video, building the
// session on first access.
func (o *Orchestrator) Transcript(ctx context.Context, videoID string) ([]transcript.Entry, error) {
	store, err := o.sessions.Get(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("dub: create session for %s: %w", videoID, err)
	}
	if !store.HasTranscript() {
		return nil, fmt.Errorf("dub: video %s: %w", videoID, ErrNoTranscript)
	}
	return store.Entries, nil
}

// Status reports per-video progress without forcing a session build: a video
// never requested through Segment or Transcript reports an absent
// transcript.
func (o *Orchestrator) Status(videoID string) Status {
	store, ok := o.sessions.Peek(videoID)
	if !ok || !store.HasTranscript() {
		return Status{}
	}
	dubLang, inProgress := store.DubStatus()
	st := Status{
		TranscriptExists: true,
		SourceLanguage:   store.SourceLang,
		TotalSegments:    len(store.Entries),
		DubLanguage:      dubLang,
		DubInProgress:    inProgress,
	}
	if dubLang != "" {
		st.AudioGenerated = o.cache.Count(videoID, dubLang)
	}
	return st
}

// Close waits for in-flight background prefetches to finish.
func (o *Orchestrator) Close() {
	o.bg.Wait()
}

// fillWindow materializes every absent segment in the neighborhood of the
// requested one, translating with document context. A failure on one segment
// is logged and does not stop the rest; the requested segment's absence
// surfaces when the caller re-reads the cache.
func (o *Orchestrator) fillWindow(ctx context.Context, store *transcript.Store, lang string, segment int) int {
	store.BeginDub(lang)
	defer store.EndDub()

	filled := 0
	for _, n := range windowIndices(segment, len(store.Entries)) {
		if o.cache.Exists(store.VideoID, lang, n) {
			continue
		}

		text, err := o.segmentText(ctx, store, n, lang)
		if err != nil {
			o.logger.Warn("segment translation failed",
				"video_id", store.VideoID, "lang", lang, "segment", n, "error", err)
			continue
		}
		if err := o.cache.Store(ctx, store.VideoID, lang, n, text); err != nil {
			o.logger.Warn("segment synthesis failed",
				"video_id", store.VideoID, "lang", lang, "segment", n, "error", err)
			continue
		}
		filled++
	}
	return filled
}

// segmentText resolves the text to synthesize for a segment: the original
// text when the target matches the source language, otherwise a
// context-aware translation.
func (o *Orchestrator) segmentText(ctx context.Context, store *transcript.Store, segment int, lang string) (string, error) {
	entry, _ := store.Entry(segment)
	if transcript.SameLanguage(lang, store.SourceLang) {
		return entry.Text, nil
	}
	return o.translator.TranslateSegment(ctx, store, segment, lang)
}

// schedulePrefetch starts a best-effort background fill of the neighborhood
// around segment with the bulk translation strategy. At most one prefetch
// per (video, lang) runs at a time; failures are invisible to the caller.
func (o *Orchestrator) schedulePrefetch(store *transcript.Store, lang string, segment int) {
	key := store.VideoID + "|" + lang
	if _, loaded := o.prefetching.LoadOrStore(key, struct{}{}); loaded {
		return
	}

	var segs []transcript.Entry
	for _, n := range windowIndices(segment, len(store.Entries)) {
		if e, ok := store.Entry(n); ok {
			segs = append(segs, e)
		}
	}

	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		defer o.prefetching.Delete(key)

		ctx, cancel := context.WithTimeout(context.Background(), prefetchTimeout)
		defer cancel()

		n := o.cache.MaterializeWindow(ctx, store.VideoID, lang, store.SourceLang, segs)
		o.metrics.RecordMaterialized(ctx, "prefetch", n)
		if n > 0 {
			o.logger.Info("prefetch complete",
				"video_id", store.VideoID, "lang", lang, "segments", n)
		}
	}()
}

// windowIndices returns the 1-based segment numbers in the fill window
// around segment, clamped to [1, total].
func windowIndices(segment, total int) []int {
	lo := max(1, segment-windowBefore)
	hi := min(total, segment+windowAfter)
	out := make([]int, 0, hi-lo+1)
	for n := lo; n <= hi; n++ {
		out = append(out, n)
	}
	return out
}
