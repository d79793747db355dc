package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	transcriptprov "github.com/omniglot-dev/dubbler/pkg/provider/transcript"
	"github.com/omniglot-dev/dubbler/pkg/provider/translate"
)

// referenceChunkWords is the chunk size for bulk reference translation.
// 500 words keeps each request comfortably inside model context limits while
// leaving few enough chunks to fan out.
const referenceChunkWords = 500

// preferredLangs is the fetch preference order. English first because the
// reference text is English anyway; Hindi second as the next most common
// track in our catalogue; anything else as a last resort.
var preferredLangs = []string{"en", "hi"}

// Store holds everything the pipeline knows about one video: the normalized
// source-language transcript and the whole-document English reference text.
// Both are immutable after construction; only the coarse dub-progress fields
// mutate, guarded by mu.
type Store struct {
	VideoID    string
	SourceLang string

	// Entries is the normalized transcript, ordered by SegmentIndex.
	// Empty when the video has no captions; every dub operation must then
	// fail fast instead of attempting work.
	Entries []Entry

	// ReferenceText is the full transcript in English, translated once at
	// construction (identity when SourceLang is already English). Used
	// only as translation context.
	ReferenceText string

	mu            sync.Mutex
	dubLang       string
	dubInProgress bool
}

// HasTranscript reports whether the video yielded any transcript at all.
func (s *Store) HasTranscript() bool {
	return len(s.Entries) > 0
}

// Entry returns the segment with the given 1-based index.
func (s *Store) Entry(segment int) (Entry, bool) {
	if segment < 1 || segment > len(s.Entries) {
		return Entry{}, false
	}
	return s.Entries[segment-1], true
}

// FullText returns the original-language transcript joined with single
// spaces.
func (s *Store) FullText() string {
	texts := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		texts[i] = e.Text
	}
	return strings.Join(texts, " ")
}

// BeginDub records lang as the active dub target. Cache membership remains
// the source of truth for per-segment completion; this is coarse reporting
// only.
func (s *Store) BeginDub(lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dubLang = lang
	s.dubInProgress = true
}

// EndDub clears the in-progress flag, keeping the last dub language.
func (s *Store) EndDub() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dubInProgress = false
}

// DubStatus returns the last requested dub language and whether a dub pass
// is currently running.
func (s *Store) DubStatus() (lang string, inProgress bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dubLang, s.dubInProgress
}

// Builder constructs per-video Stores from the caption source and the bulk
// translation capability.
type Builder struct {
	source     transcriptprov.Provider
	translator translate.Translator
	logger     *slog.Logger
}

// NewBuilder creates a Builder. logger may be nil.
func NewBuilder(source transcriptprov.Provider, translator translate.Translator, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{source: source, translator: translator, logger: logger}
}

// Build fetches, normalizes, and reference-translates the transcript for
// videoID. A video with captions disabled in every language yields the empty
// Store variant and a nil error; that outcome is terminal and safe to cache.
// Any other fetch failure is transient and returns an error so callers do not
// cache it.
func (b *Builder) Build(ctx context.Context, videoID string) (*Store, error) {
	raw, lang, err := b.source.Fetch(ctx, videoID, preferredLangs)
	if errors.Is(err, transcriptprov.ErrNotAvailable) {
		b.logger.Warn("no transcript available", "video_id", videoID, "error", err)
		return &Store{VideoID: videoID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transcript: fetch %s: %w", videoID, err)
	}

	entries := Normalize(raw)
	store := &Store{
		VideoID:    videoID,
		SourceLang: lang,
		Entries:    entries,
	}
	store.ReferenceText = b.buildReference(ctx, store)
	return store, nil
}

// buildReference produces the whole-document English reference text. For
// non-English sources the full text is split into fixed-size word chunks
// translated concurrently; results recombine by chunk index, so completion
// order is irrelevant.
func (b *Builder) buildReference(ctx context.Context, store *Store) string {
	full := store.FullText()
	if isEnglish(store.SourceLang) || full == "" {
		return full
	}
	if b.translator == nil {
		// The reference is approximate context for segment translation,
		// so the original-language text is an acceptable stand-in.
		b.logger.Warn("no translator configured, keeping original-language reference",
			"video_id", store.VideoID, "source_lang", store.SourceLang)
		return full
	}

	chunks := chunkWords(full, referenceChunkWords)
	translated := make([]string, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			out, err := b.translator.Translate(gctx, chunk, "en")
			if err != nil {
				// A failed chunk degrades to its original text; the
				// reference is approximate context, not output.
				b.logger.Warn("reference chunk translation failed",
					"video_id", store.VideoID, "chunk", i, "error", err)
				translated[i] = chunk
				return nil
			}
			translated[i] = out
			return nil
		})
	}
	g.Wait()

	return strings.Join(translated, " ")
}

// chunkWords splits text into chunks of at most size words each.
func chunkWords(text string, size int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	chunks := make([]string, 0, (len(words)+size-1)/size)
	for start := 0; start < len(words); start += size {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}

// isEnglish matches "en" and regional variants like "en-GB".
func isEnglish(lang string) bool {
	return SameLanguage(lang, "en")
}

// SameLanguage compares two language codes by primary subtag,
// case-insensitively, so "en-GB" and "en" are the same language.
func SameLanguage(a, b string) bool {
	base := func(code string) string {
		code = strings.ToLower(code)
		if i := strings.IndexAny(code, "-_"); i >= 0 {
			return code[:i]
		}
		return code
	}
	return base(a) == base(b)
}
