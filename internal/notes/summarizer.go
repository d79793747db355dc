// Package notes produces structured study notes from a video transcript by
// fanning the text out to an LLM in chunks and joining the per-chunk notes.
//
// The upstream model enforces aggressive rate limits, so at most two chunk
// requests are in flight at once and rate-limited chunks retry with a short
// linear delay. Finished notes are cached per video for the process
// lifetime.
package notes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/omniglot-dev/dubbler/pkg/provider/llm"
)

const (
	// chunkWords is the transcript chunk size fed to one summarization
	// request.
	chunkWords = 1000

	// maxConcurrent caps in-flight summarization requests.
	maxConcurrent = 2

	// maxChunkTokens bounds one request's transcript payload. Chunks whose
	// token estimate exceeds it are split before submission, so a
	// dense-script transcript cannot overrun the model's context window.
	maxChunkTokens = 6000

	// maxAttempts bounds rate-limited retries per chunk.
	maxAttempts = 3

	// retryDelay is the base wait between rate-limited attempts; attempt n
	// waits n times this.
	retryDelay = 2 * time.Second

	systemPrompt = "You are a note-taking assistant. Produce concise, well " +
		"structured study notes for the transcript excerpt you are given: key " +
		"points, definitions, and takeaways in plain sentences. Do not use " +
		"markdown formatting."
)

// Option is a functional option for the Summarizer.
type Option func(*Summarizer)

// WithSleeper replaces the retry sleep. Used by tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Summarizer) { s.sleep = sleep }
}

// WithChunkWords overrides the chunk size.
func WithChunkWords(n int) Option {
	return func(s *Summarizer) {
		if n > 0 {
			s.chunkWords = n
		}
	}
}

// Summarizer turns transcripts into notes. Safe for concurrent use.
type Summarizer struct {
	provider   llm.Provider
	logger     *slog.Logger
	sem        *semaphore.Weighted
	sleep      func(ctx context.Context, d time.Duration) error
	chunkWords int

	mu    sync.Mutex
	cache map[string]string
}

// New creates a Summarizer. logger may be nil.
func New(provider llm.Provider, logger *slog.Logger, opts ...Option) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Summarizer{
		provider:   provider,
		logger:     logger,
		sem:        semaphore.NewWeighted(maxConcurrent),
		sleep:      sleepCtx,
		chunkWords: chunkWords,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Summarize returns notes for the transcript text of videoID, computing them
// on first call and serving the cached result afterwards.
func (s *Summarizer) Summarize(ctx context.Context, videoID, text string) (string, error) {
	s.mu.Lock()
	if cached, ok := s.cache[videoID]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	chunks := s.fit(splitWords(text, s.chunkWords))
	if len(chunks) == 0 {
		return "", fmt.Errorf("notes: video %s has no text to summarize", videoID)
	}

	parts := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			if err := s.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer s.sem.Release(1)

			out, err := s.summarizeChunk(gctx, chunk)
			if err != nil {
				return fmt.Errorf("notes: chunk %d of %s: %w", i+1, videoID, err)
			}
			parts[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	notes := cleanNotes(strings.Join(parts, "\n\n"))
	s.mu.Lock()
	if s.cache == nil {
		s.cache = make(map[string]string)
	}
	s.cache[videoID] = notes
	s.mu.Unlock()
	return notes, nil
}

// fit splits any chunk whose token estimate exceeds maxChunkTokens. When
// estimation fails the chunk passes through unchanged and the completion
// call surfaces any real limit.
func (s *Summarizer) fit(chunks []string) []string {
	out := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		out = s.fitChunk(chunk, out)
	}
	return out
}

func (s *Summarizer) fitChunk(chunk string, out []string) []string {
	n, err := s.provider.CountTokens([]llm.Message{{Role: "user", Content: chunk}})
	if err != nil || n <= maxChunkTokens {
		return append(out, chunk)
	}
	words := strings.Fields(chunk)
	if len(words) < 2 {
		return append(out, chunk)
	}
	mid := len(words) / 2
	out = s.fitChunk(strings.Join(words[:mid], " "), out)
	return s.fitChunk(strings.Join(words[mid:], " "), out)
}

// summarizeChunk requests notes for one chunk, retrying rate-limited
// attempts with a linearly growing delay.
func (s *Summarizer) summarizeChunk(ctx context.Context, chunk string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: systemPrompt,
			Messages: []llm.Message{
				{Role: "user", Content: "Create notes for this transcript excerpt:\n\n" + chunk},
			},
			Temperature: 0.4,
			MaxTokens:   2048,
		})
		if err == nil {
			return strings.TrimSpace(resp.Content), nil
		}
		if !llm.IsRateLimited(err) {
			return "", err
		}
		lastErr = err
		s.logger.Warn("summarization rate limited", "attempt", attempt)
		if attempt < maxAttempts {
			if err := s.sleep(ctx, time.Duration(attempt)*retryDelay); err != nil {
				return "", err
			}
		}
	}
	return "", lastErr
}

// cleanNotes strips markdown decoration the model emits despite
// instructions.
func cleanNotes(text string) string {
	return strings.NewReplacer("*", "", "#", "").Replace(text)
}

// splitWords splits text into chunks of at most size words.
func splitWords(text string, size int) []string {
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
