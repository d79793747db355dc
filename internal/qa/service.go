package qa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/omniglot-dev/dubbler/internal/transcript"
	"github.com/omniglot-dev/dubbler/pkg/provider/embeddings"
	"github.com/omniglot-dev/dubbler/pkg/provider/llm"
)

const (
	// chunkTargetWords is the target passage size for indexing. Segments
	// are short; grouping them into ~200-word passages gives retrieval
	// enough context per hit.
	chunkTargetWords = 200

	// topK is the number of passages retrieved per question.
	topK = 5

	answerSystemPrompt = "You answer questions about a video using only the " +
		"transcript excerpts provided. Each excerpt is labelled with its " +
		"timestamp. If the excerpts do not contain the answer, say so plainly. " +
		"Cite the timestamp of the excerpt you used."
)

// Service answers questions over a video's transcript. Safe for concurrent
// use.
type Service struct {
	index    Index
	embedder embeddings.Provider
	llm      llm.Provider
	logger   *slog.Logger

	mu      sync.Mutex
	indexed map[string]bool
}

// NewService creates a Service. logger may be nil.
func NewService(index Index, embedder embeddings.Provider, provider llm.Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		index:    index,
		embedder: embedder,
		llm:      provider,
		logger:   logger,
		indexed:  make(map[string]bool),
	}
}

// Ask answers question using the transcript entries of videoID, indexing the
// transcript on first use.
func (s *Service) Ask(ctx context.Context, videoID, question string, entries []transcript.Entry) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("qa: question must not be empty")
	}
	if err := s.ensureIndexed(ctx, videoID, entries); err != nil {
		return "", err
	}

	qVec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return "", fmt.Errorf("qa: embed question: %w", err)
	}
	hits, err := s.index.Search(ctx, videoID, qVec, topK)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "", fmt.Errorf("qa: no indexed passages for video %s", videoID)
	}

	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "[%s] %s\n\n", segmentLabel(entries, h.Chunk.FirstSegment), h.Chunk.Text)
	}
	fmt.Fprintf(&b, "Question: %s", question)

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: answerSystemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: b.String()},
		},
		Temperature: 0.2,
		MaxTokens:   1024,
	})
	if err != nil {
		return "", fmt.Errorf("qa: answer: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// ensureIndexed chunks, embeds, and indexes the transcript once per video
// per process; the backing index deduplicates across restarts via upsert.
func (s *Service) ensureIndexed(ctx context.Context, videoID string, entries []transcript.Entry) error {
	s.mu.Lock()
	done := s.indexed[videoID]
	s.mu.Unlock()
	if done {
		return nil
	}

	if ok, err := s.index.HasVideo(ctx, videoID); err != nil {
		return err
	} else if ok {
		s.mu.Lock()
		s.indexed[videoID] = true
		s.mu.Unlock()
		return nil
	}

	chunks := chunkEntries(videoID, entries)
	if len(chunks) == 0 {
		return fmt.Errorf("qa: video %s has no transcript to index", videoID)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("qa: embed chunks: %w", err)
	}
	if len(vecs) != len(chunks) {
		return fmt.Errorf("qa: embed chunks: got %d vectors for %d passages", len(vecs), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
	}

	if err := s.index.IndexChunks(ctx, chunks); err != nil {
		return err
	}
	s.logger.Info("transcript indexed", "video_id", videoID, "chunks", len(chunks))

	s.mu.Lock()
	s.indexed[videoID] = true
	s.mu.Unlock()
	return nil
}

// chunkEntries groups consecutive segments into passages of roughly
// chunkTargetWords words, remembering the segment span of each passage.
func chunkEntries(videoID string, entries []transcript.Entry) []Chunk {
	var chunks []Chunk
	var texts []string
	words, first := 0, 0

	flush := func(last int) {
		if len(texts) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			VideoID:      videoID,
			ChunkIndex:   len(chunks),
			FirstSegment: entries[first].SegmentIndex,
			LastSegment:  entries[last].SegmentIndex,
			Text:         strings.Join(texts, " "),
		})
		texts, words = nil, 0
	}

	for i, e := range entries {
		if len(texts) == 0 {
			first = i
		}
		texts = append(texts, e.Text)
		words += len(strings.Fields(e.Text))
		if words >= chunkTargetWords {
			flush(i)
		}
	}
	flush(len(entries) - 1)
	return chunks
}

// segmentLabel renders the timestamp label of a segment for citation.
func segmentLabel(entries []transcript.Entry, segment int) string {
	for _, e := range entries {
		if e.SegmentIndex == segment {
			return e.Timestamp
		}
	}
	return fmt.Sprintf("segment %d", segment)
}
