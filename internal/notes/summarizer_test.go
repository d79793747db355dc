package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omniglot-dev/dubbler/pkg/provider/llm"
	llmmock "github.com/omniglot-dev/dubbler/pkg/provider/llm/mock"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestSummarize_SingleChunk(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "key point one"},
	}
	s := New(provider, nil, WithSleeper(noSleep))

	notes, err := s.Summarize(context.Background(), "vid1", "a short transcript")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if notes != "key point one" {
		t.Errorf("unexpected notes: %q", notes)
	}
	if provider.Calls() != 1 {
		t.Errorf("expected 1 completion call, got %d", provider.Calls())
	}
}

func TestSummarize_ChunksJoinInOrder(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			// Echo the first word of the chunk so order is observable.
			content := req.Messages[0].Content
			first := strings.Fields(content[strings.Index(content, "\n\n")+2:])[0]
			return &llm.CompletionResponse{Content: "notes-" + first}, nil
		},
	}
	s := New(provider, nil, WithSleeper(noSleep), WithChunkWords(2))

	notes, err := s.Summarize(context.Background(), "vid1", "alpha beta gamma delta epsilon")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	want := "notes-alpha\n\nnotes-gamma\n\nnotes-epsilon"
	if notes != want {
		t.Errorf("expected %q, got %q", want, notes)
	}
}

func TestSummarize_CachesPerVideo(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "notes"},
	}
	s := New(provider, nil, WithSleeper(noSleep))
	ctx := context.Background()

	if _, err := s.Summarize(ctx, "vid1", "text"); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if _, err := s.Summarize(ctx, "vid1", "text"); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if provider.Calls() != 1 {
		t.Errorf("expected cached second call, got %d completions", provider.Calls())
	}

	if _, err := s.Summarize(ctx, "vid2", "text"); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if provider.Calls() != 2 {
		t.Errorf("expected fresh computation for a new video, got %d completions", provider.Calls())
	}
}

func TestSummarize_StripsMarkdown(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "# Heading\n* bullet **bold**"},
	}
	s := New(provider, nil, WithSleeper(noSleep))

	notes, err := s.Summarize(context.Background(), "vid1", "text")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if strings.ContainsAny(notes, "*#") {
		t.Errorf("expected markdown stripped, got %q", notes)
	}
}

func TestSummarize_ConcurrencyCappedAtTwo(t *testing.T) {
	var inFlight, peak atomic.Int32
	var mu sync.Mutex

	provider := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			n := inFlight.Add(1)
			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return &llm.CompletionResponse{Content: "notes"}, nil
		},
	}
	s := New(provider, nil, WithSleeper(noSleep), WithChunkWords(1))

	_, err := s.Summarize(context.Background(), "vid1", "a b c d e f")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("expected at most 2 concurrent requests, saw %d", got)
	}
	if provider.Calls() != 6 {
		t.Errorf("expected 6 chunk requests, got %d", provider.Calls())
	}
}

func TestSummarize_OversizedChunkSplit(t *testing.T) {
	// Every estimate exceeds the budget, so splitting recurses down to
	// single-word chunks.
	provider := &llmmock.Provider{
		TokenCount:       maxChunkTokens + 1,
		CompleteResponse: &llm.CompletionResponse{Content: "notes"},
	}
	s := New(provider, nil, WithSleeper(noSleep))

	if _, err := s.Summarize(context.Background(), "vid1", "alpha beta gamma delta"); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if provider.Calls() != 4 {
		t.Errorf("expected 4 single-word chunk requests, got %d", provider.Calls())
	}
}

func TestSummarize_TokenEstimateWithinBudgetKeepsChunks(t *testing.T) {
	provider := &llmmock.Provider{
		TokenCount:       maxChunkTokens,
		CompleteResponse: &llm.CompletionResponse{Content: "notes"},
	}
	s := New(provider, nil, WithSleeper(noSleep))

	if _, err := s.Summarize(context.Background(), "vid1", "alpha beta gamma delta"); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if provider.Calls() != 1 {
		t.Errorf("expected 1 request for an in-budget chunk, got %d", provider.Calls())
	}
}

func TestSummarize_TokenEstimateFailureKeepsChunks(t *testing.T) {
	provider := &llmmock.Provider{
		CountTokensErr:   errors.New("no tokenizer for model"),
		CompleteResponse: &llm.CompletionResponse{Content: "notes"},
	}
	s := New(provider, nil, WithSleeper(noSleep))

	if _, err := s.Summarize(context.Background(), "vid1", "alpha beta gamma delta"); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if provider.Calls() != 1 {
		t.Errorf("expected 1 request when estimation fails, got %d", provider.Calls())
	}
}

func TestSummarizeChunk_RetriesRateLimit(t *testing.T) {
	attempts := 0
	provider := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			attempts++
			if attempts < 3 {
				return nil, fmt.Errorf("wrapped: %w", llm.ErrRateLimited)
			}
			return &llm.CompletionResponse{Content: "finally"}, nil
		},
	}
	var slept []time.Duration
	s := New(provider, nil, WithSleeper(func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}))

	notes, err := s.Summarize(context.Background(), "vid1", "text")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if notes != "finally" {
		t.Errorf("unexpected notes: %q", notes)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(slept) != len(want) || slept[0] != want[0] || slept[1] != want[1] {
		t.Errorf("expected linear delays %v, got %v", want, slept)
	}
}

func TestSummarizeChunk_ExhaustedRetriesFail(t *testing.T) {
	provider := &llmmock.Provider{CompleteErr: llm.ErrRateLimited}
	s := New(provider, nil, WithSleeper(noSleep))

	_, err := s.Summarize(context.Background(), "vid1", "text")
	if !errors.Is(err, llm.ErrRateLimited) {
		t.Errorf("expected rate-limit error after exhausted retries, got %v", err)
	}
	if provider.Calls() != 3 {
		t.Errorf("expected 3 attempts, got %d", provider.Calls())
	}
}

func TestSummarize_UnrecoverableErrorNoRetry(t *testing.T) {
	boom := errors.New("bad request")
	provider := &llmmock.Provider{CompleteErr: boom}
	s := New(provider, nil, WithSleeper(noSleep))

	_, err := s.Summarize(context.Background(), "vid1", "text")
	if !errors.Is(err, boom) {
		t.Errorf("expected backend error, got %v", err)
	}
	if provider.Calls() != 1 {
		t.Errorf("expected no retry, got %d attempts", provider.Calls())
	}
}

func TestSummarize_EmptyText(t *testing.T) {
	s := New(&llmmock.Provider{}, nil, WithSleeper(noSleep))
	if _, err := s.Summarize(context.Background(), "vid1", "   "); err == nil {
		t.Error("expected error for empty transcript text")
	}
}
