package transcript

import (
	"context"
	"fmt"
	"strings"
	"testing"

	transcriptprov "github.com/omniglot-dev/dubbler/pkg/provider/transcript"
	transcriptmock "github.com/omniglot-dev/dubbler/pkg/provider/transcript/mock"
	translatemock "github.com/omniglot-dev/dubbler/pkg/provider/translate/mock"
)

// mustBuild fails the test on a build error; for cases where only the store
// matters.
func mustBuild(t *testing.T, b *Builder, videoID string) *Store {
	t.Helper()
	store, err := b.Build(context.Background(), videoID)
	if err != nil {
		t.Fatalf("Build %s: %v", videoID, err)
	}
	return store
}

func TestBuild_EnglishSourceSkipsTranslation(t *testing.T) {
	source := &transcriptmock.Provider{
		Entries: []transcriptprov.RawEntry{
			{Text: "hello world", Start: 0, Duration: 2},
			{Text: "second line", Start: 2, Duration: 2},
		},
		Lang: "en",
	}
	translator := &translatemock.Translator{}

	store := mustBuild(t, NewBuilder(source, translator, nil), "vid1")

	if !store.HasTranscript() {
		t.Fatal("expected transcript to be present")
	}
	if store.SourceLang != "en" {
		t.Errorf("expected source language 'en', got %q", store.SourceLang)
	}
	if store.ReferenceText != "hello world second line" {
		t.Errorf("expected identity reference text, got %q", store.ReferenceText)
	}
	if translator.BulkCalls() != 0 {
		t.Errorf("expected no translation calls for English source, got %d", translator.BulkCalls())
	}
}

func TestBuild_NonEnglishTranslatesReference(t *testing.T) {
	source := &transcriptmock.Provider{
		Entries: []transcriptprov.RawEntry{
			{Text: "नमस्ते दुनिया", Start: 0, Duration: 2},
		},
		Lang: "hi",
	}
	translator := &translatemock.Translator{}

	store := mustBuild(t, NewBuilder(source, translator, nil), "vid1")

	if translator.BulkCalls() != 1 {
		t.Fatalf("expected 1 bulk translation call, got %d", translator.BulkCalls())
	}
	call := translator.TranslateCalls[0]
	if call.TargetLang != "en" {
		t.Errorf("expected target language 'en', got %q", call.TargetLang)
	}
	if store.ReferenceText != "en:नमस्ते दुनिया" {
		t.Errorf("unexpected reference text: %q", store.ReferenceText)
	}
}

func TestBuild_ChunksRecombineInOrder(t *testing.T) {
	// 1200 distinct words force three chunks (500/500/200); the mock tags
	// each chunk so order is observable after recombination.
	words := make([]string, 1200)
	for i := range words {
		words[i] = fmt.Sprintf("w%04d", i)
	}
	source := &transcriptmock.Provider{
		Entries: []transcriptprov.RawEntry{
			{Text: strings.Join(words, " "), Start: 0, Duration: 10},
		},
		Lang: "hi",
	}
	translator := &translatemock.Translator{}

	store := mustBuild(t, NewBuilder(source, translator, nil), "vid1")

	if translator.BulkCalls() != 3 {
		t.Fatalf("expected 3 chunk translations, got %d", translator.BulkCalls())
	}
	// Every marker-translated chunk starts with "en:w<first-word-index>".
	for _, prefix := range []string{"en:w0000", "en:w0500", "en:w1000"} {
		if !strings.Contains(store.ReferenceText, prefix) {
			t.Errorf("expected reference text to contain %q", prefix)
		}
	}
	if strings.Index(store.ReferenceText, "en:w0000") > strings.Index(store.ReferenceText, "en:w0500") {
		t.Error("expected chunks recombined in original order")
	}
}

func TestBuild_ChunkFailureDegradesToOriginal(t *testing.T) {
	source := &transcriptmock.Provider{
		Entries: []transcriptprov.RawEntry{
			{Text: "hola mundo", Start: 0, Duration: 2},
		},
		Lang: "es",
	}
	translator := &translatemock.Translator{
		TranslateErr: fmt.Errorf("backend down"),
	}

	store := mustBuild(t, NewBuilder(source, translator, nil), "vid1")

	if store.ReferenceText != "hola mundo" {
		t.Errorf("expected failed chunk to keep original text, got %q", store.ReferenceText)
	}
}

func TestBuild_NoTranslatorKeepsOriginalReference(t *testing.T) {
	source := &transcriptmock.Provider{
		Entries: []transcriptprov.RawEntry{
			{Text: "नमस्ते दुनिया", Start: 0, Duration: 2},
		},
		Lang: "hi",
	}

	store := mustBuild(t, NewBuilder(source, nil, nil), "vid1")

	if !store.HasTranscript() {
		t.Fatal("expected transcript to be present")
	}
	if store.ReferenceText != "नमस्ते दुनिया" {
		t.Errorf("expected original-language reference, got %q", store.ReferenceText)
	}
}

func TestBuild_NoTranscript(t *testing.T) {
	source := &transcriptmock.Provider{
		Err: fmt.Errorf("video vid1: %w", transcriptprov.ErrNotAvailable),
	}
	translator := &translatemock.Translator{}

	store := mustBuild(t, NewBuilder(source, translator, nil), "vid1")

	if store.HasTranscript() {
		t.Error("expected empty store variant")
	}
	if translator.BulkCalls() != 0 {
		t.Errorf("expected no translation calls, got %d", translator.BulkCalls())
	}
}

func TestBuild_TransientFetchErrorPropagates(t *testing.T) {
	source := &transcriptmock.Provider{
		Err: fmt.Errorf("timedtext: connection reset"),
	}

	_, err := NewBuilder(source, &translatemock.Translator{}, nil).Build(context.Background(), "vid1")
	if err == nil {
		t.Fatal("expected a transient fetch failure to propagate")
	}
	if !strings.Contains(err.Error(), "vid1") {
		t.Errorf("error should name the video: %v", err)
	}
}

func TestBuild_FetchPreferenceOrder(t *testing.T) {
	source := &transcriptmock.Provider{Lang: "en"}
	mustBuild(t, NewBuilder(source, &translatemock.Translator{}, nil), "vid1")

	if len(source.FetchCalls) != 1 {
		t.Fatalf("expected 1 fetch, got %d", len(source.FetchCalls))
	}
	preferred := source.FetchCalls[0].Preferred
	if len(preferred) != 2 || preferred[0] != "en" || preferred[1] != "hi" {
		t.Errorf("expected preference order [en hi], got %v", preferred)
	}
}

func TestStoreEntry(t *testing.T) {
	store := &Store{
		Entries: Normalize([]transcriptprov.RawEntry{
			{Text: "a", Start: 0, Duration: 1},
			{Text: "b", Start: 1, Duration: 1},
		}),
	}

	if e, ok := store.Entry(2); !ok || e.Text != "b" {
		t.Errorf("expected segment 2 = 'b', got %+v ok=%v", e, ok)
	}
	if _, ok := store.Entry(0); ok {
		t.Error("expected segment 0 to be out of range")
	}
	if _, ok := store.Entry(3); ok {
		t.Error("expected segment 3 to be out of range")
	}
}

func TestDubStatus(t *testing.T) {
	store := &Store{}

	if lang, busy := store.DubStatus(); lang != "" || busy {
		t.Errorf("expected idle status, got %q/%v", lang, busy)
	}
	store.BeginDub("es")
	if lang, busy := store.DubStatus(); lang != "es" || !busy {
		t.Errorf("expected es/in-progress, got %q/%v", lang, busy)
	}
	store.EndDub()
	if lang, busy := store.DubStatus(); lang != "es" || busy {
		t.Errorf("expected es/idle, got %q/%v", lang, busy)
	}
}

func TestChunkWords(t *testing.T) {
	chunks := chunkWords("a b c d e", 2)
	want := []string{"a b", "c d", "e"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d: expected %q, got %q", i, want[i], chunks[i])
		}
	}
	if got := chunkWords("   ", 2); got != nil {
		t.Errorf("expected nil for blank text, got %v", got)
	}
}
