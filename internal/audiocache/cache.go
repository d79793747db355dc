// Package audiocache stores synthesized segment audio on disk, keyed by
// (video, language, segment).
//
// Artifacts are write-once: presence of the file is the cache entry, and an
// existing key is never regenerated. Writes go through a temp file plus
// rename so a partial write is never visible under the final key; when two
// requests race on the same missing key the second rename lands the same
// bytes and is harmless.
package audiocache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/omniglot-dev/dubbler/internal/transcript"
	"github.com/omniglot-dev/dubbler/pkg/provider/translate"
	"github.com/omniglot-dev/dubbler/pkg/provider/tts"
)

// ErrNotCached indicates no artifact exists for the requested key.
var ErrNotCached = errors.New("audiocache: artifact not cached")

// defaultConcurrency bounds in-flight translate+synthesize pairs during a
// window fill.
const defaultConcurrency = 4

// Option is a functional option for the Cache.
type Option func(*Cache)

// WithConcurrency bounds the number of segments materialized in parallel by
// MaterializeWindow.
func WithConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// Cache is the on-disk segment audio cache. Safe for concurrent use.
type Cache struct {
	dir         string
	translator  translate.Translator
	synth       tts.Provider
	logger      *slog.Logger
	concurrency int
}

// New creates a Cache rooted at dir, creating it if needed. logger may be
// nil.
func New(dir string, translator translate.Translator, synth tts.Provider, logger *slog.Logger, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("audiocache: dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audiocache: create root %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		dir:         dir,
		translator:  translator,
		synth:       synth,
		logger:      logger,
		concurrency: defaultConcurrency,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Path returns the artifact location for a key. The segment number is
// 1-based; files are numbered from 0 to match player-side offsets.
func (c *Cache) Path(videoID, lang string, segment int) (string, error) {
	if err := validateKeyPart(videoID); err != nil {
		return "", fmt.Errorf("audiocache: video id: %w", err)
	}
	if err := validateKeyPart(lang); err != nil {
		return "", fmt.Errorf("audiocache: language: %w", err)
	}
	if segment < 1 {
		return "", fmt.Errorf("audiocache: segment %d out of range", segment)
	}
	return filepath.Join(c.dir, videoID, strings.ToLower(lang), fmt.Sprintf("segment_%04d.mp3", segment-1)), nil
}

// ContentType returns the media type of cached artifacts, as reported by the
// synthesis backend.
func (c *Cache) ContentType() string {
	return c.synth.OutputFormat()
}

// Exists reports whether the artifact for a key is present.
func (c *Cache) Exists(videoID, lang string, segment int) bool {
	path, err := c.Path(videoID, lang, segment)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Read returns the cached artifact bytes, or an error wrapping [ErrNotCached]
// when the key has no artifact.
func (c *Cache) Read(videoID, lang string, segment int) ([]byte, error) {
	path, err := c.Path(videoID, lang, segment)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("audiocache: %s/%s segment %d: %w", videoID, lang, segment, ErrNotCached)
	}
	if err != nil {
		return nil, fmt.Errorf("audiocache: read %s: %w", path, err)
	}
	return data, nil
}

// Count returns the number of artifacts present for a video and language.
func (c *Cache) Count(videoID, lang string) int {
	if validateKeyPart(videoID) != nil || validateKeyPart(lang) != nil {
		return 0
	}
	names, err := os.ReadDir(filepath.Join(c.dir, videoID, strings.ToLower(lang)))
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range names {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".mp3") {
			n++
		}
	}
	return n
}

// Store synthesizes text and persists it under the key, unless the artifact
// already exists. Used by the synchronous miss path, which supplies text it
// has already translated with document context.
func (c *Cache) Store(ctx context.Context, videoID, lang string, segment int, text string) error {
	path, err := c.Path(videoID, lang, segment)
	if err != nil {
		return err
	}
	if fileExists(path) {
		return nil
	}

	audio, err := c.synth.Synthesize(ctx, text, lang)
	if err != nil {
		return fmt.Errorf("audiocache: synthesize %s/%s segment %d: %w", videoID, lang, segment, err)
	}
	return c.persist(path, audio)
}

// Materialize translates a segment's text into lang with the bulk strategy
// and persists the synthesized audio, unless the artifact already exists.
// When lang matches srcLang the text is synthesized as-is.
func (c *Cache) Materialize(ctx context.Context, videoID, lang, srcLang string, seg transcript.Entry) error {
	path, err := c.Path(videoID, lang, seg.SegmentIndex)
	if err != nil {
		return err
	}
	if fileExists(path) {
		return nil
	}

	text := seg.Text
	if !transcript.SameLanguage(lang, srcLang) {
		if c.translator == nil {
			return fmt.Errorf("audiocache: translate %s/%s segment %d: no translator configured", videoID, lang, seg.SegmentIndex)
		}
		text, err = c.translator.Translate(ctx, seg.Text, lang)
		if err != nil {
			return fmt.Errorf("audiocache: translate %s/%s segment %d: %w", videoID, lang, seg.SegmentIndex, err)
		}
	}

	audio, err := c.synth.Synthesize(ctx, text, lang)
	if err != nil {
		return fmt.Errorf("audiocache: synthesize %s/%s segment %d: %w", videoID, lang, seg.SegmentIndex, err)
	}
	return c.persist(path, audio)
}

// MaterializeWindow materializes every absent segment in segs concurrently,
// bounded by the configured worker count. A failure on one segment is logged
// and does not abort its siblings; the segment stays absent and will be
// retried by the next request that needs it. Returns the number of segments
// newly materialized.
func (c *Cache) MaterializeWindow(ctx context.Context, videoID, lang, srcLang string, segs []transcript.Entry) int {
	var g errgroup.Group
	g.SetLimit(c.concurrency)

	done := make(chan int, len(segs))
	for _, seg := range segs {
		if c.Exists(videoID, lang, seg.SegmentIndex) {
			continue
		}
		g.Go(func() error {
			if err := c.Materialize(ctx, videoID, lang, srcLang, seg); err != nil {
				c.logger.Warn("segment materialization failed",
					"video_id", videoID, "lang", lang,
					"segment", seg.SegmentIndex, "error", err)
				return nil
			}
			done <- seg.SegmentIndex
			return nil
		})
	}
	g.Wait()
	close(done)

	n := 0
	for range done {
		n++
	}
	return n
}

// persist writes audio under path via temp-file-then-rename so readers never
// observe a partial artifact.
func (c *Cache) persist(path string, audio []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("audiocache: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".segment-*.tmp")
	if err != nil {
		return fmt.Errorf("audiocache: temp file: %w", err)
	}
	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("audiocache: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("audiocache: close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("audiocache: rename to %s: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// validateKeyPart rejects key components that could escape the cache root.
func validateKeyPart(part string) error {
	if part == "" {
		return errors.New("must not be empty")
	}
	if strings.ContainsAny(part, "/\\") || strings.Contains(part, "..") {
		return fmt.Errorf("invalid value %q", part)
	}
	return nil
}
