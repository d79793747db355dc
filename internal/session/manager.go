// Package session owns the in-memory table of per-video transcript stores.
//
// Stores are created lazily on first access and shared by every concurrent
// request for the same video. Creation is deduplicated: when two requests
// race on an unseen video, one builds and the other waits for the result.
// The table is bounded by a session cap with least-recently-used eviction
// plus an idle TTL, so the process does not grow with every video ever
// touched.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/omniglot-dev/dubbler/internal/transcript"
)

const (
	defaultMaxSessions = 256
	defaultIdleTTL     = 2 * time.Hour
)

// StoreBuilder constructs the transcript store for a video. Implemented by
// *transcript.Builder. An error marks a transient failure that must not be
// cached; "no transcript exists" is a successful build of the empty store
// variant.
type StoreBuilder interface {
	Build(ctx context.Context, videoID string) (*transcript.Store, error)
}

// Option is a functional option for the Manager.
type Option func(*Manager)

// WithMaxSessions bounds the number of resident sessions. When exceeded the
// least-recently-used session is evicted.
func WithMaxSessions(n int) Option {
	return func(m *Manager) { m.maxSessions = n }
}

// WithIdleTTL evicts sessions untouched for longer than d.
func WithIdleTTL(d time.Duration) Option {
	return func(m *Manager) { m.idleTTL = d }
}

// WithClock replaces the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// entry is one session slot. ready is closed once store and err are
// populated; waiters block on it instead of re-building.
type entry struct {
	ready    chan struct{}
	store    *transcript.Store
	err      error
	lastUsed time.Time
}

// Manager is the session table. Safe for concurrent use.
type Manager struct {
	builder     StoreBuilder
	logger      *slog.Logger
	maxSessions int
	idleTTL     time.Duration
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewManager creates a Manager around builder. logger may be nil.
func NewManager(builder StoreBuilder, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		builder:     builder,
		logger:      logger,
		maxSessions: defaultMaxSessions,
		idleTTL:     defaultIdleTTL,
		now:         time.Now,
		entries:     make(map[string]*entry),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Get returns the session store for videoID, building it on first access.
// Concurrent calls for the same unseen video trigger exactly one build; the
// losers wait for it. A failed build is not cached: the slot is dropped so
// the next Get retries, and the winner plus any waiters receive the error.
func (m *Manager) Get(ctx context.Context, videoID string) (*transcript.Store, error) {
	m.mu.Lock()
	m.evictLocked()

	if e, ok := m.entries[videoID]; ok {
		e.lastUsed = m.now()
		m.mu.Unlock()
		select {
		case <-e.ready:
			if e.err != nil {
				return nil, fmt.Errorf("session: build %s: %w", videoID, e.err)
			}
			return e.store, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("session: wait for %s: %w", videoID, ctx.Err())
		}
	}

	e := &entry{ready: make(chan struct{}), lastUsed: m.now()}
	m.entries[videoID] = e
	m.mu.Unlock()

	// Build outside the lock; it hits the network. The context is detached
	// from the caller so one disconnecting client cannot fail the build for
	// the waiters sharing it.
	start := m.now()
	e.store, e.err = m.builder.Build(context.WithoutCancel(ctx), videoID)
	if e.err != nil {
		m.mu.Lock()
		if m.entries[videoID] == e {
			delete(m.entries, videoID)
		}
		m.mu.Unlock()
	}
	close(e.ready)

	if e.err != nil {
		m.logger.Warn("session build failed", "video_id", videoID, "error", e.err)
		return nil, fmt.Errorf("session: build %s: %w", videoID, e.err)
	}
	m.logger.Info("session created",
		"video_id", videoID,
		"source_lang", e.store.SourceLang,
		"segments", len(e.store.Entries),
		"elapsed", m.now().Sub(start))
	return e.store, nil
}

// Peek returns the session store for videoID without building one. The
// second return value is false when the video has no resident, fully built
// session.
func (m *Manager) Peek(videoID string) (*transcript.Store, bool) {
	m.mu.Lock()
	e, ok := m.entries[videoID]
	if ok {
		e.lastUsed = m.now()
	}
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-e.ready:
		if e.err != nil {
			return nil, false
		}
		return e.store, true
	default:
		return nil, false
	}
}

// Len returns the number of resident sessions, including in-flight builds.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// evictLocked drops idle-expired sessions, then the least-recently-used
// session while over capacity. In-flight builds are never evicted. Caller
// holds mu.
func (m *Manager) evictLocked() {
	now := m.now()
	for id, e := range m.entries {
		if !isReady(e) {
			continue
		}
		if m.idleTTL > 0 && now.Sub(e.lastUsed) > m.idleTTL {
			delete(m.entries, id)
			m.logger.Debug("session evicted", "video_id", id, "reason", "idle")
		}
	}
	for m.maxSessions > 0 && len(m.entries) >= m.maxSessions {
		var oldestID string
		var oldest time.Time
		for id, e := range m.entries {
			if !isReady(e) {
				continue
			}
			if oldestID == "" || e.lastUsed.Before(oldest) {
				oldestID, oldest = id, e.lastUsed
			}
		}
		if oldestID == "" {
			return
		}
		delete(m.entries, oldestID)
		m.logger.Debug("session evicted", "video_id", oldestID, "reason", "capacity")
	}
}

func isReady(e *entry) bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}
