// Package server exposes the dubbing pipeline over HTTP.
//
// Routes:
//
//   - GET  /audio/{videoID}/{lang}/{segment} — synthesized segment clip
//   - GET  /transcript/{videoID}             — normalized transcript entries
//   - GET  /status/{videoID}                 — dub progress for a video
//   - GET  /summary/{videoID}                — plain-text study notes
//   - POST /ask/{videoID}                    — question answering over the transcript
//   - GET  /healthz, /readyz                 — probes
//   - GET  /metrics                          — Prometheus scrape endpoint
//
// Errors are returned as JSON objects with a single "error" field.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omniglot-dev/dubbler/internal/audiocache"
	"github.com/omniglot-dev/dubbler/internal/dub"
	"github.com/omniglot-dev/dubbler/internal/health"
	"github.com/omniglot-dev/dubbler/internal/notes"
	"github.com/omniglot-dev/dubbler/internal/observe"
	"github.com/omniglot-dev/dubbler/internal/qa"
	"github.com/omniglot-dev/dubbler/internal/transcript"
)

// Server wires the pipeline services to HTTP handlers. The summarizer and
// question-answering service are optional; their endpoints return 503 when
// the corresponding field is nil.
type Server struct {
	orchestrator *dub.Orchestrator
	summarizer   *notes.Summarizer
	qa           *qa.Service
	health       *health.Handler
	metrics      *observe.Metrics
}

// New creates a Server. summarizer and qaSvc may be nil. Handlers log through
// [observe.Logger] so entries carry the request's trace correlation fields.
func New(orchestrator *dub.Orchestrator, summarizer *notes.Summarizer, qaSvc *qa.Service, healthHandler *health.Handler, metrics *observe.Metrics) *Server {
	if healthHandler == nil {
		healthHandler = health.New()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Server{
		orchestrator: orchestrator,
		summarizer:   summarizer,
		qa:           qaSvc,
		health:       healthHandler,
		metrics:      metrics,
	}
}

// Handler returns the fully routed handler with observability middleware
// applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /audio/{videoID}/{lang}/{segment}", s.handleAudio)
	mux.HandleFunc("GET /transcript/{videoID}", s.handleTranscript)
	mux.HandleFunc("GET /status/{videoID}", s.handleStatus)
	mux.HandleFunc("GET /summary/{videoID}", s.handleSummary)
	mux.HandleFunc("POST /ask/{videoID}", s.handleAsk)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)

	return observe.Middleware(s.metrics)(mux)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("videoID")
	lang := r.PathValue("lang")
	segment, err := strconv.Atoi(r.PathValue("segment"))
	if err != nil || segment < 1 {
		writeError(w, http.StatusBadRequest, "segment must be a positive integer")
		return
	}

	audio, err := s.orchestrator.Segment(r.Context(), videoID, lang, segment)
	if err != nil {
		switch {
		case errors.Is(err, dub.ErrNoTranscript), errors.Is(err, dub.ErrSegmentNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, audiocache.ErrNotCached):
			writeError(w, http.StatusBadGateway, "segment synthesis failed")
		default:
			observe.Logger(r.Context()).Error("audio request failed",
				"video_id", videoID, "lang", lang, "segment", segment, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	w.Header().Set("Content-Type", s.orchestrator.AudioContentType())
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(audio)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("videoID")
	entries, err := s.orchestrator.Transcript(r.Context(), videoID)
	if err != nil {
		if errors.Is(err, dub.ErrNoTranscript) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		observe.Logger(r.Context()).Error("transcript request failed", "video_id", videoID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"video_id": videoID,
		"segments": entries,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orchestrator.Status(r.PathValue("videoID")))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.summarizer == nil {
		writeError(w, http.StatusServiceUnavailable, "summaries are not configured")
		return
	}
	videoID := r.PathValue("videoID")
	entries, err := s.orchestrator.Transcript(r.Context(), videoID)
	if err != nil {
		if errors.Is(err, dub.ErrNoTranscript) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		observe.Logger(r.Context()).Error("summary request failed", "video_id", videoID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	summary, err := s.summarizer.Summarize(r.Context(), videoID, joinTexts(entries))
	if err != nil {
		observe.Logger(r.Context()).Error("summarize failed", "video_id", videoID, "err", err)
		writeError(w, http.StatusBadGateway, "summary generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"video_id": videoID,
		"notes":    summary,
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.qa == nil {
		writeError(w, http.StatusServiceUnavailable, "question answering is not configured")
		return
	}
	videoID := r.PathValue("videoID")

	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question must not be empty")
		return
	}

	entries, err := s.orchestrator.Transcript(r.Context(), videoID)
	if err != nil {
		if errors.Is(err, dub.ErrNoTranscript) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		observe.Logger(r.Context()).Error("ask request failed", "video_id", videoID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	answer, err := s.qa.Ask(r.Context(), videoID, req.Question, entries)
	if err != nil {
		observe.Logger(r.Context()).Error("ask failed", "video_id", videoID, "err", err)
		writeError(w, http.StatusBadGateway, "answer generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"video_id": videoID,
		"answer":   answer,
	})
}

func joinTexts(entries []transcript.Entry) string {
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}
	return strings.Join(texts, " ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
