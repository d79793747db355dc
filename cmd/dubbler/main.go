// Command dubbler serves on-demand dubbed audio, transcripts, study notes,
// and transcript question answering for videos.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/otel"

	"github.com/omniglot-dev/dubbler/internal/audiocache"
	"github.com/omniglot-dev/dubbler/internal/config"
	"github.com/omniglot-dev/dubbler/internal/dub"
	"github.com/omniglot-dev/dubbler/internal/health"
	"github.com/omniglot-dev/dubbler/internal/notes"
	"github.com/omniglot-dev/dubbler/internal/observe"
	"github.com/omniglot-dev/dubbler/internal/qa"
	qapostgres "github.com/omniglot-dev/dubbler/internal/qa/postgres"
	"github.com/omniglot-dev/dubbler/internal/server"
	"github.com/omniglot-dev/dubbler/internal/session"
	"github.com/omniglot-dev/dubbler/internal/transcript"
	"github.com/omniglot-dev/dubbler/pkg/provider/embeddings"
	oaembed "github.com/omniglot-dev/dubbler/pkg/provider/embeddings/openai"
	"github.com/omniglot-dev/dubbler/pkg/provider/llm"
	"github.com/omniglot-dev/dubbler/pkg/provider/llm/anyllm"
	oallm "github.com/omniglot-dev/dubbler/pkg/provider/llm/openai"
	transcriptprov "github.com/omniglot-dev/dubbler/pkg/provider/transcript"
	"github.com/omniglot-dev/dubbler/pkg/provider/transcript/youtube"
	"github.com/omniglot-dev/dubbler/pkg/provider/translate"
	translatellm "github.com/omniglot-dev/dubbler/pkg/provider/translate/llm"
	"github.com/omniglot-dev/dubbler/pkg/provider/tts"
	"github.com/omniglot-dev/dubbler/pkg/provider/tts/edge"
)

// version is stamped at build time via -ldflags.
var version = "dev"

const (
	defaultCacheDir      = "audio_cache"
	defaultEmbeddingDims = 1536
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dubbler: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dubbler: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("dubbler starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "dubbler",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	builder := transcript.NewBuilder(providers.Transcript, providers.Translate, logger)

	var sessionOpts []session.Option
	if cfg.Sessions.MaxSessions > 0 {
		sessionOpts = append(sessionOpts, session.WithMaxSessions(cfg.Sessions.MaxSessions))
	}
	if cfg.Sessions.IdleTTLMinutes > 0 {
		sessionOpts = append(sessionOpts, session.WithIdleTTL(time.Duration(cfg.Sessions.IdleTTLMinutes)*time.Minute))
	}
	sessions := session.NewManager(builder, logger, sessionOpts...)

	cacheDir := cfg.Cache.Dir
	if cacheDir == "" {
		cacheDir = defaultCacheDir
	}
	var cacheOpts []audiocache.Option
	if cfg.Cache.PrefetchConcurrency > 0 {
		cacheOpts = append(cacheOpts, audiocache.WithConcurrency(cfg.Cache.PrefetchConcurrency))
	}
	cache, err := audiocache.New(cacheDir, providers.Translate, providers.TTS, logger, cacheOpts...)
	if err != nil {
		slog.Error("failed to open audio cache", "dir", cacheDir, "err", err)
		return 1
	}

	contextTranslator := dub.NewContextTranslator(providers.Translate, logger,
		dub.WithTranslatorMetrics(metrics))
	orchestrator := dub.NewOrchestrator(sessions, cache, contextTranslator, logger, metrics)
	defer orchestrator.Close()

	var summarizer *notes.Summarizer
	if providers.LLM != nil {
		summarizer = notes.New(providers.LLM, logger)
	}

	checkers := []health.Checker{
		{Name: "audio_cache", Check: func(_ context.Context) error {
			_, err := os.Stat(cacheDir)
			return err
		}},
	}

	var qaService *qa.Service
	if cfg.QA.PostgresDSN != "" && providers.Embeddings != nil && providers.LLM != nil {
		dims := cfg.QA.EmbeddingDimensions
		if dims <= 0 {
			dims = defaultEmbeddingDims
		}
		index, err := qapostgres.New(ctx, cfg.QA.PostgresDSN, dims)
		if err != nil {
			slog.Error("failed to open qa index", "err", err)
			return 1
		}
		defer index.Close()

		qaService = qa.NewService(index, providers.Embeddings, providers.LLM, logger)
		checkers = append(checkers, health.Checker{Name: "qa_index", Check: func(ctx context.Context) error {
			_, err := index.HasVideo(ctx, "healthcheck")
			return err
		}})
		slog.Info("question answering enabled", "embedding_dimensions", dims)
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := server.New(orchestrator, summarizer, qaService, health.New(checkers...), metrics)

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	httpSrv := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready", "listen_addr", listenAddr)
		if cfg.Server.TLS != nil {
			errCh <- httpSrv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			errCh <- httpSrv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai uses the native client; the remaining vendors share the any-llm
	// gateway with optional APIKey + BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})
	for _, providerName := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}
	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── Translate ─────────────────────────────────────────────────────────────
	// Every LLM provider name doubles as a translator backend, so translation
	// can run on a cheaper model than notes and answers.
	for _, providerName := range []string{"openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "ollama"} {
		reg.RegisterTranslate(providerName, func(entry config.ProviderEntry) (translate.Translator, error) {
			backend, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, err
			}
			return translatellm.New(backend)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("edge", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []edge.Option
		if len(cfg.Voices) > 0 {
			opts = append(opts, edge.WithVoices(cfg.Voices))
		}
		if rate := optString(entry.Options, "rate"); rate != "" {
			opts = append(opts, edge.WithRate(rate))
		}
		// An explicit empty default_voice disables the English fallback so
		// unmapped languages fail with a no-voice error instead.
		if voice, ok := entry.Options["default_voice"]; ok {
			v, _ := voice.(string)
			opts = append(opts, edge.WithDefaultVoice(v))
		}
		return edge.New(opts...)
	})

	// ── Transcript ────────────────────────────────────────────────────────────
	reg.RegisterTranscript("youtube", func(entry config.ProviderEntry) (transcriptprov.Provider, error) {
		var opts []youtube.Option
		if entry.BaseURL != "" {
			opts = append(opts, youtube.WithEndpoint(entry.BaseURL))
		}
		return youtube.New(opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────
	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})
}

// providerSet holds the instantiated providers the pipeline consumes.
type providerSet struct {
	LLM        llm.Provider
	Translate  translate.Translator
	TTS        tts.Provider
	Transcript transcriptprov.Provider
	Embeddings embeddings.Provider
}

// buildProviders instantiates all providers named in cfg using the registry.
// Transcript and TTS fall back to their zero-config defaults when no entry is
// present, since the pipeline cannot run without them.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providerSet, error) {
	ps := &providerSet{}
	var err error

	if name := cfg.Providers.LLM.Name; name != "" {
		if ps.LLM, err = reg.CreateLLM(cfg.Providers.LLM); err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "llm", "name", name, "model", cfg.Providers.LLM.Model)
	}

	translateEntry := cfg.Providers.Translate
	if translateEntry.Name == "" {
		// Reuse the LLM entry when no dedicated translator is configured.
		translateEntry = cfg.Providers.LLM
	}
	if translateEntry.Name != "" {
		if ps.Translate, err = reg.CreateTranslate(translateEntry); err != nil {
			return nil, fmt.Errorf("create translate provider %q: %w", translateEntry.Name, err)
		}
		slog.Info("provider created", "kind", "translate", "name", translateEntry.Name, "model", translateEntry.Model)
	}

	ttsEntry := cfg.Providers.TTS
	if ttsEntry.Name == "" {
		ttsEntry.Name = "edge"
	}
	if ps.TTS, err = reg.CreateTTS(ttsEntry); err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", ttsEntry.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "name", ttsEntry.Name)

	transcriptEntry := cfg.Providers.Transcript
	if transcriptEntry.Name == "" {
		transcriptEntry.Name = "youtube"
	}
	if ps.Transcript, err = reg.CreateTranscript(transcriptEntry); err != nil {
		return nil, fmt.Errorf("create transcript provider %q: %w", transcriptEntry.Name, err)
	}
	slog.Info("provider created", "kind", "transcript", "name", transcriptEntry.Name)

	if name := cfg.Providers.Embeddings.Name; name != "" {
		if ps.Embeddings, err = reg.CreateEmbeddings(cfg.Providers.Embeddings); err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "embeddings", "name", name, "model", cfg.Providers.Embeddings.Model)
	}

	return ps, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
