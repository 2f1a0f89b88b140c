// Command voxlingo is the main entry point for the voxlingo conversation
// server.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxlingo/voxlingo/internal/config"
	"github.com/voxlingo/voxlingo/internal/convo"
	"github.com/voxlingo/voxlingo/internal/enrich"
	"github.com/voxlingo/voxlingo/internal/graph"
	"github.com/voxlingo/voxlingo/internal/health"
	"github.com/voxlingo/voxlingo/internal/observe"
	"github.com/voxlingo/voxlingo/internal/prompt"
	"github.com/voxlingo/voxlingo/internal/resilience"
	"github.com/voxlingo/voxlingo/internal/server"
	"github.com/voxlingo/voxlingo/internal/transcribe"
	"github.com/voxlingo/voxlingo/pkg/memory"
	pgstore "github.com/voxlingo/voxlingo/pkg/memory/postgres"
	"github.com/voxlingo/voxlingo/pkg/provider/embeddings"
	oaembed "github.com/voxlingo/voxlingo/pkg/provider/embeddings/openai"
	"github.com/voxlingo/voxlingo/pkg/provider/llm"
	"github.com/voxlingo/voxlingo/pkg/provider/llm/anyllm"
	oaillm "github.com/voxlingo/voxlingo/pkg/provider/llm/openai"
	"github.com/voxlingo/voxlingo/pkg/provider/stt"
	"github.com/voxlingo/voxlingo/pkg/provider/stt/deepgram"
	"github.com/voxlingo/voxlingo/pkg/provider/tts"
	"github.com/voxlingo/voxlingo/pkg/provider/tts/elevenlabs"
)

// version is overridden at build time via -ldflags.
var version = "dev"

const (
	defaultListenAddr         = ":8080"
	defaultEmbeddingDims      = 1536
	shutdownTimeout           = 15 * time.Second
	enrichmentConcurrency     = 4
	readHeaderTimeout         = 10 * time.Second
	telemetryShutdownDeadline = 5 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxlingo: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxlingo: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxlingo starting",
		"version", version,
		"config", *configPath,
		"listen_addr", listenAddr(cfg),
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxlingo",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("telemetry init failed", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownDeadline)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	ps, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("provider setup failed", "err", err)
		return 1
	}
	wrapFallbacks(cfg, reg, ps, metrics)

	checkers := []health.Checker{
		{Name: "providers", Check: func(context.Context) error {
			if ps.STT == nil || ps.LLM == nil || ps.TTS == nil {
				return errors.New("conversation pipeline providers incomplete")
			}
			return nil
		}},
	}

	// ── Language catalog ──────────────────────────────────────────────────────
	catalog, err := config.NewCatalog(cfg.Languages)
	if err != nil {
		slog.Error("language catalog invalid", "err", err)
		return 1
	}

	// ── Long-term memory ──────────────────────────────────────────────────────
	var store memory.Store
	if dsn := cfg.Memory.PostgresDSN; dsn != "" {
		dims := cfg.Memory.EmbeddingDimensions
		if dims <= 0 {
			dims = defaultEmbeddingDims
		}
		pg, err := pgstore.NewStore(ctx, dsn, dims)
		if err != nil {
			slog.Error("memory store init failed", "err", err)
			return 1
		}
		defer pg.Close()
		store = pg
		checkers = append(checkers, health.Checker{Name: "memory-store", Check: pg.Ping})
		slog.Info("memory store connected", "dimensions", dims)
	}

	// ── Conversation pipeline ─────────────────────────────────────────────────
	promptOpts := []prompt.Option{
		prompt.WithHistoryLimit(cfg.Session.HistoryLimit),
		prompt.WithLogger(logger),
	}
	if cfg.Memory.RetrievalTopK > 0 {
		promptOpts = append(promptOpts, prompt.WithRetrievalTopK(cfg.Memory.RetrievalTopK))
	}
	prompts := prompt.New(ps.Embeddings, store, promptOpts...)

	pipeline := graph.NewPipeline(ps.STT, ps.LLM, ps.TTS, prompts,
		graph.WithSampleRate(cfg.Session.SampleRate),
		graph.WithPipelineLogger(logger),
		graph.WithPipelineMetrics(metrics),
		graph.WithAdapterOptions(
			transcribe.WithDebounce(cfg.Session.DebounceWindow),
			transcribe.WithMaxTurnDuration(cfg.Session.MaxTurnDuration),
			transcribe.WithLogger(logger),
		),
	)

	registry := convo.NewRegistry()
	enrichers := func() convo.Enrichers {
		e := convo.Enrichers{
			Flashcards: enrich.NewFlashcardProcessor(ps.LLM, logger),
			Feedback:   enrich.NewFeedbackProcessor(ps.LLM, logger),
			Supervisor: enrich.NewSupervisor(logger, enrichmentConcurrency),
		}
		if store != nil && ps.Embeddings != nil {
			e.Memory = enrich.NewMemoryProcessor(ps.LLM, ps.Embeddings, store, logger, cfg.Session.MemoryInterval)
		}
		return e
	}

	// ── HTTP surface ──────────────────────────────────────────────────────────
	srv := server.New(server.Deps{
		Config:    cfg.Server,
		Session:   cfg.Session,
		Catalog:   catalog,
		Executor:  pipeline,
		Registry:  registry,
		TTS:       ps.TTS,
		Enrichers: enrichers,
		Metrics:   metrics,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	srv.Register(mux)
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	if dir := cfg.Server.StaticDir; dir != "" {
		mux.Handle("/", http.FileServer(http.Dir(dir)))
	}

	httpSrv := &http.Server{
		Addr:              listenAddr(cfg),
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.LanguagesChanged {
			if err := catalog.Replace(new.Languages); err != nil {
				slog.Warn("language reload rejected", "err", err)
			} else {
				slog.Info("language catalog reloaded", "languages", len(new.Languages))
			}
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)

	// ── Serve ─────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		slog.Error("server failed", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shCtx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}
	registry.DestroyAll()

	slog.Info("goodbye")
	return 0
}

func listenAddr(cfg *config.Config) string {
	if cfg.Server.ListenAddr != "" {
		return cfg.Server.ListenAddr
	}
	return defaultListenAddr
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// providerSet holds the concrete providers the conversation pipeline runs on.
type providerSet struct {
	STT        stt.Provider
	LLM        llm.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai goes through the native SDK client; the remaining backends share
	// the any-llm pattern of optional APIKey + optional BaseURL.

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
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
		return anyllm.NewOllama(entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
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

// buildProviders instantiates the providers named in cfg using the registry.
// STT, LLM, and TTS are required for a conversation pipeline; embeddings are
// optional and only enable memory retrieval.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providerSet, error) {
	ps := &providerSet{}

	p, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	ps.STT = p
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	l, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.LLM = l
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	t, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ps.TTS = t
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	if name := cfg.Providers.Embeddings.Name; name != "" {
		e, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = e
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	return ps, nil
}

// wrapFallbacks replaces each pipeline provider with a circuit-breaking
// fallback chain when backups are configured. Backup providers that fail to
// construct are logged and skipped rather than aborting startup.
func wrapFallbacks(cfg *config.Config, reg *config.Registry, ps *providerSet, metrics *observe.Metrics) {
	if entries := cfg.Fallbacks.STT; len(entries) > 0 {
		f := resilience.NewSTTFallback(ps.STT, cfg.Providers.STT.Name,
			resilience.FallbackConfig{Metrics: metrics, Stage: "stt"})
		for _, entry := range entries {
			p, err := reg.CreateSTT(entry)
			if err != nil {
				slog.Warn("stt fallback skipped", "name", entry.Name, "err", err)
				continue
			}
			f.AddFallback(entry.Name, p)
		}
		ps.STT = f
	}

	if entries := cfg.Fallbacks.LLM; len(entries) > 0 {
		f := resilience.NewLLMFallback(ps.LLM, cfg.Providers.LLM.Name,
			resilience.FallbackConfig{Metrics: metrics, Stage: "llm"})
		for _, entry := range entries {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				slog.Warn("llm fallback skipped", "name", entry.Name, "err", err)
				continue
			}
			f.AddFallback(entry.Name, p)
		}
		ps.LLM = f
	}

	if entries := cfg.Fallbacks.TTS; len(entries) > 0 {
		f := resilience.NewTTSFallback(ps.TTS, cfg.Providers.TTS.Name,
			resilience.FallbackConfig{Metrics: metrics, Stage: "tts"})
		for _, entry := range entries {
			p, err := reg.CreateTTS(entry)
			if err != nil {
				slog.Warn("tts fallback skipped", "name", entry.Name, "err", err)
				continue
			}
			f.AddFallback(entry.Name, p)
		}
		ps.TTS = f
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxlingo — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	if cfg.Memory.PostgresDSN != "" {
		fmt.Printf("║  Memory          : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Memory          : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  Languages       : %-19d ║\n", len(cfg.Languages))
	fmt.Printf("║  Listen addr     : %-19s ║\n", listenAddr(cfg))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned LevelVar lets the config
// watcher adjust verbosity at runtime.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := &slog.LevelVar{}
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
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
