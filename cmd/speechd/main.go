package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Branis333/brainink-speech/internal/analyze"
	"github.com/Branis333/brainink-speech/internal/archive"
	"github.com/Branis333/brainink-speech/internal/session"
	"github.com/Branis333/brainink-speech/internal/sidecar"
	"github.com/Branis333/brainink-speech/internal/transcribe"
	"github.com/Branis333/brainink-speech/internal/ws"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	// Sidecar manager
	services := map[string]sidecar.Service{}
	if cfg.whisperControlURL != "" {
		services["whisper-server"] = sidecar.Service{
			Kind:       "stt",
			ControlURL: cfg.whisperControlURL,
			HealthURL:  cfg.whisperURL,
		}
	}
	svcMgr := sidecar.NewManager(services)

	// Transcription backends
	backends := map[string]transcribe.Engine{}
	var whisper *transcribe.WhisperClient
	if cfg.whisperURL != "" {
		whisper = transcribe.NewWhisperClient(cfg.whisperURL, cfg.asrPoolSize)
		backends["whisper"] = whisper
	}
	if cfg.openaiAPIKey != "" {
		backends["openai"] = transcribe.NewOpenAIClient(cfg.openaiAPIKey, cfg.openaiBaseURL, cfg.openaiModel, cfg.asrPoolSize)
	}
	if len(backends) == 0 {
		slog.Error("no transcription backends configured")
		os.Exit(1)
	}
	if _, ok := backends[cfg.defaultEngine]; !ok {
		requested := cfg.defaultEngine
		for _, name := range []string{"whisper", "openai"} {
			if _, ok := backends[name]; ok {
				cfg.defaultEngine = name
				break
			}
		}
		slog.Warn("default engine has no backend, falling back", "requested", requested, "fallback", cfg.defaultEngine)
	}

	var noise *transcribe.NoiseClient
	if cfg.noiseURL != "" {
		noise = transcribe.NewNoiseClient(cfg.noiseURL)
		slog.Info("denoising enabled", "url", cfg.noiseURL)
	}

	adapter := transcribe.NewAdapter(transcribe.AdapterConfig{
		Backends:        backends,
		Fallback:        cfg.defaultEngine,
		Noise:           noise,
		MinAudioSeconds: cfg.tuning.Dispatch.MinAudioSeconds,
		PriorTextChars:  cfg.tuning.Dispatch.PriorTextChars,
	})

	if whisper != nil {
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := whisper.Warmup(warmCtx); err != nil {
			slog.Warn("whisper warmup", "error", err)
		}
		warmCancel()
	}

	// Archive (optional)
	var archStore *archive.Store
	var archWriter *archive.Writer
	if cfg.archiveDSN != "" {
		archStore, err = archive.Open(cfg.archiveDSN)
		if err != nil {
			slog.Error("open archive", "error", err)
			os.Exit(1)
		}
		archWriter = archive.NewWriter(archStore)
		slog.Info("archive enabled")
	}

	// Post-session summaries (optional)
	var analyzer *analyze.Analyzer
	switch cfg.analyzeEngine {
	case "":
	case "agent":
		analyzer = analyze.New(analyze.NewAgentClient(cfg.analyzeModel, cfg.analyzeMaxTokens), "agent", archWriter, cfg.analyzeTimeout)
		slog.Info("summaries enabled", "engine", "agent", "model", cfg.analyzeModel)
	case "ollama":
		analyzer = analyze.New(analyze.NewOllamaClient(cfg.ollamaURL, cfg.ollamaModel, cfg.analyzeMaxTokens, cfg.llmPoolSize), "ollama", archWriter, cfg.analyzeTimeout)
		slog.Info("summaries enabled", "engine", "ollama", "model", cfg.ollamaModel)
	default:
		slog.Error("unknown ANALYZE_ENGINE", "engine", cfg.analyzeEngine)
		os.Exit(1)
	}

	store := session.NewStore()
	monitor := newMonitorHub()

	handler := ws.NewHandler(ws.HandlerConfig{
		Adapter:            adapter,
		Store:              store,
		Tuning:             cfg.tuning,
		Archive:            archWriter,
		Analyzer:           analyzer,
		Monitor:            monitor,
		DefaultEngine:      cfg.defaultEngine,
		DefaultLanguage:    cfg.defaultLanguage,
		SupportedLanguages: cfg.supportedLanguages,
		MaxConcurrent:      cfg.maxConcurrent,
		SessionTTL:         cfg.sessionTTL,
	})

	// Idle sweeper: catches sessions whose connection goroutine is gone.
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n := handler.CloseIdle(time.Now()); n > 0 {
					slog.Info("idle sessions closed", "count", n)
				}
			}
		}
	}()

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		cfg:       cfg,
		adapter:   adapter,
		store:     store,
		archive:   archStore,
		svcMgr:    svcMgr,
		monitor:   monitor,
		wsHandler: handler,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	shutdownDone := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sweepCancel()
		srv.Shutdown(ctx)

		// Summaries feed the archive writer, so drain in that order.
		analyzer.Wait()
		archWriter.Close()
		if archStore != nil {
			archStore.Close()
		}
		close(shutdownDone)
	}()

	slog.Info("speechd starting",
		"addr", addr, "engines", adapter.Engines(),
		"default_engine", cfg.defaultEngine, "max_concurrent", cfg.maxConcurrent)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	<-shutdownDone
	slog.Info("speechd stopped")
}
