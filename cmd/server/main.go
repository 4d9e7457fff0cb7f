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
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "musicbridge/internal/api/http"
	"musicbridge/internal/app"
	"musicbridge/internal/cli"
	"musicbridge/internal/dispatch"
	"musicbridge/internal/intent"
	"musicbridge/internal/metrics"
	"musicbridge/internal/services/library"
	"musicbridge/internal/services/probe/ffprobe"
	"musicbridge/internal/services/speaker/xiaoai"
	"musicbridge/internal/telemetry"
	"musicbridge/internal/usecase"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the YAML config file")
	flag.Parse()

	cfg, err := app.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "musicbridge")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	prober := ffprobe.New("")
	if err := prober.Check(); err != nil {
		logger.Error("ffprobe is required", slog.String("error", err.Error()))
		os.Exit(1)
	}

	baseURL := apihttp.ResolveBaseURL(cfg.HTTP.BaseURL, cfg.HTTP.DeviceIP, cfg.HTTP.Port)
	logger.Info("configuration loaded",
		slog.String("service", "musicbridge"),
		slog.Any("musicDirs", cfg.MusicDirs),
		slog.String("indexFile", cfg.Search.IndexFile),
		slog.String("httpAddr", cfg.HTTP.ListenAddr()),
		slog.String("baseURL", baseURL),
		slog.String("speakerAddr", cfg.Speaker.Addr),
		slog.String("logLevel", cfg.Logging.Level),
		slog.String("logFormat", cfg.Logging.Format),
	)

	store := library.NewStore(cfg.Search.IndexFile, logger.With("component", "store"))
	indexer := library.NewIndexer(cfg.Extensions, prober, logger.With("component", "indexer"))
	lib := library.New(cfg.MusicDirs, indexer, store, logger.With("component", "library"))

	gateway := apihttp.NewServer(
		apihttp.WithAddr(cfg.HTTP.ListenAddr()),
		apihttp.WithBaseURL(baseURL),
		apihttp.WithLogger(logger.With("component", "gateway")),
	)

	link := xiaoai.NewLink(cfg.Speaker.RPCTimeout(), logger.With("component", "speaker"))
	device := xiaoai.NewDevice(link, logger.With("component", "device"))

	parser := intent.NewParser(intent.Keywords{
		Play:      cfg.Commands.PlayKeywords,
		Stop:      cfg.Commands.StopKeywords,
		Refresh:   cfg.Commands.RefreshKeywords,
		Random:    cfg.Commands.RandomPlayKeywords,
		Whitelist: cfg.Commands.InterruptWhitelistKeywords,
	})

	orch := usecase.NewOrchestrator(device, lib, prober, gateway.Files(), parser,
		usecase.OrchestratorConfig{
			MaxResults:           cfg.Search.MaxResults,
			TimerBuffer:          cfg.TimerBuffer(),
			RefreshInterval:      cfg.Search.RefreshInterval(),
			ReplyInterruptWindow: cfg.Commands.ReplyInterruptTimeout(),
			ReplyStopCooldown:    cfg.Commands.ReplyInterruptCooldown(),
			AutoResumeDelay:      cfg.Commands.AutoResumeDelay(),
		},
		logger.With("component", "orchestrator"),
	)

	dispatcher := dispatch.New(orch, logger.With("component", "dispatch"))
	link.OnEvent(dispatcher.Dispatch)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if lib.HasDirs() {
		// Startup refresh in the background so both servers come up at once.
		go func() {
			if err := orch.Refresh(rootCtx, "startup"); err != nil && rootCtx.Err() == nil {
				logger.Warn("startup refresh failed", slog.String("error", err.Error()))
			}
		}()
		go orch.RunPeriodicRefresh(rootCtx)
		if cfg.Search.Watch {
			watcher := library.NewWatcher(cfg.MusicDirs, 5*time.Second,
				func(ctx context.Context) { _ = orch.TryRefresh(ctx, "watch") },
				logger.With("component", "watcher"),
			)
			go watcher.Run(rootCtx)
		}
	} else {
		logger.Warn("no music dirs configured, playback commands will announce that")
	}

	fileSrv := &http.Server{
		Addr:              gateway.Addr(),
		Handler:           gateway,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}
	speakerSrv := &http.Server{
		Addr:              cfg.Speaker.Addr,
		Handler:           link,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := fileSrv.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("file server: %w", err)
		}
	}()
	go func() {
		if err := speakerSrv.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("speaker server: %w", err)
		}
	}()

	logger.Info("servers started",
		slog.String("fileAddr", gateway.Addr()),
		slog.String("speakerAddr", cfg.Speaker.Addr),
	)

	if cli.StdinIsInteractive() {
		console := cli.New(device, orch, logger.With("component", "console"))
		go func() {
			console.Run(rootCtx)
			stop()
		}()
	} else {
		logger.Info("console disabled, stdin is not a terminal")
	}

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	orch.Stop(shutdownCtx)
	link.Close()
	if err := speakerSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("speaker server shutdown error", slog.String("error", err.Error()))
	}
	if err := fileSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("file server shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

func defaultConfigPath() string {
	if path := strings.TrimSpace(os.Getenv("MUSICBRIDGE_CONFIG")); path != "" {
		return path
	}
	return "config.yaml"
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
