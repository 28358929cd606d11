// Command pumpguard wires the telemetry bridge, rolling store, fault
// tracker, retrieval index, and HTTP/WebSocket surface into a single
// long-running service. See spec.md §5 and §10 (supplemented features).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pumpguard/internal/api"
	"pumpguard/internal/bridge"
	"pumpguard/internal/chatsession"
	"pumpguard/internal/config"
	"pumpguard/internal/diagnostic"
	"pumpguard/internal/docloader"
	"pumpguard/internal/faulttracker"
	"pumpguard/internal/llmclient"
	"pumpguard/internal/retrieval"
	"pumpguard/internal/store"
	"pumpguard/internal/telemetry/logging"
	"pumpguard/internal/telemetry/metrics"
	"pumpguard/internal/telemetry/tracing"
)

// fallbackReferenceDoc seeds the retrieval index when no reference document
// path is configured, so diagnose/ask/checklist always have some grounding
// text to retrieve against rather than failing outright.
const fallbackReferenceDoc = `Centrifugal pump troubleshooting guide.

Phase current imbalance above 5% usually indicates a motor winding defect:
inspect winding resistance per phase and check for insulation breakdown.

Supply voltage outside the 207-253V nominal band points to a voltage
supply fault: check upstream transformer taps and feeder cabling.

Vibration above 5mm/s with audible noise at the suction side suggests
cavitation: verify suction pressure and NPSH margin.

Vibration between 3 and 5mm/s without cavitation symptoms is consistent
with bearing wear: check lubrication and bearing temperature trend.

Sustained motor overheating above 80C points to overload or blocked
cooling: verify duty cycle against nameplate rating and clean cooling
passages.`

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to a YAML configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger.Info("configuration resolved",
		"broker_host", cfg.BrokerHost, "broker_port", cfg.BrokerPort,
		"asset_id", cfg.AssetID, "base_topic", cfg.BaseTopic,
		"metrics_backend", cfg.MetricsBackend, "config_path", configPath)

	_, tracerProvider := tracing.New("pumpguard", envOrDefault("PUMPGUARD_ENV", "development"))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracerProvider.Shutdown(shutdownCtx)
	}()

	metricsProvider := newMetricsProvider(cfg.MetricsBackend)
	appLogger := logging.New(logger)

	st := store.New(cfg.HistoryCapacity, store.DefaultSubscriberBuffer).WithMetrics(metricsProvider)
	tracker := faulttracker.New(cfg.FaultEventCap)
	sessions := chatsession.New(cfg.ChatTurnCap, cfg.SessionCap)

	llmProvider := llmclient.NewHTTPProvider(cfg.LLMBaseURL, cfg.LLMAPIKey)
	embedder := llmclient.NewHTTPEmbedder(cfg.EmbedBaseURL, cfg.LLMAPIKey, cfg.EmbedModel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	index, err := buildRetrievalIndex(ctx, cfg, embedder)
	if err != nil {
		logger.Warn("retrieval index build failed, diagnose/ask/checklist will degrade to empty context", "error", err)
		index = &retrieval.Index{}
	}
	engine := diagnostic.New(llmProvider, embedder, index, cfg.LLMModel).WithMetrics(metricsProvider)

	if cfg.IndexPersistDir != "" {
		go func() {
			if err := retrieval.Watch(ctx, cfg.IndexPersistDir, logger, engine.ReplaceIndex); err != nil {
				logger.Warn("retrieval index hot-reload watcher not started", "dir", cfg.IndexPersistDir, "error", err)
			}
		}()
	}

	natsURL := fmt.Sprintf("nats://%s:%d", cfg.BrokerHost, cfg.BrokerPort)
	br := bridge.New(natsURL, cfg.BaseTopic, cfg.AssetID, st, tracker, appLogger, metricsProvider, nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	go func() {
		if err := br.Start(ctx); err != nil {
			logger.Error("bridge failed to connect, telemetry ingestion disabled", "error", err)
			return
		}
		logger.Info("bridge connected", "url", natsURL, "subject_base", cfg.BaseTopic)
	}()

	mux := api.NewMux(api.Options{
		Store:    st,
		Tracker:  tracker,
		Bridge:   br,
		Sessions: sessions,
		Engine:   engine,
		Metrics:  metricsProvider,
		Logger:   appLogger,
		AssetID:  cfg.AssetID,
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		br.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}()

	logger.Info("pumpguard listening", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		appLogger.ErrorCtx(context.Background(), "http server error", "error", err)
		os.Exit(1)
	}
	logger.Info("pumpguard stopped")
}

func newMetricsProvider(backend string) metrics.Provider {
	switch backend {
	case "otel":
		return metrics.NewOTelProvider(metrics.OTelProviderOptions{ServiceName: "pumpguard"})
	case "noop":
		return metrics.NewNoopProvider()
	default:
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	}
}

func buildRetrievalIndex(ctx context.Context, cfg config.Config, embedder llmclient.Embedder) (*retrieval.Index, error) {
	pages := retrieval.SinglePage(fallbackReferenceDoc)
	sourceID := "builtin-troubleshooting-guide"
	if cfg.ReferenceDocPath != "" {
		loaded, err := docloader.ForPath(cfg.ReferenceDocPath).Load(ctx, cfg.ReferenceDocPath)
		if err != nil {
			return nil, fmt.Errorf("read reference document: %w", err)
		}
		pages = loaded
		sourceID = cfg.ReferenceDocPath
	}
	buildCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	return retrieval.Build(buildCtx, cfg.IndexPersistDir, pages, sourceID, embedder)
}

func envOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
