package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/BaSui01/agentflow/api/handlers"
	"github.com/BaSui01/agentflow/internal/httpmw"
	"github.com/BaSui01/agentflow/internal/metrics"
	"github.com/BaSui01/agentflow/internal/server"
	"github.com/BaSui01/agentflow/internal/telemetry"
	"github.com/BaSui01/agentflow/providerfactory"
	"github.com/BaSui01/agentflow/routing"
	"github.com/BaSui01/agentflow/session"
	"github.com/BaSui01/agentflow/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// runGateway runs role G: the OpenAI-compatible front end. It owns no
// supervision of anything else; it resolves sessions, routes requests to a
// live provider, dispatches the call, and persists the outcome.
func runGateway(args []string) {
	fs := flag.NewFlagSet("gateway", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	db, err := storage.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}

	providerRepo := storage.NewProviderRepository(db)
	settingRepo := storage.NewSettingRepository(db)
	activityRepo := storage.NewActivityRepository(db)
	modelRepo := storage.NewModelRepository(db)

	sessions := session.New(
		storage.NewSessionRepository(db),
		logger,
		session.WithTTL(cfg.Session.TTL),
		session.WithSweepInterval(cfg.Session.SweepInterval),
	)
	sessions.StartSweeper()
	defer sessions.Stop()

	router := routing.New(providerRepo, settingRepo)
	registry := providerfactory.NewLiveRegistry(providerRepo, logger)

	telemetryProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("telemetry initialization failed, continuing without it", zap.Error(err))
	}
	if telemetryProviders != nil {
		defer telemetryProviders.Shutdown(context.Background())
	}

	collector := metrics.NewCollector("gatewayd_gateway", logger)

	chatHandler := handlers.NewChatHandler(router, registry, sessions, activityRepo, settingRepo, logger).
		WithTimeout(cfg.Server.RequestTimeout)
	modelsHandler := handlers.NewGatewayModelsHandler(modelRepo, logger)
	healthHandler := handlers.NewHealthHandler(logger)
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("failed to get underlying sql.DB for health checks", zap.Error(err))
	}
	healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("database", sqlDB.PingContext))

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", chatCompletionsDispatch(chatHandler))
	mux.HandleFunc("/v1/models", modelsHandler.HandleList)
	mux.HandleFunc("/v1/models/{id}", modelsHandler.HandleGet)
	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", healthHandler.HandleHealth)
	mux.HandleFunc("/ready", healthHandler.HandleReady)
	mux.HandleFunc("/readyz", healthHandler.HandleReady)
	mux.Handle("/metrics", promhttp.Handler())

	handler := httpmw.Chain(mux,
		httpmw.Recovery(logger),
		httpmw.RequestID(),
		httpmw.RequestLogger(logger),
		httpmw.MetricsMiddleware(collector),
		httpmw.OTelTracing(),
		httpmw.CORS([]string{cfg.Server.CORSOrigin}),
		httpmw.SecurityHeaders(),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Gateway.Port)
	srvCfg := server.DefaultConfig()
	srvCfg.Addr = addr
	srvCfg.ReadTimeout = cfg.Server.ReadTimeout
	srvCfg.WriteTimeout = cfg.Server.WriteTimeout
	srvCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout

	mgr := server.NewManager(handler, srvCfg, logger)
	if err := mgr.Start(); err != nil {
		logger.Fatal("failed to start gateway server", zap.Error(err))
	}
	logger.Info("gateway listening", zap.String("addr", addr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("gateway shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown error", zap.Error(err))
	}
}

// chatCompletionsDispatch peeks the decoded request's stream flag and hands
// off to the unary or SSE handler accordingly, then rewinds the body so the
// chosen handler can decode it again from the start.
func chatCompletionsDispatch(h *handlers.ChatHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		r.Body.Close()

		var peek struct {
			Stream bool `json:"stream"`
		}
		_ = json.Unmarshal(body, &peek)
		r.Body = io.NopCloser(bytes.NewReader(body))

		if peek.Stream {
			h.HandleStream(w, r)
			return
		}
		h.HandleCompletion(w, r)
	}
}
