package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BaSui01/agentflow/api/handlers"
	"github.com/BaSui01/agentflow/internal/httpmw"
	"github.com/BaSui01/agentflow/internal/metrics"
	"github.com/BaSui01/agentflow/internal/server"
	"github.com/BaSui01/agentflow/providerfactory"
	"github.com/BaSui01/agentflow/pushchannel"
	"github.com/BaSui01/agentflow/storage"
	"github.com/BaSui01/agentflow/supervisor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// runControlPlane runs role C: the REST control surface, the push channel,
// and the supervisor that spawns and monitors G and W as child processes.
func runControlPlane(args []string) {
	fs := flag.NewFlagSet("control-plane", flag.ExitOnError)
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
	modelRepo := storage.NewModelRepository(db)
	credentialRepo := storage.NewCredentialRepository(db)
	settingRepo := storage.NewSettingRepository(db)
	activityRepo := storage.NewActivityRepository(db)
	registry := providerfactory.NewLiveRegistry(providerRepo, logger)

	exe, err := os.Executable()
	if err != nil {
		logger.Fatal("failed to resolve own executable path", zap.Error(err))
	}

	gatewayChild := supervisor.ChildSpec{
		Name:         "gateway",
		Command:      exe,
		Args:         []string{"gateway", "--config", *configPath},
		Port:         cfg.Gateway.Port,
		ReadinessURL: fmt.Sprintf("http://%s:%d/healthz", cfg.Server.Host, cfg.Gateway.Port),
	}
	webchatChild := supervisor.ChildSpec{
		Name:         "webchat",
		Command:      exe,
		Args:         []string{"webchat", "--config", *configPath},
		Port:         cfg.ControlPlane.WebChatPort,
		ReadinessURL: fmt.Sprintf("http://%s:%d/healthz", cfg.WebChat.Host, cfg.ControlPlane.WebChatPort),
	}

	counter := newGatewayCounter(providerRepo, modelRepo, credentialRepo)
	sup := supervisor.New(gatewayChild, webchatChild, counter, cfg.ControlPlane.ReadinessPoll, cfg.ControlPlane.ReadinessDeadline, logger)

	hub := pushchannel.NewHub(sup, logger)

	providerHandler := handlers.NewProviderHandler(providerRepo, registry, hub, logger)
	modelHandler := handlers.NewModelHandler(modelRepo, providerRepo, registry, hub, logger)
	credentialHandler := handlers.NewCredentialHandler(credentialRepo, hub, logger)
	settingsHandler := handlers.NewSettingsHandler(settingRepo, logger)
	activityHandler := handlers.NewActivityHandler(activityRepo, logger)
	proxyHandler := handlers.NewProxyHandler(sup, "control-plane", logger)

	collector := metrics.NewCollector("gatewayd_control_plane", logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", proxyHandler.HandleHealth)
	mux.HandleFunc("GET /api/proxy/status", proxyHandler.HandleStatus)
	mux.HandleFunc("POST /api/proxy/start", proxyHandler.HandleStart)
	mux.HandleFunc("POST /api/proxy/stop", proxyHandler.HandleStop)

	mux.HandleFunc("GET /api/providers", providerHandler.HandleList)
	mux.HandleFunc("POST /api/providers", providerHandler.HandleCreate)
	mux.HandleFunc("GET /api/providers/{id}", providerHandler.HandleGet)
	mux.HandleFunc("PUT /api/providers/{id}", providerHandler.HandleUpdate)
	mux.HandleFunc("DELETE /api/providers/{id}", providerHandler.HandleDelete)
	mux.HandleFunc("POST /api/providers/{id}/enable", providerHandler.HandleEnable)
	mux.HandleFunc("POST /api/providers/{id}/disable", providerHandler.HandleDisable)
	mux.HandleFunc("POST /api/providers/{id}/test", providerHandler.HandleTest)
	mux.HandleFunc("POST /api/providers/{id}/reload", providerHandler.HandleReload)
	mux.HandleFunc("GET /api/providers/{id}/config", providerHandler.HandleGetConfig)
	mux.HandleFunc("PUT /api/providers/{id}/config", providerHandler.HandlePutConfig)
	mux.HandleFunc("PATCH /api/providers/{id}/config/{key}", providerHandler.HandlePatchConfigKey)
	mux.HandleFunc("DELETE /api/providers/{id}/config/{key}", providerHandler.HandleDeleteConfigKey)

	mux.HandleFunc("GET /api/models", modelHandler.HandleList)
	mux.HandleFunc("POST /api/models", modelHandler.HandleCreate)
	mux.HandleFunc("GET /api/models/{id}", modelHandler.HandleGet)
	mux.HandleFunc("PUT /api/models/{id}", modelHandler.HandleUpdate)
	mux.HandleFunc("DELETE /api/models/{id}", modelHandler.HandleDelete)
	mux.HandleFunc("POST /api/models/{id}/link", modelHandler.HandleLink)
	mux.HandleFunc("POST /api/models/{id}/unlink", modelHandler.HandleUnlink)
	mux.HandleFunc("POST /api/models/sync", modelHandler.HandleSync)

	mux.HandleFunc("GET /api/qwen/credentials", credentialHandler.HandleGet)
	mux.HandleFunc("POST /api/qwen/credentials", credentialHandler.HandleSet)
	mux.HandleFunc("DELETE /api/qwen/credentials", credentialHandler.HandleDelete)

	mux.HandleFunc("GET /api/settings", settingsHandler.HandleList)
	mux.HandleFunc("GET /api/settings/{key}", settingsHandler.HandleGet)
	mux.HandleFunc("PUT /api/settings/{key}", settingsHandler.HandlePut)
	mux.HandleFunc("DELETE /api/settings/{key}", settingsHandler.HandleDelete)
	mux.HandleFunc("POST /api/settings/bulk", settingsHandler.HandleBulk)

	mux.HandleFunc("GET /api/activity/recent", activityHandler.HandleRecent)
	mux.HandleFunc("GET /api/activity/stats", activityHandler.HandleStats)
	mux.HandleFunc("GET /api/requests", activityHandler.HandleRequests)
	mux.HandleFunc("GET /api/responses", activityHandler.HandleResponses)
	mux.HandleFunc("GET /api/sessions", activityHandler.HandleSessions)

	mux.Handle("GET /api/ws", hub)
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

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.ControlPlane.Port)
	srvCfg := server.DefaultConfig()
	srvCfg.Addr = addr
	srvCfg.ReadTimeout = cfg.Server.ReadTimeout
	srvCfg.WriteTimeout = cfg.Server.WriteTimeout
	srvCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout

	mgr := server.NewManager(handler, srvCfg, logger)
	if err := mgr.Start(); err != nil {
		logger.Fatal("failed to start control-plane server", zap.Error(err))
	}
	logger.Info("control plane listening", zap.String("addr", addr))

	startCtx, startCancel := context.WithTimeout(context.Background(), cfg.ControlPlane.ReadinessDeadline+5*time.Second)
	if _, err := sup.Start(startCtx); err != nil {
		logger.Error("failed to start supervised children", zap.Error(err))
	}
	startCancel()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("control plane shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	if _, err := sup.Stop(stopCtx); err != nil {
		logger.Warn("error stopping supervised children", zap.Error(err))
	}
	stopCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("control-plane shutdown error", zap.Error(err))
	}
}
