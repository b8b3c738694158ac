package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BaSui01/agentflow/internal/httpmw"
	"github.com/BaSui01/agentflow/internal/server"
	"github.com/BaSui01/agentflow/storage"
	"github.com/BaSui01/agentflow/webchat"
	"go.uber.org/zap"
)

// runWebChat runs role W: the web-chat bridge. It is an internal-only
// service, reachable only from G and the control plane, so it carries a
// lighter middleware chain than the two public-facing roles.
func runWebChat(args []string) {
	fs := flag.NewFlagSet("webchat", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	if cfg.WebChat.UpstreamBaseURL == "" {
		fmt.Fprintln(os.Stderr, "webchat: upstream_base_url is not configured; set webchat.upstream_base_url or WEBCHAT_UPSTREAM_BASE_URL")
		os.Exit(1)
	}

	db, err := storage.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}

	ctx := context.Background()
	bridge, err := webchat.NewBridge(ctx, cfg.WebChat, db, logger)
	if err != nil {
		logger.Fatal("failed to build web-chat bridge", zap.Error(err))
	}

	handler := httpmw.Chain(bridge.Routes(),
		httpmw.Recovery(logger),
		httpmw.RequestID(),
		httpmw.RequestLogger(logger),
	)

	addr := fmt.Sprintf("%s:%d", cfg.WebChat.Host, cfg.WebChat.Port)
	srvCfg := server.DefaultConfig()
	srvCfg.Addr = addr

	mgr := server.NewManager(handler, srvCfg, logger)
	if err := mgr.Start(); err != nil {
		logger.Fatal("failed to start web-chat bridge server", zap.Error(err))
	}
	logger.Info("web-chat bridge listening", zap.String("addr", addr), zap.String("upstream", cfg.WebChat.UpstreamBaseURL))

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-stopCtx.Done()

	logger.Info("web-chat bridge shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("web-chat bridge shutdown error", zap.Error(err))
	}
}
