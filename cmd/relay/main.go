package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/cwrk-planet/docsync/config"
	"github.com/cwrk-planet/docsync/internal/postgres"
	"github.com/cwrk-planet/docsync/internal/registry"
	"github.com/cwrk-planet/docsync/internal/security"
	"github.com/cwrk-planet/docsync/internal/service"
	grpcx "github.com/cwrk-planet/docsync/internal/transport/grpc"
	httpx "github.com/cwrk-planet/docsync/internal/transport/http"
	"github.com/cwrk-planet/docsync/internal/transport/ws"
	"github.com/cwrk-planet/docsync/pkg/logger"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		println("failed to load config:", err.Error())
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Logger())
	slog.Info("starting docsync relay",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- registries & services ---
	events := registry.New(registry.WithShards(cfg.Registry.Shards))
	updates := registry.New(registry.WithShards(cfg.Registry.Shards))

	presenceSvc := service.NewPresenceService(events)
	chatSvc := service.NewChatService(events)
	relaySvc := service.NewUpdateRelay(updates)

	wsServer := ws.NewServer(presenceSvc, chatSvc, relaySvc, ws.Options{
		ReadBufferSize:  cfg.WS.ReadBufferSize,
		WriteBufferSize: cfg.WS.WriteBufferSize,
		SendQueue:       cfg.WS.SendQueue,
		MaxMessageSize:  cfg.WS.MaxMessageSize,
		WriteWait:       cfg.WS.WriteWait,
		PongWait:        cfg.WS.PongWait,
		PingPeriod:      cfg.WS.PingPeriod,
		AllowedOrigins:  cfg.WS.AllowedOrigins,
	})

	deps := httpx.RouterDeps{
		WS:             wsServer,
		Events:         events,
		Updates:        updates,
		AllowedOrigins: cfg.WS.AllowedOrigins,
	}

	// --- postgres (optional) ---
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			ApplicationName: cfg.Logging.Service,
		})
		if err != nil {
			slog.Error("failed to init postgres", logger.Err(err))
			os.Exit(1)
		}
		defer pool.Close()
		slog.Info("connected to postgres")

		deps.Docs = httpx.NewHandler(postgres.NewDocumentRepository(pool))
		deps.Auth = security.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.ClockSkew)
	} else {
		slog.Warn("postgres.dsn is empty, document API disabled")
	}

	// --- HTTP ---
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpx.NewRouter(deps),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}
	// hijacked websocket conns are not tracked by http.Server
	httpSrv.RegisterOnShutdown(wsServer.Shutdown)

	// --- gRPC ---
	grpcSrv := grpcx.NewServer()

	// --- run both servers ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
		return grpcSrv.Serve(lis)
	})

	// --- graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		grpcSrv.SetServing(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		grpcSrv.Stop()
		return err
	})

	if err := g.Wait(); err != nil {
		slog.Error("relay stopped with error", logger.Err(err))
		os.Exit(1)
	}

	rooms, conns := events.Stats()
	slog.Info("relay stopped", "rooms", rooms, "connections", conns)
}
