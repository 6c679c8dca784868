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

	"github.com/telhawk-systems/telhawk-coverage/internal/app"
	"github.com/telhawk-systems/telhawk-coverage/internal/auth"
	"github.com/telhawk-systems/telhawk-coverage/internal/config"
	"github.com/telhawk-systems/telhawk-coverage/internal/handlers"
	"github.com/telhawk-systems/telhawk-coverage/internal/logging"
	"github.com/telhawk-systems/telhawk-coverage/internal/middleware"
	natsclient "github.com/telhawk-systems/telhawk-coverage/internal/nats"
	"github.com/telhawk-systems/telhawk-coverage/internal/ratelimit"
	"github.com/telhawk-systems/telhawk-coverage/internal/server"
	"github.com/telhawk-systems/telhawk-coverage/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	addr := flag.String("addr", "", "override listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("coverage"))
	logging.SetDefault(logger)

	slog.Info("Starting Coverage service",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("log_format", cfg.Logging.Format),
	)

	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	if *addr != "" {
		listenAddr = *addr
	}

	gateway, err := app.Gateway(cfg)
	if err != nil {
		slog.Error("Failed to create OpenSearch client", logging.Error(err))
		os.Exit(1)
	}
	slog.Info("Connected to OpenSearch", slog.String("url", cfg.OpenSearch.URL))

	engine, err := app.Engine(cfg, gateway, logger)
	if err != nil {
		slog.Error("Failed to build correlation engine", logging.Error(err))
		os.Exit(1)
	}

	chains, _, closeChains, err := app.Chains(context.Background(), cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize chain sources", logging.Error(err))
		os.Exit(1)
	}
	defer closeChains()
	if chains == nil {
		slog.Warn("No chain source configured; requests must embed the operation chain")
	}

	// NATS is optional; the service works without it
	natsClient := app.NATS(cfg, logger)
	publisher := app.Publishers(cfg, natsClient, logger)
	defer publisher.Close()

	svc := service.NewCoverageService(engine, gateway, logger).WithDependencies(chains, publisher)
	if natsClient != nil {
		svc.WithHealthCheck("nats", natsClient)
		if cfg.NATS.Jobs {
			jobs := natsclient.NewJobHandler(svc, cfg.Correlation.OperationTimeout, logger.Logger)
			if err := jobs.Register(natsClient); err != nil {
				slog.Warn("Failed to subscribe to correlation jobs", logging.Error(err))
			} else {
				slog.Info("Listening for correlation jobs", slog.String("subject", natsclient.SubjectJobsCorrelate))
			}
		}
	}

	limiter, err := ratelimit.NewRedisRateLimiter(cfg.RateLimit.RedisURL, cfg.RateLimit.Requests, cfg.RateLimit.Window(), !cfg.RateLimit.Enabled)
	if err != nil {
		slog.Error("Failed to create rate limiter", logging.Error(err))
		os.Exit(1)
	}
	defer limiter.Close()

	var validator *auth.Validator
	if cfg.Auth.JWTSecret != "" {
		validator = auth.NewValidator(cfg.Auth.JWTSecret)
	} else {
		slog.Warn("JWT secret not set; correlation endpoints are unauthenticated")
	}

	h := handlers.New(svc, logger)
	srv := &http.Server{
		Addr: listenAddr,
		Handler: server.NewRouter(h, server.Options{
			Logger: logger,
			CORS: middleware.CORSConfig{
				AllowedOrigins: cfg.Server.AllowedOrigins,
				AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders: []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
			},
			Limiter: limiter,
			Auth:    validator,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  cfg.Server.IdleTimeout(),
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("coverage service listening", slog.String("addr", listenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCtx.Done()
	slog.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed", logging.Error(err))
	}

	if natsClient != nil {
		slog.Info("draining NATS connection")
		if err := natsClient.Drain(); err != nil {
			slog.Warn("NATS drain error", logging.Error(err))
		}
	}
}
