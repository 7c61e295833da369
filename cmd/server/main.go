package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"devtoolkit/internal/catalog"
	"devtoolkit/internal/config"
	"devtoolkit/internal/handler"
	"devtoolkit/internal/logging"
	"devtoolkit/internal/metrics"
	"devtoolkit/internal/middleware"
	"devtoolkit/internal/repository"
	"devtoolkit/internal/service"
	"devtoolkit/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Env, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func openRepositories(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.UserRepository, repository.DocumentRepository, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("using in-memory storage; data is lost on restart")
		return repository.NewMemoryUserRepository(), repository.NewMemoryDocumentRepository(), nil
	}

	client, err := kivik.New("couch", cfg.Database.URL())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	exists, err := client.DBExists(ctx, cfg.Database.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check database existence: %w", err)
	}

	if !exists {
		if err := client.CreateDB(ctx, cfg.Database.Name); err != nil {
			return nil, nil, fmt.Errorf("failed to create database: %w", err)
		}
		logger.Info("created database", zap.String("name", cfg.Database.Name))
	}

	logger.Info("connected to CouchDB",
		zap.String("host", cfg.Database.Host),
		zap.String("port", cfg.Database.Port),
	)
	return repository.NewUserRepository(client, cfg.Database.Name), repository.NewDocumentRepository(client, cfg.Database.Name), nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	userRepo, docRepo, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		return err
	}

	tools, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		logger.Warn("tool catalog unavailable, serving an empty list", zap.String("path", cfg.Catalog.Path), zap.Error(err))
		tools = catalog.Empty()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	wsManager := websocket.NewManager(websocket.Config{
		MaxConnPerUser:   cfg.WebSocket.MaxConnPerUser,
		MaxSubsPerClient: cfg.WebSocket.MaxSubsPerClient,
		MaxMessageSize:   cfg.WebSocket.MaxMessageSize,
		WriteWait:        cfg.WebSocket.WriteWait,
		PongWait:         cfg.WebSocket.PongWait,
		PingPeriod:       cfg.WebSocket.PingPeriod,
	}, collector, logger.Named("ws"))
	go wsManager.Run(ctx)

	authService := service.NewAuthService(userRepo, service.LogMailer{Logger: logger.Named("mailer")}, collector, logger, service.AuthConfig{
		JWTSecret:         cfg.JWT.Secret,
		JWTExpiration:     cfg.JWT.Expiration,
		RefreshExpiration: cfg.JWT.RefreshTokenExpiration,
		ResetExpiration:   cfg.JWT.ResetTokenExpiration,
	})
	userService := service.NewUserService(userRepo)
	docService := service.NewDocumentService(docRepo, collector, logger)

	wsMessageHandler := handler.NewWebSocketMessageHandler(wsManager, docService, logger.Named("ws"))
	wsManager.SetMessageHandler(wsMessageHandler)
	docService.SetNotifier(wsMessageHandler)

	var authLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		authLimiter = middleware.NewRateLimiter("auth", middleware.RateLimiterConfig{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		}, collector, logger.Named("ratelimit"))
		defer authLimiter.Stop()
	}

	r := handler.NewRouter(handler.RouterDeps{
		Auth:        handler.NewAuthHandler(authService, logger),
		User:        handler.NewUserHandler(userService, logger),
		Documents:   handler.NewDocumentHandler(docService, logger),
		WebSocket:   handler.NewWebSocketHandler(wsManager, authService, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize, logger.Named("ws")),
		Catalog:     handler.NewCatalogHandler(tools),
		Tokens:      authService,
		AuthLimiter: authLimiter,
		Metrics:     metrics.Handler(registry),
		Recorder:    collector,
		Logger:      logger,
		CORS: handler.CORSOptions{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: cfg.CORS.AllowedMethods,
			AllowedHeaders: cfg.CORS.AllowedHeaders,
		},
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting DevToolkit server",
			zap.String("addr", addr),
			zap.String("env", cfg.Server.Env),
			zap.Int("tools", tools.Len()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
