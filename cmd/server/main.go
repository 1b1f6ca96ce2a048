// TDD Mentor server: HTTP API, session stream, metrics and gRPC health.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ashureev/tdd-mentor/internal/api"
	"github.com/ashureev/tdd-mentor/internal/app"
	"github.com/ashureev/tdd-mentor/internal/config"
	"github.com/ashureev/tdd-mentor/internal/domain"
	"github.com/ashureev/tdd-mentor/internal/middleware"
	"github.com/ashureev/tdd-mentor/internal/store"
	"github.com/ashureev/tdd-mentor/internal/stream"
	"github.com/ashureev/tdd-mentor/web"
)

const (
	oracleHealthService = "tddmentor.Oracle"
	storeHealthService  = "tddmentor.Store"
	storeProbeInterval  = 30 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

//nolint:gocognit // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "workspace", cfg.WorkspaceDir, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// The hub serves snapshots only after the app exists.
	var a *app.App
	hub := stream.NewHub(func() domain.Session { return a.Machine.Snapshot() }, cfg.FrontendURL, cfg.IsDevelopment(), logger)
	defer hub.Close()

	a, err := app.New(ctx, cfg, logger, app.WithRegisterer(reg), app.WithWarner(hub))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("Failed to close app", "error", closeErr)
		}
	}()
	slog.Info("Database connected", "path", cfg.DBPath)
	a.Machine.Subscribe(hub.Publish)
	svc := a.Workflow
	repo := a.Repo

	// First activation: a fresh session gets its story list.
	go func() {
		if generated, err := svc.EnsureStories(ctx); err != nil {
			slog.Warn("Initial story generation failed", "error", err)
		} else if generated {
			slog.Info("Initial stories generated")
		}
	}()

	// HTTP.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(middleware.DefaultCORSOptions(allowedOrigins(cfg)...)))

	api.NewHealthHandler(map[string]api.Check{
		"database":  repo.Ping,
		"workspace": workspaceCheck(cfg.WorkspaceDir),
	}, 5*time.Second).RegisterHealth(r)
	api.NewSessionHandler(svc).RegisterRoutes(r)
	r.Get("/ws/session", hub.ServeHTTP)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	if cfg.StaticDir != "" {
		spa, err := web.SPAHandler(os.DirFS(cfg.StaticDir))
		if err != nil {
			return fmt.Errorf("static dir %s: %w", cfg.StaticDir, err)
		}
		r.NotFound(spa.ServeHTTP)
		slog.Info("Serving dashboard", "dir", cfg.StaticDir)
	}

	// Long-running generation requests need a generous write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout for websocket and slow oracle calls
		IdleTimeout:  120 * time.Second,
	}

	// gRPC health.
	grpcSrv, healthSrv, err := startGRPCHealth(ctx, cfg.GRPCPort, repo, cfg.Oracle.Provider)
	if err != nil {
		return err
	}

	store.StartRetentionWorker(ctx, repo, cfg.SessionRetention, store.DefaultRetentionInterval, func(removed int64) {
		slog.Info("Expired session snapshots removed", "count", removed)
	})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")

	healthSrv.Shutdown()
	grpcSrv.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func startGRPCHealth(ctx context.Context, port string, repo *store.SQLiteStore, provider string) (*grpc.Server, *health.Server, error) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, nil, fmt.Errorf("listen grpc: %w", err)
	}

	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	// The offline oracle only returns canned content.
	oracleStatus := healthpb.HealthCheckResponse_SERVING
	if provider == config.ProviderFake {
		oracleStatus = healthpb.HealthCheckResponse_NOT_SERVING
	}
	healthSrv.SetServingStatus(oracleHealthService, oracleStatus)
	probeStore(ctx, repo, healthSrv)

	go func() {
		slog.Info("gRPC health listening", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server failed", "error", err)
		}
	}()
	go func() {
		ticker := time.NewTicker(storeProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeStore(ctx, repo, healthSrv)
			}
		}
	}()
	return grpcSrv, healthSrv, nil
}

func probeStore(ctx context.Context, repo *store.SQLiteStore, hs *health.Server) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	status := healthpb.HealthCheckResponse_SERVING
	if err := repo.Ping(pingCtx); err != nil {
		slog.Warn("Store health probe failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.SetServingStatus(storeHealthService, status)
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}

func workspaceCheck(dir string) api.Check {
	return func(context.Context) error {
		info, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		return nil
	}
}
