// Command server runs the orderz pricing API over HTTP and gRPC.
//
// Startup loads the environment configuration, connects to PostgreSQL
// (migrating first when AUTO_MIGRATE is set) and warms the catalog cache
// before either listener accepts traffic. SIGINT or SIGTERM drains both
// servers within shutdownTimeout.
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
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"

	"github.com/matt-riley/orderz/internal/config"
	"github.com/matt-riley/orderz/internal/logging"
	"github.com/matt-riley/orderz/internal/metrics"
	"github.com/matt-riley/orderz/internal/middleware"
	"github.com/matt-riley/orderz/internal/repository"
	"github.com/matt-riley/orderz/internal/server"
	"github.com/matt-riley/orderz/internal/service"
	"github.com/matt-riley/orderz/internal/tracing"
)

const (
	shutdownTimeout       = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute

	// catalogEditCost is the token price of a catalog write. Each one
	// reloads the catalog cache on every replica.
	catalogEditCost = 10
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.LogLevel, logging.WithFormat(cfg.LogFormat))
	slog.SetDefault(log)

	shutdownTracer, err := tracing.Init(context.Background(), tracing.WithAttributes(
		attribute.String("orderz.time_zone", cfg.Location.String()),
		attribute.String("orderz.currency", cfg.Currency),
	))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := runMigrations(pool); err != nil {
			return err
		}
	}

	repo := repository.NewPostgresRepositoryWithChannel(pool, cfg.NotifyChannel)
	m := metrics.New()
	metrics.RegisterPoolMetrics(m.Registry, pool)

	svc, err := service.New(ctx, repo,
		service.WithLogger(log),
		service.WithLocation(cfg.Location),
		service.WithPricingDefaults(pricingDefaults(cfg)),
		service.WithCacheResyncInterval(cfg.CacheResyncInterval),
		service.WithCacheMetrics(m.IncCatalogReloads, m.IncCatalogInvalidations, m.SetCatalogSize),
		service.WithEngineMetrics(m.RecordGeneration, m.RecordPricing, m.IncOrdersPlaced),
	)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	limiter := middleware.NewRateLimiter(ctx, cfg.RateLimitPerMinute)
	defer limiter.Stop()

	apiHandler := server.NewHTTPHandler(svc,
		server.WithMaxJSONBodySize(cfg.MaxJSONBodySize),
		server.WithMetrics(m),
	)
	httpHandler := newHTTPHandler(apiHandler, limiter,
		middleware.WithOnLimited(func() { m.IncRateLimited("http") }),
		middleware.WithRequestCost(requestCost),
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(middleware.HTTPRequestLogging(log)(httpHandler), "orderz-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			middleware.UnaryRequestLoggingInterceptor(log),
			middleware.UnaryRateLimitInterceptor(limiter,
				middleware.WithOnLimited(func() { m.IncRateLimited("grpc") }),
			),
			m.UnaryServerInterceptor(),
		),
	)
	server.RegisterOrderServiceServer(grpcServer, server.NewGRPCServer(svc))

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen HTTP %s: %w", cfg.HTTPAddr, err)
	}
	defer httpListener.Close()

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen gRPC %s: %w", cfg.GRPCAddr, err)
	}
	defer grpcListener.Close()

	serveErrCh := make(chan error, 2)
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			serveErrCh <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()

	log.Info("server started",
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
		"time_zone", cfg.Location.String(),
		"currency", cfg.Currency,
	)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	stop()

	log.Info("server shutting down")

	if err := shutdown(httpServer, grpcServer); err != nil && serveErr == nil {
		return err
	}
	return serveErr
}

// shutdown drains HTTP and gRPC in parallel. A gRPC drain that outlives
// shutdownTimeout is cut off with Stop.
func shutdown(httpServer *http.Server, grpcServer *grpc.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	grpcStopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(grpcStopped)
	}()

	var httpErr error
	if err := httpServer.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		httpErr = fmt.Errorf("shutdown HTTP: %w", err)
	}

	select {
	case <-grpcStopped:
	case <-ctx.Done():
		grpcServer.Stop()
	}
	return httpErr
}

// newHTTPHandler rate limits the /v1/ API while leaving health checks and
// metrics scrapes unthrottled.
func newHTTPHandler(apiHandler http.Handler, limiter *middleware.RateLimiter, opts ...middleware.RateLimitOption) http.Handler {
	limitedAPIHandler := middleware.HTTPRateLimit(limiter, opts...)(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/v1/", limitedAPIHandler)
	mux.Handle("GET /healthz", apiHandler)
	mux.Handle("GET /metrics", apiHandler)

	return mux
}

func requestCost(r *http.Request) int {
	if r.Method != http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/catalog") {
		return catalogEditCost
	}
	return 1
}

func pricingDefaults(cfg config.Config) service.PricingDefaults {
	return service.PricingDefaults{
		Currency:     cfg.Currency,
		TaxRate:      cfg.TaxRate,
		GratuityRate: cfg.GratuityRate,
		ServiceFee:   cfg.ServiceFee,
	}
}
