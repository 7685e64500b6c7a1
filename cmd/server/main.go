package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"provenance/internal/audit"
	httpapi "provenance/internal/http"
	jwttoken "provenance/internal/jwt_token"
	"provenance/internal/platform/config"
	"provenance/internal/platform/httpserver"
	"provenance/internal/platform/logger"
	platformmetrics "provenance/internal/platform/metrics"
	"provenance/internal/provenance/handler"
	"provenance/internal/provenance/ledger/memledger"
	"provenance/internal/provenance/metrics"
	"provenance/internal/provenance/registry"
	"provenance/internal/provenance/scan"
	"provenance/internal/provenance/verify"
)

const shutdownTimeout = 15 * time.Second

// main wires dependencies, serves HTTP and drains the provenance journal
// until SIGINT or SIGTERM.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("provenance service stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("provenance service stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	if cfg.UsesDevSigningKey() {
		log.Warn("JWT_SIGNING_KEY not set; using development key")
	}
	if cfg.Scan.AppURL != "" {
		if _, err := scan.NormalizeAppURL(cfg.Scan.AppURL); err != nil {
			return fmt.Errorf("SCAN_APP_URL: %w", err)
		}
	}

	provMetrics := metrics.New()
	httpMetrics := platformmetrics.New()

	infra, err := buildInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	ledger := memledger.New(
		memledger.WithFinalityDelay(cfg.Ledger.FinalityDelay),
		memledger.WithLogger(log),
	)

	publisher := audit.NewPublisher(audit.WithPublisherLogger(log))
	registrySvc, err := registry.New(ledger,
		registry.WithLogger(log),
		registry.WithMetrics(provMetrics),
		registry.WithAuditPublisher(publisher),
		registry.WithFinalityTimeout(cfg.Registry.FinalityTimeout),
		registry.WithViewRetry(cfg.Registry.ViewMaxRetries, cfg.Registry.ViewRetryInitial),
		registry.WithReadTimeout(cfg.Registry.ReadTimeout),
		registry.WithOwnershipPrecheck(cfg.Registry.OwnershipCheck),
	)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	engine, err := verify.New(registrySvc,
		verify.WithLogger(log),
		verify.WithMetrics(provMetrics),
		verify.WithExistenceCache(infra.existence),
	)
	if err != nil {
		return fmt.Errorf("build verification engine: %w", err)
	}

	jwtService := jwttoken.NewJWTService(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.Audience)
	provenanceHandler := handler.New(
		registrySvc,
		engine,
		audit.NewJournal(infra.journal),
		jwttoken.NewJWTServiceAdapter(jwtService),
		log,
		handler.WithMetrics(provMetrics),
		handler.WithHTTPMetrics(httpMetrics),
		handler.WithRateLimiter(infra.rateLimiter),
		handler.WithAppURL(cfg.Scan.AppURL),
		handler.WithRequestTimeout(cfg.RequestTimeout),
	)

	router := httpapi.NewRouter(log, nil, infra.healthChecks, provenanceHandler)
	srv := httpserver.New(cfg.Addr, router, cfg.RequestTimeout)
	worker := audit.NewWorker(publisher.Events(), log, infra.sinks...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting provenance service", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("journal worker: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down provenance service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
