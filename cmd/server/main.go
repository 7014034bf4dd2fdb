package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"heirloom/internal/audit"
	"heirloom/internal/identity/handler"
	"heirloom/internal/identity/ledger"
	"heirloom/internal/identity/registry"
	"heirloom/internal/identity/service"
	"heirloom/internal/identity/session"
	"heirloom/internal/identity/verifier"
	"heirloom/internal/platform/config"
	"heirloom/internal/platform/httpserver"
	"heirloom/internal/platform/logger"
	"heirloom/internal/platform/metrics"
	platformredis "heirloom/internal/platform/redis"
)

// main wires dependencies from config and owns the process lifecycle.
// Business logic lives in internal packages; everything here is selection
// and plumbing.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := buildSessionStore(ctx, cfg, log, m)
	reg := buildRegistry(ctx, cfg, log)
	notifier := buildLedger(ctx, cfg, log)
	publisher := buildAudit(ctx, cfg, log)

	var v verifier.Verifier
	if cfg.Privado.DevMode {
		log.Warn("dev mode enabled, proofs are not verified")
		v = verifier.NewPermissive(cfg.Privado.CallbackURL)
	} else {
		v = verifier.NewIden3(cfg.Privado, sessions, log)
	}

	svc := service.NewService(sessions, v, reg, notifier, publisher, m, log)

	router := chi.NewRouter()
	handler.New(svc, log, m).Register(router)
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting heirloom enrollment service", "addr", cfg.Addr, "dev_mode", cfg.Privado.DevMode)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		fatal(log, "server error", err)
	}
	log.Info("shutdown complete")
}

func buildSessionStore(ctx context.Context, cfg config.Server, log *slog.Logger, m *metrics.Metrics) session.Store {
	if cfg.RedisURL != "" {
		client, err := platformredis.New(ctx, cfg.RedisURL)
		if err != nil {
			fatal(log, "connect redis", err)
		}
		log.Info("using redis session store")
		return session.NewRedis(client, cfg.Privado.RequestTTL)
	}
	return session.NewInMemory(cfg.Privado.RequestTTL,
		session.WithEvictionObserver(func(n int) {
			m.SessionsEvicted.Add(float64(n))
		}),
	)
}

func buildRegistry(ctx context.Context, cfg config.Server, log *slog.Logger) registry.Store {
	switch {
	case cfg.Registry.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.Registry.DatabaseURL)
		if err != nil {
			fatal(log, "connect postgres registry", err)
		}
		log.Info("using postgres registry")
		return registry.NewPostgres(pool)
	case cfg.Registry.HasuraEndpoint != "":
		store, err := registry.NewHasura(cfg.Registry.HasuraEndpoint, cfg.Registry.HasuraAdminSecret)
		if err != nil {
			fatal(log, "configure hasura registry", err)
		}
		log.Info("using hasura registry", "endpoint", cfg.Registry.HasuraEndpoint)
		return store
	case cfg.Privado.DevMode:
		log.Warn("no registry configured, enrollments are not persisted")
		return registry.NewInMemory()
	default:
		fatal(log, "registry configuration missing",
			errors.New("set DATABASE_URL or HASURA_GRAPHQL_ENDPOINT"))
		return nil
	}
}

func buildLedger(ctx context.Context, cfg config.Server, log *slog.Logger) ledger.Notifier {
	if cfg.Chain.Disabled {
		log.Info("chain notification disabled")
		return ledger.Noop{Logger: log}
	}
	eth, err := ledger.NewEth(ctx, cfg.Chain, log)
	if err != nil {
		fatal(log, "configure chain notifier", err)
	}
	return eth
}

func buildAudit(ctx context.Context, cfg config.Server, log *slog.Logger) *audit.Publisher {
	if cfg.Audit.KafkaBrokers == "" {
		return audit.NewPublisher(audit.NewInMemory(), log)
	}
	sink, err := audit.NewKafka(ctx, strings.Split(cfg.Audit.KafkaBrokers, ","), cfg.Audit.Topic)
	if err != nil {
		fatal(log, "connect kafka audit sink", err)
	}
	log.Info("using kafka audit sink", "topic", cfg.Audit.Topic)
	return audit.NewPublisher(sink, log)
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
