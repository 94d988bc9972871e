package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	certhandler "certledger/internal/certificate/handler"
	certservice "certledger/internal/certificate/service"
	"certledger/internal/institution/session"
	issuancemetrics "certledger/internal/issuance/metrics"
	issuanceservice "certledger/internal/issuance/service"
	mintmetrics "certledger/internal/minting/metrics"
	mintservice "certledger/internal/minting/service"
	"certledger/internal/platform/config"
	"certledger/internal/platform/httpserver"
	"certledger/internal/platform/kafka/consumer"
	"certledger/internal/platform/logger"
	"certledger/internal/platform/metrics"
	"certledger/internal/platform/middleware"
	quotamw "certledger/internal/quota/middleware"
	quotaservice "certledger/internal/quota/service"
	quotastore "certledger/internal/quota/store"
	"certledger/internal/reconcile"
	verifymetrics "certledger/internal/verification/metrics"
	verifyservice "certledger/internal/verification/service"
	auditpublisher "certledger/pkg/platform/audit/publisher"
	auditworker "certledger/pkg/platform/audit/worker"
	"certledger/pkg/platform/circuit"
	"certledger/pkg/platform/middleware/metadata"
	"certledger/pkg/platform/middleware/requesttime"
)

// main wires the stores and services chosen by configuration, serves the
// HTTP API and runs the background workers until a shutdown signal.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Server.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("certledger stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer in.close()

	auditor := auditpublisher.New(in.audits, auditpublisher.WithLogger(log))

	tracker, err := quotaservice.New(in.usage, quotastore.NewInMemoryPlanCatalog(quotastore.DefaultPlans()...),
		quotaservice.WithLogger(log))
	if err != nil {
		return err
	}

	gate, err := issuanceservice.New(in.certs, in.cas, tracker,
		issuanceservice.WithLogger(log),
		issuanceservice.WithStoreTx(in.tx),
		issuanceservice.WithAuditPublisher(auditor),
		issuanceservice.WithMetrics(issuancemetrics.New()),
	)
	if err != nil {
		return err
	}

	binder, err := mintservice.New(in.certs, in.ledger,
		mintservice.WithLogger(log),
		mintservice.WithLocker(in.locker),
		mintservice.WithPendingQueue(in.queue),
		mintservice.WithAuditPublisher(auditor),
		mintservice.WithMetrics(mintmetrics.New()),
		mintservice.WithBindRetry(cfg.Minting.BindAttempts, cfg.Minting.BindBackoff),
	)
	if err != nil {
		return err
	}

	breaker := circuit.New("ledger",
		circuit.WithFailureThreshold(cfg.Ledger.BreakerThreshold),
		circuit.WithCooldown(cfg.Ledger.BreakerCooldown),
	)
	engine, err := verifyservice.New(in.certs, in.ledger,
		verifyservice.WithLogger(log),
		verifyservice.WithMetrics(verifymetrics.New()),
		verifyservice.WithLedgerTimeout(cfg.Ledger.Timeout),
		verifyservice.WithBreaker(breaker),
	)
	if err != nil {
		return err
	}

	certs, err := certservice.New(in.certs,
		certservice.WithLogger(log),
		certservice.WithLedger(in.ledger),
		certservice.WithUsageReader(tracker),
		certservice.WithStoreTx(in.tx),
		certservice.WithAuditPublisher(auditor),
	)
	if err != nil {
		return err
	}

	sessions, err := session.NewJWTValidator(cfg.Session.SigningKey, cfg.Session.Issuer)
	if err != nil {
		return err
	}

	bindWorker := reconcile.NewWorker(in.certs, auditor, log)
	reconciler := reconcile.NewReconciler(in.certs, in.ledger, auditor, log)
	rollover, err := reconcile.NewRolloverScheduler(tracker, cfg.Scheduler.RolloverSchedule, log)
	if err != nil {
		return err
	}

	h := certhandler.New(gate, binder, engine, certs, reconciler, sessions, cfg.Server.AdminAPIToken, log,
		certhandler.WithSessionMiddleware(quotamw.CountAPICalls(tracker, log)),
	)
	srv := httpserver.New(cfg.Server, newRouter(h, in, log))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting certledger", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error { return ignoreCanceled(rollover.Run(gctx)) })

	if in.memQ != nil {
		g.Go(func() error { return ignoreCanceled(in.memQ.Run(gctx, bindWorker)) })
	}

	if in.producer != nil {
		relay := auditworker.NewWorker(in.outbox, in.producer, cfg.Kafka.AuditTopic, log,
			auditworker.WithInterval(cfg.Kafka.RelayInterval),
			auditworker.WithBatchSize(cfg.Kafka.RelayBatchSize),
		)
		g.Go(func() error { return ignoreCanceled(relay.Run(gctx)) })

		router := consumer.NewRouter(log, nil)
		router.Register(cfg.Kafka.PendingBindTopic, reconcile.KafkaHandler(bindWorker, log))
		c, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, router.Topics(), router, log)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		defer c.Close()
		g.Go(func() error { return ignoreCanceled(c.Run(gctx)) })
	}

	return g.Wait()
}

func newRouter(h *certhandler.Handler, in *infra, log *slog.Logger) http.Handler {
	m := metrics.New()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(m.Middleware)

	r.Handle("/metrics", metrics.Handler())
	r.Get("/health", healthHandler(in))
	h.Register(r)
	return r
}

func healthHandler(in *infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := map[string]string{}
		for name, err := range in.health(ctx) {
			if err != nil {
				status = http.StatusServiceUnavailable
				deps[name] = "down"
				continue
			}
			deps[name] = "ok"
		}
		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": overall, "dependencies": deps})
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
