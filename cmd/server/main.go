package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	adminhandler "confreg/internal/admin/handler"
	adminservice "confreg/internal/admin/service"
	"confreg/internal/audit"
	auditworker "confreg/internal/audit/worker"
	"confreg/internal/gateway"
	"confreg/internal/jwtauth"
	"confreg/internal/platform/config"
	"confreg/internal/platform/httpserver"
	"confreg/internal/platform/logger"
	"confreg/internal/platform/middleware"
	"confreg/internal/platform/postgres"
	platformredis "confreg/internal/platform/redis"
	"confreg/internal/reconciliation/dedup"
	reconhandler "confreg/internal/reconciliation/handler"
	"confreg/internal/reconciliation/poller"
	reconmetrics "confreg/internal/reconciliation/metrics"
	reconservice "confreg/internal/reconciliation/service"
	reghandler "confreg/internal/registration/handler"
	regmetrics "confreg/internal/registration/metrics"
	regservice "confreg/internal/registration/service"
	paymentstore "confreg/internal/registration/store/payment"
	registrantstore "confreg/internal/registration/store/registrant"
	"confreg/pkg/platform/tx"
)

// main wires dependencies explicitly and keeps the process lifecycle in one
// place. Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	registrants := registrantstore.NewPostgres(db)
	payments := paymentstore.NewPostgres(db)

	// Audit events go through the transactional outbox; the relay worker
	// drains them to Kafka when brokers are configured.
	auditPublisher := audit.NewPublisher(audit.NewPostgres(db))

	var kafkaClient *kgo.Client
	if len(cfg.KafkaBrokers) > 0 {
		kafkaClient, err = kgo.NewClient(
			kgo.SeedBrokers(cfg.KafkaBrokers...),
			kgo.DefaultProduceTopic(cfg.AuditTopic),
		)
		if err != nil {
			log.Error("failed to create kafka client", "error", err)
			os.Exit(1)
		}
		defer kafkaClient.Close()
	}

	var gatewayClient gateway.Client
	if cfg.Gateway.AccessToken != "" {
		gatewayClient = gateway.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.AccessToken, cfg.Gateway.Timeout)
	} else {
		log.Warn("no gateway access token configured, using mock payment client")
		gatewayClient = gateway.NewMockClient()
	}

	reconOpts := []reconservice.Option{
		reconservice.WithLogger(log),
		reconservice.WithMetrics(reconmetrics.New()),
		reconservice.WithAuditPublisher(auditPublisher),
	}
	if redisClient != nil {
		reconOpts = append(reconOpts, reconservice.WithDedup(dedup.NewRedisStore(redisClient.Client, 24*time.Hour)))
	}
	reconciliationSvc := reconservice.New(payments, registrants, gatewayClient, reconOpts...)

	// Transfers stay PENDING until settled; a server-side watch per payment
	// polls the provider so the browser only ever reads our store.
	settlementPoller := poller.New(reconciliationSvc, poller.WithLogger(log))

	registrationSvc := regservice.New(registrants, payments, gatewayClient, cfg.UnitFee,
		regservice.WithLogger(log),
		regservice.WithMetrics(regmetrics.New()),
		regservice.WithAuditPublisher(auditPublisher),
		regservice.WithTransactor(tx.NewRunner(db)),
		regservice.WithSettlementWatcher(func(gatewayID string) {
			settlementPoller.WatchAsync(ctx, gatewayID)
		}),
	)

	jwtSvc := jwtauth.NewService(cfg.Admin.JWTSigningKey, "confreg")
	adminSvc := adminservice.New(registrants, payments, jwtSvc,
		adminservice.Credentials{Username: cfg.Admin.Username, PasswordHash: cfg.Admin.PasswordHash},
		cfg.Admin.TokenTTL,
		cfg.UnitFee,
		adminservice.WithLogger(log),
		adminservice.WithAuditPublisher(auditPublisher),
	)

	registrationHandler := reghandler.New(registrationSvc, log)
	reconciliationHandler := reconhandler.New(reconciliationSvc, log)
	adminHandler := adminhandler.New(adminSvc, log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.ContentTypeJSON)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())

	registrationHandler.Register(router)
	reconciliationHandler.Register(router)
	adminHandler.RegisterPublic(router)
	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireAdmin(jwtSvc, log))
		adminHandler.Register(r)
		reconciliationHandler.RegisterAdmin(r)
	})

	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting confreg server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if kafkaClient != nil {
		relay := auditworker.NewRelay(db, kafkaClient, cfg.AuditTopic, auditworker.WithLogger(log))
		group.Go(func() error {
			if err := relay.EnsureTopic(groupCtx); err != nil {
				log.Warn("failed to ensure audit topic", "error", err)
			}
			if err := relay.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
