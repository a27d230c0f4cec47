package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	allocationhandler "aidbridge/internal/allocation/handler"
	allocationmetrics "aidbridge/internal/allocation/metrics"
	allocationservice "aidbridge/internal/allocation/service"
	allocationstore "aidbridge/internal/allocation/store"
	"aidbridge/internal/conflict"
	contributionhandler "aidbridge/internal/contribution/handler"
	contributionmetrics "aidbridge/internal/contribution/metrics"
	contributionservice "aidbridge/internal/contribution/service"
	contributionstore "aidbridge/internal/contribution/store"
	donationhandler "aidbridge/internal/donation/handler"
	donationmetrics "aidbridge/internal/donation/metrics"
	donationservice "aidbridge/internal/donation/service"
	donationstore "aidbridge/internal/donation/store"
	"aidbridge/internal/jwtauth"
	jwthandler "aidbridge/internal/jwtauth/handler"
	partyhandler "aidbridge/internal/party/handler"
	partyservice "aidbridge/internal/party/service"
	partystore "aidbridge/internal/party/store"
	"aidbridge/internal/platform/config"
	"aidbridge/internal/platform/httpserver"
	"aidbridge/internal/platform/logger"
	platformredis "aidbridge/internal/platform/redis"
	"aidbridge/internal/readmodel"
	readmodelhandler "aidbridge/internal/readmodel/handler"
	requesthandler "aidbridge/internal/request/handler"
	requestmetrics "aidbridge/internal/request/metrics"
	requestservice "aidbridge/internal/request/service"
	requeststore "aidbridge/internal/request/store"
	"aidbridge/internal/scoring"
	transporthttp "aidbridge/internal/transport/http"
	id "aidbridge/pkg/domain"
	"aidbridge/pkg/platform/audit"
	audithandler "aidbridge/pkg/platform/audit/handler"
	"aidbridge/pkg/platform/audit/relay"
	auditpostgres "aidbridge/pkg/platform/audit/store/postgres"
	"aidbridge/pkg/platform/tx"
)

func main() {
	log := logger.New()
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Postgres.URL)
	if err != nil {
		log.Error("open postgres", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("ping postgres", "error", err.Error())
		os.Exit(1)
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err.Error())
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	runner := tx.NewSQLRunner(db, cfg.TxTimeout, cfg.TxTimeout)
	guard := conflict.NewGuard()

	auditStore := auditpostgres.New(db)
	auditPublisher := audit.NewPublisher(auditStore, audit.WithLogger(log))

	requests := requeststore.NewPostgres(db)
	contributions := contributionstore.NewPostgres(db)
	donations := donationstore.NewPostgres(db)
	allocations := allocationstore.NewPostgres(db)
	parties := partystore.NewPostgres(db)

	scorer := scoring.NewWorker(256, func(ctx context.Context, requestID id.RequestID) error {
		// Upstream scoring integration lands here; recomputation is observed
		// only through the urgency payload on later reads.
		log.InfoContext(ctx, "vulnerability re-score scheduled", "request_id", requestID.String())
		return nil
	}, log)

	partySvc := partyservice.NewService(parties)
	requestSvc := requestservice.NewService(runner, requests, contributions, allocations, parties, guard, auditPublisher, cfg.StaleRequestAge,
		requestservice.WithLogger(log),
		requestservice.WithMetrics(requestmetrics.New()),
		requestservice.WithScorer(scorer),
	)
	contributionSvc := contributionservice.NewService(runner, requests, contributions, parties, guard, auditPublisher,
		contributionservice.WithLogger(log),
		contributionservice.WithMetrics(contributionmetrics.New()),
	)
	allocationSvc := allocationservice.NewService(runner, requests, donations, allocations, parties, guard, auditPublisher,
		allocationservice.WithLogger(log),
		allocationservice.WithMetrics(allocationmetrics.New()),
	)
	donationSvc := donationservice.NewService(runner, donations, requests, parties, guard, auditPublisher,
		donationservice.WithLogger(log),
		donationservice.WithMetrics(donationmetrics.New()),
	)

	regional := readmodel.NewRegional(requests, contributions, parties, guard, redisClient, cfg.RegionalStatsTTL, log)

	jwtSvc := jwtauth.New(cfg.JWTSigningKey, "aidbridge")
	partyHandler := partyhandler.New(partySvc, log)

	router := transporthttp.NewRouter(transporthttp.RouterConfig{
		Logger:    log,
		Validator: jwtSvc,
		Public: []transporthttp.Registerer{
			publicRoutes{partyHandler},
			jwthandler.New(partySvc, jwtSvc, log),
		},
		API: []transporthttp.Registerer{
			partyHandler,
			requesthandler.New(requestSvc, log),
			contributionhandler.New(contributionSvc, log),
			allocationhandler.New(allocationSvc, log),
			donationhandler.New(donationSvc, log),
			audithandler.New(auditPublisher, log),
			readmodelhandler.New(regional, log),
		},
	})

	group, groupCtx := errgroup.WithContext(ctx)

	server := httpserver.New(cfg.Addr, router)
	group.Go(func() error {
		log.Info("http server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	group.Go(func() error {
		err := scorer.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if len(cfg.Kafka.Brokers) > 0 {
		relayWorker, err := relay.New(ctx, db, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, log)
		if err != nil {
			log.Error("start audit relay", "error", err.Error())
			os.Exit(1)
		}
		group.Go(func() error {
			err := relayWorker.Run(groupCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := group.Wait(); err != nil {
		log.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}

// publicRoutes exposes only the unauthenticated slice of the party handler.
type publicRoutes struct {
	parties *partyhandler.Handler
}

func (p publicRoutes) Register(r chi.Router) {
	p.parties.RegisterPublic(r)
}
