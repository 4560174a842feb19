package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"tuitionmatch/internal/enquiry"
	enquirymetrics "tuitionmatch/internal/enquiry/metrics"
	"tuitionmatch/internal/enquiry/service"
	"tuitionmatch/internal/enquiry/store/enquirystore"
	"tuitionmatch/internal/events"
	"tuitionmatch/internal/notify"
	"tuitionmatch/internal/platform/config"
	"tuitionmatch/internal/platform/httpserver"
	"tuitionmatch/internal/platform/logger"
	"tuitionmatch/internal/platform/postgres"
	platformredis "tuitionmatch/internal/platform/redis"
	"tuitionmatch/internal/session"
	"tuitionmatch/internal/sweeper"
	"tuitionmatch/pkg/refnum"
	"tuitionmatch/pkg/tokencipher"
)

// enquiryStore is what main needs from a store implementation: the service
// operations plus the sweeper's expiry cleanup.
type enquiryStore interface {
	service.EnquiryStore
	sweeper.LinkStore
}

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal packages.
func main() {
	_ = godotenv.Load()
	log := logger.New()

	if err := run(log); err != nil {
		log.Error("tuitionmatch exited with error", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store enquiryStore = enquirystore.NewInMemory()
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		store = enquirystore.NewPostgres(db)
		log.Info("using postgres enquiry store")
	} else {
		log.Warn("TM_DATABASE_URL unset, using in-memory enquiry store")
	}

	var sessions session.Store = session.NewMemory()
	if cfg.RedisURL != "" {
		rdb, err := platformredis.New(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		sessions = session.NewRedis(rdb.Client)
		log.Info("using redis session store")
	} else {
		log.Warn("TM_REDIS_URL unset, using in-memory session store")
	}

	cipher, err := tokencipher.New(cfg.TokenKey)
	if err != nil {
		return err
	}

	sender := notify.NewClient(cfg.NotifyBaseURL, cfg.NotifyAPIKey, map[notify.TemplateID]string{
		notify.TemplateEnquiryConfirmationToEnquirer: cfg.NotifyTemplateConfirmation,
		notify.TemplateEnquiryToTP:                   cfg.NotifyTemplateEnquiryToTP,
	}, notify.WithLogger(log))

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(enquirymetrics.New()),
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewPublisher(cfg.KafkaBrokers, events.WithLogger(log))
		if err != nil {
			return err
		}
		defer publisher.Close()
		if err := publisher.EnsureTopic(ctx, 3); err != nil {
			return err
		}
		opts = append(opts, service.WithEventPublisher(publisher))
		log.Info("publishing enquiry events", "brokers", cfg.KafkaBrokers)
	}

	svc := enquiry.NewService(store, sessions, sender, cipher, refnum.New(), opts...)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	enquiry.NewHandler(svc, cfg.BaseServiceURL, log).Register(router)

	sweep := sweeper.New(store, sweeper.WithSchedule(cfg.SweepSchedule), sweeper.WithLogger(log))
	if err := sweep.Start(); err != nil {
		return err
	}
	defer sweep.Stop()

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting tuitionmatch", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
