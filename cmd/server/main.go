package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/route-watch/internal/config"
	"github.com/example/route-watch/internal/dispatch"
	"github.com/example/route-watch/internal/engine"
	"github.com/example/route-watch/internal/events"
	httpapi "github.com/example/route-watch/internal/http"
	"github.com/example/route-watch/internal/logging"
	"github.com/example/route-watch/internal/models"
	"github.com/example/route-watch/internal/source"
	"github.com/example/route-watch/internal/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	log = log.With(map[string]interface{}{"service": cfg.App.Name, "env": cfg.App.Environment})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("route-watch exited", nil)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log logging.Logger) error {
	var (
		ledger   storage.Ledger
		searches storage.SearchStore
	)

	if cfg.Database.Postgres.DSN != "" {
		db, err := storage.OpenPostgres(ctx, cfg.Database.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer db.Close()
		if cfg.Database.Migrate {
			if err := storage.Migrate(ctx, db); err != nil {
				return err
			}
			log.Info("schema migrated", nil)
		}
		ledger = storage.NewPostgresLedger(db)
		searches = storage.NewPostgresSearchStore(db)
	} else {
		log.Warn("no database configured, notified rides are kept in memory only", nil)
		ledger = storage.NewMemoryLedger()
		seeded, err := seedSearches(cfg.Searches)
		if err != nil {
			return err
		}
		searches = storage.NewMemorySearchStore(seeded...)
	}

	if cfg.Database.Redis.Address != "" {
		rdb := storage.NewRedisClient(cfg.Database.Redis)
		defer rdb.Close()
		ledger = storage.NewCachedLedger(ledger, storage.NewRedisMirror(rdb, cfg.Database.Redis.KeyTTL), log)
	}

	notifier, err := dispatch.New(ctx, cfg.Push, log)
	if err != nil {
		return err
	}
	if !cfg.PushConfigured() {
		log.Warn("push provider not configured, matches will not be notified", map[string]interface{}{"provider": cfg.Push.Provider})
	}

	hub := dispatch.NewHub(log)
	deps := engine.Deps{
		Source:   source.NewClient(cfg.Source, log),
		Searches: searches,
		Ledger:   ledger,
		Notifier: notifier,
		Hub:      hub,
		Logger:   log.With(map[string]interface{}{"component": "engine"}),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := events.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		deps.Publisher = producer
	}

	eng := engine.New(cfg.Scheduler, deps)
	sched := engine.NewScheduler(eng, cfg.Scheduler.Interval, log)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      httpapi.NewServer(eng, ledger, hub, log),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		log.Info("route-watch listening", map[string]interface{}{"addr": cfg.HTTP.Addr, "policy": cfg.Scheduler.MatchPolicy})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func seedSearches(seeds []config.SearchSeed) ([]models.SavedSearch, error) {
	out := make([]models.SavedSearch, 0, len(seeds))
	now := time.Now().UTC()
	for i, s := range seeds {
		from, err := time.Parse("2006-01-02", s.DateFrom)
		if err != nil {
			return nil, fmt.Errorf("searches[%d].date_from: %w", i, err)
		}
		to, err := time.Parse("2006-01-02", s.DateTo)
		if err != nil {
			return nil, fmt.Errorf("searches[%d].date_to: %w", i, err)
		}
		ss := models.SavedSearch{OwnerID: s.Owner, DateFrom: from, DateTo: to, OriginPattern: s.Origin, DestinationPattern: s.Destination, CreatedAt: now}
		if err := ss.Validate(); err != nil {
			return nil, fmt.Errorf("searches[%d]: %w", i, err)
		}
		out = append(out, ss)
	}
	return out, nil
}
