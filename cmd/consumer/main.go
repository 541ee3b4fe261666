package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/route-watch/internal/config"
	"github.com/example/route-watch/internal/events"
	"github.com/example/route-watch/internal/logging"
	"github.com/example/route-watch/internal/models"
	"github.com/example/route-watch/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total notified-ride events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

// consumer mirrors notified-ride events into the Redis dedup cache so every
// engine replica sees rides notified by the others.
func main() {
	var (
		configPath  string
		metricsAddr string
	)
	flag.StringVar(&configPath, "config", "", "path to config.yaml")
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
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
	log = log.With(map[string]interface{}{"service": "route-watch-consumer"})

	brokers := cfg.Kafka.Brokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	redisCfg := cfg.Database.Redis
	if redisCfg.Address == "" {
		redisCfg.Address = "localhost:6379"
	}
	rc := storage.NewRedisClient(redisCfg)
	mirror := storage.NewRedisMirror(rc, redisCfg.KeyTTL)

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			_, _ = w.Write([]byte("ready"))
		})
		log.Info("metrics/health listening", map[string]interface{}{"addr": metricsAddr})
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.WithError(err).Warn("metrics server stopped", nil)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: cfg.Kafka.Topic, GroupID: cfg.Kafka.GroupID, MinBytes: 1, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Info("consumer listening", map[string]interface{}{"topic": cfg.Kafka.Topic, "brokers": brokers, "group": cfg.Kafka.GroupID})
	consume(ctx, r, mirror, log)
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func consume(ctx context.Context, r messageReader, rc RedisUpdater, log logging.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("shutting down consumer", nil)
				return
			}
			log.WithError(err).Warn("kafka read error, backing off", map[string]interface{}{"backoff": backoff.String()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()

		ev, err := events.Decode(m.Value)
		if err != nil || ev.Ride.RideID == "" {
			msgsInvalid.Inc()
			log.Warn("invalid message", map[string]interface{}{"offset": m.Offset, "error": err})
			continue
		}

		if err := updateRedisWithRetry(ctx, rc, ev.Ride, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			log.WithError(err).Error("redis update failed", map[string]interface{}{"ride_id": ev.Ride.RideID})
			continue
		}
		redisUpdates.Inc()
	}
}

// RedisUpdater is the one cache operation the consumer needs.
type RedisUpdater interface {
	Remember(ctx context.Context, ride models.NotifiedRide) error
}

// updateRedisWithRetry writes the ride into the cache, doubling delay
// between attempts.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, ride models.NotifiedRide, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = rc.Remember(ctx, ride); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
