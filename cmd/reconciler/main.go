// The reconciler closes the swipe reconciliation gap: swipe decisions
// are recorded fire-and-forget by the API, and every decision is also
// mirrored onto Kafka. This process replays the stream into the store,
// where the (swiper, swiped, event) key makes re-inserts harmless.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/event-checkin/internal/models"
	"github.com/example/event-checkin/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_messages_consumed_total",
		Help: "Total swipe messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	swipesReplayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_swipes_replayed_total",
		Help: "Swipe rows inserted during replay",
	})
	swipesDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_swipes_duplicate_total",
		Help: "Swipes already present in the store",
	})
	storeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_store_errors_total",
		Help: "Store errors after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, swipesReplayed, swipesDuplicate, storeErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokersEnv := os.Getenv("KAFKA_BROKERS")
	brokers := []string{}
	if brokersEnv != "" {
		for _, b := range strings.Split(brokersEnv, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	} else {
		brokers = []string{"localhost:9092"}
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "swipe-events"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "swipe-reconciler"
	}

	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		log.Fatal("PG_DSN is required")
	}
	store, err := storage.NewPostgresStore(dsn)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}

	// metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := store.DB().PingContext(r.Context()); err != nil {
				http.Error(w, "store not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() { _ = r.Close() }()

	log.Printf("reconciler listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down reconciler")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()

		var s models.Swipe
		if err := json.Unmarshal(m.Value, &s); err != nil {
			msgsInvalid.Inc()
			log.Printf("invalid message: %v", err)
			continue
		}
		if s.SwiperID == "" || s.SwipedID == "" || s.EventID == "" {
			msgsInvalid.Inc()
			continue
		}

		switch err := insertWithRetry(ctx, store, &s, 3, 200*time.Millisecond); {
		case err == nil:
			swipesReplayed.Inc()
		case errors.Is(err, storage.ErrDuplicate):
			swipesDuplicate.Inc()
		default:
			storeErrors.Inc()
			log.Printf("replay failed swiper=%s swiped=%s event=%s: %v", s.SwiperID, s.SwipedID, s.EventID, err)
		}
	}
}

// SwipeInserter is the small store subset we need for tests and production.
type SwipeInserter interface {
	InsertSwipe(ctx context.Context, s *models.Swipe) error
}

// insertWithRetry re-inserts a swipe with backoff. Duplicates surface
// immediately; they mean the original write made it after all.
func insertWithRetry(ctx context.Context, store SwipeInserter, s *models.Swipe, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = store.InsertSwipe(ctx, s)
		if err == nil || errors.Is(err, storage.ErrDuplicate) {
			return err
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
