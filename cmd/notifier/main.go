package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/notify"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/otp"
	"github.com/your-org/facegate/internal/queue"
)

const (
	deliveryWorkers    = 4
	deliveryMaxDeliver = 5
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facegate notifier", "provider", cfg.Notify.Provider)

	// The notifier redrives deliveries against the shared code store. With
	// the in-memory store each process sees its own records, so there is
	// nothing meaningful to redrive.
	if cfg.Otp.Store != "redis" {
		slog.Error("notifier requires otp.store=redis", "store", cfg.Otp.Store)
		os.Exit(1)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := otp.NewRedisStore(client, cfg.Otp.Retention())
	if err := store.Ping(context.Background()); err != nil {
		slog.Error("connect to redis", "error", err)
		os.Exit(1)
	}

	dispatcher, err := buildDispatcher(cfg)
	if err != nil {
		slog.Error("configure notify transport", "error", err)
		os.Exit(1)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start consuming delivery tasks
	err = consumer.ConsumeDeliveries(ctx, "notifier-deliveries", func(ctx context.Context, msg jetstream.Msg) error {
		if meta, metaErr := msg.Metadata(); metaErr == nil && meta.NumDelivered > 1 {
			observability.DeliveryRetries.Inc()
		}

		var task models.DeliveryTask
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Error("unmarshal delivery task", "error", err)
			return queue.ErrDrop
		}

		return redrive(ctx, store, dispatcher, task)
	}, deliveryWorkers, deliveryMaxDeliver)
	if err != nil {
		slog.Error("start delivery consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("notifier metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report delivery backlog
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pending, err := producer.PendingDeliveries(ctx)
				if err == nil {
					observability.PendingDeliveries.Set(float64(pending))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down notifier...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("notifier stopped")
}

// redrive re-sends the code for a failed delivery task, consulting the
// store so a task whose code has since been superseded, consumed or
// expired is dropped instead of resent.
func redrive(ctx context.Context, store otp.Store, dispatcher otp.Dispatcher, task models.DeliveryTask) error {
	rec, err := store.Get(ctx, task.Identity, task.Purpose)
	if err != nil {
		return fmt.Errorf("load code record: %w", err)
	}
	if rec == nil || !rec.IssuedAt.Equal(task.IssuedAt) {
		slog.Info("dropping superseded delivery", "identity", task.Identity, "purpose", task.Purpose)
		observability.OtpDeliveries.WithLabelValues("superseded").Inc()
		return queue.ErrDrop
	}
	if rec.Consumed {
		observability.OtpDeliveries.WithLabelValues("superseded").Inc()
		return queue.ErrDrop
	}
	if rec.Expired(time.Now()) {
		slog.Info("dropping expired delivery", "identity", task.Identity, "purpose", task.Purpose)
		observability.OtpDeliveries.WithLabelValues("expired").Inc()
		return queue.ErrDrop
	}

	contact := rec.Contact
	if contact == "" {
		contact = task.Contact
	}

	if err := dispatcher.Send(ctx, contact, task.Purpose, rec.Code); err != nil {
		observability.OtpDeliveries.WithLabelValues("failed").Inc()
		return fmt.Errorf("send code to %s: %w", task.Identity, err)
	}

	slog.Info("code redelivered", "identity", task.Identity, "purpose", task.Purpose)
	observability.OtpDeliveries.WithLabelValues("sent").Inc()
	return nil
}

func buildDispatcher(cfg *config.Config) (otp.Dispatcher, error) {
	switch cfg.Notify.Provider {
	case "smtp":
		return notify.NewSMTPDispatcher(notify.SMTPOptions{
			Preset:   cfg.Notify.SMTP.Preset,
			Host:     cfg.Notify.SMTP.Host,
			Port:     cfg.Notify.SMTP.Port,
			Username: cfg.Notify.SMTP.Username,
			Password: cfg.Notify.SMTP.Password,
			From:     cfg.Notify.From,
			FromName: cfg.Notify.FromName,
			CodeTTL:  cfg.Otp.TTL(),
		})
	case "resend":
		if cfg.Notify.Resend.APIKey == "" {
			return nil, fmt.Errorf("notify provider resend requires an api key")
		}
		return notify.NewResendDispatcher(cfg.Notify.Resend.APIKey, cfg.Notify.From, cfg.Otp.TTL()), nil
	case "log", "":
		return notify.LogDispatcher{}, nil
	default:
		return nil, fmt.Errorf("unknown notify provider %q", cfg.Notify.Provider)
	}
}
