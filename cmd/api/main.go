package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go/jetstream"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facegate/internal/api"
	"github.com/your-org/facegate/internal/api/handlers"
	"github.com/your-org/facegate/internal/api/ws"
	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/match"
	"github.com/your-org/facegate/internal/notify"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/otp"
	"github.com/your-org/facegate/internal/queue"
	"github.com/your-org/facegate/internal/storage"
	"github.com/your-org/facegate/internal/vision"
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

	slog.Info("starting facegate API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// Initialize ONNX Runtime and the face encoder
	var encodeFn func(ctx context.Context, imageData []byte) ([]float32, float32, error)
	embeddingDim := vision.EmbeddingDim

	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Warn("onnx runtime init failed, enrollment and verification will be unavailable", "error", err)
	} else {
		encoder, err := vision.NewONNXEncoder(cfg.Encoder.ModelsDir, float32(cfg.Encoder.DetectionThreshold))
		if err != nil {
			slog.Warn("encoder init failed, enrollment and verification will be unavailable", "error", err)
		} else {
			timeout := cfg.Encoder.Timeout()
			encodeFn = func(ctx context.Context, imageData []byte) ([]float32, float32, error) {
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				return encoder.Encode(ctx, imageData)
			}
			embeddingDim = encoder.Dim()
			defer encoder.Close()
			defer ort.DestroyEnvironment()
			slog.Info("face encoder ready", "dim", embeddingDim)
		}
	}

	if err := db.InitSchema(context.Background(), embeddingDim); err != nil {
		slog.Error("init schema", "error", err)
		os.Exit(1)
	}

	// Hydrate the in-memory gallery from enrolled signatures
	gallery := match.NewGallery()
	loaded, err := db.LoadGallery(context.Background())
	if err != nil {
		slog.Error("load gallery", "error", err)
		os.Exit(1)
	}
	gallery.Load(loaded)
	observability.GalleryIdentities.Set(float64(gallery.Identities()))
	observability.GallerySignatures.Set(float64(gallery.Signatures()))
	slog.Info("gallery hydrated", "identities", gallery.Identities(), "signatures", gallery.Signatures())

	matcher := match.New(match.Metric(cfg.Recognition.Metric), cfg.Recognition.ConfidenceScale)

	// OTP store, delivery transport and manager
	var otpStore otp.Store
	var redisPinger handlers.Pinger
	if cfg.Otp.Store == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisStore := otp.NewRedisStore(client, cfg.Otp.Retention())
		if err := redisStore.Ping(context.Background()); err != nil {
			slog.Error("connect to redis", "error", err)
			os.Exit(1)
		}
		otpStore = redisStore
		redisPinger = redisStore
	} else {
		slog.Warn("using in-memory OTP store; codes do not survive restarts")
		otpStore = otp.NewMemoryStore()
	}

	dispatcher, err := buildDispatcher(cfg)
	if err != nil {
		slog.Error("configure notify transport", "error", err)
		os.Exit(1)
	}

	manager := otp.NewManager(otpStore, dispatcher, otp.Options{
		Digits:   cfg.Otp.Digits,
		TTL:      cfg.Otp.TTL(),
		Cooldown: cfg.Otp.Cooldown(),
	})

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Re-broadcast logged attempts from the queue to WebSocket clients
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create attempt consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeAttempts(ctx, "api-attempts", func(ctx context.Context, msg jetstream.Msg) error {
		hub.BroadcastRaw(msg.Data())
		return nil
	})
	if err != nil {
		slog.Warn("start attempt consumer", "error", err)
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:         cfg.Server.APIKey,
		DB:             db,
		MinIO:          minioStore,
		Producer:       producer,
		Hub:            hub,
		Gallery:        gallery,
		Matcher:        matcher,
		Otp:            manager,
		Redis:          redisPinger,
		Threshold:      cfg.Recognition.Threshold,
		Metric:         cfg.Recognition.Metric,
		ArchiveProbes:  cfg.Recognition.ArchiveProbesEnabled(),
		OtpMaxAttempts: cfg.Otp.AttemptCap(),
		EncodeFn:       encodeFn,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
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

// getONNXLibPath returns the ONNX Runtime shared library path.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
