package api

import (
	"context"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facegate/internal/api/handlers"
	"github.com/your-org/facegate/internal/api/ws"
	"github.com/your-org/facegate/internal/auth"
	"github.com/your-org/facegate/internal/match"
	"github.com/your-org/facegate/internal/otp"
	"github.com/your-org/facegate/internal/queue"
	"github.com/your-org/facegate/internal/storage"
)

type RouterConfig struct {
	APIKey   string
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Hub      *ws.Hub
	Gallery  *match.Gallery
	Matcher  *match.Matcher
	Otp      *otp.Manager
	Redis    handlers.Pinger // nil when the OTP store is in-memory

	// Matching and OTP policy, from config.
	Threshold      float64
	Metric         string
	ArchiveProbes  bool
	OtpMaxAttempts int

	// EncodeFn extracts a face signature from image bytes (from the encoder).
	EncodeFn func(ctx context.Context, imageData []byte) ([]float32, float32, error)
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer, cfg.Redis)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket: live attempt feed
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Identities & enrollment photos
	identityH := handlers.NewIdentityHandler(cfg.DB, cfg.MinIO, cfg.Gallery)
	identityH.EncodeFn = cfg.EncodeFn
	v1.POST("/identities", identityH.Create)
	v1.GET("/identities", identityH.List)
	v1.GET("/identities/:id", identityH.Get)
	v1.PUT("/identities/:id", identityH.Update)
	v1.DELETE("/identities/:id", identityH.Delete)
	v1.POST("/identities/:id/photos", identityH.AddPhoto)
	v1.GET("/identities/:id/photos", identityH.ListPhotos)
	v1.DELETE("/identities/:id/photos/:photoId", identityH.DeletePhoto)
	v1.GET("/gallery/stats", identityH.GalleryStats)

	// Verification
	verifyH := handlers.NewVerifyHandler(cfg.DB, cfg.MinIO, cfg.Producer, cfg.Gallery, cfg.Matcher, cfg.Threshold, cfg.ArchiveProbes)
	verifyH.EncodeFn = cfg.EncodeFn
	v1.POST("/verify", verifyH.Verify)

	// Recognition log
	attemptH := handlers.NewAttemptHandler(cfg.DB, cfg.MinIO, cfg.Metric)
	attemptH.EncodeFn = cfg.EncodeFn
	v1.GET("/attempts", attemptH.List)
	v1.GET("/attempts/:id", attemptH.Get)
	v1.GET("/attempts/:id/snapshot", attemptH.Snapshot)
	v1.POST("/attempts/similar", attemptH.Similar)

	// One-time codes
	otpH := handlers.NewOtpHandler(cfg.DB, cfg.Otp, cfg.Producer, cfg.OtpMaxAttempts)
	v1.POST("/otp/issue", otpH.Issue)
	v1.POST("/otp/verify", otpH.Verify)

	return r
}
