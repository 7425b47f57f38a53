package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/match"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/queue"
	"github.com/your-org/facegate/internal/storage"
	"github.com/your-org/facegate/internal/vision"
	"github.com/your-org/facegate/pkg/dto"
)

type VerifyHandler struct {
	db        *storage.PostgresStore
	minio     *storage.MinIOStore
	producer  *queue.Producer
	gallery   *match.Gallery
	matcher   *match.Matcher
	threshold float64
	archive   bool
	// EncodeFn extracts a face signature from image bytes.
	EncodeFn func(ctx context.Context, imageData []byte) ([]float32, float32, error)
}

func NewVerifyHandler(db *storage.PostgresStore, minio *storage.MinIOStore, producer *queue.Producer,
	gallery *match.Gallery, matcher *match.Matcher, threshold float64, archive bool) *VerifyHandler {
	if threshold <= 0 {
		threshold = match.DefaultThreshold
	}
	return &VerifyHandler{
		db:        db,
		minio:     minio,
		producer:  producer,
		gallery:   gallery,
		matcher:   matcher,
		threshold: threshold,
		archive:   archive,
	}
}

// Verify runs one probe image against the gallery. Every call is logged,
// whatever the outcome: a probe with no detectable face (or an encoder
// timeout) is the no_face_detected decision, not an error.
func (h *VerifyHandler) Verify(c *gin.Context) {
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	threshold := h.threshold
	if tStr := c.PostForm("threshold"); tStr != "" {
		if t, err := strconv.ParseFloat(tStr, 64); err == nil && t > 0 {
			threshold = t
		}
	}
	source := c.PostForm("source")
	claimed := c.PostForm("identity")

	if h.EncodeFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "encoder not initialized"})
		return
	}

	start := time.Now()
	probe, _, err := h.EncodeFn(c.Request.Context(), imageData)
	observability.StageDuration.WithLabelValues("encode").Observe(time.Since(start).Seconds())

	notes := ""
	if err != nil {
		switch {
		case errors.Is(err, vision.ErrBadImage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported image"})
			return
		case errors.Is(err, vision.ErrNoFace):
			probe = nil
		case errors.Is(err, context.DeadlineExceeded):
			probe = nil
			notes = "encoder timed out"
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	start = time.Now()
	result := h.matcher.Verify(probe, h.gallery.Snapshot(), threshold)
	observability.StageDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())

	if result.Skipped > 0 {
		diag := fmt.Sprintf("skipped %d signatures with mismatched dimensions", result.Skipped)
		slog.Warn("gallery dimension mismatch", "skipped", result.Skipped, "probe_dim", len(probe))
		if notes != "" {
			notes += "; "
		}
		notes += diag
	}

	attempt := newAttempt(result, probe, claimed, source, c.ClientIP(), c.Request.UserAgent(), notes)

	if h.archive {
		start = time.Now()
		attempt.SnapshotKey = storage.SnapshotKey(attempt.ID)
		if err := h.minio.PutObject(c.Request.Context(), attempt.SnapshotKey, imageData, "image/jpeg"); err != nil {
			slog.Error("archive probe snapshot", "attempt", attempt.ID, "error", err)
			attempt.SnapshotKey = ""
		}
		observability.StageDuration.WithLabelValues("archive").Observe(time.Since(start).Seconds())
	}

	if err := h.db.InsertAttempt(c.Request.Context(), attempt); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	observability.Verifications.WithLabelValues(string(result.Decision)).Inc()

	resp := dto.VerifyResponse{
		AttemptID:  attempt.ID,
		Decision:   string(result.Decision),
		Identity:   result.Identity,
		Nearest:    result.Nearest,
		Distance:   result.Distance,
		Confidence: result.Confidence,
		Threshold:  result.Threshold,
		Skipped:    result.Skipped,
		CreatedAt:  attempt.CreatedAt.Format(time.RFC3339),
	}
	if attempt.SnapshotKey != "" {
		resp.SnapshotURL = "/v1/attempts/" + attempt.ID.String() + "/snapshot"
	}
	if result.Identity != "" {
		if ident, err := h.db.GetIdentity(c.Request.Context(), result.Identity); err == nil && ident != nil {
			resp.Name = ident.Name
		}
	}

	h.publishAttempt(c.Request.Context(), attempt, resp)

	c.JSON(http.StatusOK, resp)
}

// newAttempt builds the log entry for one verification call. claimed is the
// identity the caller asserted, if any; the matcher's resolution is recorded
// separately in MatchedID.
func newAttempt(result models.MatchResult, probe []float32, claimed, source, ip, userAgent, notes string) *models.Attempt {
	attempt := &models.Attempt{
		ID:         uuid.New(),
		Decision:   result.Decision,
		Distance:   result.Distance,
		Confidence: result.Confidence,
		Threshold:  result.Threshold,
		Source:     source,
		Method:     models.MethodFace,
		IP:         ip,
		UserAgent:  userAgent,
		Embedding:  probe,
		Notes:      notes,
	}
	if claimed != "" {
		attempt.IdentityID = &claimed
	}
	if result.Identity != "" {
		attempt.MatchedID = &result.Identity
	}
	if result.Nearest != "" {
		attempt.NearestID = &result.Nearest
	}
	return attempt
}

func (h *VerifyHandler) publishAttempt(ctx context.Context, attempt *models.Attempt, resp dto.VerifyResponse) {
	msg := dto.WSAttempt{
		Type:     "attempt",
		Identity: resp.Identity,
		Data: dto.AttemptResponse{
			ID:          attempt.ID,
			Decision:    string(attempt.Decision),
			IdentityID:  attempt.IdentityID,
			MatchedID:   attempt.MatchedID,
			NearestID:   attempt.NearestID,
			Distance:    attempt.Distance,
			Confidence:  attempt.Confidence,
			Threshold:   attempt.Threshold,
			Source:      attempt.Source,
			Method:      attempt.Method,
			IP:          attempt.IP,
			SnapshotURL: resp.SnapshotURL,
			CreatedAt:   attempt.CreatedAt.Format(time.RFC3339),
		},
	}
	if err := h.producer.PublishAttempt(ctx, string(attempt.Decision), msg); err != nil {
		slog.Error("publish attempt", "attempt", attempt.ID, "error", err)
	}
}
