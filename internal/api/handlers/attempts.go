package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/storage"
	"github.com/your-org/facegate/internal/vision"
	"github.com/your-org/facegate/pkg/dto"
)

type AttemptHandler struct {
	db     *storage.PostgresStore
	minio  *storage.MinIOStore
	metric string
	// EncodeFn extracts a face signature from image bytes (for Similar).
	EncodeFn func(ctx context.Context, imageData []byte) ([]float32, float32, error)
}

func NewAttemptHandler(db *storage.PostgresStore, minio *storage.MinIOStore, metric string) *AttemptHandler {
	return &AttemptHandler{db: db, minio: minio, metric: metric}
}

func (h *AttemptHandler) List(c *gin.Context) {
	filter := storage.AttemptFilter{}

	if idStr := c.Query("identity"); idStr != "" {
		filter.Identity = &idStr
	}
	if decStr := c.Query("decision"); decStr != "" {
		d := models.Decision(decStr)
		filter.Decision = &d
	}
	if srcStr := c.Query("source"); srcStr != "" {
		filter.Source = &srcStr
	}
	if fromStr := c.Query("from"); fromStr != "" {
		if t, err := time.Parse(time.RFC3339, fromStr); err == nil {
			filter.From = &t
		}
	}
	if toStr := c.Query("to"); toStr != "" {
		if t, err := time.Parse(time.RFC3339, toStr); err == nil {
			filter.To = &t
		}
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	attempts, total, err := h.db.QueryAttempts(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.AttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		resp = append(resp, attemptResponse(a))
	}

	c.JSON(http.StatusOK, dto.AttemptListResponse{Attempts: resp, Total: total})
}

func (h *AttemptHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt id"})
		return
	}

	attempt, err := h.db.GetAttempt(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if attempt == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		return
	}

	c.JSON(http.StatusOK, attemptResponse(*attempt))
}

// Snapshot proxies the archived probe image from MinIO.
func (h *AttemptHandler) Snapshot(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt id"})
		return
	}

	attempt, err := h.db.GetAttempt(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if attempt == nil || attempt.SnapshotKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}

	data, err := h.minio.GetObject(c.Request.Context(), attempt.SnapshotKey)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}

// Similar finds logged attempts whose probe was closest to an uploaded image.
func (h *AttemptHandler) Similar(c *gin.Context) {
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

	if h.EncodeFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "encoder not initialized"})
		return
	}

	embedding, _, err := h.EncodeFn(c.Request.Context(), imageData)
	if err != nil {
		if errors.Is(err, vision.ErrNoFace) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no face found in image"})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "failed to extract face: " + err.Error()})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	neighbors, err := h.db.SimilarAttempts(c.Request.Context(), embedding, h.metric, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	results := make([]dto.SimilarAttemptResult, 0, len(neighbors))
	for _, n := range neighbors {
		results = append(results, dto.SimilarAttemptResult{
			AttemptID: n.ID,
			Decision:  string(n.Decision),
			MatchedID: n.MatchedID,
			Distance:  n.Distance,
			CreatedAt: n.CreatedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{"results": results, "total": len(results)})
}

func attemptResponse(a models.Attempt) dto.AttemptResponse {
	r := dto.AttemptResponse{
		ID:         a.ID,
		Decision:   string(a.Decision),
		IdentityID: a.IdentityID,
		MatchedID:  a.MatchedID,
		NearestID:  a.NearestID,
		Distance:   a.Distance,
		Confidence: a.Confidence,
		Threshold:  a.Threshold,
		Source:     a.Source,
		Method:     a.Method,
		IP:         a.IP,
		CreatedAt:  a.CreatedAt.Format(time.RFC3339),
	}
	if a.SnapshotKey != "" {
		r.SnapshotURL = "/v1/attempts/" + a.ID.String() + "/snapshot"
	}
	return r
}
