package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/your-org/facegate/internal/match"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/storage"
	"github.com/your-org/facegate/internal/vision"
	"github.com/your-org/facegate/pkg/dto"
)

type IdentityHandler struct {
	db      *storage.PostgresStore
	minio   *storage.MinIOStore
	gallery *match.Gallery
	// EncodeFn extracts a face signature from image bytes.
	// Set this after the encoder is initialized.
	EncodeFn func(ctx context.Context, imageData []byte) ([]float32, float32, error)
}

func NewIdentityHandler(db *storage.PostgresStore, minio *storage.MinIOStore, gallery *match.Gallery) *IdentityHandler {
	return &IdentityHandler{db: db, minio: minio, gallery: gallery}
}

func (h *IdentityHandler) Create(c *gin.Context) {
	var req dto.CreateIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ident, err := h.db.CreateIdentity(c.Request.Context(), req.ID, req.Name, req.Contact, req.Metadata)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			c.JSON(http.StatusConflict, gin.H{"error": "identity already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, identityResponse(ident, 0))
}

func (h *IdentityHandler) List(c *gin.Context) {
	identities, err := h.db.ListIdentities(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.IdentityResponse, 0, len(identities))
	for _, ident := range identities {
		count, _ := h.db.CountSignatures(c.Request.Context(), ident.ID)
		resp = append(resp, identityResponse(&ident, count))
	}

	c.JSON(http.StatusOK, gin.H{"identities": resp, "total": len(resp)})
}

func (h *IdentityHandler) Get(c *gin.Context) {
	id := c.Param("id")

	ident, err := h.db.GetIdentity(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ident == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
		return
	}

	count, _ := h.db.CountSignatures(c.Request.Context(), id)

	c.JSON(http.StatusOK, identityResponse(ident, count))
}

// Update applies a partial update. Toggling active swaps the identity's
// signatures in or out of the live gallery.
func (h *IdentityHandler) Update(c *gin.Context) {
	id := c.Param("id")

	var req dto.UpdateIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ident, err := h.db.GetIdentity(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ident == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
		return
	}

	wasActive := ident.Active
	if req.Name != nil {
		ident.Name = *req.Name
	}
	if req.Contact != nil {
		ident.Contact = *req.Contact
	}
	if req.Active != nil {
		ident.Active = *req.Active
	}
	if req.Metadata != nil {
		ident.Metadata = req.Metadata
	}

	if err := h.db.UpdateIdentity(c.Request.Context(), ident); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if wasActive != ident.Active {
		if ident.Active {
			vecs, err := h.db.IdentityEmbeddings(c.Request.Context(), id)
			if err != nil {
				slog.Error("reload gallery identity", "identity", id, "error", err)
			} else {
				h.gallery.ReplaceIdentity(id, vecs)
			}
		} else {
			h.gallery.RemoveIdentity(id)
		}
		h.publishGalleryStats()
	}

	count, _ := h.db.CountSignatures(c.Request.Context(), id)
	c.JSON(http.StatusOK, identityResponse(ident, count))
}

// Delete removes the identity, its signatures (via cascade), its gallery
// entry and its stored photos. Logged attempts are append-only and stay.
func (h *IdentityHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	if err := h.db.DeleteIdentity(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	h.gallery.RemoveIdentity(id)
	h.publishGalleryStats()

	if err := h.minio.DeletePrefix(c.Request.Context(), storage.IdentityPrefix(id)); err != nil {
		slog.Error("sweep identity photos", "identity", id, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// AddPhoto accepts a multipart image upload, extracts a signature and
// enrolls it. Inactive identities accept photos but stay out of the gallery
// until reactivated.
func (h *IdentityHandler) AddPhoto(c *gin.Context) {
	id := c.Param("id")

	ident, err := h.db.GetIdentity(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ident == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
		return
	}

	file, header, err := c.Request.FormFile("image")
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

	embedding, quality, err := h.EncodeFn(c.Request.Context(), imageData)
	if err != nil {
		if errors.Is(err, vision.ErrNoFace) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no face found in image"})
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "encoder timed out"})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "failed to extract face: " + err.Error()})
		return
	}

	sourceKey := storage.EnrollmentKey(id, uuid.New())
	if err := h.minio.PutObject(c.Request.Context(), sourceKey, imageData, header.Header.Get("Content-Type")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store image failed"})
		return
	}

	sig, err := h.db.AddSignature(c.Request.Context(), id, embedding, quality, sourceKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if ident.Active {
		h.gallery.Add(id, embedding)
		h.publishGalleryStats()
	}

	c.JSON(http.StatusCreated, signatureResponse(sig))
}

func (h *IdentityHandler) ListPhotos(c *gin.Context) {
	id := c.Param("id")

	sigs, err := h.db.ListSignatures(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.SignatureResponse, 0, len(sigs))
	for _, sig := range sigs {
		resp = append(resp, signatureResponse(&sig))
	}

	c.JSON(http.StatusOK, gin.H{"photos": resp, "total": len(resp)})
}

func (h *IdentityHandler) DeletePhoto(c *gin.Context) {
	id := c.Param("id")
	photoID, err := uuid.Parse(c.Param("photoId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid photo id"})
		return
	}

	ident, err := h.db.GetIdentity(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ident == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
		return
	}

	sourceKey, err := h.db.DeleteSignature(c.Request.Context(), id, photoID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	if sourceKey != "" {
		if err := h.minio.DeleteObject(c.Request.Context(), sourceKey); err != nil {
			slog.Error("delete enrollment photo", "identity", id, "error", err)
		}
	}

	// Inactive identities have no gallery entry to rebuild.
	if ident.Active {
		vecs, err := h.db.IdentityEmbeddings(c.Request.Context(), id)
		if err != nil {
			slog.Error("reload gallery identity", "identity", id, "error", err)
		} else {
			h.gallery.ReplaceIdentity(id, vecs)
			h.publishGalleryStats()
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// GalleryStats reports the size of the live gallery.
func (h *IdentityHandler) GalleryStats(c *gin.Context) {
	c.JSON(http.StatusOK, dto.GalleryStatsResponse{
		Identities: h.gallery.Identities(),
		Signatures: h.gallery.Signatures(),
	})
}

func (h *IdentityHandler) publishGalleryStats() {
	observability.GalleryIdentities.Set(float64(h.gallery.Identities()))
	observability.GallerySignatures.Set(float64(h.gallery.Signatures()))
}

// Timestamps go out as UTC instants whatever zone the database session ran in.

func identityResponse(ident *models.Identity, count int) dto.IdentityResponse {
	return dto.IdentityResponse{
		ID:             ident.ID,
		Name:           ident.Name,
		Contact:        ident.Contact,
		Active:         ident.Active,
		Metadata:       ident.Metadata,
		SignatureCount: count,
		CreatedAt:      ident.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func signatureResponse(sig *models.Signature) dto.SignatureResponse {
	return dto.SignatureResponse{
		ID:         sig.ID,
		IdentityID: sig.IdentityID,
		Quality:    sig.Quality,
		SourceKey:  sig.SourceKey,
		CreatedAt:  sig.CreatedAt.UTC().Format(time.RFC3339),
	}
}
