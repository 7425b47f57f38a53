package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/otp"
	"github.com/your-org/facegate/internal/queue"
	"github.com/your-org/facegate/internal/storage"
	"github.com/your-org/facegate/pkg/dto"
)

type OtpHandler struct {
	db          *storage.PostgresStore
	manager     *otp.Manager
	producer    *queue.Producer
	maxAttempts int
}

func NewOtpHandler(db *storage.PostgresStore, manager *otp.Manager, producer *queue.Producer, maxAttempts int) *OtpHandler {
	return &OtpHandler{db: db, manager: manager, producer: producer, maxAttempts: maxAttempts}
}

// Issue generates and dispatches a one-time code for an identity. It
// answers 202: the code is committed but delivery may still be pending. A
// failed delivery still issues the code; the response reports
// delivered=false and the task is queued for the notifier to redrive.
func (h *OtpHandler) Issue(c *gin.Context) {
	var req dto.IssueCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ident, err := h.db.GetIdentity(c.Request.Context(), req.Identity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ident == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
		return
	}
	if !ident.Active {
		c.JSON(http.StatusConflict, gin.H{"error": "identity is inactive"})
		return
	}
	if ident.Contact == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "identity has no contact"})
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	res, err := h.manager.Issue(c.Request.Context(), ident.ID, ident.Contact, req.Purpose, ttl)
	if err != nil {
		if errors.Is(err, otp.ErrCooldown) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "code recently issued, retry later"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	observability.OtpIssued.WithLabelValues(req.Purpose).Inc()
	outcome := "ok"
	if !res.Delivered {
		outcome = "failed"
		task := models.DeliveryTask{
			Identity: ident.ID,
			Contact:  ident.Contact,
			Purpose:  req.Purpose,
			IssuedAt: res.IssuedAt,
		}
		if err := h.producer.PublishDelivery(c.Request.Context(), task); err != nil {
			slog.Error("enqueue delivery task", "identity", ident.ID, "purpose", req.Purpose, "error", err)
		}
	}
	observability.OtpDeliveries.WithLabelValues(outcome).Inc()

	c.JSON(http.StatusAccepted, dto.IssueCodeResponse{
		Identity:      ident.ID,
		Purpose:       req.Purpose,
		ExpiresAt:     res.ExpiresAt.UTC().Format(time.RFC3339),
		Delivered:     res.Delivered,
		DeliveryError: res.DeliveryError,
	})
}

// Verify submits a code and maps the verdict to a status: accepted 200,
// mismatch 401 (429 once attempts exceed the limit), expired 410,
// already_consumed 409, not_found 404. The verdict is always in the body.
func (h *OtpHandler) Verify(c *gin.Context) {
	var req dto.VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.manager.Verify(c.Request.Context(), req.Identity, req.Purpose, req.Code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	observability.OtpVerdicts.WithLabelValues(string(res.Verdict)).Inc()

	c.JSON(verdictStatus(res.Verdict, res.Attempts, h.maxAttempts), dto.VerifyCodeResponse{
		Verdict:  string(res.Verdict),
		Attempts: res.Attempts,
	})
}

// verdictStatus maps a verdict onto an HTTP status. A mismatch past the
// attempt limit turns into 429 so clients back off, but nothing is locked:
// the right code still verifies.
func verdictStatus(verdict otp.Verdict, attempts, maxAttempts int) int {
	switch verdict {
	case otp.VerdictMismatch:
		if maxAttempts > 0 && attempts >= maxAttempts {
			return http.StatusTooManyRequests
		}
		return http.StatusUnauthorized
	case otp.VerdictExpired:
		return http.StatusGone
	case otp.VerdictAlreadyConsumed:
		return http.StatusConflict
	case otp.VerdictNotFound:
		return http.StatusNotFound
	default:
		return http.StatusOK
	}
}
