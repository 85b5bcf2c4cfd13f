package webhook

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"ibex/internal/constants"
	"ibex/internal/logger"
	pkgerrors "ibex/pkg/errors"
	"ibex/pkg/logging"
)

// HTTPHandler exposes the ingestion endpoint plus the scheduler-facing
// queue operations.
type HTTPHandler struct {
	service  *Service
	consumer *Consumer
	monitor  *Monitor
	queue    QueueRepository
	logger   logger.Logger
}

func NewHTTPHandler(service *Service, consumer *Consumer, monitor *Monitor, queue QueueRepository, log logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service:  service,
		consumer: consumer,
		monitor:  monitor,
		queue:    queue,
		logger:   log,
	}
}

// Ingest receives one provider delivery. Contract: 401 only for a bad
// signature; everything else answers 200, with success=false and a reason
// when the delivery could not be accepted.
func (h *HTTPHandler) Ingest(c *gin.Context) {
	ctx := c.Request.Context()
	if requestID, ok := c.Get("request_id"); ok {
		if id, ok := requestID.(string); ok {
			ctx = logging.WithRequestID(ctx, id)
		}
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to read webhook body", "error", err)
		c.JSON(http.StatusOK, IngestResult{Success: false, Reason: "unreadable body"})
		return
	}

	signature := c.GetHeader(constants.SignatureHeader)
	result, err := h.service.Ingest(ctx, body, signature)
	if err != nil {
		if pkgerrors.IsUnauthorized(err) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":      "invalid signature",
				"error_code": "UNAUTHORIZED",
			})
			return
		}
		h.logger.ErrorwCtx(ctx, "Ingestion failed", "error", err)
		c.JSON(http.StatusOK, IngestResult{Success: false, Reason: "internal error"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Drain runs one bounded drain pass. Invoked by the external scheduler; the
// route carries bearer auth so only the scheduler can trigger work.
func (h *HTTPHandler) Drain(c *gin.Context) {
	summary, err := h.consumer.Drain(c.Request.Context())
	if err != nil {
		h.logger.ErrorwCtx(c.Request.Context(), "Drain pass failed", "error", err,
			"claimed", summary.Claimed)
		c.JSON(pkgerrors.ToHTTPStatus(err), gin.H{
			"error":   "drain failed",
			"summary": summary,
		})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// QueueHealth reports the backlog snapshot the degraded signal is derived
// from.
func (h *HTTPHandler) QueueHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.Snapshot(c.Request.Context()))
}

// ListDeadLetters returns items that exhausted their retry budget, newest
// first.
func (h *HTTPHandler) ListDeadLetters(c *gin.Context) {
	limit := int64(constants.DefaultLimit)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      "invalid limit",
				"error_code": "VALIDATION_ERROR",
			})
			return
		}
		limit = parsed
	}

	items, err := h.queue.ListDeadLetters(c.Request.Context(), limit)
	if err != nil {
		h.logger.ErrorwCtx(c.Request.Context(), "Failed to list dead letters", "error", err)
		c.JSON(http.StatusInternalServerError, pkgerrors.ToErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// RequeueDeadLetter resets one dead-lettered item for a fresh round of
// attempts.
func (h *HTTPHandler) RequeueDeadLetter(c *gin.Context) {
	id := c.Param("id")
	if err := h.queue.Requeue(c.Request.Context(), id); err != nil {
		if err == mongo.ErrNoDocuments {
			c.JSON(http.StatusNotFound, gin.H{
				"error":      "dead letter not found",
				"error_code": "NOT_FOUND",
			})
			return
		}
		h.logger.ErrorwCtx(c.Request.Context(), "Failed to requeue dead letter",
			"id", id, "error", err)
		c.JSON(http.StatusInternalServerError, pkgerrors.ToErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"requeued": id})
}
