package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/takpipe/internal/models"
	"github.com/your-org/takpipe/pkg/dto"
)

type QueueReader interface {
	ListQueued(ctx context.Context, pendingOnly bool, limit, offset int) ([]models.QueuedDetection, int, error)
}

// QueueHandler exposes the offline queue for operator inspection. Items are
// never deleted through the API; permanently failed ones stay visible.
type QueueHandler struct {
	db         QueueReader
	maxRetries int
}

func NewQueueHandler(db QueueReader, maxRetries int) *QueueHandler {
	return &QueueHandler{db: db, maxRetries: maxRetries}
}

func (h *QueueHandler) List(c *gin.Context) {
	pendingOnly := c.DefaultQuery("pending", "true") == "true"
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, total, err := h.db.ListQueued(c.Request.Context(), pendingOnly, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.QueueItemResponse, 0, len(items))
	for i := range items {
		var payload *models.QueuePayload
		var p models.QueuePayload
		if err := json.Unmarshal(items[i].DetectionJSON, &p); err == nil {
			payload = &p
		}
		resp = append(resp, dto.ToQueueItemResponse(&items[i], payload, h.maxRetries))
	}

	c.JSON(http.StatusOK, dto.QueueListResponse{Items: resp, Total: total})
}
