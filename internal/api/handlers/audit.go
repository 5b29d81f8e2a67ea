package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/takpipe/internal/models"
	"github.com/your-org/takpipe/pkg/dto"
)

type AuditReader interface {
	ListAudit(ctx context.Context, source, action string, limit, offset int) ([]models.AuditRecord, int, error)
}

// AuditHandler is read-only: the ledger has no mutation surface.
type AuditHandler struct {
	db AuditReader
}

func NewAuditHandler(db AuditReader) *AuditHandler {
	return &AuditHandler{db: db}
}

func (h *AuditHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	records, total, err := h.db.ListAudit(c.Request.Context(), c.Query("source"), c.Query("action"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.AuditRecordResponse, 0, len(records))
	for _, r := range records {
		var details any
		_ = json.Unmarshal(r.Details, &details)
		resp = append(resp, dto.AuditRecordResponse{
			ID:        r.ID,
			Action:    string(r.Action),
			Source:    r.Source,
			Timestamp: r.Timestamp.Format(time.RFC3339),
			Details:   details,
			Status:    string(r.Status),
		})
	}

	c.JSON(http.StatusOK, dto.AuditListResponse{Records: resp, Total: total})
}
