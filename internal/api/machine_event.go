package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/tenantgate/internal/apperr"
	"github.com/lalith-99/tenantgate/internal/middleware"
	"github.com/lalith-99/tenantgate/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultEventPageSize = 50
	maxEventPageSize     = 100
)

type MachineEventHandler struct {
	repo   repository.MachineEventRepository
	logger *zap.Logger
}

func NewMachineEventHandler(repo repository.MachineEventRepository, logger *zap.Logger) *MachineEventHandler {
	return &MachineEventHandler{repo: repo, logger: logger}
}

// List handles GET /v1/machines/:id/events?before=123&limit=50
//
// Cursor-based pagination:
//   - "before" = event ID. Only older events are returned. 0 starts from the latest.
//   - "limit"  = page size. Default 50, capped at 100.
func (h *MachineEventHandler) List(c *gin.Context) {
	id, ok := machineID(c)
	if !ok {
		return
	}

	var before int64
	if b := c.Query("before"); b != "" {
		var err error
		before, err = strconv.ParseInt(b, 10, 64)
		if err != nil || before < 0 {
			respondError(c, h.logger, "", apperr.Validation("invalid 'before' parameter"))
			return
		}
	}

	limit := defaultEventPageSize
	if l := c.Query("limit"); l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			respondError(c, h.logger, "", apperr.Validation("invalid 'limit' parameter"))
			return
		}
		limit = min(limit, maxEventPageSize)
	}

	events, err := h.repo.ListByMachine(c.Request.Context(), middleware.GetTenantID(c), id, before, limit)
	if err != nil {
		respondError(c, h.logger, "failed to list machine events", err)
		return
	}
	c.JSON(http.StatusOK, events)
}
