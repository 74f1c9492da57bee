package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/tenantgate/internal/apperr"
	"github.com/lalith-99/tenantgate/internal/middleware"
	"github.com/lalith-99/tenantgate/internal/models"
	"github.com/lalith-99/tenantgate/internal/repository"
	"github.com/lalith-99/tenantgate/internal/stream"
	"go.uber.org/zap"
)

// MachineHandler serves the tenant-scoped machine endpoints. Every call
// passes the resolved tenant to the repository explicitly.
type MachineHandler struct {
	repo   repository.MachineRepository
	broker stream.Broker
	logger *zap.Logger
}

func NewMachineHandler(repo repository.MachineRepository, broker stream.Broker, logger *zap.Logger) *MachineHandler {
	return &MachineHandler{repo: repo, broker: broker, logger: logger}
}

type createMachineRequest struct {
	Name        string          `json:"name" binding:"required,max=255"`
	AssetTypeID *int            `json:"asset_type_id" binding:"omitempty,min=1"`
	IPAddress   string          `json:"ip_address" binding:"required,ip"`
	Port        int             `json:"port" binding:"required,min=1,max=65535"`
	Protocol    string          `json:"protocol" binding:"required,max=32"`
	Metadata    json.RawMessage `json:"metadata"`
}

func machineID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		status, body := apperr.Render(apperr.Validation("invalid machine ID"))
		c.AbortWithStatusJSON(status, body)
		return uuid.Nil, false
	}
	return id, true
}

// Create handles POST /v1/machines
func (h *MachineHandler) Create(c *gin.Context) {
	var req createMachineRequest
	if !bindJSON(c, &req) {
		return
	}
	if len(req.Metadata) > 0 && !json.Valid(req.Metadata) {
		respondError(c, h.logger, "", apperr.Validation("metadata must be JSON"))
		return
	}

	m, err := h.repo.Create(c.Request.Context(), middleware.GetTenantID(c), models.Machine{
		Name:        req.Name,
		AssetTypeID: req.AssetTypeID,
		IPAddress:   req.IPAddress,
		Port:        req.Port,
		Protocol:    req.Protocol,
		Status:      models.MachineStatusOffline,
		Metadata:    req.Metadata,
	})
	if errors.Is(err, repository.ErrInvalidReference) {
		respondError(c, h.logger, "", apperr.Validation("unknown asset type"))
		return
	}
	if err != nil {
		respondError(c, h.logger, "failed to create machine", err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// List handles GET /v1/machines
func (h *MachineHandler) List(c *gin.Context) {
	machines, err := h.repo.ListByTenant(c.Request.Context(), middleware.GetTenantID(c))
	if err != nil {
		respondError(c, h.logger, "failed to list machines", err)
		return
	}
	c.JSON(http.StatusOK, machines)
}

// Get handles GET /v1/machines/:id. A machine of another tenant is
// indistinguishable from one that does not exist.
func (h *MachineHandler) Get(c *gin.Context) {
	id, ok := machineID(c)
	if !ok {
		return
	}
	m, err := h.repo.GetByID(c.Request.Context(), middleware.GetTenantID(c), id)
	if err != nil {
		respondError(c, h.logger, "failed to get machine", err)
		return
	}
	if m == nil {
		respondError(c, h.logger, "", apperr.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Delete handles DELETE /v1/machines/:id
func (h *MachineHandler) Delete(c *gin.Context) {
	id, ok := machineID(c)
	if !ok {
		return
	}
	deleted, err := h.repo.Delete(c.Request.Context(), middleware.GetTenantID(c), id)
	if err != nil {
		respondError(c, h.logger, "failed to delete machine", err)
		return
	}
	if !deleted {
		respondError(c, h.logger, "", apperr.ErrNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

type heartbeatRequest struct {
	Status  string          `json:"status" binding:"required,oneof=online offline error"`
	Payload json.RawMessage `json:"payload"`
}

// Heartbeat handles POST /v1/machines/:id/heartbeat. The event is stored
// first and then published to live subscribers of the tenant.
func (h *MachineHandler) Heartbeat(c *gin.Context) {
	id, ok := machineID(c)
	if !ok {
		return
	}
	var req heartbeatRequest
	if !bindJSON(c, &req) {
		return
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		respondError(c, h.logger, "", apperr.Validation("payload must be JSON"))
		return
	}

	tenantID := middleware.GetTenantID(c)
	ev, err := h.repo.RecordHeartbeat(c.Request.Context(), tenantID, id, req.Status, req.Payload)
	if err != nil {
		respondError(c, h.logger, "failed to record heartbeat", err)
		return
	}
	if ev == nil {
		respondError(c, h.logger, "", apperr.ErrNotFound)
		return
	}

	if h.broker != nil {
		if err := h.broker.Publish(c.Request.Context(), tenantID, *ev); err != nil {
			h.logger.Warn("publish machine event", zap.Error(err), zap.String("tenant_id", tenantID.String()))
		}
	}
	c.JSON(http.StatusCreated, ev)
}
