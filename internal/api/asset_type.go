package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/tenantgate/internal/repository"
	"go.uber.org/zap"
)

type AssetTypeHandler struct {
	repo   repository.AssetTypeRepository
	logger *zap.Logger
}

func NewAssetTypeHandler(repo repository.AssetTypeRepository, logger *zap.Logger) *AssetTypeHandler {
	return &AssetTypeHandler{repo: repo, logger: logger}
}

// List handles GET /v1/asset-types. The catalog is global, so no tenant is
// required.
func (h *AssetTypeHandler) List(c *gin.Context) {
	types, err := h.repo.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "failed to list asset types", err)
		return
	}
	c.JSON(http.StatusOK, types)
}
