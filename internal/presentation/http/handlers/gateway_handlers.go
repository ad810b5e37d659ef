package handlers

import (
	"net/http"

	"github.com/NexusProtocols/gateway-go/internal/application/services"
	"github.com/NexusProtocols/gateway-go/internal/domain/entities/gateway"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/performance"
	"github.com/gin-gonic/gin"
)

// GatewayHandlers contains the gateway catalog HTTP handlers
type GatewayHandlers struct {
	gatewayService *services.GatewayService
	logger         *logging.ChanneledLogger
	perfTracker    *performance.Tracker
}

// NewGatewayHandlers creates gateway handlers with injected dependencies
func NewGatewayHandlers(gatewayService *services.GatewayService, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *GatewayHandlers {
	return &GatewayHandlers{
		gatewayService: gatewayService,
		logger:         logger,
		perfTracker:    perfTracker,
	}
}

// CreateGatewayRequest is the body of POST /api/v1/gateways. The definition
// uses the authored shape; the postback secret is stored hashed.
type CreateGatewayRequest struct {
	Definition     gateway.AuthoredDefinition `json:"definition" binding:"required"`
	PostbackSecret string                     `json:"postbackSecret,omitempty"`
}

// GetGateway handles GET /api/v1/gateways/:id with the public view. The
// reward value never rides along.
func (h *GatewayHandlers) GetGateway(c *gin.Context) {
	gatewayID := c.Param("id")

	def, err := h.gatewayService.GetPublicDefinition(gatewayID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, def)
}

// PostGateway handles POST /api/v1/gateways (ops-authenticated provisioning).
func (h *GatewayHandlers) PostGateway(c *gin.Context) {
	var req CreateGatewayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	def, err := h.gatewayService.CreateFromAuthored(&req.Definition, req.PostbackSecret)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": def.ID, "stages": len(def.Stages)})
}
