package handlers

import (
	"net/http"

	"github.com/NexusProtocols/gateway-go/internal/application/services"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/performance"
	"github.com/gin-gonic/gin"
)

// RewardHandlers contains the reward dispensation HTTP handlers
type RewardHandlers struct {
	rewardService *services.RewardService
	logger        *logging.ChanneledLogger
	perfTracker   *performance.Tracker
}

// NewRewardHandlers creates reward handlers with injected dependencies
func NewRewardHandlers(rewardService *services.RewardService, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *RewardHandlers {
	return &RewardHandlers{
		rewardService: rewardService,
		logger:        logger,
		perfTracker:   perfTracker,
	}
}

// DispenseRequest is the body of POST /api/v1/reward.
type DispenseRequest struct {
	SessionID      string `json:"sessionId" binding:"required"`
	SubscriberSkip bool   `json:"subscriberSkip,omitempty"`
}

// PostReward handles POST /api/v1/reward. The operation is idempotent: the
// same session gets the same result on every call.
func (h *RewardHandlers) PostReward(c *gin.Context) {
	var req DispenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	result, err := h.rewardService.Dispense(req.SessionID, req.SubscriberSkip)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
