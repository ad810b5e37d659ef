package handlers

import (
	"net/http"
	"strconv"

	"github.com/NexusProtocols/gateway-go/internal/application/services"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/performance"
	"github.com/gin-gonic/gin"
)

// TaskHandlers contains all task progression HTTP handlers
type TaskHandlers struct {
	progressionService *services.ProgressionService
	logger             *logging.ChanneledLogger
	perfTracker        *performance.Tracker
}

// NewTaskHandlers creates task handlers with injected dependencies
func NewTaskHandlers(progressionService *services.ProgressionService, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *TaskHandlers {
	return &TaskHandlers{
		progressionService: progressionService,
		logger:             logger,
		perfTracker:        perfTracker,
	}
}

// StartTaskRequest is the body of POST /api/v1/tasks/start.
type StartTaskRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	TaskID    string `json:"taskId" binding:"required"`
}

// CompleteTaskRequest is the body of POST /api/v1/tasks/complete.
type CompleteTaskRequest struct {
	SessionID string              `json:"sessionId" binding:"required"`
	TaskID    string              `json:"taskId" binding:"required"`
	Proof     *services.TaskProof `json:"proof,omitempty"`
}

// PostbackRequest is the body of POST /api/v1/tasks/postback, sent by
// external providers server-to-server.
type PostbackRequest struct {
	GatewayID string `json:"gatewayId" binding:"required"`
	SessionID string `json:"sessionId" binding:"required"`
	TaskID    string `json:"taskId" binding:"required"`
	Secret    string `json:"secret" binding:"required"`
}

// completionResponse shapes a completion outcome for JSON.
func completionResponse(outcome *services.CompletionOutcome) gin.H {
	return gin.H{
		"session":       services.NewSessionView(outcome.Session),
		"taskId":        outcome.TaskID,
		"newCompletion": outcome.NewCompletion,
		"stageComplete": outcome.StageComplete,
		"rewardReady":   outcome.RewardReady,
	}
}

// PostTaskStart handles POST /api/v1/tasks/start
func (h *TaskHandlers) PostTaskStart(c *gin.Context) {
	var req StartTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	payload, err := h.progressionService.StartTask(req.SessionID, req.TaskID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, payload)
}

// PostTaskComplete handles POST /api/v1/tasks/complete
func (h *TaskHandlers) PostTaskComplete(c *gin.Context) {
	var req CompleteTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	outcome, err := h.progressionService.CompleteTask(req.SessionID, req.TaskID, req.Proof)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, completionResponse(outcome))
}

// GetTaskCallback handles GET /api/v1/tasks/callback - the redirect return
// from ad destinations. The token is single-use; after redemption the visitor
// is sent back to the gateway page with the callback query stripped.
func (h *TaskHandlers) GetTaskCallback(c *gin.Context) {
	sessionID := c.Query("sessionId")
	token := c.Query("token")
	ordinalRaw := c.Query("task")
	completed := c.Query("completed")

	if sessionID == "" || token == "" || ordinalRaw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task, sessionId and token query parameters required"})
		return
	}
	if completed != "true" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "callback without completed=true"})
		return
	}

	ordinal, err := strconv.Atoi(ordinalRaw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task must be a numeric ordinal"})
		return
	}

	_, redirectURL, err := h.progressionService.HandleCallback(sessionID, ordinal, token)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Redirect(http.StatusFound, redirectURL)
}

// PostTaskPostback handles POST /api/v1/tasks/postback
func (h *TaskHandlers) PostTaskPostback(c *gin.Context) {
	var req PostbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	outcome, err := h.progressionService.HandlePostback(req.GatewayID, req.SessionID, req.TaskID, req.Secret)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, completionResponse(outcome))
}
