package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/NexusProtocols/gateway-go/internal/application/services"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/messaging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/performance"
	"github.com/NexusProtocols/gateway-go/pkg/config"
	"github.com/gin-gonic/gin"
)

// SessionHandlers contains all session-related HTTP handlers
type SessionHandlers struct {
	sessionService      *services.SessionService
	verificationService *services.VerificationService
	progressionService  *services.ProgressionService
	broadcaster         messaging.Broadcaster
	logger              *logging.ChanneledLogger
	perfTracker         *performance.Tracker
}

// NewSessionHandlers creates session handlers with injected dependencies
func NewSessionHandlers(sessionService *services.SessionService, verificationService *services.VerificationService, progressionService *services.ProgressionService, broadcaster messaging.Broadcaster, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *SessionHandlers {
	return &SessionHandlers{
		sessionService:      sessionService,
		verificationService: verificationService,
		progressionService:  progressionService,
		broadcaster:         broadcaster,
		logger:              logger,
		perfTracker:         perfTracker,
	}
}

// CreateSessionRequest is the body of POST /api/v1/session.
type CreateSessionRequest struct {
	GatewayID string  `json:"gatewayId" binding:"required"`
	UserID    *string `json:"userId,omitempty"`
}

// MergeSessionRequest is the body of PUT /api/v1/session. There is no
// verified field: verification only happens through the verify endpoint.
type MergeSessionRequest struct {
	SessionID      string   `json:"sessionId" binding:"required"`
	CurrentStage   int      `json:"currentStage"`
	CompletedTasks []string `json:"completedTasks"`
}

// VerifyRequest is the body of POST /api/v1/session/verify.
type VerifyRequest struct {
	SessionID         string `json:"sessionId" binding:"required"`
	VerificationToken string `json:"verificationToken,omitempty"`
}

// PostSession handles POST /api/v1/session
func (h *SessionHandlers) PostSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	session, err := h.sessionService.Create(req.GatewayID, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, services.NewSessionView(session))
}

// GetSession handles GET /api/v1/session?sessionId=
func (h *SessionHandlers) GetSession(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId query parameter required"})
		return
	}

	session, err := h.sessionService.Get(sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, services.NewSessionView(session))
}

// PutSession handles PUT /api/v1/session with a commutative merge. The stored
// session is never replaced wholesale; replayed or reordered PUTs converge,
// and a snapshot claiming unearned progress gets a conflict.
func (h *SessionHandlers) PutSession(c *gin.Context) {
	var req MergeSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	session, err := h.sessionService.Merge(req.SessionID, req.CurrentStage, req.CompletedTasks)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, services.NewSessionView(session))
}

// PostVerify handles POST /api/v1/session/verify. With a prior verification
// token the gate is skipped; otherwise the request is checked against the
// gateway's verification policy.
func (h *SessionHandlers) PostVerify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	if req.VerificationToken != "" {
		session, err := h.verificationService.ResumeWithToken(req.SessionID, req.VerificationToken)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": services.NewSessionView(session)})
		return
	}

	result, err := h.verificationService.Verify(req.SessionID, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":           services.NewSessionView(result.Session),
		"verificationToken": result.Token,
	})
}

// PostStart handles POST /api/v1/session/start, moving a verified session
// into stage 1.
func (h *SessionHandlers) PostStart(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	session, err := h.progressionService.StartTasks(req.SessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, services.NewSessionView(session))
}

// GetWatch handles GET /api/v1/session/watch?sessionId= - the SSE progress
// stream. One session can hold a few watchers (tabs); beyond the cap new
// connections are refused.
func (h *SessionHandlers) GetWatch(c *gin.Context) {
	start := time.Now()
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId query parameter required"})
		return
	}

	if _, err := h.sessionService.Get(sessionID); err != nil {
		respondError(c, err)
		return
	}

	if h.broadcaster.GetSessionConnectionCount(sessionID) >= config.MaxWatchersPerSession {
		h.logger.SSE().Warn("Watcher limit reached", "sessionId", sessionID, "max", config.MaxWatchersPerSession)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "watcher limit reached for this session"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ch := h.broadcaster.AddClient(sessionID)
	defer h.broadcaster.RemoveClient(ch, sessionID)

	confirmation := fmt.Sprintf("event: connected\ndata: {\"sessionId\":%q,\"timestamp\":%q}\n\n", sessionID, time.Now().UTC().Format(time.RFC3339))
	if _, err := c.Writer.WriteString(confirmation); err != nil {
		return
	}
	c.Writer.Flush()

	h.logger.SSE().Info("Watch stream established", "sessionId", sessionID, "watchers", h.broadcaster.GetSessionConnectionCount(sessionID), "setupDuration", time.Since(start))

	clientCtx := c.Request.Context()
	heartbeat := time.NewTicker(time.Duration(config.SSEHeartbeatIntervalSeconds) * time.Second)
	defer heartbeat.Stop()
	deadline := time.NewTimer(time.Duration(config.SSEConnectionTimeoutMinutes) * time.Minute)
	defer deadline.Stop()

	for {
		select {
		case <-clientCtx.Done():
			h.logger.SSE().Info("Watch client disconnected", "sessionId", sessionID, "connectionDuration", time.Since(start))
			return

		case <-deadline.C:
			h.logger.SSE().Info("Watch stream timed out", "sessionId", sessionID, "connectionDuration", time.Since(start))
			return

		case message, ok := <-ch:
			if !ok {
				return
			}
			if _, err := c.Writer.WriteString(message); err != nil {
				h.logger.SSE().Error("Watch stream write failed", "sessionId", sessionID, "error", err.Error())
				return
			}
			c.Writer.Flush()

		case <-heartbeat.C:
			pulse := fmt.Sprintf("event: heartbeat\ndata: {\"timestamp\":%q}\n\n", time.Now().UTC().Format(time.RFC3339))
			if _, err := c.Writer.WriteString(pulse); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
