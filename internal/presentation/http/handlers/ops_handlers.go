package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/NexusProtocols/gateway-go/internal/application/services"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/messaging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/performance"
	"github.com/NexusProtocols/gateway-go/pkg/config"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// OpsHandlers handles operator dashboard authentication and data streaming
type OpsHandlers struct {
	opsService     *services.OpsService
	opsBroadcaster *messaging.OpsBroadcaster
	logger         *logging.ChanneledLogger
	perfTracker    *performance.Tracker
}

// NewOpsHandlers creates new ops handlers
func NewOpsHandlers(opsService *services.OpsService, opsBroadcaster *messaging.OpsBroadcaster, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *OpsHandlers {
	return &OpsHandlers{
		opsService:     opsService,
		opsBroadcaster: opsBroadcaster,
		logger:         logger,
		perfTracker:    perfTracker,
	}
}

var opsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range config.AllowedOrigins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		return false
	},
}

// AuthCheck reports whether ops access is configured and whether the caller
// holds a valid token.
func (h *OpsHandlers) AuthCheck(c *gin.Context) {
	response := gin.H{
		"passwordRequired": config.OpsPasswordHash != "",
		"authenticated":    false,
	}
	if config.OpsPasswordHash == "" {
		response["message"] = "Set OPS_PASSWORD_HASH to enable the ops dashboard"
	}

	if token := bearerToken(c); token != "" {
		if err := h.opsService.ValidateToken(token); err == nil {
			response["authenticated"] = true
		}
	}

	c.JSON(http.StatusOK, response)
}

// Login handles ops authentication against the configured bcrypt hash.
func (h *OpsHandlers) Login(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	token, err := h.opsService.Login(req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}

// OpsAuthMiddleware protects ops-specific endpoints with the ops JWT.
func (h *OpsHandlers) OpsAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			token = c.Query("token")
		}
		if err := h.opsService.ValidateToken(token); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetStats handles GET /api/ops/stats with a point-in-time snapshot.
func (h *OpsHandlers) GetStats(c *gin.Context) {
	stats, err := h.opsService.GetStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to assemble stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// StreamStats handles GET /api/ops/ws - the websocket feed of live session
// stats pushed by the ops broadcaster on its tick.
func (h *OpsHandlers) StreamStats(c *gin.Context) {
	conn, err := opsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Ops().Error("Websocket upgrade failed", "error", err.Error())
		return
	}

	client := &messaging.OpsClient{
		Conn: conn,
		Send: make(chan []byte, 16),
	}
	h.opsBroadcaster.Register(client)

	go func() {
		defer func() {
			h.opsBroadcaster.Unregister(client)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		pinger := time.NewTicker(45 * time.Second)
		defer pinger.Stop()
		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}
			case <-pinger.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
}

// StreamLogs handles the SSE connection for live log streaming.
func (h *OpsHandlers) StreamLogs(c *gin.Context) {
	broadcaster := logging.GetBroadcaster()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	channelFilter := c.DefaultQuery("channel", "all")
	levelFilter := c.DefaultQuery("level", "INFO")

	var logLevel = parseStreamLevel(levelFilter)
	client := broadcaster.NewClient(logging.AppliedFilters{
		Channel: logging.Channel(channelFilter),
		Level:   logLevel,
	})
	broadcaster.RegisterClient(client)
	defer broadcaster.UnregisterClient(client)

	fmt.Fprintf(c.Writer, ": connection established\n\n")
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case message, ok := <-client.Channel:
			if !ok {
				return false
			}
			fmt.Fprintf(w, "data: %s\n\n", message)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// GetLogLevels handles GET /api/ops/logs/levels
func (h *OpsHandlers) GetLogLevels(c *gin.Context) {
	c.JSON(http.StatusOK, h.opsService.GetLogLevels())
}

// SetLogLevel handles POST /api/ops/logs/levels
func (h *OpsHandlers) SetLogLevel(c *gin.Context) {
	var req struct {
		Channel string `json:"channel" binding:"required"`
		Level   string `json:"level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	if err := h.opsService.SetLogLevel(req.Channel, req.Level); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "channel": req.Channel, "level": req.Level})
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return auth[7:]
	}
	return ""
}

func parseStreamLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
