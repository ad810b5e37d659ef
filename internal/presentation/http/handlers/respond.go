// Package handlers provides HTTP request handlers for the presentation layer.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/NexusProtocols/gateway-go/internal/domain/gatewayerr"
	"github.com/gin-gonic/gin"
)

// respondError maps the domain error taxonomy to HTTP statuses. Expired
// sessions are indistinguishable from unknown ones at the client.
func respondError(c *gin.Context, err error) {
	var rl *gatewayerr.RateLimitedError
	switch {
	case errors.As(err, &rl):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate limited",
			"resetAt": rl.ResetAt.UTC().Format(time.RFC3339),
		})
	case errors.Is(err, gatewayerr.ErrNotFound), errors.Is(err, gatewayerr.ErrExpired):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, gatewayerr.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, gatewayerr.ErrValidationFailed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, gatewayerr.ErrExternalProvider):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
