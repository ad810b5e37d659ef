package middleware

import (
	appconfig "github.com/NexusProtocols/gateway-go/pkg/config"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSMiddleware provides CORS configuration driven by ALLOWED_ORIGINS.
func CORSMiddleware() gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{
			"GET", "POST", "PUT", "DELETE", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			"X-Requested-With", "Cache-Control",
		},
		ExposeHeaders: []string{
			"Content-Type", "Cache-Control", "Connection",
		},
	}

	for _, origin := range appconfig.AllowedOrigins {
		if origin == "*" {
			config.AllowAllOrigins = true
			config.AllowOrigins = nil
			break
		}
		config.AllowOrigins = append(config.AllowOrigins, origin)
	}
	if !config.AllowAllOrigins {
		config.AllowCredentials = true
	}

	return cors.New(config)
}
