// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"github.com/NexusProtocols/gateway-go/internal/application/container"
	"github.com/NexusProtocols/gateway-go/internal/presentation/http/handlers"
	"github.com/NexusProtocols/gateway-go/internal/presentation/http/middleware"
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(container *container.Container) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	sessionHandlers := handlers.NewSessionHandlers(
		container.SessionService,
		container.VerificationService,
		container.ProgressionService,
		container.Broadcaster,
		container.Logger,
		container.PerfTracker,
	)
	taskHandlers := handlers.NewTaskHandlers(container.ProgressionService, container.Logger, container.PerfTracker)
	rewardHandlers := handlers.NewRewardHandlers(container.RewardService, container.Logger, container.PerfTracker)
	gatewayHandlers := handlers.NewGatewayHandlers(container.GatewayService, container.Logger, container.PerfTracker)
	opsHandlers := handlers.NewOpsHandlers(container.OpsService, container.OpsBroadcaster, container.Logger, container.PerfTracker)

	api := r.Group("/api/v1")
	{
		session := api.Group("/session")
		{
			session.POST("", sessionHandlers.PostSession)
			session.GET("", sessionHandlers.GetSession)
			session.PUT("", sessionHandlers.PutSession)
			session.POST("/verify", sessionHandlers.PostVerify)
			session.POST("/start", sessionHandlers.PostStart)
			session.GET("/watch", sessionHandlers.GetWatch)
		}

		tasks := api.Group("/tasks")
		{
			tasks.POST("/start", taskHandlers.PostTaskStart)
			tasks.POST("/complete", taskHandlers.PostTaskComplete)
			tasks.GET("/callback", taskHandlers.GetTaskCallback)
			tasks.POST("/postback", taskHandlers.PostTaskPostback)
		}

		api.POST("/reward", rewardHandlers.PostReward)
		api.GET("/gateways/:id", gatewayHandlers.GetGateway)

		// Gateway provisioning rides behind ops auth.
		api.POST("/gateways", opsHandlers.OpsAuthMiddleware(), gatewayHandlers.PostGateway)
	}

	ops := r.Group("/api/ops")
	{
		ops.GET("/auth", opsHandlers.AuthCheck)
		ops.POST("/login", opsHandlers.Login)

		ops.Use(opsHandlers.OpsAuthMiddleware())
		{
			ops.GET("/stats", opsHandlers.GetStats)
			ops.GET("/ws", opsHandlers.StreamStats)
			ops.GET("/logs/stream", opsHandlers.StreamLogs)
			ops.GET("/logs/levels", opsHandlers.GetLogLevels)
			ops.POST("/logs/levels", opsHandlers.SetLogLevel)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, container.CacheManager.Health())
	})

	return r
}
