// Package container provides dependency injection for all singleton services
package container

import (
	"github.com/NexusProtocols/gateway-go/internal/application/services"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/manager"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/email"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/messaging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/performance"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/persistence/database"
	persistence "github.com/NexusProtocols/gateway-go/internal/infrastructure/persistence/gateway"
	"github.com/NexusProtocols/gateway-go/pkg/config"
)

// Container holds all singleton services and infrastructure dependencies
type Container struct {
	// Application services
	GatewayService      *services.GatewayService
	SessionService      *services.SessionService
	VerificationService *services.VerificationService
	ProgressionService  *services.ProgressionService
	RateLimitService    *services.RateLimitService
	RewardService       *services.RewardService
	OpsService          *services.OpsService

	// Infrastructure
	Logger         *logging.ChanneledLogger
	PerfTracker    *performance.Tracker
	CacheManager   *manager.Manager
	DB             *database.DB
	GatewayRepo    *persistence.SQLGatewayRepository
	LedgerRepo     *persistence.SQLLedgerRepository
	Broadcaster    *messaging.SSEBroadcaster
	OpsBroadcaster *messaging.OpsBroadcaster
	EmailClient    email.Service
}

// NewContainer creates and wires all singleton services
func NewContainer(db *database.DB, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *Container {
	cacheManager := manager.NewManager(logger)
	broadcaster := messaging.NewSSEBroadcaster(logger)
	opsBroadcaster := messaging.NewOpsBroadcaster(cacheManager)

	gatewayRepo := persistence.NewSQLGatewayRepository(db)
	ledgerRepo := persistence.NewSQLLedgerRepository(db)

	var emailClient email.Service
	if config.ResendAPIKey != "" {
		client, err := email.NewService()
		if err != nil {
			logger.System().Warn("Email client unavailable, creator notifications disabled", "error", err)
		} else {
			emailClient = client
		}
	}

	gatewayService := services.NewGatewayService(gatewayRepo, cacheManager, logger, perfTracker)
	rateLimitService := services.NewRateLimitService(ledgerRepo, logger, perfTracker)
	strategies := services.NewStrategyRegistry(cacheManager)

	return &Container{
		GatewayService:      gatewayService,
		SessionService:      services.NewSessionService(cacheManager, gatewayService, logger, perfTracker),
		VerificationService: services.NewVerificationService(cacheManager, gatewayService, logger, perfTracker),
		ProgressionService:  services.NewProgressionService(cacheManager, gatewayService, strategies, rateLimitService, ledgerRepo, broadcaster, logger, perfTracker),
		RateLimitService:    rateLimitService,
		RewardService:       services.NewRewardService(cacheManager, gatewayService, rateLimitService, ledgerRepo, broadcaster, emailClient, logger, perfTracker),
		OpsService:          services.NewOpsService(cacheManager, ledgerRepo, logger, perfTracker),

		Logger:         logger,
		PerfTracker:    perfTracker,
		CacheManager:   cacheManager,
		DB:             db,
		GatewayRepo:    gatewayRepo,
		LedgerRepo:     ledgerRepo,
		Broadcaster:    broadcaster,
		OpsBroadcaster: opsBroadcaster,
		EmailClient:    emailClient,
	}
}
