// Package services provides application-level orchestration services
package services

import (
	"fmt"

	"github.com/NexusProtocols/gateway-go/internal/domain/entities/gateway"
	"github.com/NexusProtocols/gateway-go/internal/domain/gatewayerr"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/interfaces"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/performance"
	persistence "github.com/NexusProtocols/gateway-go/internal/infrastructure/persistence/gateway"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/security"
	"github.com/NexusProtocols/gateway-go/pkg/config"
)

// GatewayService serves the gateway catalog: definitions are read through the
// cache with the SQL repository as the source of truth.
type GatewayService struct {
	repo        *persistence.SQLGatewayRepository
	cache       interfaces.Cache
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
}

// NewGatewayService creates a new gateway catalog service
func NewGatewayService(repo *persistence.SQLGatewayRepository, cache interfaces.Cache, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *GatewayService {
	return &GatewayService{
		repo:        repo,
		cache:       cache,
		logger:      logger,
		perfTracker: perfTracker,
	}
}

// PublicDefinition is the outward shape of a gateway. The reward value and
// creator contact never leave the server.
type PublicDefinition struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Stages     []gateway.Stage `json:"stages"`
	RewardKind string          `json:"rewardKind"`
}

// GetDefinition resolves a gateway definition, cache first.
func (s *GatewayService) GetDefinition(gatewayID string) (*gateway.Definition, error) {
	marker := s.perfTracker.StartOperation("gateway:get", gatewayID)
	defer marker.Complete()

	if def, found := s.cache.Definitions().Get(gatewayID); found {
		marker.AddCacheHit()
		marker.SetSuccess(true)
		return def, nil
	}
	marker.AddCacheMiss()

	def, err := s.repo.FindByID(gatewayID)
	if err != nil {
		marker.SetError(err)
		return nil, fmt.Errorf("loading gateway %s: %w", gatewayID, err)
	}
	if def == nil {
		marker.SetSuccess(false)
		return nil, gatewayerr.ErrNotFound
	}

	s.cache.Definitions().Set(def)
	marker.SetSuccess(true)
	return def, nil
}

// GetPublicDefinition returns the client-safe view of a gateway.
func (s *GatewayService) GetPublicDefinition(gatewayID string) (*PublicDefinition, error) {
	def, err := s.GetDefinition(gatewayID)
	if err != nil {
		return nil, err
	}
	return &PublicDefinition{
		ID:         def.ID,
		Title:      def.Title,
		Stages:     def.Stages,
		RewardKind: string(def.Reward.Kind),
	}, nil
}

// CreateFromAuthored expands an authored definition, persists it, and primes
// the cache. A missing ID gets a generated one.
func (s *GatewayService) CreateFromAuthored(authored *gateway.AuthoredDefinition, postbackSecret string) (*gateway.Definition, error) {
	marker := s.perfTracker.StartOperation("gateway:create", authored.ID)
	defer marker.Complete()

	if authored.ID == "" {
		authored.ID = security.GenerateGatewayID()
	}

	def, err := authored.Expand()
	if err != nil {
		marker.SetError(err)
		return nil, fmt.Errorf("%w: %s", gatewayerr.ErrValidationFailed, err.Error())
	}

	// Paste rewards sit in the catalog until someone earns them; keep them
	// encrypted at rest when a key is configured.
	if def.Reward.Kind == gateway.RewardPayload && config.AESKey != "" {
		encrypted, err := security.EncryptRewardPayload(def.Reward.Value, config.AESKey)
		if err != nil {
			marker.SetError(err)
			return nil, fmt.Errorf("encrypting reward payload: %w", err)
		}
		def.Reward.Value = encrypted
	}

	if err := s.repo.Create(def, postbackSecret); err != nil {
		marker.SetError(err)
		return nil, fmt.Errorf("persisting gateway %s: %w", def.ID, err)
	}

	s.cache.Definitions().Set(def)
	s.logger.Gateway().Info("Gateway created", "gatewayId", def.ID, "title", def.Title, "stages", len(def.Stages))
	marker.SetSuccess(true)
	return def, nil
}

// WarmCatalog loads every definition into the cache at startup.
func (s *GatewayService) WarmCatalog() (int, error) {
	defs, err := s.repo.FindAll()
	if err != nil {
		return 0, fmt.Errorf("warming gateway catalog: %w", err)
	}
	s.cache.Definitions().LoadAll(defs)
	s.logger.Gateway().Info("Gateway catalog warmed", "count", len(defs))
	return len(defs), nil
}

// VerifyPostbackSecret checks a provider secret against the stored hash.
func (s *GatewayService) VerifyPostbackSecret(gatewayID, secret string) (bool, error) {
	return s.repo.VerifyPostbackSecret(gatewayID, secret)
}
