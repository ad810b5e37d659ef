package services

import (
	"fmt"

	"github.com/NexusProtocols/gateway-go/internal/domain/gatewayerr"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/interfaces"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/types"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/performance"
)

// SessionService handles gateway session lifecycle: creation, lookup, and the
// commutative state merge behind PUT /session.
type SessionService struct {
	cache       interfaces.Cache
	gateways    *GatewayService
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
}

// NewSessionService creates a new session service
func NewSessionService(cache interfaces.Cache, gateways *GatewayService, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *SessionService {
	return &SessionService{
		cache:       cache,
		gateways:    gateways,
		logger:      logger,
		perfTracker: perfTracker,
	}
}

// SessionView is the JSON shape of a session returned to clients.
type SessionView struct {
	SessionID      string   `json:"sessionId"`
	GatewayID      string   `json:"gatewayId"`
	Verified       bool     `json:"verified"`
	CurrentStage   int      `json:"currentStage"`
	CompletedTasks []string `json:"completedTasks"`
	Rewarded       bool     `json:"rewarded"`
	ExpiresAt      string   `json:"expiresAt"`
}

// NewSessionView projects a cached session into its client shape.
func NewSessionView(session *types.GatewaySession) *SessionView {
	return &SessionView{
		SessionID:      session.SessionID,
		GatewayID:      session.GatewayID,
		Verified:       session.Verified,
		CurrentStage:   session.CurrentStage,
		CompletedTasks: session.CompletedList(),
		Rewarded:       session.RewardedAt != nil,
		ExpiresAt:      session.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// Create opens a fresh unverified session against an existing gateway.
func (s *SessionService) Create(gatewayID string, userID *string) (*types.GatewaySession, error) {
	marker := s.perfTracker.StartOperation("session:create", gatewayID)
	defer marker.Complete()

	if _, err := s.gateways.GetDefinition(gatewayID); err != nil {
		marker.SetError(err)
		return nil, err
	}

	session := s.cache.Sessions().Create(gatewayID, userID)
	s.logger.Session().Info("Session created", "sessionId", session.SessionID, "gatewayId", gatewayID, "hasUser", userID != nil)
	marker.SetSuccess(true)
	return session, nil
}

// Get fetches a live session. Expired and unknown sessions both read as
// not-found.
func (s *SessionService) Get(sessionID string) (*types.GatewaySession, error) {
	marker := s.perfTracker.StartOperation("session:get", "")
	defer marker.Complete()

	session, found := s.cache.Sessions().Get(sessionID)
	if !found {
		marker.SetSuccess(false)
		return nil, gatewayerr.ErrNotFound
	}
	marker.AddCacheHit()
	marker.SetSuccess(true)
	return session, nil
}

// Merge folds a client-held snapshot into the stored session. Stage values
// above the definition's stage count are rejected before touching state; task
// ids that do not exist in the definition are dropped, not errors, so stale
// clients cannot poison the set. Verification is not mergeable: stage and
// task claims alone never move a session past the gate, and a stage rise is
// honored only when the store judges it an earned legal transition.
func (s *SessionService) Merge(sessionID string, currentStage int, completedTaskIDs []string) (*types.GatewaySession, error) {
	marker := s.perfTracker.StartOperation("session:merge", "")
	defer marker.Complete()

	session, found := s.cache.Sessions().Get(sessionID)
	if !found {
		marker.SetSuccess(false)
		return nil, gatewayerr.ErrNotFound
	}

	def, err := s.gateways.GetDefinition(session.GatewayID)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	if currentStage > len(def.Stages) {
		marker.SetSuccess(false)
		return nil, fmt.Errorf("%w: stage %d exceeds gateway stage count %d", gatewayerr.ErrInvalidTransition, currentStage, len(def.Stages))
	}

	known := make([]string, 0, len(completedTaskIDs))
	for _, taskID := range completedTaskIDs {
		if def.TaskByID(taskID) != nil {
			known = append(known, taskID)
		}
	}

	merged, err := s.cache.Sessions().Merge(sessionID, currentStage, known, def)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	marker.SetSuccess(true)
	return merged, nil
}
