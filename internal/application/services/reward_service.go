package services

import (
	"fmt"
	"net/url"
	"time"

	"github.com/NexusProtocols/gateway-go/internal/domain/entities/gateway"
	"github.com/NexusProtocols/gateway-go/internal/domain/events"
	"github.com/NexusProtocols/gateway-go/internal/domain/gatewayerr"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/interfaces"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/types"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/email"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/messaging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/performance"
	persistence "github.com/NexusProtocols/gateway-go/internal/infrastructure/persistence/gateway"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/security"
	"github.com/NexusProtocols/gateway-go/pkg/config"
)

// RewardService dispenses gateway rewards with at-most-once external effect.
// The session store's atomic mark decides the winner under concurrent calls;
// the dispatch ledger makes the decision durable and charges the rate limit
// window.
type RewardService struct {
	cache       interfaces.Cache
	gateways    *GatewayService
	rateLimiter *RateLimitService
	ledger      *persistence.SQLLedgerRepository
	broadcaster messaging.Broadcaster
	emailClient email.Service
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
}

// NewRewardService creates a new reward service. The email client may be nil
// when no Resend key is configured; creator notifications are then skipped.
func NewRewardService(cache interfaces.Cache, gateways *GatewayService, rateLimiter *RateLimitService, ledger *persistence.SQLLedgerRepository, broadcaster messaging.Broadcaster, emailClient email.Service, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *RewardService {
	return &RewardService{
		cache:       cache,
		gateways:    gateways,
		rateLimiter: rateLimiter,
		ledger:      ledger,
		broadcaster: broadcaster,
		emailClient: emailClient,
		logger:      logger,
		perfTracker: perfTracker,
	}
}

// Dispense releases the reward for a completed session. Repeat calls return
// the stored result byte for byte. subscriberSkip lets a verified session
// with a user jump the stages when the gateway allows it; the rate limit
// still applies.
func (s *RewardService) Dispense(sessionID string, subscriberSkip bool) (*types.RewardResult, error) {
	start := time.Now()
	marker := s.perfTracker.StartOperation("reward:dispense", "")
	defer marker.Complete()

	session, found := s.cache.Sessions().Get(sessionID)
	if !found {
		marker.SetSuccess(false)
		return nil, gatewayerr.ErrNotFound
	}
	marker.GatewayID = session.GatewayID

	def, err := s.gateways.GetDefinition(session.GatewayID)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	// Replay short-circuits before eligibility and rate limiting: the first
	// dispensation already settled both.
	if session.RewardedAt != nil && session.RewardResult != nil {
		s.logger.LogRewardDispense(def.ID, sessionID, true, time.Since(start))
		marker.SetSuccess(true)
		return session.RewardResult, nil
	}

	if err := s.checkEligibility(session, def, subscriberSkip); err != nil {
		marker.SetSuccess(false)
		return nil, err
	}

	identity := Identity(session)
	if err := s.rateLimiter.Check(def, identity); err != nil {
		marker.SetError(err)
		if rl, ok := err.(*gatewayerr.RateLimitedError); ok {
			s.broadcaster.BroadcastProgress(sessionID, events.ProgressEvent{
				Type:      events.EventRateLimited,
				SessionID: sessionID,
				GatewayID: def.ID,
				ResetAt:   rl.ResetAt.UTC().Format(time.RFC3339),
			})
		}
		return nil, err
	}

	computed, err := s.buildResult(session, def)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	result, replay, err := s.cache.Sessions().MarkRewarded(sessionID, computed)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	if !replay {
		inserted, err := s.ledger.RecordDispatch(def.ID, sessionID, identity, s.rateLimiter.WindowKeyNow(def))
		if err != nil {
			s.logger.LogError(logging.ChannelReward, "record_dispatch", err, map[string]any{"sessionId": sessionID, "gatewayId": def.ID})
		} else if !inserted {
			// The ledger already had this session: an earlier process
			// dispensed before a restart wiped the cache mark.
			replay = true
		}
	}

	if !replay {
		s.broadcaster.BroadcastProgress(sessionID, events.ProgressEvent{
			Type:         events.EventRewarded,
			SessionID:    sessionID,
			GatewayID:    def.ID,
			CurrentStage: session.CurrentStage,
		})
		s.notifyCreator(def, sessionID)
	}

	s.logger.LogRewardDispense(def.ID, sessionID, replay, time.Since(start))
	marker.SetSuccess(true)
	return result, nil
}

// checkEligibility decides whether a session has earned the reward: every
// task of the final stage completed while sitting on the final stage, or a
// subscriber skip where the gateway permits one.
func (s *RewardService) checkEligibility(session *types.GatewaySession, def *gateway.Definition, subscriberSkip bool) error {
	if subscriberSkip {
		if !def.Settings.AllowSubscriberSkip {
			return fmt.Errorf("%w: gateway does not allow subscriber skip", gatewayerr.ErrInvalidTransition)
		}
		if !session.Verified || session.UserID == nil || *session.UserID == "" {
			return fmt.Errorf("%w: subscriber skip requires a verified session with a user", gatewayerr.ErrInvalidTransition)
		}
		return nil
	}

	finalStage := len(def.Stages)
	if session.CurrentStage != finalStage {
		return fmt.Errorf("%w: session on stage %d, reward requires stage %d", gatewayerr.ErrInvalidTransition, session.CurrentStage, finalStage)
	}
	for _, taskID := range def.StageTaskIDs(finalStage) {
		if !session.CompletedTaskIDs[taskID] {
			return fmt.Errorf("%w: task %s incomplete", gatewayerr.ErrInvalidTransition, taskID)
		}
	}
	return nil
}

// buildResult computes the dispensation outcome from the definition. Redirect
// rewards carry a signed token on the URL; payload rewards are decrypted from
// their at-rest form.
func (s *RewardService) buildResult(session *types.GatewaySession, def *gateway.Definition) (*types.RewardResult, error) {
	token, err := security.GenerateRewardToken(session.SessionID, def.ID, config.JWTSecret, config.RewardTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("signing reward token: %w", err)
	}

	switch def.Reward.Kind {
	case gateway.RewardRedirect:
		target, err := url.Parse(def.Reward.Value)
		if err != nil {
			return nil, fmt.Errorf("gateway %s has malformed reward URL: %w", def.ID, err)
		}
		query := target.Query()
		query.Set("grant", token)
		target.RawQuery = query.Encode()
		return &types.RewardResult{Kind: gateway.RewardRedirect, URL: target.String(), Token: token}, nil

	case gateway.RewardPayload:
		content := def.Reward.Value
		if config.AESKey != "" {
			decrypted, err := security.DecryptRewardPayload(content, config.AESKey)
			if err == nil {
				content = decrypted
			}
		}
		return &types.RewardResult{Kind: gateway.RewardPayload, Content: content, Token: token}, nil

	default:
		return nil, fmt.Errorf("gateway %s has unknown reward kind %q", def.ID, def.Reward.Kind)
	}
}

// notifyCreator fires the reward email without blocking the dispense path.
func (s *RewardService) notifyCreator(def *gateway.Definition, sessionID string) {
	if s.emailClient == nil || def.CreatorEmail == nil || *def.CreatorEmail == "" {
		return
	}
	toEmail := *def.CreatorEmail
	go func() {
		if err := s.emailClient.SendRewardDispensedEmail(toEmail, def.Title, def.ID); err != nil {
			s.logger.LogError(logging.ChannelReward, "notify_creator", err, map[string]any{"gatewayId": def.ID, "sessionId": sessionID})
		}
	}()
}
