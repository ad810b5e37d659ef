package services

import (
	"time"

	"github.com/NexusProtocols/gateway-go/internal/domain/entities/gateway"
	"github.com/NexusProtocols/gateway-go/internal/domain/gatewayerr"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/types"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/performance"
	persistence "github.com/NexusProtocols/gateway-go/internal/infrastructure/persistence/gateway"
)

// RateLimitService enforces per-gateway completion quotas over fixed windows.
// Accounting lives in the reward dispatch ledger, so windows survive restarts
// and a denied check never consumes a slot: the slot is only taken when the
// dispatch row is written.
type RateLimitService struct {
	ledger      *persistence.SQLLedgerRepository
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
}

// NewRateLimitService creates a new rate limit service
func NewRateLimitService(ledger *persistence.SQLLedgerRepository, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *RateLimitService {
	return &RateLimitService{
		ledger:      ledger,
		logger:      logger,
		perfTracker: perfTracker,
	}
}

// Identity resolves who a completion counts against: the user when the
// session has one, otherwise the session itself.
func Identity(session *types.GatewaySession) string {
	if session.UserID != nil && *session.UserID != "" {
		return "user:" + *session.UserID
	}
	return "session:" + session.SessionID
}

// Check reports whether an identity still has quota on a gateway in the
// current window. A denial returns RateLimitedError carrying the window
// reset; the check itself never reserves anything.
func (s *RateLimitService) Check(def *gateway.Definition, identity string) error {
	if !def.Settings.RateLimit.Enabled {
		return nil
	}

	marker := s.perfTracker.StartOperation("ratelimit:check", def.ID)
	defer marker.Complete()

	now := time.Now().UTC()
	limit := def.Settings.RateLimit
	windowKey := limit.WindowUnit.WindowKey(now)

	used, err := s.ledger.DispatchCountInWindow(def.ID, identity, windowKey)
	if err != nil {
		marker.SetError(err)
		return err
	}

	if used >= limit.MaxCompletions {
		resetAt := limit.WindowUnit.WindowReset(now)
		s.logger.Reward().Info("Rate limit denial", "gatewayId", def.ID, "identity", identity, "window", windowKey, "used", used, "max", limit.MaxCompletions, "resetAt", resetAt)
		marker.SetSuccess(false)
		return &gatewayerr.RateLimitedError{GatewayID: def.ID, ResetAt: resetAt}
	}

	marker.SetSuccess(true)
	return nil
}

// WindowKeyNow returns the current window key for a gateway's limit, or ""
// when the gateway is unlimited. Dispatch rows record it so later counts can
// group by window.
func (s *RateLimitService) WindowKeyNow(def *gateway.Definition) string {
	if !def.Settings.RateLimit.Enabled {
		return ""
	}
	return def.Settings.RateLimit.WindowUnit.WindowKey(time.Now().UTC())
}
