package services

import (
	"fmt"
	"net"

	"github.com/NexusProtocols/gateway-go/internal/domain/gatewayerr"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/interfaces"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/types"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/performance"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/security"
	"github.com/NexusProtocols/gateway-go/pkg/config"
)

// VerificationService runs the entry gate every session passes before tasks
// unlock. Failing the gate leaves the session at the unverified sentinel.
type VerificationService struct {
	cache        interfaces.Cache
	gateways     *GatewayService
	logger       *logging.ChanneledLogger
	perfTracker  *performance.Tracker
	blockedNets  []*net.IPNet
}

// NewVerificationService creates a new verification service. The CIDR
// blocklist is parsed once; malformed entries are logged and skipped.
func NewVerificationService(cache interfaces.Cache, gateways *GatewayService, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *VerificationService {
	svc := &VerificationService{
		cache:       cache,
		gateways:    gateways,
		logger:      logger,
		perfTracker: perfTracker,
	}

	for _, cidr := range config.BlockedCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.System().Warn("Skipping malformed blocklist CIDR", "cidr", cidr, "error", err)
			continue
		}
		svc.blockedNets = append(svc.blockedNets, network)
	}

	return svc
}

// VerificationResult carries the outcome of the verification gate.
type VerificationResult struct {
	Session *types.GatewaySession
	Token   string
}

// Verify runs the gate checks for a session and, on success, moves it to the
// pre-stage and issues a verification JWT with its own TTL so a returning
// visitor skips re-verification.
func (s *VerificationService) Verify(sessionID, clientIP, userAgent string) (*VerificationResult, error) {
	marker := s.perfTracker.StartOperation("session:verify", "")
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

	if config.RequireUserAgent && userAgent == "" {
		s.logger.Session().Warn("Verification rejected, missing user agent", "sessionId", sessionID, "ip", clientIP)
		marker.SetSuccess(false)
		return nil, fmt.Errorf("%w: user agent required", gatewayerr.ErrValidationFailed)
	}

	if def.Settings.BlockVPN && s.isBlockedIP(clientIP) {
		s.logger.Session().Warn("Verification rejected, blocked IP range", "sessionId", sessionID, "gatewayId", def.ID, "ip", clientIP)
		marker.SetSuccess(false)
		return nil, fmt.Errorf("%w: client network not allowed", gatewayerr.ErrValidationFailed)
	}

	session, err = s.cache.Sessions().MarkVerified(sessionID)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	token, err := security.GenerateVerificationToken(sessionID, session.GatewayID, config.JWTSecret, config.VerificationTokenTTL)
	if err != nil {
		marker.SetError(err)
		return nil, fmt.Errorf("signing verification token: %w", err)
	}

	s.logger.Session().Info("Session verified", "sessionId", sessionID, "gatewayId", session.GatewayID)
	marker.SetSuccess(true)
	return &VerificationResult{Session: session, Token: token}, nil
}

// ResumeWithToken re-verifies a session from a previously issued verification
// JWT, bypassing the gate checks while the token is still valid.
func (s *VerificationService) ResumeWithToken(sessionID, token string) (*types.GatewaySession, error) {
	claims, err := security.ValidateJWT(token, config.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", gatewayerr.ErrValidationFailed, "invalid verification token")
	}
	if security.ClaimString(claims, "purpose") != "verification" || security.ClaimString(claims, "sub") != sessionID {
		return nil, fmt.Errorf("%w: %s", gatewayerr.ErrValidationFailed, "verification token mismatch")
	}

	session, err := s.cache.Sessions().MarkVerified(sessionID)
	if err != nil {
		return nil, err
	}

	s.logger.Session().Info("Session re-verified from token", "sessionId", sessionID)
	return session, nil
}

func (s *VerificationService) isBlockedIP(clientIP string) bool {
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}
	for _, network := range s.blockedNets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
