// Package services provides ops dashboard operations
package services

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/NexusProtocols/gateway-go/internal/domain/gatewayerr"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/manager"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/performance"
	persistence "github.com/NexusProtocols/gateway-go/internal/infrastructure/persistence/gateway"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/security"
	"github.com/NexusProtocols/gateway-go/pkg/config"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

// OpsService backs the operator dashboard: login, live stats, and dynamic
// log levels.
type OpsService struct {
	cacheManager *manager.Manager
	ledger       *persistence.SQLLedgerRepository
	logger       *logging.ChanneledLogger
	perfTracker  *performance.Tracker
}

// NewOpsService creates a new ops service with injected dependencies
func NewOpsService(cacheManager *manager.Manager, ledger *persistence.SQLLedgerRepository, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *OpsService {
	return &OpsService{
		cacheManager: cacheManager,
		ledger:       ledger,
		logger:       logger,
		perfTracker:  perfTracker,
	}
}

const opsTokenTTL = 12 * time.Hour

// Login checks the operator password against the configured bcrypt hash and
// issues a short-lived ops JWT.
func (s *OpsService) Login(password string) (string, error) {
	if config.OpsPasswordHash == "" {
		return "", fmt.Errorf("ops access not configured")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(config.OpsPasswordHash), []byte(password)); err != nil {
		s.logger.Ops().Warn("Ops login rejected")
		return "", fmt.Errorf("%w: invalid credentials", gatewayerr.ErrValidationFailed)
	}

	claims := jwt.MapClaims{
		"purpose": "ops",
		"iat":     time.Now().UTC().Unix(),
		"exp":     time.Now().UTC().Add(opsTokenTTL).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("signing ops token: %w", err)
	}

	s.logger.Ops().Info("Ops login accepted")
	return token, nil
}

// ValidateToken checks an ops JWT.
func (s *OpsService) ValidateToken(token string) error {
	claims, err := security.ValidateJWT(token, config.JWTSecret)
	if err != nil {
		return fmt.Errorf("%w: invalid ops token", gatewayerr.ErrValidationFailed)
	}
	if security.ClaimString(claims, "purpose") != "ops" {
		return fmt.Errorf("%w: wrong token purpose", gatewayerr.ErrValidationFailed)
	}
	return nil
}

// OpsStats is the dashboard snapshot payload.
type OpsStats struct {
	Timestamp      string                 `json:"timestamp"`
	TotalSessions  int                    `json:"totalSessions"`
	StageOccupancy map[string]map[int]int `json:"stageOccupancy"`
	CompletionsLastHour map[string]int    `json:"completionsLastHour"`
	CacheHealth    map[string]any         `json:"cacheHealth"`
	MemoryStats    map[string]any         `json:"memoryStats"`
	Performance    map[string]any         `json:"performance"`
}

// GetStats assembles a point-in-time view of live sessions, recent ledger
// activity, cache health, and performance counters.
func (s *OpsService) GetStats() (*OpsStats, error) {
	marker := s.perfTracker.StartOperation("ops:stats", "")
	defer marker.Complete()

	completions, err := s.ledger.CompletionsSince(time.Now().UTC().Add(-time.Hour))
	if err != nil {
		s.logger.LogError(logging.ChannelOps, "completions_since", err, nil)
		completions = map[string]int{}
	}

	stats := &OpsStats{
		Timestamp:           time.Now().UTC().Format(time.RFC3339),
		TotalSessions:       s.cacheManager.Sessions().Count(),
		StageOccupancy:      s.cacheManager.Sessions().StageOccupancy(),
		CompletionsLastHour: completions,
		CacheHealth:         s.cacheManager.Health(),
		MemoryStats:         s.cacheManager.GetMemoryStats(),
		Performance:         s.perfTracker.GetOverallStats(),
	}

	marker.SetSuccess(true)
	return stats, nil
}

// SetLogLevel adjusts one channel's level at runtime.
func (s *OpsService) SetLogLevel(channel, level string) error {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("%w: unknown log level %q", gatewayerr.ErrValidationFailed, level)
	}
	if err := s.logger.SetChannelLevel(logging.Channel(channel), parsed); err != nil {
		return fmt.Errorf("%w: %s", gatewayerr.ErrValidationFailed, err.Error())
	}
	s.logger.Ops().Info("Log level changed", "channel", channel, "level", level)
	return nil
}

// GetLogLevels returns the current per-channel levels.
func (s *OpsService) GetLogLevels() map[string]string {
	return s.logger.GetChannelLevels()
}
