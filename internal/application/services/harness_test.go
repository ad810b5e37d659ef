package services

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/NexusProtocols/gateway-go/internal/domain/entities/gateway"
	"github.com/NexusProtocols/gateway-go/internal/domain/events"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/manager"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/performance"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/persistence/database"
	persistence "github.com/NexusProtocols/gateway-go/internal/infrastructure/persistence/gateway"
	"github.com/NexusProtocols/gateway-go/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	config.JWTSecret = "services-test-secret"
	os.Exit(m.Run())
}

// captureBroadcaster records progress events instead of fanning them out.
type captureBroadcaster struct {
	mu     sync.Mutex
	events []events.ProgressEvent
}

func (b *captureBroadcaster) AddClient(sessionID string) chan string { return make(chan string, 1) }

func (b *captureBroadcaster) RemoveClient(ch chan string, sessionID string) {}

func (b *captureBroadcaster) GetSessionConnectionCount(sessionID string) int { return 0 }

func (b *captureBroadcaster) HasWatchers(sessionID string) bool { return false }

func (b *captureBroadcaster) BroadcastProgress(sessionID string, event events.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *captureBroadcaster) eventsOfType(eventType string) []events.ProgressEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.ProgressEvent
	for _, event := range b.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

func quietLogger(t *testing.T) *logging.ChanneledLogger {
	t.Helper()
	logger, err := logging.NewChanneledLogger(&logging.LoggerConfig{
		OutputToFile:    false,
		OutputToConsole: false,
		JSONFormat:      true,
		DefaultLevel:    slog.LevelError,
		ChannelLevels:   make(map[logging.Channel]slog.Level),
	})
	require.NoError(t, err)
	return logger
}

// harness wires the full service stack against a throwaway sqlite database
// and an in-memory cache.
type harness struct {
	cache       *manager.Manager
	db          *database.DB
	gatewayRepo *persistence.SQLGatewayRepository
	ledger      *persistence.SQLLedgerRepository
	broadcaster *captureBroadcaster

	gateways     *GatewayService
	sessions     *SessionService
	verification *VerificationService
	progression  *ProgressionService
	rateLimiter  *RateLimitService
	rewards      *RewardService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := quietLogger(t)
	perfTracker := performance.NewTracker(nil)

	db, err := database.NewConnection("sqlite3", filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.EnsureSchema())

	cache := manager.NewManager(logger)
	gatewayRepo := persistence.NewSQLGatewayRepository(db)
	ledger := persistence.NewSQLLedgerRepository(db)
	broadcaster := &captureBroadcaster{}

	gateways := NewGatewayService(gatewayRepo, cache, logger, perfTracker)
	rateLimiter := NewRateLimitService(ledger, logger, perfTracker)
	strategies := NewStrategyRegistry(cache)

	return &harness{
		cache:        cache,
		db:           db,
		gatewayRepo:  gatewayRepo,
		ledger:       ledger,
		broadcaster:  broadcaster,
		gateways:     gateways,
		sessions:     NewSessionService(cache, gateways, logger, perfTracker),
		verification: NewVerificationService(cache, gateways, logger, perfTracker),
		progression:  NewProgressionService(cache, gateways, strategies, rateLimiter, ledger, broadcaster, logger, perfTracker),
		rateLimiter:  rateLimiter,
		rewards:      NewRewardService(cache, gateways, rateLimiter, ledger, broadcaster, nil, logger, perfTracker),
	}
}

// seedGateway persists a definition and primes the cache, the same path the
// catalog warmer takes at startup.
func (h *harness) seedGateway(t *testing.T, def *gateway.Definition, postbackSecret string) {
	t.Helper()
	require.NoError(t, h.gatewayRepo.Create(def, postbackSecret))
	h.cache.Definitions().Set(def)
}

// quickDwellGateway is a two stage gateway whose dwell floors sit below the
// clock skew allowance, so completions validate without sleeping.
func quickDwellGateway(id string) *gateway.Definition {
	return &gateway.Definition{
		ID:        id,
		Title:     "Two Stage Gateway",
		CreatorID: "creator-1",
		Stages: []gateway.Stage{
			{Ordinal: 1, Tasks: []gateway.Task{
				{Ordinal: 1, Type: gateway.TaskDwellRedirect, Content: "https://ads.example/offer", MinDwellSeconds: 1},
			}},
			{Ordinal: 2, Tasks: []gateway.Task{
				{Ordinal: 1, Type: gateway.TaskAutoTagRedirect, Content: "https://ads.example/tagged"},
			}},
		},
		Reward: gateway.Reward{Kind: gateway.RewardRedirect, Value: "https://files.example/pack?src=gw"},
	}
}

// verifiedSession creates a session and walks it through the verification
// gate into the pre-stage.
func (h *harness) verifiedSession(t *testing.T, gatewayID string, userID *string) string {
	t.Helper()
	session, err := h.sessions.Create(gatewayID, userID)
	require.NoError(t, err)
	_, err = h.verification.Verify(session.SessionID, "203.0.113.5", "test-agent")
	require.NoError(t, err)
	return session.SessionID
}
