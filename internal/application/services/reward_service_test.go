package services

import (
	"net/url"
	"sync"
	"testing"

	"github.com/NexusProtocols/gateway-go/internal/domain/entities/gateway"
	"github.com/NexusProtocols/gateway-go/internal/domain/events"
	"github.com/NexusProtocols/gateway-go/internal/domain/gatewayerr"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/types"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/security"
	"github.com/NexusProtocols/gateway-go/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completeGateway drives a session through both stages of a quickDwellGateway
// until the reward is ready.
func (h *harness) completeGateway(t *testing.T, sessionID string) {
	t.Helper()
	_, err := h.progression.StartTasks(sessionID)
	require.NoError(t, err)
	_, err = h.progression.StartTask(sessionID, "task-1-1")
	require.NoError(t, err)
	_, err = h.progression.CompleteTask(sessionID, "task-1-1", nil)
	require.NoError(t, err)

	payload, err := h.progression.StartTask(sessionID, "task-2-1")
	require.NoError(t, err)
	_, ordinal, token := callbackParams(t, payload.CallbackURL)
	outcome, _, err := h.progression.HandleCallback(sessionID, ordinal, token)
	require.NoError(t, err)
	require.True(t, outcome.RewardReady)
}

func TestDispenseRedirectReward(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_r1"), "")
	sessionID := h.verifiedSession(t, "gw_r1", nil)
	h.completeGateway(t, sessionID)

	result, err := h.rewards.Dispense(sessionID, false)
	require.NoError(t, err)

	assert.Equal(t, gateway.RewardRedirect, result.Kind)
	parsed, err := url.Parse(result.URL)
	require.NoError(t, err)
	assert.Equal(t, "files.example", parsed.Host)
	assert.Equal(t, "gw", parsed.Query().Get("src"))
	assert.NotEmpty(t, parsed.Query().Get("grant"))

	claims, err := security.ValidateJWT(parsed.Query().Get("grant"), config.JWTSecret)
	require.NoError(t, err)
	assert.Equal(t, "reward", security.ClaimString(claims, "purpose"))

	has, err := h.ledger.HasDispatch(sessionID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestDispenseReplayReturnsStoredResult(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_r2"), "")
	sessionID := h.verifiedSession(t, "gw_r2", nil)
	h.completeGateway(t, sessionID)

	first, err := h.rewards.Dispense(sessionID, false)
	require.NoError(t, err)
	second, err := h.rewards.Dispense(sessionID, false)
	require.NoError(t, err)

	assert.Equal(t, first.URL, second.URL)
	assert.Equal(t, first.Token, second.Token)

	// Only the first dispensation announces itself.
	assert.Len(t, h.broadcaster.eventsOfType(events.EventRewarded), 1)
}

func TestDispenseRequiresCompletedFinalStage(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_r3"), "")
	sessionID := h.verifiedSession(t, "gw_r3", nil)

	_, err := h.rewards.Dispense(sessionID, false)
	assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)

	_, err = h.progression.StartTasks(sessionID)
	require.NoError(t, err)
	_, err = h.rewards.Dispense(sessionID, false)
	assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)
}

func TestDispensePayloadReward(t *testing.T) {
	h := newHarness(t)

	def := quickDwellGateway("gw_r4")
	def.Reward = gateway.Reward{Kind: gateway.RewardPayload, Value: "premium-code-123"}
	h.seedGateway(t, def, "")

	sessionID := h.verifiedSession(t, "gw_r4", nil)
	h.completeGateway(t, sessionID)

	result, err := h.rewards.Dispense(sessionID, false)
	require.NoError(t, err)
	assert.Equal(t, gateway.RewardPayload, result.Kind)
	assert.Equal(t, "premium-code-123", result.Content)
	assert.Empty(t, result.URL)
}

func TestSubscriberSkip(t *testing.T) {
	h := newHarness(t)

	def := quickDwellGateway("gw_r5")
	def.Settings.AllowSubscriberSkip = true
	h.seedGateway(t, def, "")

	userID := "user-1"
	sessionID := h.verifiedSession(t, "gw_r5", &userID)

	result, err := h.rewards.Dispense(sessionID, true)
	require.NoError(t, err)
	assert.Equal(t, gateway.RewardRedirect, result.Kind)
}

func TestSubscriberSkipRequiresUserAndPermission(t *testing.T) {
	h := newHarness(t)

	permissive := quickDwellGateway("gw_r6")
	permissive.Settings.AllowSubscriberSkip = true
	h.seedGateway(t, permissive, "")
	h.seedGateway(t, quickDwellGateway("gw_r7"), "")

	// Verified but anonymous: no skip.
	anonymous := h.verifiedSession(t, "gw_r6", nil)
	_, err := h.rewards.Dispense(anonymous, true)
	assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)

	// Gateway without the setting: no skip even with a user.
	userID := "user-1"
	withUser := h.verifiedSession(t, "gw_r7", &userID)
	_, err = h.rewards.Dispense(withUser, true)
	assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)
}

func TestDispenseSurvivesRestartWithLedgerMark(t *testing.T) {
	h := newHarness(t)

	def := quickDwellGateway("gw_r8")
	def.Settings.AllowSubscriberSkip = true
	h.seedGateway(t, def, "")

	userID := "user-1"
	sessionID := h.verifiedSession(t, "gw_r8", &userID)

	// Simulate a dispatch from before a restart: the ledger row exists but the
	// in-memory rewarded mark was lost with the old cache.
	inserted, err := h.ledger.RecordDispatch("gw_r8", sessionID, "user:user-1", "")
	require.NoError(t, err)
	require.True(t, inserted)

	result, err := h.rewards.Dispense(sessionID, true)
	require.NoError(t, err)
	assert.NotEmpty(t, result.URL)

	// Treated as a replay: no second announcement, no creator notification.
	assert.Empty(t, h.broadcaster.eventsOfType(events.EventRewarded))
}

func TestDispenseRateLimited(t *testing.T) {
	h := newHarness(t)

	def := quickDwellGateway("gw_r9")
	def.Settings.AllowSubscriberSkip = true
	def.Settings.RateLimit = gateway.RateLimit{Enabled: true, MaxCompletions: 1, WindowUnit: gateway.WindowDay}
	h.seedGateway(t, def, "")

	userID := "user-1"
	first := h.verifiedSession(t, "gw_r9", &userID)
	_, err := h.rewards.Dispense(first, true)
	require.NoError(t, err)

	second := h.verifiedSession(t, "gw_r9", &userID)
	_, err = h.rewards.Dispense(second, true)
	require.True(t, gatewayerr.IsRateLimited(err))

	assert.Len(t, h.broadcaster.eventsOfType(events.EventRateLimited), 1)

	// The denial consumed nothing: the window still shows one dispatch.
	count, err := h.ledger.DispatchCountInWindow("gw_r9", "user:user-1", h.rateLimiter.WindowKeyNow(def))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDispenseUnknownSession(t *testing.T) {
	h := newHarness(t)

	_, err := h.rewards.Dispense("sess_unknown", false)
	assert.ErrorIs(t, err, gatewayerr.ErrNotFound)
}

func TestDispenseConcurrentCallsAtMostOnce(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_r10"), "")
	sessionID := h.verifiedSession(t, "gw_r10", nil)
	h.completeGateway(t, sessionID)

	const callers = 4
	results := make([]*types.RewardResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.rewards.Dispense(sessionID, false)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.Equal(t, results[0].URL, results[i].URL)
		assert.Equal(t, results[0].Token, results[i].Token)
	}

	// One winner: a single ledger row and a single broadcast.
	count, err := h.ledger.DispatchCountInWindow("gw_r10", "session:"+sessionID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, h.broadcaster.eventsOfType(events.EventRewarded), 1)
}
