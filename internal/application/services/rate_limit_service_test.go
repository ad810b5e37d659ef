package services

import (
	"testing"
	"time"

	"github.com/NexusProtocols/gateway-go/internal/domain/entities/gateway"
	"github.com/NexusProtocols/gateway-go/internal/domain/gatewayerr"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedGateway(id string, max int) *gateway.Definition {
	def := quickDwellGateway(id)
	def.Settings.RateLimit = gateway.RateLimit{Enabled: true, MaxCompletions: max, WindowUnit: gateway.WindowDay}
	return def
}

func TestIdentityPrefersUser(t *testing.T) {
	userID := "user-1"
	withUser := &types.GatewaySession{SessionID: "sess_1", UserID: &userID}
	assert.Equal(t, "user:user-1", Identity(withUser))

	empty := ""
	anonymous := &types.GatewaySession{SessionID: "sess_2", UserID: &empty}
	assert.Equal(t, "session:sess_2", Identity(anonymous))
	assert.Equal(t, "session:sess_3", Identity(&types.GatewaySession{SessionID: "sess_3"}))
}

func TestCheckDisabledLimitAlwaysPasses(t *testing.T) {
	h := newHarness(t)
	def := quickDwellGateway("gw_rl1")

	for i := 0; i < 10; i++ {
		assert.NoError(t, h.rateLimiter.Check(def, "user:user-1"))
	}
	assert.Equal(t, "", h.rateLimiter.WindowKeyNow(def))
}

func TestCheckDeniesAtQuota(t *testing.T) {
	h := newHarness(t)
	def := limitedGateway("gw_rl2", 2)
	windowKey := h.rateLimiter.WindowKeyNow(def)

	require.NoError(t, h.rateLimiter.Check(def, "user:user-1"))

	_, err := h.ledger.RecordDispatch("gw_rl2", "sess_a", "user:user-1", windowKey)
	require.NoError(t, err)
	require.NoError(t, h.rateLimiter.Check(def, "user:user-1"))

	_, err = h.ledger.RecordDispatch("gw_rl2", "sess_b", "user:user-1", windowKey)
	require.NoError(t, err)

	err = h.rateLimiter.Check(def, "user:user-1")
	require.True(t, gatewayerr.IsRateLimited(err))

	var rl *gatewayerr.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "gw_rl2", rl.GatewayID)
	assert.True(t, rl.ResetAt.After(time.Now().UTC()))
}

func TestCheckScopedToIdentity(t *testing.T) {
	h := newHarness(t)
	def := limitedGateway("gw_rl3", 1)
	windowKey := h.rateLimiter.WindowKeyNow(def)

	_, err := h.ledger.RecordDispatch("gw_rl3", "sess_a", "user:user-1", windowKey)
	require.NoError(t, err)

	assert.Error(t, h.rateLimiter.Check(def, "user:user-1"))
	assert.NoError(t, h.rateLimiter.Check(def, "user:user-2"))
	assert.NoError(t, h.rateLimiter.Check(def, "session:sess_z"))
}

func TestCheckDenialConsumesNoSlot(t *testing.T) {
	h := newHarness(t)
	def := limitedGateway("gw_rl4", 1)
	windowKey := h.rateLimiter.WindowKeyNow(def)

	_, err := h.ledger.RecordDispatch("gw_rl4", "sess_a", "user:user-1", windowKey)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.Error(t, h.rateLimiter.Check(def, "user:user-1"))
	}

	count, err := h.ledger.DispatchCountInWindow("gw_rl4", "user:user-1", windowKey)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCheckIgnoresOtherWindows(t *testing.T) {
	h := newHarness(t)
	def := limitedGateway("gw_rl5", 1)

	// A dispatch in yesterday's window leaves today's quota untouched.
	yesterday := gateway.WindowDay.WindowKey(time.Now().UTC().AddDate(0, 0, -1))
	_, err := h.ledger.RecordDispatch("gw_rl5", "sess_a", "user:user-1", yesterday)
	require.NoError(t, err)

	assert.NoError(t, h.rateLimiter.Check(def, "user:user-1"))
}
