package services

import (
	"testing"

	"github.com/NexusProtocols/gateway-go/internal/domain/entities/gateway"
	"github.com/NexusProtocols/gateway-go/internal/domain/gatewayerr"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/security"
	"github.com/NexusProtocols/gateway-go/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authoredInput(id string) *gateway.AuthoredDefinition {
	return &gateway.AuthoredDefinition{
		ID:        id,
		Title:     "Authored Gateway",
		CreatorID: "creator-1",
		Stages:    []gateway.AuthoredStage{{TaskCount: 2, AdLevel: 0}},
		Reward:    gateway.AuthoredReward{Type: "url", Value: "https://files.example/pack"},
	}
}

func TestCreateFromAuthored(t *testing.T) {
	h := newHarness(t)

	def, err := h.gateways.CreateFromAuthored(authoredInput("gw_g1"), "provider-secret")
	require.NoError(t, err)
	require.Len(t, def.Stages, 1)

	// Readable through both cache and repo.
	loaded, err := h.gateways.GetDefinition("gw_g1")
	require.NoError(t, err)
	assert.Equal(t, def.ID, loaded.ID)

	persisted, err := h.gatewayRepo.FindByID("gw_g1")
	require.NoError(t, err)
	require.NotNil(t, persisted)

	valid, err := h.gateways.VerifyPostbackSecret("gw_g1", "provider-secret")
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestCreateFromAuthoredGeneratesID(t *testing.T) {
	h := newHarness(t)

	def, err := h.gateways.CreateFromAuthored(authoredInput(""), "")
	require.NoError(t, err)
	assert.Contains(t, def.ID, "gw_")
}

func TestCreateFromAuthoredRejectsInvalid(t *testing.T) {
	h := newHarness(t)

	bad := authoredInput("gw_g2")
	bad.Reward.Type = "coupon"
	_, err := h.gateways.CreateFromAuthored(bad, "")
	assert.ErrorIs(t, err, gatewayerr.ErrValidationFailed)
}

func TestCreateFromAuthoredEncryptsPasteReward(t *testing.T) {
	h := newHarness(t)

	key, err := security.GenerateSecureKey(64)
	require.NoError(t, err)
	prior := config.AESKey
	config.AESKey = key
	t.Cleanup(func() { config.AESKey = prior })

	authored := authoredInput("gw_g3")
	authored.Reward = gateway.AuthoredReward{Type: "paste", Value: "premium-code-123"}

	def, err := h.gateways.CreateFromAuthored(authored, "")
	require.NoError(t, err)
	assert.NotEqual(t, "premium-code-123", def.Reward.Value)

	decrypted, err := security.DecryptRewardPayload(def.Reward.Value, key)
	require.NoError(t, err)
	assert.Equal(t, "premium-code-123", decrypted)
}

func TestGetDefinitionFallsBackToRepo(t *testing.T) {
	h := newHarness(t)

	def := quickDwellGateway("gw_g4")
	require.NoError(t, h.gatewayRepo.Create(def, ""))

	// Not cached yet; the first read loads it from the repo.
	loaded, err := h.gateways.GetDefinition("gw_g4")
	require.NoError(t, err)
	assert.Equal(t, "gw_g4", loaded.ID)

	_, found := h.cache.Definitions().Get("gw_g4")
	assert.True(t, found)
}

func TestGetDefinitionUnknown(t *testing.T) {
	h := newHarness(t)

	_, err := h.gateways.GetDefinition("gw_missing")
	assert.ErrorIs(t, err, gatewayerr.ErrNotFound)
}

func TestGetPublicDefinitionHidesRewardValue(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_g5"), "")

	public, err := h.gateways.GetPublicDefinition("gw_g5")
	require.NoError(t, err)

	assert.Equal(t, "gw_g5", public.ID)
	assert.Equal(t, string(gateway.RewardRedirect), public.RewardKind)
	assert.Len(t, public.Stages, 2)
}

func TestWarmCatalog(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.gatewayRepo.Create(quickDwellGateway("gw_g6"), ""))
	require.NoError(t, h.gatewayRepo.Create(quickDwellGateway("gw_g7"), ""))

	count, err := h.gateways.WarmCatalog()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, h.cache.Definitions().Count())
}
