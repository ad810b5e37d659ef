package services

import (
	"testing"

	"github.com/NexusProtocols/gateway-go/internal/domain/gatewayerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRequiresKnownGateway(t *testing.T) {
	h := newHarness(t)

	_, err := h.sessions.Create("gw_unknown", nil)
	assert.ErrorIs(t, err, gatewayerr.ErrNotFound)
}

func TestCreateAndGet(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_s1"), "")

	session, err := h.sessions.Create("gw_s1", nil)
	require.NoError(t, err)
	assert.False(t, session.Verified)

	got, err := h.sessions.Get(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.SessionID, got.SessionID)

	_, err = h.sessions.Get("sess_unknown")
	assert.ErrorIs(t, err, gatewayerr.ErrNotFound)
}

func TestMergeDropsUnknownTasks(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_s2"), "")

	sessionID := h.verifiedSession(t, "gw_s2", nil)

	merged, err := h.sessions.Merge(sessionID, 1, []string{"task-1-1", "task-9-9", "bogus"})
	require.NoError(t, err)

	assert.Equal(t, 1, merged.CurrentStage)
	assert.True(t, merged.CompletedTaskIDs["task-1-1"])
	assert.Len(t, merged.CompletedTaskIDs, 1)
}

func TestMergeRejectsStageBeyondGateway(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_s3"), "")

	sessionID := h.verifiedSession(t, "gw_s3", nil)

	_, err := h.sessions.Merge(sessionID, 3, nil)
	assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)
}

func TestMergeCannotShortcutGating(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_s5"), "")

	session, err := h.sessions.Create("gw_s5", nil)
	require.NoError(t, err)

	// An unverified session claiming final-stage progress gets nothing.
	_, err = h.sessions.Merge(session.SessionID, 2, []string{"task-2-1"})
	assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)

	got, err := h.sessions.Get(session.SessionID)
	require.NoError(t, err)
	assert.False(t, got.Verified)
	assert.Equal(t, -1, got.CurrentStage)
	assert.Empty(t, got.CompletedTaskIDs)

	_, err = h.rewards.Dispense(session.SessionID, false)
	assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)

	// Even once verified, the final stage is not one merge away.
	sessionID := h.verifiedSession(t, "gw_s5", nil)
	_, err = h.sessions.Merge(sessionID, 2, []string{"task-2-1"})
	assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)

	_, err = h.rewards.Dispense(sessionID, false)
	assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)
}

func TestMergeAdvanceClearsCrossStageState(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_s6"), "")

	sessionID := h.verifiedSession(t, "gw_s6", nil)

	_, err := h.sessions.Merge(sessionID, 1, nil)
	require.NoError(t, err)
	_, err = h.sessions.Merge(sessionID, 2, []string{"task-1-1"})
	require.NoError(t, err)

	merged, err := h.sessions.Merge(sessionID, 2, []string{"task-1-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, merged.CurrentStage)
	assert.Empty(t, merged.CompletedTaskIDs)
}

func TestSessionViewShape(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_s4"), "")

	session, err := h.sessions.Create("gw_s4", nil)
	require.NoError(t, err)

	view := NewSessionView(session)
	assert.Equal(t, session.SessionID, view.SessionID)
	assert.Equal(t, -1, view.CurrentStage)
	assert.False(t, view.Rewarded)
	assert.NotEmpty(t, view.ExpiresAt)
	assert.NotNil(t, view.CompletedTasks)
}
