package services

import (
	"net/url"
	"strconv"
	"testing"

	"github.com/NexusProtocols/gateway-go/internal/domain/entities/gateway"
	"github.com/NexusProtocols/gateway-go/internal/domain/events"
	"github.com/NexusProtocols/gateway-go/internal/domain/gatewayerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callbackParams extracts the session, global ordinal, and token from a
// strategy-built callback URL.
func callbackParams(t *testing.T, callbackURL string) (sessionID string, ordinal int, token string) {
	t.Helper()
	parsed, err := url.Parse(callbackURL)
	require.NoError(t, err)

	query := parsed.Query()
	assert.Equal(t, "true", query.Get("completed"))

	ordinal, err = strconv.Atoi(query.Get("task"))
	require.NoError(t, err)
	return query.Get("sessionId"), ordinal, query.Get("token")
}

func TestStartTasksEntersStageOne(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_p1"), "")
	sessionID := h.verifiedSession(t, "gw_p1", nil)

	session, err := h.progression.StartTasks(sessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, session.CurrentStage)

	advances := h.broadcaster.eventsOfType(events.EventStageAdvanced)
	require.Len(t, advances, 1)
	assert.Equal(t, 1, advances[0].CurrentStage)
}

func TestStartTasksRequiresVerifiedPreStage(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_p2"), "")

	session, err := h.sessions.Create("gw_p2", nil)
	require.NoError(t, err)

	_, err = h.progression.StartTasks(session.SessionID)
	assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)

	sessionID := h.verifiedSession(t, "gw_p2", nil)
	_, err = h.progression.StartTasks(sessionID)
	require.NoError(t, err)

	// Already on stage 1; starting again is a stale client.
	_, err = h.progression.StartTasks(sessionID)
	assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)
}

func TestStartTaskReturnsStrategyPayload(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_p3"), "")
	sessionID := h.verifiedSession(t, "gw_p3", nil)
	_, err := h.progression.StartTasks(sessionID)
	require.NoError(t, err)

	payload, err := h.progression.StartTask(sessionID, "task-1-1")
	require.NoError(t, err)

	assert.Equal(t, string(gateway.TaskDwellRedirect), payload.Type)
	assert.Equal(t, "https://ads.example/offer", payload.TargetURL)
	assert.Equal(t, 1, payload.MinDwellSeconds)
	assert.NotEmpty(t, payload.StartedAt)

	paramSession, ordinal, token := callbackParams(t, payload.CallbackURL)
	assert.Equal(t, sessionID, paramSession)
	assert.Equal(t, 1, ordinal)
	assert.NotEmpty(t, token)
}

func TestStartTaskOutsideCurrentStage(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_p4"), "")
	sessionID := h.verifiedSession(t, "gw_p4", nil)
	_, err := h.progression.StartTasks(sessionID)
	require.NoError(t, err)

	_, err = h.progression.StartTask(sessionID, "task-2-1")
	assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)

	_, err = h.progression.StartTask(sessionID, "not-a-task")
	assert.ErrorIs(t, err, gatewayerr.ErrValidationFailed)
}

func TestCompleteTaskRejectsUnstarted(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_p5"), "")
	sessionID := h.verifiedSession(t, "gw_p5", nil)
	_, err := h.progression.StartTasks(sessionID)
	require.NoError(t, err)

	_, err = h.progression.CompleteTask(sessionID, "task-1-1", nil)
	assert.ErrorIs(t, err, gatewayerr.ErrValidationFailed)
}

func TestCompleteTaskRejectsShortDwell(t *testing.T) {
	h := newHarness(t)

	def := quickDwellGateway("gw_p6")
	def.Stages[0].Tasks[0].MinDwellSeconds = 30
	h.seedGateway(t, def, "")

	sessionID := h.verifiedSession(t, "gw_p6", nil)
	_, err := h.progression.StartTasks(sessionID)
	require.NoError(t, err)
	_, err = h.progression.StartTask(sessionID, "task-1-1")
	require.NoError(t, err)

	_, err = h.progression.CompleteTask(sessionID, "task-1-1", nil)
	assert.ErrorIs(t, err, gatewayerr.ErrValidationFailed)
}

func TestCompleteTaskAdvancesStage(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_p7"), "")
	sessionID := h.verifiedSession(t, "gw_p7", nil)
	_, err := h.progression.StartTasks(sessionID)
	require.NoError(t, err)
	_, err = h.progression.StartTask(sessionID, "task-1-1")
	require.NoError(t, err)

	outcome, err := h.progression.CompleteTask(sessionID, "task-1-1", nil)
	require.NoError(t, err)

	assert.True(t, outcome.NewCompletion)
	assert.True(t, outcome.StageComplete)
	assert.False(t, outcome.RewardReady)
	assert.Equal(t, 2, outcome.Session.CurrentStage)

	count, err := h.ledger.CompletionCount(sessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCallbackFlowReachesRewardReady(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_p8"), "")
	sessionID := h.verifiedSession(t, "gw_p8", nil)
	_, err := h.progression.StartTasks(sessionID)
	require.NoError(t, err)
	_, err = h.progression.StartTask(sessionID, "task-1-1")
	require.NoError(t, err)
	_, err = h.progression.CompleteTask(sessionID, "task-1-1", nil)
	require.NoError(t, err)

	payload, err := h.progression.StartTask(sessionID, "task-2-1")
	require.NoError(t, err)
	_, ordinal, token := callbackParams(t, payload.CallbackURL)
	assert.Equal(t, 2, ordinal)

	outcome, redirectURL, err := h.progression.HandleCallback(sessionID, ordinal, token)
	require.NoError(t, err)

	assert.True(t, outcome.NewCompletion)
	assert.True(t, outcome.StageComplete)
	assert.True(t, outcome.RewardReady)
	assert.Contains(t, redirectURL, "/gateway/gw_p8")
}

func TestCallbackTokenIsSingleUse(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_p9"), "")
	sessionID := h.verifiedSession(t, "gw_p9", nil)
	_, err := h.progression.StartTasks(sessionID)
	require.NoError(t, err)
	_, err = h.progression.StartTask(sessionID, "task-1-1")
	require.NoError(t, err)
	_, err = h.progression.CompleteTask(sessionID, "task-1-1", nil)
	require.NoError(t, err)

	payload, err := h.progression.StartTask(sessionID, "task-2-1")
	require.NoError(t, err)
	_, ordinal, token := callbackParams(t, payload.CallbackURL)

	_, _, err = h.progression.HandleCallback(sessionID, ordinal, token)
	require.NoError(t, err)

	_, _, err = h.progression.HandleCallback(sessionID, ordinal, token)
	assert.ErrorIs(t, err, gatewayerr.ErrValidationFailed)
}

func TestCallbackRejectsForeignToken(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_p10"), "")

	sessionA := h.verifiedSession(t, "gw_p10", nil)
	sessionB := h.verifiedSession(t, "gw_p10", nil)
	for _, id := range []string{sessionA, sessionB} {
		_, err := h.progression.StartTasks(id)
		require.NoError(t, err)
	}

	payload, err := h.progression.StartTask(sessionA, "task-1-1")
	require.NoError(t, err)
	_, ordinal, token := callbackParams(t, payload.CallbackURL)

	_, _, err = h.progression.HandleCallback(sessionB, ordinal, token)
	assert.ErrorIs(t, err, gatewayerr.ErrValidationFailed)
}

func TestCallbackForPastStageBurnsToken(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_p11"), "")
	sessionID := h.verifiedSession(t, "gw_p11", nil)
	_, err := h.progression.StartTasks(sessionID)
	require.NoError(t, err)

	payload, err := h.progression.StartTask(sessionID, "task-1-1")
	require.NoError(t, err)
	_, ordinal, token := callbackParams(t, payload.CallbackURL)

	// Advance past stage 1 through the normal path first.
	_, err = h.progression.CompleteTask(sessionID, "task-1-1", nil)
	require.NoError(t, err)

	_, _, err = h.progression.HandleCallback(sessionID, ordinal, token)
	assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)

	// The token was consumed even though the stage check failed.
	_, _, err = h.progression.HandleCallback(sessionID, ordinal, token)
	assert.ErrorIs(t, err, gatewayerr.ErrValidationFailed)
}

func TestPostbackCompletesExternallyValidatedTask(t *testing.T) {
	h := newHarness(t)

	def := quickDwellGateway("gw_p12")
	def.Stages[0].Tasks[0] = gateway.Task{Ordinal: 1, Type: gateway.TaskExternallyValidated, Content: "https://provider.example/offer"}
	h.seedGateway(t, def, "provider-secret")

	sessionID := h.verifiedSession(t, "gw_p12", nil)
	_, err := h.progression.StartTasks(sessionID)
	require.NoError(t, err)

	_, err = h.progression.HandlePostback("gw_p12", sessionID, "task-1-1", "wrong-secret")
	assert.ErrorIs(t, err, gatewayerr.ErrValidationFailed)

	outcome, err := h.progression.HandlePostback("gw_p12", sessionID, "task-1-1", "provider-secret")
	require.NoError(t, err)
	assert.True(t, outcome.NewCompletion)
	assert.Equal(t, 2, outcome.Session.CurrentStage)
}

func TestPostbackRejectsWrongTaskType(t *testing.T) {
	h := newHarness(t)
	h.seedGateway(t, quickDwellGateway("gw_p13"), "provider-secret")

	sessionID := h.verifiedSession(t, "gw_p13", nil)
	_, err := h.progression.StartTasks(sessionID)
	require.NoError(t, err)

	_, err = h.progression.HandlePostback("gw_p13", sessionID, "task-1-1", "provider-secret")
	assert.ErrorIs(t, err, gatewayerr.ErrValidationFailed)
}

func TestExternallyValidatedRejectsBareCompletion(t *testing.T) {
	h := newHarness(t)

	def := quickDwellGateway("gw_p14")
	def.Stages[0].Tasks[0] = gateway.Task{Ordinal: 1, Type: gateway.TaskExternallyValidated, Content: "https://provider.example/offer"}
	h.seedGateway(t, def, "provider-secret")

	sessionID := h.verifiedSession(t, "gw_p14", nil)
	_, err := h.progression.StartTasks(sessionID)
	require.NoError(t, err)
	_, err = h.progression.StartTask(sessionID, "task-1-1")
	require.NoError(t, err)

	_, err = h.progression.CompleteTask(sessionID, "task-1-1", nil)
	assert.ErrorIs(t, err, gatewayerr.ErrExternalProvider)
}

func TestRepeatCompletionIsIdempotent(t *testing.T) {
	h := newHarness(t)

	def := quickDwellGateway("gw_p15")
	def.Stages[0].Tasks = append(def.Stages[0].Tasks, gateway.Task{
		Ordinal: 2, Type: gateway.TaskInterstitialAd, MinDwellSeconds: 1,
	})
	h.seedGateway(t, def, "")

	sessionID := h.verifiedSession(t, "gw_p15", nil)
	_, err := h.progression.StartTasks(sessionID)
	require.NoError(t, err)
	_, err = h.progression.StartTask(sessionID, "task-1-1")
	require.NoError(t, err)

	first, err := h.progression.CompleteTask(sessionID, "task-1-1", nil)
	require.NoError(t, err)
	assert.True(t, first.NewCompletion)
	assert.False(t, first.StageComplete)

	second, err := h.progression.CompleteTask(sessionID, "task-1-1", nil)
	require.NoError(t, err)
	assert.False(t, second.NewCompletion)
	assert.Equal(t, 1, second.Session.CurrentStage)

	completions := h.broadcaster.eventsOfType(events.EventTaskCompleted)
	assert.Len(t, completions, 1)
}
