package stores

import (
	"sync"
	"testing"
	"time"

	"github.com/NexusProtocols/gateway-go/internal/domain/entities/gateway"
	"github.com/NexusProtocols/gateway-go/internal/domain/gatewayerr"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *SessionsStore {
	return NewSessionsStore(15*time.Minute, nil)
}

// mergeDefinition backs the merge tests: two tasks on stage one, one on
// stage two.
func mergeDefinition() *gateway.Definition {
	return &gateway.Definition{
		ID: "gw_1",
		Stages: []gateway.Stage{
			{Ordinal: 1, Tasks: []gateway.Task{
				{Ordinal: 1, Type: gateway.TaskDwellRedirect},
				{Ordinal: 2, Type: gateway.TaskFooterValidated},
			}},
			{Ordinal: 2, Tasks: []gateway.Task{
				{Ordinal: 1, Type: gateway.TaskAutoTagRedirect},
			}},
		},
	}
}

func TestCreateStartsUnverified(t *testing.T) {
	store := newTestStore()
	session := store.Create("gw_1", nil)

	assert.NotEmpty(t, session.SessionID)
	assert.Equal(t, "gw_1", session.GatewayID)
	assert.False(t, session.Verified)
	assert.Equal(t, types.StageUnverified, session.CurrentStage)
	assert.Empty(t, session.CompletedTaskIDs)

	got, found := store.Get(session.SessionID)
	require.True(t, found)
	assert.NotSame(t, session, got)
	assert.Equal(t, session.SessionID, got.SessionID)
	assert.Equal(t, session.CurrentStage, got.CurrentStage)
}

func TestGetReturnsDetachedCopy(t *testing.T) {
	store := newTestStore()
	session := store.Create("gw_1", nil)

	got, found := store.Get(session.SessionID)
	require.True(t, found)
	got.CompletedTaskIDs["task-1-1"] = true
	got.CurrentStage = 4

	again, found := store.Get(session.SessionID)
	require.True(t, found)
	assert.Empty(t, again.CompletedTaskIDs)
	assert.Equal(t, types.StageUnverified, again.CurrentStage)
}

func TestGetUnknownIsMiss(t *testing.T) {
	store := newTestStore()
	_, found := store.Get("sess_missing")
	assert.False(t, found)
}

func TestExpiredSessionReadsAsMiss(t *testing.T) {
	store := NewSessionsStore(time.Millisecond, nil)
	session := store.Create("gw_1", nil)

	time.Sleep(5 * time.Millisecond)

	_, found := store.Get(session.SessionID)
	assert.False(t, found)

	_, err := store.MarkVerified(session.SessionID)
	assert.ErrorIs(t, err, gatewayerr.ErrNotFound)
}

func TestMarkVerifiedMovesToPreStage(t *testing.T) {
	store := newTestStore()
	session := store.Create("gw_1", nil)

	verified, err := store.MarkVerified(session.SessionID)
	require.NoError(t, err)
	assert.True(t, verified.Verified)
	assert.Equal(t, types.StagePre, verified.CurrentStage)

	// Verifying twice is harmless and does not regress the stage.
	_, err = store.AdvanceStage(session.SessionID, 1)
	require.NoError(t, err)
	again, err := store.MarkVerified(session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.CurrentStage)
}

func TestApplyTaskCompletionIdempotent(t *testing.T) {
	store := newTestStore()
	session := store.Create("gw_1", nil)
	_, err := store.MarkVerified(session.SessionID)
	require.NoError(t, err)
	_, err = store.AdvanceStage(session.SessionID, 1)
	require.NoError(t, err)

	_, newly, err := store.ApplyTaskCompletion(session.SessionID, 1, "task-1-1")
	require.NoError(t, err)
	assert.True(t, newly)

	updated, newly, err := store.ApplyTaskCompletion(session.SessionID, 1, "task-1-1")
	require.NoError(t, err)
	assert.False(t, newly)
	assert.Len(t, updated.CompletedTaskIDs, 1)
}

func TestApplyTaskCompletionWrongStage(t *testing.T) {
	store := newTestStore()
	session := store.Create("gw_1", nil)
	_, err := store.MarkVerified(session.SessionID)
	require.NoError(t, err)
	_, err = store.AdvanceStage(session.SessionID, 1)
	require.NoError(t, err)

	_, _, err = store.ApplyTaskCompletion(session.SessionID, 2, "task-2-1")
	assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)
}

func TestAdvanceStageOnlySuccessor(t *testing.T) {
	store := newTestStore()
	session := store.Create("gw_1", nil)
	_, err := store.MarkVerified(session.SessionID)
	require.NoError(t, err)

	_, err = store.AdvanceStage(session.SessionID, 2)
	assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)

	advanced, err := store.AdvanceStage(session.SessionID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, advanced.CurrentStage)

	_, err = store.AdvanceStage(session.SessionID, 1)
	assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)
}

func TestAdvanceStageClearsStageState(t *testing.T) {
	store := newTestStore()
	session := store.Create("gw_1", nil)
	_, err := store.MarkVerified(session.SessionID)
	require.NoError(t, err)
	_, err = store.AdvanceStage(session.SessionID, 1)
	require.NoError(t, err)

	_, err = store.RecordTaskStart(session.SessionID, "task-1-1")
	require.NoError(t, err)
	_, _, err = store.ApplyTaskCompletion(session.SessionID, 1, "task-1-1")
	require.NoError(t, err)

	advanced, err := store.AdvanceStage(session.SessionID, 2)
	require.NoError(t, err)
	assert.Empty(t, advanced.CompletedTaskIDs)
	assert.Empty(t, advanced.TaskStartedAt)
}

func TestConsumeCallbackIDSingleUse(t *testing.T) {
	store := newTestStore()
	session := store.Create("gw_1", nil)

	fresh, err := store.ConsumeCallbackID(session.SessionID, "jti-1")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = store.ConsumeCallbackID(session.SessionID, "jti-1")
	require.NoError(t, err)
	assert.False(t, fresh)

	fresh, err = store.ConsumeCallbackID(session.SessionID, "jti-2")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMarkRewardedReplaysStoredResult(t *testing.T) {
	store := newTestStore()
	session := store.Create("gw_1", nil)

	first := &types.RewardResult{Kind: gateway.RewardRedirect, URL: "https://example.com/a?grant=x"}
	result, replay, err := store.MarkRewarded(session.SessionID, first)
	require.NoError(t, err)
	assert.False(t, replay)
	assert.Same(t, first, result)

	second := &types.RewardResult{Kind: gateway.RewardRedirect, URL: "https://example.com/b"}
	result, replay, err = store.MarkRewarded(session.SessionID, second)
	require.NoError(t, err)
	assert.True(t, replay)
	assert.Same(t, first, result)
}

func TestMergeIsCommutative(t *testing.T) {
	def := mergeDefinition()
	storeA := newTestStore()
	storeB := newTestStore()

	a := storeA.Create("gw_1", nil)
	b := storeB.Create("gw_1", nil)
	_, err := storeA.MarkVerified(a.SessionID)
	require.NoError(t, err)
	_, err = storeB.MarkVerified(b.SessionID)
	require.NoError(t, err)

	_, err = storeA.Merge(a.SessionID, 1, []string{"task-1-1"}, def)
	require.NoError(t, err)
	_, err = storeA.Merge(a.SessionID, 1, []string{"task-1-2"}, def)
	require.NoError(t, err)

	_, err = storeB.Merge(b.SessionID, 1, []string{"task-1-2"}, def)
	require.NoError(t, err)
	_, err = storeB.Merge(b.SessionID, 1, []string{"task-1-1"}, def)
	require.NoError(t, err)

	finalA, _ := storeA.Get(a.SessionID)
	finalB, _ := storeB.Get(b.SessionID)

	assert.Equal(t, finalA.CurrentStage, finalB.CurrentStage)
	assert.Equal(t, finalA.CompletedTaskIDs, finalB.CompletedTaskIDs)
	assert.Equal(t, 1, finalA.CurrentStage)
	assert.Len(t, finalA.CompletedTaskIDs, 2)
}

func TestMergeReplayConverges(t *testing.T) {
	def := mergeDefinition()
	store := newTestStore()
	session := store.Create("gw_1", nil)
	_, err := store.MarkVerified(session.SessionID)
	require.NoError(t, err)

	_, err = store.Merge(session.SessionID, 1, []string{"task-1-1"}, def)
	require.NoError(t, err)
	merged, err := store.Merge(session.SessionID, 1, []string{"task-1-1"}, def)
	require.NoError(t, err)

	assert.Equal(t, 1, merged.CurrentStage)
	assert.Len(t, merged.CompletedTaskIDs, 1)
}

func TestMergeLowerStageDoesNotRegress(t *testing.T) {
	def := mergeDefinition()
	store := newTestStore()
	session := store.Create("gw_1", nil)
	_, err := store.MarkVerified(session.SessionID)
	require.NoError(t, err)

	_, err = store.Merge(session.SessionID, 1, nil, def)
	require.NoError(t, err)
	_, err = store.Merge(session.SessionID, 2, []string{"task-1-1", "task-1-2"}, def)
	require.NoError(t, err)

	merged, err := store.Merge(session.SessionID, 1, []string{"task-1-1"}, def)
	require.NoError(t, err)
	assert.Equal(t, 2, merged.CurrentStage)
	// The stale stage one id stays out of the stage two set.
	assert.Empty(t, merged.CompletedTaskIDs)
}

func TestMergeCannotLeaveSentinel(t *testing.T) {
	def := mergeDefinition()
	store := newTestStore()
	session := store.Create("gw_1", nil)

	for _, stage := range []int{0, 1, 2} {
		_, err := store.Merge(session.SessionID, stage, []string{"task-1-1", "task-1-2", "task-2-1"}, def)
		assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)
	}

	got, found := store.Get(session.SessionID)
	require.True(t, found)
	assert.False(t, got.Verified)
	assert.Equal(t, types.StageUnverified, got.CurrentStage)
	assert.Empty(t, got.CompletedTaskIDs)
}

func TestMergeRejectsSkippedStage(t *testing.T) {
	def := mergeDefinition()
	store := newTestStore()
	session := store.Create("gw_1", nil)
	_, err := store.MarkVerified(session.SessionID)
	require.NoError(t, err)

	_, err = store.Merge(session.SessionID, 2, []string{"task-2-1"}, def)
	assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)

	got, found := store.Get(session.SessionID)
	require.True(t, found)
	assert.Equal(t, types.StagePre, got.CurrentStage)
	assert.Empty(t, got.CompletedTaskIDs)
}

func TestMergeAdvanceRequiresCoverage(t *testing.T) {
	def := mergeDefinition()
	store := newTestStore()
	session := store.Create("gw_1", nil)
	_, err := store.MarkVerified(session.SessionID)
	require.NoError(t, err)
	_, err = store.Merge(session.SessionID, 1, []string{"task-1-1"}, def)
	require.NoError(t, err)

	// task-1-2 is still open, so stage two is not earned yet.
	_, err = store.Merge(session.SessionID, 2, nil, def)
	assert.ErrorIs(t, err, gatewayerr.ErrInvalidTransition)
	got, _ := store.Get(session.SessionID)
	assert.Equal(t, 1, got.CurrentStage)
	assert.True(t, got.CompletedTaskIDs["task-1-1"])

	// The incoming snapshot may supply the missing completion itself.
	merged, err := store.Merge(session.SessionID, 2, []string{"task-1-2"}, def)
	require.NoError(t, err)
	assert.Equal(t, 2, merged.CurrentStage)
	assert.Empty(t, merged.CompletedTaskIDs)
}

func TestMergeFiltersOtherStageTasks(t *testing.T) {
	def := mergeDefinition()
	store := newTestStore()
	session := store.Create("gw_1", nil)
	_, err := store.MarkVerified(session.SessionID)
	require.NoError(t, err)
	_, err = store.Merge(session.SessionID, 1, nil, def)
	require.NoError(t, err)

	merged, err := store.Merge(session.SessionID, 1, []string{"task-1-1", "task-2-1"}, def)
	require.NoError(t, err)
	assert.True(t, merged.CompletedTaskIDs["task-1-1"])
	assert.False(t, merged.CompletedTaskIDs["task-2-1"])
	assert.Len(t, merged.CompletedTaskIDs, 1)
}

func TestConcurrentMergeAndReadSafe(t *testing.T) {
	def := mergeDefinition()
	store := newTestStore()
	session := store.Create("gw_1", nil)
	_, err := store.MarkVerified(session.SessionID)
	require.NoError(t, err)
	_, err = store.Merge(session.SessionID, 1, nil, def)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, _ = store.Merge(session.SessionID, 1, []string{"task-1-1"}, def)
				_, _, _ = store.ApplyTaskCompletion(session.SessionID, 1, "task-1-2")
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if got, found := store.Get(session.SessionID); found {
					_ = got.CompletedList()
				}
				store.StageOccupancy()
			}
		}()
	}
	wg.Wait()

	got, found := store.Get(session.SessionID)
	require.True(t, found)
	assert.True(t, got.CompletedTaskIDs["task-1-1"])
	assert.True(t, got.CompletedTaskIDs["task-1-2"])
}

func TestPurgeExpired(t *testing.T) {
	store := NewSessionsStore(time.Millisecond, nil)
	store.Create("gw_1", nil)
	store.Create("gw_1", nil)

	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 2, store.PurgeExpired())
	assert.Equal(t, 0, store.Count())
	assert.Empty(t, store.GetSessionsByGateway("gw_1"))
}

func TestRemoveAndGatewayIndex(t *testing.T) {
	store := newTestStore()
	a := store.Create("gw_1", nil)
	b := store.Create("gw_1", nil)

	ids := store.GetSessionsByGateway("gw_1")
	assert.ElementsMatch(t, []string{a.SessionID, b.SessionID}, ids)

	store.Remove(a.SessionID)
	assert.Equal(t, []string{b.SessionID}, store.GetSessionsByGateway("gw_1"))
	assert.Equal(t, 1, store.Count())
}

func TestStageOccupancy(t *testing.T) {
	store := newTestStore()
	a := store.Create("gw_1", nil)
	store.Create("gw_1", nil)
	store.Create("gw_2", nil)

	_, err := store.MarkVerified(a.SessionID)
	require.NoError(t, err)

	occupancy := store.StageOccupancy()
	assert.Equal(t, 1, occupancy["gw_1"][types.StageUnverified])
	assert.Equal(t, 1, occupancy["gw_1"][types.StagePre])
	assert.Equal(t, 1, occupancy["gw_2"][types.StageUnverified])
}
