package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoStageDefinition() *Definition {
	return &Definition{
		ID:    "gw_test",
		Title: "Test Gateway",
		Stages: []Stage{
			{Ordinal: 1, Tasks: []Task{
				{Ordinal: 1, Type: TaskDwellRedirect},
				{Ordinal: 2, Type: TaskFooterValidated},
			}},
			{Ordinal: 2, Tasks: []Task{
				{Ordinal: 1, Type: TaskAutoTagRedirect},
				{Ordinal: 2, Type: TaskInterstitialAd},
			}},
		},
		Reward: Reward{Kind: RewardRedirect, Value: "https://example.com/file"},
	}
}

func TestTaskIDRoundTrip(t *testing.T) {
	id := TaskID(2, 3)
	assert.Equal(t, "task-2-3", id)

	stage, task, ok := ParseTaskID(id)
	require.True(t, ok)
	assert.Equal(t, 2, stage)
	assert.Equal(t, 3, task)
}

func TestParseTaskIDMalformed(t *testing.T) {
	for _, raw := range []string{"", "task-1", "task-a-1", "task-1-b", "step-1-1", "task-1-1-1"} {
		_, _, ok := ParseTaskID(raw)
		assert.False(t, ok, "expected %q to be rejected", raw)
	}
}

func TestStageByOrdinal(t *testing.T) {
	def := twoStageDefinition()

	stage := def.StageByOrdinal(2)
	require.NotNil(t, stage)
	assert.Equal(t, 2, stage.Ordinal)

	assert.Nil(t, def.StageByOrdinal(0))
	assert.Nil(t, def.StageByOrdinal(3))
}

func TestTaskByID(t *testing.T) {
	def := twoStageDefinition()

	task := def.TaskByID("task-2-1")
	require.NotNil(t, task)
	assert.Equal(t, TaskAutoTagRedirect, task.Type)

	assert.Nil(t, def.TaskByID("task-1-3"))
	assert.Nil(t, def.TaskByID("task-3-1"))
	assert.Nil(t, def.TaskByID("garbage"))
}

func TestResolveGlobalOrdinal(t *testing.T) {
	def := twoStageDefinition()

	cases := []struct {
		n       int
		stage   int
		taskID  string
	}{
		{1, 1, "task-1-1"},
		{2, 1, "task-1-2"},
		{3, 2, "task-2-1"},
		{4, 2, "task-2-2"},
	}
	for _, tc := range cases {
		stage, taskID, ok := def.ResolveGlobalOrdinal(tc.n)
		require.True(t, ok, "ordinal %d", tc.n)
		assert.Equal(t, tc.stage, stage)
		assert.Equal(t, tc.taskID, taskID)
	}

	_, _, ok := def.ResolveGlobalOrdinal(0)
	assert.False(t, ok)
	_, _, ok = def.ResolveGlobalOrdinal(5)
	assert.False(t, ok)
}

func TestGlobalOrdinalOfIsInverse(t *testing.T) {
	def := twoStageDefinition()

	for n := 1; n <= 4; n++ {
		_, taskID, ok := def.ResolveGlobalOrdinal(n)
		require.True(t, ok)

		back, ok := def.GlobalOrdinalOf(taskID)
		require.True(t, ok)
		assert.Equal(t, n, back)
	}

	_, ok := def.GlobalOrdinalOf("task-9-9")
	assert.False(t, ok)
}

func TestStageTaskIDs(t *testing.T) {
	def := twoStageDefinition()

	assert.Equal(t, []string{"task-1-1", "task-1-2"}, def.StageTaskIDs(1))
	assert.Equal(t, []string{"task-2-1", "task-2-2"}, def.StageTaskIDs(2))
	assert.Nil(t, def.StageTaskIDs(3))
}
