package gateway

import (
	"fmt"
	"time"
)

// AuthoredDefinition is the author-facing JSON shape. Authors pick a task
// count and an ad level per stage; the level expands into a fixed task-type
// sequence. This is the read-only input contract of the core.
type AuthoredDefinition struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	CreatorID    string          `json:"creatorId"`
	CreatorEmail *string         `json:"creatorEmail,omitempty"`
	Stages       []AuthoredStage `json:"stages"`
	Reward       AuthoredReward  `json:"reward"`
	Settings     AuthoredSettings `json:"settings"`
}

// AuthoredStage selects how many tasks a stage has and how aggressive they are.
type AuthoredStage struct {
	TaskCount int `json:"taskCount"`
	AdLevel   int `json:"adLevel"`
}

// AuthoredReward uses the author vocabulary: url or paste.
type AuthoredReward struct {
	Type  string `json:"type"` // "url" | "paste"
	Value string `json:"value"`
}

// AuthoredSettings mirrors the author settings JSON.
type AuthoredSettings struct {
	RateLimit struct {
		Enabled bool   `json:"enabled"`
		Count   int    `json:"count"`
		Period  string `json:"period"` // hour|day|week|month
	} `json:"rateLimit"`
	BlockVPN            bool `json:"blockVpn"`
	AllowSubscriberSkip bool `json:"allowSubscriberSkip"`
}

// adLevelSequences maps each ad level to the task-type rotation used to fill
// a stage. Higher levels lean on externally confirmed types.
var adLevelSequences = map[int][]TaskType{
	0: {TaskDwellRedirect, TaskFooterValidated},
	1: {TaskInterstitialAd, TaskDwellRedirect, TaskFooterValidated},
	2: {TaskExternallyValidated, TaskAutoTagRedirect, TaskInterstitialAd},
}

const defaultMinDwellSeconds = 10

// Expand converts the authored shape into a full Definition, validating the
// stage and task bounds.
func (a *AuthoredDefinition) Expand() (*Definition, error) {
	if len(a.Stages) == 0 || len(a.Stages) > MaxStages {
		return nil, fmt.Errorf("gateway %s: stage count %d out of range 1..%d", a.ID, len(a.Stages), MaxStages)
	}

	var kind RewardKind
	switch a.Reward.Type {
	case "url":
		kind = RewardRedirect
	case "paste":
		kind = RewardPayload
	default:
		return nil, fmt.Errorf("gateway %s: unknown reward type %q", a.ID, a.Reward.Type)
	}

	def := &Definition{
		ID:           a.ID,
		Title:        a.Title,
		CreatorID:    a.CreatorID,
		CreatorEmail: a.CreatorEmail,
		Reward:       Reward{Kind: kind, Value: a.Reward.Value},
		Settings: Settings{
			RateLimit: RateLimit{
				Enabled:        a.Settings.RateLimit.Enabled,
				MaxCompletions: a.Settings.RateLimit.Count,
				WindowUnit:     WindowUnit(a.Settings.RateLimit.Period),
			},
			BlockVPN:            a.Settings.BlockVPN,
			AllowSubscriberSkip: a.Settings.AllowSubscriberSkip,
		},
		Created: time.Now().UTC(),
	}

	for i, authored := range a.Stages {
		if authored.TaskCount < 1 || authored.TaskCount > MaxTasksPerStage {
			return nil, fmt.Errorf("gateway %s: stage %d task count %d out of range 1..%d", a.ID, i+1, authored.TaskCount, MaxTasksPerStage)
		}
		sequence, exists := adLevelSequences[authored.AdLevel]
		if !exists {
			return nil, fmt.Errorf("gateway %s: stage %d unknown ad level %d", a.ID, i+1, authored.AdLevel)
		}

		stage := Stage{Ordinal: i + 1}
		for t := 0; t < authored.TaskCount; t++ {
			stage.Tasks = append(stage.Tasks, Task{
				Ordinal:         t + 1,
				Type:            sequence[t%len(sequence)],
				MinDwellSeconds: defaultMinDwellSeconds,
			})
		}
		def.Stages = append(def.Stages, stage)
	}

	return def, nil
}
