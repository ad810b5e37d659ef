// Package gateway defines the application's core gateway domain entities.
package gateway

import "time"

// TaskType enumerates the closed set of supported task completion mechanisms.
type TaskType string

const (
	TaskDwellRedirect      TaskType = "dwell-redirect"
	TaskInterstitialAd     TaskType = "interstitial-ad"
	TaskExternallyValidated TaskType = "externally-validated"
	TaskAutoTagRedirect    TaskType = "auto-tag-redirect"
	TaskFooterValidated    TaskType = "footer-validated"
)

// RewardKind distinguishes redirect rewards from opaque text payloads.
type RewardKind string

const (
	RewardRedirect RewardKind = "redirect"
	RewardPayload  RewardKind = "payload"
)

// WindowUnit is the accounting period for completion quotas.
type WindowUnit string

const (
	WindowHour  WindowUnit = "hour"
	WindowDay   WindowUnit = "day"
	WindowWeek  WindowUnit = "week"
	WindowMonth WindowUnit = "month"
)

const (
	// MaxStages bounds the stage sequence of a definition.
	MaxStages = 5
	// MaxTasksPerStage bounds the task sequence of a stage.
	MaxTasksPerStage = 5
)

// Definition is the immutable, author-authored shape of a gateway.
type Definition struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	CreatorID      string    `json:"creatorId"`
	CreatorEmail   *string   `json:"creatorEmail,omitempty"`
	Stages         []Stage   `json:"stages"`
	Reward         Reward    `json:"reward"`
	Settings       Settings  `json:"settings"`
	PostbackSecret *string   `json:"-"` // bcrypt hash, never serialized outward
	Created        time.Time `json:"created"`
}

// Stage is an ordered group of tasks; every task must complete before advancing.
type Stage struct {
	Ordinal int    `json:"ordinal"`
	Tasks   []Task `json:"tasks"`
}

// Task is a single monetized step within a stage.
type Task struct {
	Ordinal         int      `json:"ordinal"`
	Type            TaskType `json:"type"`
	Content         string   `json:"content"` // type-specific: target URL, media id
	MinDwellSeconds int      `json:"minDwellSeconds"`
}

// Reward is what a completed session releases.
type Reward struct {
	Kind  RewardKind `json:"kind"`
	Value string     `json:"value"`
}

// Settings carries per-gateway policy flags.
type Settings struct {
	RateLimit           RateLimit `json:"rateLimit"`
	BlockVPN            bool      `json:"blockVpn"`
	AllowSubscriberSkip bool      `json:"allowSubscriberSkip"`
}

// RateLimit is the per-gateway completion quota.
type RateLimit struct {
	Enabled        bool       `json:"enabled"`
	MaxCompletions int        `json:"maxCompletions"`
	WindowUnit     WindowUnit `json:"windowUnit"`
}

// TaskID returns the canonical identifier for a task within a definition,
// "task-<stage>-<ordinal>".
func (d *Definition) TaskID(stageOrdinal, taskOrdinal int) string {
	return TaskID(stageOrdinal, taskOrdinal)
}

// StageByOrdinal returns the stage with the given ordinal, or nil.
func (d *Definition) StageByOrdinal(ordinal int) *Stage {
	for i := range d.Stages {
		if d.Stages[i].Ordinal == ordinal {
			return &d.Stages[i]
		}
	}
	return nil
}

// TaskByID resolves a canonical task id to its definition, or nil.
func (d *Definition) TaskByID(taskID string) *Task {
	stageOrdinal, taskOrdinal, ok := ParseTaskID(taskID)
	if !ok {
		return nil
	}
	stage := d.StageByOrdinal(stageOrdinal)
	if stage == nil {
		return nil
	}
	for i := range stage.Tasks {
		if stage.Tasks[i].Ordinal == taskOrdinal {
			return &stage.Tasks[i]
		}
	}
	return nil
}

// ResolveGlobalOrdinal maps a gateway-global task ordinal (as carried by
// redirect callbacks) to its stage and canonical task id. Ordinals count
// tasks in definition order starting at 1.
func (d *Definition) ResolveGlobalOrdinal(n int) (stageOrdinal int, taskID string, ok bool) {
	if n < 1 {
		return 0, "", false
	}
	count := 0
	for _, stage := range d.Stages {
		for _, task := range stage.Tasks {
			count++
			if count == n {
				return stage.Ordinal, TaskID(stage.Ordinal, task.Ordinal), true
			}
		}
	}
	return 0, "", false
}

// GlobalOrdinalOf is the inverse of ResolveGlobalOrdinal: it maps a canonical
// task id to its gateway-global ordinal.
func (d *Definition) GlobalOrdinalOf(taskID string) (int, bool) {
	count := 0
	for _, stage := range d.Stages {
		for _, task := range stage.Tasks {
			count++
			if TaskID(stage.Ordinal, task.Ordinal) == taskID {
				return count, true
			}
		}
	}
	return 0, false
}

// StageTaskIDs returns the canonical ids of every task in a stage.
func (d *Definition) StageTaskIDs(stageOrdinal int) []string {
	stage := d.StageByOrdinal(stageOrdinal)
	if stage == nil {
		return nil
	}
	ids := make([]string, 0, len(stage.Tasks))
	for _, task := range stage.Tasks {
		ids = append(ids, TaskID(stageOrdinal, task.Ordinal))
	}
	return ids
}
