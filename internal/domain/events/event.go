// Package events defines the progress events pushed to session watchers.
package events

// Progress event types emitted over the watch stream.
const (
	EventTaskCompleted = "task_completed"
	EventStageAdvanced = "stage_advanced"
	EventRewarded      = "rewarded"
	EventRateLimited   = "rate_limited"
)

// ProgressEvent is the payload pushed to session watchers when gateway
// progress changes.
type ProgressEvent struct {
	Type           string   `json:"type"`
	SessionID      string   `json:"sessionId"`
	GatewayID      string   `json:"gatewayId"`
	CurrentStage   int      `json:"currentStage"`
	CompletedTasks []string `json:"completedTasks,omitempty"`
	TaskID         string   `json:"taskId,omitempty"`
	ResetAt        string   `json:"resetAt,omitempty"`
}
