// Package types defines session state and cache data structures.
package types

import (
	"sync"
	"time"

	"github.com/NexusProtocols/gateway-go/internal/domain/entities/gateway"
)

// Stage sentinels. A fresh session sits below the first real stage until the
// verification gate passes; stage 0 is the verified pre-stage before tasks
// begin.
const (
	StageUnverified = -1
	StagePre        = 0
)

// GatewaySession is the durable anchor of a visitor's progress through a
// gateway. It is the only state that survives full-page navigation away to
// ad networks and back, so everything the client displays is re-derived
// from it.
type GatewaySession struct {
	SessionID        string               `json:"sessionId"`
	GatewayID        string               `json:"gatewayId"`
	UserID           *string              `json:"userId,omitempty"`
	Verified         bool                 `json:"verified"`
	CurrentStage     int                  `json:"currentStage"`
	CompletedTaskIDs map[string]bool      `json:"completedTaskIds"`
	TaskStartedAt    map[string]time.Time `json:"taskStartedAt,omitempty"`
	UsedCallbackIDs  map[string]bool      `json:"-"`
	RewardedAt       *time.Time           `json:"rewardedAt,omitempty"`
	RewardResult     *RewardResult        `json:"-"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
	ExpiresAt        time.Time            `json:"expiresAt"`
}

// RewardResult is the computed, stored outcome of reward dispensation.
// Repeat dispense calls for a session return this exact value.
type RewardResult struct {
	Kind    gateway.RewardKind `json:"kind"`
	URL     string             `json:"url,omitempty"`
	Content string             `json:"content,omitempty"`
	Token   string             `json:"token,omitempty"`
}

// IsExpired reports whether the session is past its TTL at the given instant.
func (s *GatewaySession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// CompletedList returns the completed task ids as a sorted-stable slice for
// JSON responses. Order follows insertion-independent map iteration, so
// callers needing determinism sort it themselves.
func (s *GatewaySession) CompletedList() []string {
	ids := make([]string, 0, len(s.CompletedTaskIDs))
	for id := range s.CompletedTaskIDs {
		ids = append(ids, id)
	}
	return ids
}

// SessionStateCache holds all live gateway sessions.
type SessionStateCache struct {
	Sessions         map[string]*GatewaySession // sessionId -> session
	GatewayToSessions map[string][]string       // gatewayId -> sessionIds, inverted index
	LastLoaded       time.Time
	Mu               sync.RWMutex // Exported for access
}

// DefinitionCache holds gateway definitions loaded from the catalog.
type DefinitionCache struct {
	Definitions map[string]*gateway.Definition // gatewayId -> definition
	LastLoaded  time.Time
	Mu          sync.RWMutex
}
