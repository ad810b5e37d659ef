// Package interfaces defines cache operation contracts for gateway state management.
package interfaces

import (
	"time"

	"github.com/NexusProtocols/gateway-go/internal/domain/entities/gateway"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/types"
)

// SessionCache defines operations for gateway session state caching
type SessionCache interface {
	Create(gatewayID string, userID *string) *types.GatewaySession
	Get(sessionID string) (*types.GatewaySession, bool)
	MarkVerified(sessionID string) (*types.GatewaySession, error)
	RecordTaskStart(sessionID, taskID string) (*types.GatewaySession, error)
	ApplyTaskCompletion(sessionID string, stageOrdinal int, taskID string) (*types.GatewaySession, bool, error)
	ConsumeCallbackID(sessionID, jti string) (bool, error)
	AdvanceStage(sessionID string, targetStage int) (*types.GatewaySession, error)
	MarkRewarded(sessionID string, result *types.RewardResult) (*types.RewardResult, bool, error)
	Merge(sessionID string, currentStage int, completedTaskIDs []string, def *gateway.Definition) (*types.GatewaySession, error)
	GetSessionsByGateway(gatewayID string) []string
	Remove(sessionID string)
	PurgeExpired() int
	StageOccupancy() map[string]map[int]int
	Count() int
}

// DefinitionCache defines operations for gateway definition caching
type DefinitionCache interface {
	Get(gatewayID string) (*gateway.Definition, bool)
	Set(def *gateway.Definition)
	LoadAll(defs []*gateway.Definition)
	Invalidate(gatewayID string)
	Count() int
}

// Cache is the main interface that combines all cache operations
type Cache interface {
	Sessions() SessionCache
	Definitions() DefinitionCache
	GetMemoryStats() map[string]any
	Health() map[string]any
}

type CacheStats struct {
	Hits   int   `json:"hits"`
	Misses int   `json:"misses"`
	Size   int64 `json:"size"`
}

type CacheTTL time.Duration

const (
	TTLNever     CacheTTL = CacheTTL(0)
	TTL1Minute   CacheTTL = CacheTTL(time.Minute)
	TTL5Minutes  CacheTTL = CacheTTL(5 * time.Minute)
	TTL15Minutes CacheTTL = CacheTTL(15 * time.Minute)
	TTL1Hour     CacheTTL = CacheTTL(time.Hour)
	TTL24Hours   CacheTTL = CacheTTL(24 * time.Hour)
)
