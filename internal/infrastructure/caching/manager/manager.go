// Package manager provides centralized cache operations by delegating to specialized stores.
package manager

import (
	"runtime"
	"sync"
	"time"

	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/interfaces"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/stores"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
	"github.com/NexusProtocols/gateway-go/pkg/config"
)

// Interface assertion to ensure Manager implements the cache contract.
var _ interfaces.Cache = (*Manager)(nil)

// Manager provides centralized cache operations by delegating to specialized stores.
type Manager struct {
	Mu               sync.RWMutex
	LastAccessed     time.Time
	sessionsStore    *stores.SessionsStore
	definitionsStore *stores.DefinitionsStore
	logger           *logging.ChanneledLogger
}

func NewManager(logger *logging.ChanneledLogger) *Manager {
	if logger != nil {
		logger.Cache().Info("Initializing cache manager", "stores", []string{"sessions", "definitions"})
	}

	return &Manager{
		LastAccessed:     time.Now().UTC(),
		sessionsStore:    stores.NewSessionsStore(config.SessionTTL, logger),
		definitionsStore: stores.NewDefinitionsStore(config.DefinitionCacheTTL, logger),
		logger:           logger,
	}
}

// Sessions returns the session state store.
func (m *Manager) Sessions() interfaces.SessionCache {
	m.touch()
	return m.sessionsStore
}

// Definitions returns the gateway definition store.
func (m *Manager) Definitions() interfaces.DefinitionCache {
	m.touch()
	return m.definitionsStore
}

func (m *Manager) touch() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.LastAccessed = time.Now().UTC()
}

// PurgeExpiredSessions evicts expired sessions and returns the evicted count.
func (m *Manager) PurgeExpiredSessions() int {
	return m.sessionsStore.PurgeExpired()
}

// GetMemoryStats returns memory usage statistics for monitoring.
func (m *Manager) GetMemoryStats() map[string]any {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.Mu.RLock()
	lastAccessed := m.LastAccessed
	m.Mu.RUnlock()

	return map[string]any{
		"sessions":       m.sessionsStore.Count(),
		"definitions":    m.definitionsStore.Count(),
		"lastAccessed":   lastAccessed,
		"allocMB":        memStats.Alloc / (1024 * 1024),
		"sysMB":          memStats.Sys / (1024 * 1024),
		"numGC":          memStats.NumGC,
		"maxSessions":    config.MaxSessionsInMemory,
		"sessionTTL":     config.SessionTTL.String(),
		"definitionTTL":  config.DefinitionCacheTTL.String(),
	}
}

// Health reports cache health for the ops endpoint.
func (m *Manager) Health() map[string]any {
	sessionCount := m.sessionsStore.Count()
	status := "healthy"
	if sessionCount >= config.MaxSessionsInMemory {
		status = "saturated"
	}

	return map[string]any{
		"status":      status,
		"sessions":    sessionCount,
		"definitions": m.definitionsStore.Count(),
	}
}
