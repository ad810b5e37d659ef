// Package stores provides concrete cache store implementations
package stores

import (
	"time"

	"github.com/NexusProtocols/gateway-go/internal/domain/entities/gateway"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/types"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
)

// DefinitionsStore caches gateway definitions loaded from the catalog.
// Definitions are immutable once published, so a simple TTL reload is enough.
type DefinitionsStore struct {
	cache  *types.DefinitionCache
	ttl    time.Duration
	logger *logging.ChanneledLogger
}

// NewDefinitionsStore creates a new definitions cache store
func NewDefinitionsStore(ttl time.Duration, logger *logging.ChanneledLogger) *DefinitionsStore {
	if logger != nil {
		logger.Cache().Info("Initializing definitions cache store", "ttl", ttl)
	}
	return &DefinitionsStore{
		cache: &types.DefinitionCache{
			Definitions: make(map[string]*gateway.Definition),
			LastLoaded:  time.Now().UTC(),
		},
		ttl:    ttl,
		logger: logger,
	}
}

// Get retrieves a cached definition by gateway ID.
func (ds *DefinitionsStore) Get(gatewayID string) (*gateway.Definition, bool) {
	start := time.Now()

	ds.cache.Mu.RLock()
	defer ds.cache.Mu.RUnlock()

	if time.Since(ds.cache.LastLoaded) > ds.ttl {
		if ds.logger != nil {
			ds.logger.Cache().Debug("Cache operation", "operation", "get", "type", "definition", "gatewayId", gatewayID, "hit", false, "reason", "expired", "duration", time.Since(start))
		}
		return nil, false
	}

	def, found := ds.cache.Definitions[gatewayID]
	if ds.logger != nil {
		ds.logger.Cache().Debug("Cache operation", "operation", "get", "type", "definition", "gatewayId", gatewayID, "hit", found, "duration", time.Since(start))
	}
	return def, found
}

// Set stores a definition in the cache.
func (ds *DefinitionsStore) Set(def *gateway.Definition) {
	ds.cache.Mu.Lock()
	defer ds.cache.Mu.Unlock()

	ds.cache.Definitions[def.ID] = def
	ds.cache.LastLoaded = time.Now().UTC()

	if ds.logger != nil {
		ds.logger.Cache().Debug("Cache operation", "operation", "set", "type", "definition", "gatewayId", def.ID)
	}
}

// LoadAll bulk loads definitions, replacing the cache contents.
func (ds *DefinitionsStore) LoadAll(defs []*gateway.Definition) {
	start := time.Now()

	ds.cache.Mu.Lock()
	defer ds.cache.Mu.Unlock()

	ds.cache.Definitions = make(map[string]*gateway.Definition, len(defs))
	for _, def := range defs {
		ds.cache.Definitions[def.ID] = def
	}
	ds.cache.LastLoaded = time.Now().UTC()

	if ds.logger != nil {
		ds.logger.Cache().Debug("Cache operation", "operation", "bulk_load", "type", "definitions", "count", len(defs), "duration", time.Since(start))
	}
}

// Invalidate drops a single definition from the cache.
func (ds *DefinitionsStore) Invalidate(gatewayID string) {
	ds.cache.Mu.Lock()
	defer ds.cache.Mu.Unlock()

	delete(ds.cache.Definitions, gatewayID)
}

// Count returns the number of cached definitions.
func (ds *DefinitionsStore) Count() int {
	ds.cache.Mu.RLock()
	defer ds.cache.Mu.RUnlock()
	return len(ds.cache.Definitions)
}
