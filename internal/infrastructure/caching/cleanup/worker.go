// Package cleanup provides background worker
package cleanup

import (
	"context"
	"log"
	"time"

	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/manager"
)

// Worker handles background cache cleanup operations
type Worker struct {
	cache  *manager.Manager
	config *Config
}

// NewWorker creates a new cleanup worker with injected configuration
func NewWorker(cache *manager.Manager, config *Config) *Worker {
	return &Worker{
		cache:  cache,
		config: config,
	}
}

// Start begins the cleanup worker routine, using the configured interval
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.CleanupInterval)
	defer ticker.Stop()

	log.Printf("Cache cleanup worker started (interval: %v, verbose: %v)",
		w.config.CleanupInterval, w.config.VerboseReporting)

	for {
		select {
		case <-ctx.Done():
			log.Println("Cache cleanup worker stopping...")
			return
		case <-ticker.C:
			w.performCleanup()
		}
	}
}

// performCleanup purges expired sessions and reports the result
func (w *Worker) performCleanup() {
	start := time.Now()
	reporter := NewReporter(w.cache)

	if w.config.VerboseReporting {
		reporter.LogStage("PERIODIC CACHE CLEANUP")
		reporter.LogReport(reporter.GenerateReport())
	}

	evicted := w.cache.PurgeExpiredSessions()

	duration := time.Since(start)
	if evicted > 0 {
		reporter.LogSuccess("Cache cleanup finished: %d expired sessions evicted in %v", evicted, duration)
	} else if w.config.VerboseReporting {
		reporter.LogInfo("Cache cleanup completed - no expired sessions found (%v)", duration)
	}
}
