// Package messaging provides the concrete implementation of the SSE broadcaster.
package messaging

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/NexusProtocols/gateway-go/internal/domain/events"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
)

// SSEBroadcaster manages session-specific SSE connections for live progress
// updates. A session can have multiple watchers (tabs).
type SSEBroadcaster struct {
	sessions map[string][]chan string // sessionId -> []channels
	mu       sync.Mutex
	logger   *logging.ChanneledLogger
}

var (
	globalBroadcaster *SSEBroadcaster
	broadcasterOnce   sync.Once
)

// NewSSEBroadcaster creates the singleton SSEBroadcaster instance.
func NewSSEBroadcaster(logger *logging.ChanneledLogger) *SSEBroadcaster {
	broadcasterOnce.Do(func() {
		globalBroadcaster = &SSEBroadcaster{
			sessions: make(map[string][]chan string),
			logger:   logger,
		}
	})
	return globalBroadcaster
}

// AddClient registers a new SSE watcher for a session.
func (b *SSEBroadcaster) AddClient(sessionID string) chan string {
	ch := make(chan string, 10)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.sessions[sessionID] = append(b.sessions[sessionID], ch)

	b.logger.SSE().Debug("SSE client registered", "sessionId", sessionID)
	return ch
}

// RemoveClient removes an SSE watcher from a session.
func (b *SSEBroadcaster) RemoveClient(ch chan string, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if watchers, exists := b.sessions[sessionID]; exists {
		newWatchers := make([]chan string, 0, len(watchers)-1)
		for _, client := range watchers {
			if client != ch {
				newWatchers = append(newWatchers, client)
			}
		}
		if len(newWatchers) == 0 {
			delete(b.sessions, sessionID)
		} else {
			b.sessions[sessionID] = newWatchers
		}
	}
	b.logger.SSE().Debug("SSE client unregistered", "sessionId", sessionID)
}

// GetSessionConnectionCount returns the watcher count for a session.
func (b *SSEBroadcaster) GetSessionConnectionCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions[sessionID])
}

// BroadcastProgress sends a progress event to every watcher of a session.
func (b *SSEBroadcaster) BroadcastProgress(sessionID string, event events.ProgressEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.SSE().Error("Panic recovered in BroadcastProgress", "error", r, "sessionId", sessionID)
		}
	}()

	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.SSE().Error("Failed to marshal progress event", "error", err, "sessionId", sessionID)
		return
	}
	message := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)

	b.logger.SSE().Debug("Broadcasting to session", "message", strings.ReplaceAll(message, "\n", "\\n"), "sessionId", sessionID)

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.sessions[sessionID] {
		select {
		case ch <- message:
		default:
			b.logger.SSE().Warn("SSE channel full, message dropped", "sessionId", sessionID)
		}
	}
}

// HasWatchers checks if any watcher is connected for a session.
func (b *SSEBroadcaster) HasWatchers(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions[sessionID]) > 0
}
