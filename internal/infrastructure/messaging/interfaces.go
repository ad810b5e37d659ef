// Package messaging defines interfaces for real-time communication.
package messaging

import "github.com/NexusProtocols/gateway-go/internal/domain/events"

// Broadcaster defines the interface for managing SSE client connections and broadcasting messages.
type Broadcaster interface {
	AddClient(sessionID string) chan string
	RemoveClient(ch chan string, sessionID string)
	GetSessionConnectionCount(sessionID string) int
	BroadcastProgress(sessionID string, event events.ProgressEvent)
	HasWatchers(sessionID string) bool
}
