package messaging

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/manager"
	"github.com/gorilla/websocket"
)

// OpsClient represents a single connected ops dashboard client.
type OpsClient struct {
	Conn *websocket.Conn
	Send chan []byte
}

// GatewayStats describes live progress through one gateway's funnel.
type GatewayStats struct {
	GatewayID      string      `json:"gatewayId"`
	TotalSessions  int         `json:"totalSessions"`
	StageOccupancy map[int]int `json:"stageOccupancy"`
}

// OpsStatsPayload is the complete data structure sent to the dashboard on each tick.
type OpsStatsPayload struct {
	Timestamp     time.Time      `json:"timestamp"`
	TotalSessions int            `json:"totalSessions"`
	Gateways      []GatewayStats `json:"gateways"`
	CacheHealth   map[string]any `json:"cacheHealth"`
}

// OpsBroadcaster manages all connected ops clients and broadcasts funnel
// statistics on a fixed tick.
type OpsBroadcaster struct {
	clients      map[*OpsClient]bool
	register     chan *OpsClient
	unregister   chan *OpsClient
	cacheManager *manager.Manager
	mu           sync.RWMutex
}

// NewOpsBroadcaster creates a new broadcaster instance.
func NewOpsBroadcaster(cm *manager.Manager) *OpsBroadcaster {
	return &OpsBroadcaster{
		clients:      make(map[*OpsClient]bool),
		register:     make(chan *OpsClient),
		unregister:   make(chan *OpsClient),
		cacheManager: cm,
	}
}

// Run starts the broadcaster's main loop. This should be run as a goroutine.
func (b *OpsBroadcaster) Run() {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			log.Printf("Ops client registered (%d connected)", len(b.clients))
			b.mu.Unlock()

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client.Send)
			}
			log.Printf("Ops client unregistered (%d connected)", len(b.clients))
			b.mu.Unlock()

		case <-ticker.C:
			b.broadcastStats()
		}
	}
}

// Register queues a client for registration.
func (b *OpsBroadcaster) Register(client *OpsClient) {
	b.register <- client
}

// Unregister queues a client for unregistration.
func (b *OpsBroadcaster) Unregister(client *OpsClient) {
	b.unregister <- client
}

// broadcastStats gathers and sends funnel statistics to all connected clients.
func (b *OpsBroadcaster) broadcastStats() {
	b.mu.RLock()
	connected := len(b.clients)
	b.mu.RUnlock()
	if connected == 0 {
		return
	}

	payload := b.buildPayload()

	message, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshaling ops stats: %v", err)
		return
	}

	b.mu.RLock()
	for client := range b.clients {
		select {
		case client.Send <- message:
		default:
			// Slow client; this tick is skipped for it.
		}
	}
	b.mu.RUnlock()
}

// buildPayload assembles the per-gateway stage occupancy snapshot.
func (b *OpsBroadcaster) buildPayload() OpsStatsPayload {
	occupancy := b.cacheManager.Sessions().StageOccupancy()

	gateways := make([]GatewayStats, 0, len(occupancy))
	totalSessions := 0
	for gatewayID, stages := range occupancy {
		total := 0
		for _, count := range stages {
			total += count
		}
		totalSessions += total
		gateways = append(gateways, GatewayStats{
			GatewayID:      gatewayID,
			TotalSessions:  total,
			StageOccupancy: stages,
		})
	}

	return OpsStatsPayload{
		Timestamp:     time.Now().UTC(),
		TotalSessions: totalSessions,
		Gateways:      gateways,
		CacheHealth:   b.cacheManager.Health(),
	}
}
