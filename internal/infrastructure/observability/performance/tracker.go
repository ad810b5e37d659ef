// Package performance provides performance tracking and monitoring capabilities
// for gateway operations with real-time metrics.
package performance

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Tracker manages performance markers and provides metrics aggregation
type Tracker struct {
	markers    map[string]*Marker     // Active and completed markers by unique ID
	snapshots  []*PerformanceSnapshot // Historical performance snapshots
	alerts     []*PerformanceAlert    // Active performance alerts
	thresholds *AlertThresholds       // Configurable alert thresholds
	mu         sync.RWMutex           // Protects concurrent access
	started    time.Time              // When tracking started
	config     *TrackerConfig         // Tracker configuration
}

// TrackerConfig contains configuration options for the performance tracker
type TrackerConfig struct {
	MaxMarkers          int           `json:"maxMarkers"`          // Maximum number of markers to retain
	MaxSnapshots        int           `json:"maxSnapshots"`        // Maximum number of snapshots to retain
	MaxAlerts           int           `json:"maxAlerts"`           // Maximum number of alerts to retain
	SnapshotInterval    time.Duration `json:"snapshotInterval"`    // How often to take performance snapshots
	CleanupInterval     time.Duration `json:"cleanupInterval"`     // How often to clean up old data
	EnableDetailedStats bool          `json:"enableDetailedStats"` // Whether to collect detailed memory stats
	EnableAlerts        bool          `json:"enableAlerts"`        // Whether to generate performance alerts
}

// DefaultTrackerConfig returns a sensible default configuration
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		MaxMarkers:          10000,
		MaxSnapshots:        100,
		MaxAlerts:           500,
		SnapshotInterval:    time.Minute * 5,
		CleanupInterval:     time.Minute * 10,
		EnableDetailedStats: true,
		EnableAlerts:        true,
	}
}

// AlertThresholds defines performance thresholds for generating alerts
type AlertThresholds struct {
	// Response time thresholds
	SlowResponseThreshold     time.Duration `json:"slowResponseThreshold"`     // 500ms
	VerySlowResponseThreshold time.Duration `json:"verySlowResponseThreshold"` // 2s
	CriticalResponseThreshold time.Duration `json:"criticalResponseThreshold"` // 5s

	// Cache performance thresholds
	LowCacheHitRatio      float64 `json:"lowCacheHitRatio"`      // 0.85 (85%)
	CriticalCacheHitRatio float64 `json:"criticalCacheHitRatio"` // 0.70 (70%)

	// Memory thresholds (in MB)
	HighMemoryUsage     int64 `json:"highMemoryUsage"`     // 500MB
	CriticalMemoryUsage int64 `json:"criticalMemoryUsage"` // 1GB

	// Operation-specific thresholds
	SessionOperationThreshold time.Duration `json:"sessionOperationThreshold"` // 200ms
	TaskOperationThreshold    time.Duration `json:"taskOperationThreshold"`    // 100ms
	RewardOperationThreshold  time.Duration `json:"rewardOperationThreshold"`  // 1s
	DatabaseQueryThreshold    time.Duration `json:"databaseQueryThreshold"`    // 50ms
}

// DefaultAlertThresholds returns sensible default alert thresholds
func DefaultAlertThresholds() *AlertThresholds {
	return &AlertThresholds{
		SlowResponseThreshold:     time.Millisecond * 500,
		VerySlowResponseThreshold: time.Second * 2,
		CriticalResponseThreshold: time.Second * 5,
		LowCacheHitRatio:          0.85,
		CriticalCacheHitRatio:     0.70,
		HighMemoryUsage:           500 * 1024 * 1024,  // 500MB
		CriticalMemoryUsage:       1024 * 1024 * 1024, // 1GB
		SessionOperationThreshold: time.Millisecond * 200,
		TaskOperationThreshold:    time.Millisecond * 100,
		RewardOperationThreshold:  time.Second * 1,
		DatabaseQueryThreshold:    time.Millisecond * 50,
	}
}

// NewTracker creates a new performance tracker with the given configuration
func NewTracker(config *TrackerConfig) *Tracker {
	if config == nil {
		config = DefaultTrackerConfig()
	}

	tracker := &Tracker{
		markers:    make(map[string]*Marker),
		snapshots:  make([]*PerformanceSnapshot, 0),
		alerts:     make([]*PerformanceAlert, 0),
		thresholds: DefaultAlertThresholds(),
		started:    time.Now(),
		config:     config,
	}

	return tracker
}

// StartOperation creates and tracks a new performance marker for an operation
func (t *Tracker) StartOperation(operation, gatewayID string) *Marker {
	marker := &Marker{
		Operation: operation,
		GatewayID: gatewayID,
		StartTime: time.Now(),
		Metadata:  make(map[string]any),
		Success:   true, // Assume success until proven otherwise
	}

	// Generate unique ID for this marker
	markerID := fmt.Sprintf("%s_%s_%d", gatewayID, operation, time.Now().UnixNano())

	t.mu.Lock()
	t.markers[markerID] = marker
	t.mu.Unlock()

	return marker
}

// StartOperationWithContext creates a performance marker with context cancellation support
func (t *Tracker) StartOperationWithContext(ctx context.Context, operation, gatewayID string) *Marker {
	marker := t.StartOperation(operation, gatewayID)

	// Monitor context cancellation
	go func() {
		<-ctx.Done()
		if !marker.Completed {
			marker.SetError(ctx.Err())
			marker.Complete()
		}
	}()

	return marker
}

// CompleteOperation manually completes an operation and checks for alerts
func (t *Tracker) CompleteOperation(marker *Marker) {
	if marker == nil || marker.Completed {
		return
	}

	marker.Complete()

	// Check for performance alerts if enabled
	if t.config.EnableAlerts {
		t.checkForAlerts(marker)
	}
}

// checkForAlerts evaluates a completed marker against alert thresholds
func (t *Tracker) checkForAlerts(marker *Marker) {
	if marker == nil || !marker.Completed {
		return
	}

	alerts := t.evaluateThresholds(marker)

	t.mu.Lock()
	for _, alert := range alerts {
		t.alerts = append(t.alerts, alert)

		// Maintain max alerts limit
		if len(t.alerts) > t.config.MaxAlerts {
			// Remove oldest alerts
			t.alerts = t.alerts[len(t.alerts)-t.config.MaxAlerts:]
		}
	}
	t.mu.Unlock()
}

// evaluateThresholds checks a marker against all relevant thresholds
func (t *Tracker) evaluateThresholds(marker *Marker) []*PerformanceAlert {
	var alerts []*PerformanceAlert

	// Check general response time thresholds
	if marker.Duration > t.thresholds.CriticalResponseThreshold {
		alerts = append(alerts, t.createAlert(marker, AlertCritical,
			"Operation exceeded critical response time threshold"))
	} else if marker.Duration > t.thresholds.VerySlowResponseThreshold {
		alerts = append(alerts, t.createAlert(marker, AlertWarning,
			"Operation exceeded slow response time threshold"))
	}

	// Check operation-specific thresholds
	switch {
	case strings.Contains(marker.Operation, "session"):
		if marker.Duration > t.thresholds.SessionOperationThreshold {
			alerts = append(alerts, t.createAlert(marker, AlertWarning,
				"Session operation exceeded threshold"))
		}
	case strings.Contains(marker.Operation, "task"):
		if marker.Duration > t.thresholds.TaskOperationThreshold {
			alerts = append(alerts, t.createAlert(marker, AlertWarning,
				"Task operation exceeded threshold"))
		}
	case strings.Contains(marker.Operation, "reward"):
		if marker.Duration > t.thresholds.RewardOperationThreshold {
			alerts = append(alerts, t.createAlert(marker, AlertWarning,
				"Reward operation exceeded threshold"))
		}
	}

	// Check cache hit ratio
	if marker.CacheHits+marker.CacheMisses > 0 {
		hitRatio := marker.GetCacheHitRatio()
		if hitRatio < t.thresholds.CriticalCacheHitRatio {
			alerts = append(alerts, t.createAlert(marker, AlertCritical,
				"Cache hit ratio critically low"))
		} else if hitRatio < t.thresholds.LowCacheHitRatio {
			alerts = append(alerts, t.createAlert(marker, AlertWarning,
				"Cache hit ratio below optimal"))
		}
	}

	// Check memory usage
	memoryMB := marker.MemoryUsage / (1024 * 1024)
	if marker.MemoryUsage > t.thresholds.CriticalMemoryUsage {
		alerts = append(alerts, t.createAlert(marker, AlertCritical,
			fmt.Sprintf("Critical memory usage: %d MB", memoryMB)))
	} else if marker.MemoryUsage > t.thresholds.HighMemoryUsage {
		alerts = append(alerts, t.createAlert(marker, AlertWarning,
			fmt.Sprintf("High memory usage: %d MB", memoryMB)))
	}

	return alerts
}

// createAlert creates a new performance alert
func (t *Tracker) createAlert(marker *Marker, severity AlertSeverity, message string) *PerformanceAlert {
	return &PerformanceAlert{
		ID:        fmt.Sprintf("alert_%d", time.Now().UnixNano()),
		Timestamp: time.Now(),
		Severity:  severity,
		Operation: marker.Operation,
		Actual:    marker.Duration,
		Message:   message,
		Metadata: map[string]any{
			"gatewayId":     marker.GatewayID,
			"cacheHitRatio": marker.GetCacheHitRatio(),
			"memoryUsageMB": marker.MemoryUsage / (1024 * 1024),
			"success":       marker.Success,
		},
	}
}

// GetMetrics returns completed performance metrics
func (t *Tracker) GetMetrics() []Marker {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var metrics []Marker
	for _, marker := range t.markers {
		if marker.Completed {
			metrics = append(metrics, *marker)
		}
	}
	return metrics
}

// GetRecentMetrics returns metrics for operations completed within the specified duration
func (t *Tracker) GetRecentMetrics(within time.Duration) []Marker {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := time.Now().Add(-within)
	var metrics []Marker

	for _, marker := range t.markers {
		if marker.Completed && marker.EndTime.After(cutoff) {
			metrics = append(metrics, *marker)
		}
	}
	return metrics
}

// GetActiveOperations returns currently running operations
func (t *Tracker) GetActiveOperations() []Marker {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var active []Marker
	for _, marker := range t.markers {
		if !marker.Completed {
			metrics := *marker
			// Calculate current duration for active operations
			metrics.Duration = time.Since(marker.StartTime)
			active = append(active, metrics)
		}
	}
	return active
}

// GetAlerts returns all retained performance alerts
func (t *Tracker) GetAlerts() []*PerformanceAlert {
	t.mu.RLock()
	defer t.mu.RUnlock()

	alerts := make([]*PerformanceAlert, len(t.alerts))
	copy(alerts, t.alerts)
	return alerts
}

// TakeSnapshot creates a point-in-time performance snapshot
func (t *Tracker) TakeSnapshot() *PerformanceSnapshot {
	metrics := t.GetRecentMetrics(time.Minute * 5)
	activeOps := t.GetActiveOperations()

	snapshot := &PerformanceSnapshot{
		Timestamp:           time.Now(),
		ActiveOperations:    len(activeOps),
		CompletedOperations: len(metrics),
		OverallHealth:       t.calculateHealth(metrics, activeOps),
	}

	// Categorize metrics by operation type
	snapshot.Session = t.extractSessionMetrics(metrics)
	snapshot.Task = t.extractTaskMetrics(metrics)
	snapshot.Reward = t.extractRewardMetrics(metrics)

	t.mu.Lock()
	t.snapshots = append(t.snapshots, snapshot)

	// Maintain max snapshots limit
	if len(t.snapshots) > t.config.MaxSnapshots {
		t.snapshots = t.snapshots[len(t.snapshots)-t.config.MaxSnapshots:]
	}
	t.mu.Unlock()

	return snapshot
}

// calculateHealth determines overall system health based on recent metrics
func (t *Tracker) calculateHealth(metrics, activeOps []Marker) HealthStatus {
	if len(metrics) == 0 && len(activeOps) == 0 {
		return HealthUnknown
	}

	criticalIssues := 0
	warningIssues := 0
	totalOps := len(metrics) + len(activeOps)

	allOps := append(metrics, activeOps...)

	for _, op := range allOps {
		duration := op.Duration
		if !op.Completed {
			duration = time.Since(op.StartTime)
		}

		if duration > t.thresholds.CriticalResponseThreshold || !op.Success {
			criticalIssues++
		} else if duration > t.thresholds.VerySlowResponseThreshold {
			warningIssues++
		}
	}

	criticalRatio := float64(criticalIssues) / float64(totalOps)
	warningRatio := float64(warningIssues) / float64(totalOps)

	if criticalRatio > 0.1 { // More than 10% critical issues
		return HealthUnhealthy
	} else if criticalRatio > 0.05 || warningRatio > 0.2 { // More than 5% critical or 20% warning
		return HealthDegraded
	}

	return HealthHealthy
}

// extractSessionMetrics filters metrics for session operations
func (t *Tracker) extractSessionMetrics(metrics []Marker) *SessionPerformanceTracker {
	tracker := &SessionPerformanceTracker{}

	for _, metric := range metrics {
		switch {
		case strings.Contains(metric.Operation, "session:create"):
			if tracker.SessionCreation == nil || metric.EndTime.After(tracker.SessionCreation.EndTime) {
				m := metric
				tracker.SessionCreation = &m
			}
		case strings.Contains(metric.Operation, "session:get"):
			if tracker.SessionLookup == nil || metric.EndTime.After(tracker.SessionLookup.EndTime) {
				m := metric
				tracker.SessionLookup = &m
			}
		case strings.Contains(metric.Operation, "session:merge"):
			if tracker.StateMerge == nil || metric.EndTime.After(tracker.StateMerge.EndTime) {
				m := metric
				tracker.StateMerge = &m
			}
		case strings.Contains(metric.Operation, "verify"):
			if tracker.Verification == nil || metric.EndTime.After(tracker.Verification.EndTime) {
				m := metric
				tracker.Verification = &m
			}
		case strings.Contains(metric.Operation, "sse"):
			if tracker.SSEBroadcast == nil || metric.EndTime.After(tracker.SSEBroadcast.EndTime) {
				m := metric
				tracker.SSEBroadcast = &m
			}
		case strings.Contains(metric.Operation, "jwt"):
			if tracker.TokenGeneration == nil || metric.EndTime.After(tracker.TokenGeneration.EndTime) {
				m := metric
				tracker.TokenGeneration = &m
			}
		}
	}

	return tracker
}

// extractTaskMetrics filters metrics for task operations
func (t *Tracker) extractTaskMetrics(metrics []Marker) *TaskPerformanceTracker {
	tracker := &TaskPerformanceTracker{}

	for _, metric := range metrics {
		switch {
		case strings.Contains(metric.Operation, "task:start"):
			if tracker.TaskStart == nil || metric.EndTime.After(tracker.TaskStart.EndTime) {
				m := metric
				tracker.TaskStart = &m
			}
		case strings.Contains(metric.Operation, "task:complete"):
			if tracker.CompletionCheck == nil || metric.EndTime.After(tracker.CompletionCheck.EndTime) {
				m := metric
				tracker.CompletionCheck = &m
			}
		case strings.Contains(metric.Operation, "callback"):
			if tracker.CallbackValidation == nil || metric.EndTime.After(tracker.CallbackValidation.EndTime) {
				m := metric
				tracker.CallbackValidation = &m
			}
		case strings.Contains(metric.Operation, "advance"):
			if tracker.StageAdvance == nil || metric.EndTime.After(tracker.StageAdvance.EndTime) {
				m := metric
				tracker.StageAdvance = &m
			}
		case strings.Contains(metric.Operation, "postback"):
			if tracker.PostbackVerify == nil || metric.EndTime.After(tracker.PostbackVerify.EndTime) {
				m := metric
				tracker.PostbackVerify = &m
			}
		}
	}

	return tracker
}

// extractRewardMetrics filters metrics for reward operations
func (t *Tracker) extractRewardMetrics(metrics []Marker) *RewardPerformanceTracker {
	tracker := &RewardPerformanceTracker{}

	for _, metric := range metrics {
		switch {
		case strings.Contains(metric.Operation, "ratelimit"):
			if tracker.RateLimitCheck == nil || metric.EndTime.After(tracker.RateLimitCheck.EndTime) {
				m := metric
				tracker.RateLimitCheck = &m
			}
		case strings.Contains(metric.Operation, "reward:dispense"):
			if tracker.Dispensation == nil || metric.EndTime.After(tracker.Dispensation.EndTime) {
				m := metric
				tracker.Dispensation = &m
			}
		case strings.Contains(metric.Operation, "ledger"):
			if tracker.LedgerWrite == nil || metric.EndTime.After(tracker.LedgerWrite.EndTime) {
				m := metric
				tracker.LedgerWrite = &m
			}
		case strings.Contains(metric.Operation, "notify"):
			if tracker.CreatorNotify == nil || metric.EndTime.After(tracker.CreatorNotify.EndTime) {
				m := metric
				tracker.CreatorNotify = &m
			}
		case strings.Contains(metric.Operation, "redeem"):
			if tracker.TokenRedemption == nil || metric.EndTime.After(tracker.TokenRedemption.EndTime) {
				m := metric
				tracker.TokenRedemption = &m
			}
		}
	}

	return tracker
}

// Cleanup removes old markers and snapshots to prevent memory leaks
func (t *Tracker) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Clean up old completed markers
	cutoff := time.Now().Add(-time.Hour) // Keep last hour of markers
	for id, marker := range t.markers {
		if marker.Completed && marker.EndTime.Before(cutoff) {
			delete(t.markers, id)
		}
	}

	// Maintain max markers limit
	if len(t.markers) > t.config.MaxMarkers {
		count := 0
		for id := range t.markers {
			if count > t.config.MaxMarkers/2 {
				delete(t.markers, id)
			}
			count++
		}
	}
}

// GetOverallStats returns overall tracker statistics
func (t *Tracker) GetOverallStats() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	activeCount := 0
	completedCount := 0

	for _, marker := range t.markers {
		if marker.Completed {
			completedCount++
		} else {
			activeCount++
		}
	}

	return map[string]any{
		"trackerUptime":       time.Since(t.started),
		"totalMarkers":        len(t.markers),
		"activeOperations":    activeCount,
		"completedOperations": completedCount,
		"totalSnapshots":      len(t.snapshots),
		"totalAlerts":         len(t.alerts),
		"memoryUsageMB":       memStats.Alloc / (1024 * 1024),
		"systemMemoryMB":      memStats.Sys / (1024 * 1024),
	}
}
