// Package stores provides concrete cache store implementations
package stores

import (
	"time"

	"github.com/NexusProtocols/gateway-go/internal/domain/entities/gateway"
	"github.com/NexusProtocols/gateway-go/internal/domain/gatewayerr"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/types"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/security"
)

// SessionsStore implements gateway session state caching. Sessions are
// ephemeral: they live only here, expire on TTL, and every mutation happens
// under the cache lock so concurrent callbacks cannot race each other.
// Returned sessions are snapshot copies; the stored session is never handed
// out.
type SessionsStore struct {
	cache  *types.SessionStateCache
	ttl    time.Duration
	logger *logging.ChanneledLogger
}

// NewSessionsStore creates a new sessions cache store
func NewSessionsStore(ttl time.Duration, logger *logging.ChanneledLogger) *SessionsStore {
	if logger != nil {
		logger.Cache().Info("Initializing sessions cache store", "ttl", ttl)
	}
	return &SessionsStore{
		cache: &types.SessionStateCache{
			Sessions:          make(map[string]*types.GatewaySession),
			GatewayToSessions: make(map[string][]string),
			LastLoaded:        time.Now().UTC(),
		},
		ttl:    ttl,
		logger: logger,
	}
}

// Create builds a fresh unverified session for a gateway and stores it.
func (ss *SessionsStore) Create(gatewayID string, userID *string) *types.GatewaySession {
	start := time.Now()
	now := time.Now().UTC()

	session := &types.GatewaySession{
		SessionID:        security.GenerateSessionID(),
		GatewayID:        gatewayID,
		UserID:           userID,
		Verified:         false,
		CurrentStage:     types.StageUnverified,
		CompletedTaskIDs: make(map[string]bool),
		TaskStartedAt:    make(map[string]time.Time),
		UsedCallbackIDs:  make(map[string]bool),
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(ss.ttl),
	}

	ss.cache.Mu.Lock()
	defer ss.cache.Mu.Unlock()

	ss.cache.Sessions[session.SessionID] = session
	ss.addToGatewayIndex(gatewayID, session.SessionID)
	ss.cache.LastLoaded = now

	if ss.logger != nil {
		ss.logger.Cache().Debug("Cache operation", "operation", "create", "type", "session", "sessionId", session.SessionID, "gatewayId", gatewayID, "duration", time.Since(start))
	}
	return snapshotLocked(session)
}

// Get retrieves a session by ID. Expired sessions are purged lazily on
// lookup and reported as a miss.
func (ss *SessionsStore) Get(sessionID string) (*types.GatewaySession, bool) {
	start := time.Now()

	ss.cache.Mu.Lock()
	defer ss.cache.Mu.Unlock()

	session, found := ss.cache.Sessions[sessionID]
	if !found {
		if ss.logger != nil {
			ss.logger.Cache().Debug("Cache operation", "operation", "get", "type", "session", "sessionId", sessionID, "hit", false, "reason", "not_found", "duration", time.Since(start))
		}
		return nil, false
	}

	if session.IsExpired(time.Now().UTC()) {
		ss.evictLocked(session)
		if ss.logger != nil {
			ss.logger.Cache().Debug("Cache operation", "operation", "get", "type", "session", "sessionId", sessionID, "hit", false, "reason", "expired", "duration", time.Since(start))
		}
		return nil, false
	}

	if ss.logger != nil {
		ss.logger.Cache().Debug("Cache operation", "operation", "get", "type", "session", "sessionId", sessionID, "hit", true, "duration", time.Since(start))
	}
	return snapshotLocked(session), true
}

// MarkVerified records a passed verification gate. An unverified session
// moves to the pre-stage; verifying twice is harmless.
func (ss *SessionsStore) MarkVerified(sessionID string) (*types.GatewaySession, error) {
	ss.cache.Mu.Lock()
	defer ss.cache.Mu.Unlock()

	session, err := ss.liveLocked(sessionID)
	if err != nil {
		return nil, err
	}

	session.Verified = true
	if session.CurrentStage == types.StageUnverified {
		session.CurrentStage = types.StagePre
	}
	ss.touchLocked(session)

	return snapshotLocked(session), nil
}

// RecordTaskStart timestamps when a visitor began a task. Dwell validation
// later measures against this mark. Restarting a task resets the clock.
func (ss *SessionsStore) RecordTaskStart(sessionID, taskID string) (*types.GatewaySession, error) {
	ss.cache.Mu.Lock()
	defer ss.cache.Mu.Unlock()

	session, err := ss.liveLocked(sessionID)
	if err != nil {
		return nil, err
	}

	session.TaskStartedAt[taskID] = time.Now().UTC()
	ss.touchLocked(session)

	return snapshotLocked(session), nil
}

// ApplyTaskCompletion adds a task to the completed set. Completions are
// idempotent set inserts; the returned bool reports whether this call was
// the first to record the task. Completions only count against the session's
// current stage.
func (ss *SessionsStore) ApplyTaskCompletion(sessionID string, stageOrdinal int, taskID string) (*types.GatewaySession, bool, error) {
	start := time.Now()

	ss.cache.Mu.Lock()
	defer ss.cache.Mu.Unlock()

	session, err := ss.liveLocked(sessionID)
	if err != nil {
		return nil, false, err
	}

	if stageOrdinal != session.CurrentStage {
		return nil, false, gatewayerr.ErrInvalidTransition
	}

	newly := !session.CompletedTaskIDs[taskID]
	session.CompletedTaskIDs[taskID] = true
	ss.touchLocked(session)

	if ss.logger != nil {
		ss.logger.Cache().Debug("Cache operation", "operation", "complete_task", "type", "session", "sessionId", sessionID, "taskId", taskID, "newly", newly, "duration", time.Since(start))
	}
	return snapshotLocked(session), newly, nil
}

// ConsumeCallbackID redeems a single-use callback token ID. The second
// redemption of the same ID returns false.
func (ss *SessionsStore) ConsumeCallbackID(sessionID, jti string) (bool, error) {
	ss.cache.Mu.Lock()
	defer ss.cache.Mu.Unlock()

	session, err := ss.liveLocked(sessionID)
	if err != nil {
		return false, err
	}

	if session.UsedCallbackIDs[jti] {
		return false, nil
	}
	session.UsedCallbackIDs[jti] = true
	ss.touchLocked(session)

	return true, nil
}

// AdvanceStage moves a session to the next stage. Only the immediate
// successor of the current stage is reachable; advancing clears per-stage
// completion state so the new stage starts empty.
func (ss *SessionsStore) AdvanceStage(sessionID string, targetStage int) (*types.GatewaySession, error) {
	start := time.Now()

	ss.cache.Mu.Lock()
	defer ss.cache.Mu.Unlock()

	session, err := ss.liveLocked(sessionID)
	if err != nil {
		return nil, err
	}

	if targetStage != session.CurrentStage+1 {
		return nil, gatewayerr.ErrInvalidTransition
	}

	session.CurrentStage = targetStage
	session.CompletedTaskIDs = make(map[string]bool)
	session.TaskStartedAt = make(map[string]time.Time)
	ss.touchLocked(session)

	if ss.logger != nil {
		ss.logger.Cache().Debug("Cache operation", "operation", "advance_stage", "type", "session", "sessionId", sessionID, "stage", targetStage, "duration", time.Since(start))
	}
	return snapshotLocked(session), nil
}

// MarkRewarded atomically records a dispensed reward. The first call stores
// the result and returns replay=false; every later call returns the stored
// result unchanged with replay=true.
func (ss *SessionsStore) MarkRewarded(sessionID string, result *types.RewardResult) (*types.RewardResult, bool, error) {
	ss.cache.Mu.Lock()
	defer ss.cache.Mu.Unlock()

	session, err := ss.liveLocked(sessionID)
	if err != nil {
		return nil, false, err
	}

	if session.RewardedAt != nil {
		return session.RewardResult, true, nil
	}

	now := time.Now().UTC()
	session.RewardedAt = &now
	session.RewardResult = result
	ss.touchLocked(session)

	return result, false, nil
}

// Merge folds an incoming snapshot of client-held state into the stored
// session. The merge is commutative on replays and reorders: completed tasks
// union within the current stage, a lower incoming stage never regresses, and
// a higher incoming stage is applied only as the single legal transition the
// completed set has earned. Everything else is ErrInvalidTransition with
// state untouched. Verification cannot be merged in at all; only the gate
// moves a session off the sentinel.
func (ss *SessionsStore) Merge(sessionID string, currentStage int, completedTaskIDs []string, def *gateway.Definition) (*types.GatewaySession, error) {
	start := time.Now()

	ss.cache.Mu.Lock()
	defer ss.cache.Mu.Unlock()

	session, err := ss.liveLocked(sessionID)
	if err != nil {
		return nil, err
	}

	if currentStage > session.CurrentStage {
		if session.CurrentStage < types.StagePre || currentStage != session.CurrentStage+1 {
			return nil, gatewayerr.ErrInvalidTransition
		}
		for _, taskID := range def.StageTaskIDs(session.CurrentStage) {
			if !session.CompletedTaskIDs[taskID] && !containsTaskID(completedTaskIDs, taskID) {
				return nil, gatewayerr.ErrInvalidTransition
			}
		}
		session.CurrentStage = currentStage
		session.CompletedTaskIDs = make(map[string]bool)
		session.TaskStartedAt = make(map[string]time.Time)
	}

	stageTasks := make(map[string]bool)
	for _, taskID := range def.StageTaskIDs(session.CurrentStage) {
		stageTasks[taskID] = true
	}
	for _, taskID := range completedTaskIDs {
		if stageTasks[taskID] {
			session.CompletedTaskIDs[taskID] = true
		}
	}
	ss.touchLocked(session)

	if ss.logger != nil {
		ss.logger.Cache().Debug("Cache operation", "operation", "merge", "type", "session", "sessionId", sessionID, "incomingStage", currentStage, "incomingTasks", len(completedTaskIDs), "duration", time.Since(start))
	}
	return snapshotLocked(session), nil
}

// containsTaskID reports whether a task id appears in an incoming snapshot.
func containsTaskID(taskIDs []string, taskID string) bool {
	for _, id := range taskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// GetSessionsByGateway returns all live session IDs for a gateway.
func (ss *SessionsStore) GetSessionsByGateway(gatewayID string) []string {
	ss.cache.Mu.RLock()
	defer ss.cache.Mu.RUnlock()

	ids := ss.cache.GatewayToSessions[gatewayID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Remove deletes a session and updates the gateway index.
func (ss *SessionsStore) Remove(sessionID string) {
	ss.cache.Mu.Lock()
	defer ss.cache.Mu.Unlock()

	if session, exists := ss.cache.Sessions[sessionID]; exists {
		ss.evictLocked(session)
	}
}

// PurgeExpired removes every expired session and returns how many were
// evicted. The cleanup worker calls this on its interval.
func (ss *SessionsStore) PurgeExpired() int {
	start := time.Now()
	now := time.Now().UTC()

	ss.cache.Mu.Lock()
	defer ss.cache.Mu.Unlock()

	evicted := 0
	for _, session := range ss.cache.Sessions {
		if session.IsExpired(now) {
			ss.evictLocked(session)
			evicted++
		}
	}

	if ss.logger != nil && evicted > 0 {
		ss.logger.Cache().Info("Expired sessions purged", "count", evicted, "duration", time.Since(start))
	}
	return evicted
}

// StageOccupancy returns a per-gateway histogram of live sessions by current
// stage, for the ops stats broadcast.
func (ss *SessionsStore) StageOccupancy() map[string]map[int]int {
	ss.cache.Mu.RLock()
	defer ss.cache.Mu.RUnlock()

	now := time.Now().UTC()
	occupancy := make(map[string]map[int]int)
	for _, session := range ss.cache.Sessions {
		if session.IsExpired(now) {
			continue
		}
		if occupancy[session.GatewayID] == nil {
			occupancy[session.GatewayID] = make(map[int]int)
		}
		occupancy[session.GatewayID][session.CurrentStage]++
	}
	return occupancy
}

// Count returns the number of live sessions.
func (ss *SessionsStore) Count() int {
	ss.cache.Mu.RLock()
	defer ss.cache.Mu.RUnlock()
	return len(ss.cache.Sessions)
}

// snapshotLocked copies a session for return to callers, so reads of the
// copy never race mutations of the stored maps. The caller holds the lock.
// RewardResult is shared: it is written once under the lock and never
// mutated afterwards.
func snapshotLocked(session *types.GatewaySession) *types.GatewaySession {
	out := *session
	out.CompletedTaskIDs = make(map[string]bool, len(session.CompletedTaskIDs))
	for id := range session.CompletedTaskIDs {
		out.CompletedTaskIDs[id] = true
	}
	out.TaskStartedAt = make(map[string]time.Time, len(session.TaskStartedAt))
	for id, at := range session.TaskStartedAt {
		out.TaskStartedAt[id] = at
	}
	out.UsedCallbackIDs = make(map[string]bool, len(session.UsedCallbackIDs))
	for id := range session.UsedCallbackIDs {
		out.UsedCallbackIDs[id] = true
	}
	return &out
}

// liveLocked fetches a session that must exist and be unexpired. Callers
// hold the write lock.
func (ss *SessionsStore) liveLocked(sessionID string) (*types.GatewaySession, error) {
	session, found := ss.cache.Sessions[sessionID]
	if !found {
		return nil, gatewayerr.ErrNotFound
	}
	if session.IsExpired(time.Now().UTC()) {
		ss.evictLocked(session)
		return nil, gatewayerr.ErrExpired
	}
	return session, nil
}

// touchLocked refreshes the session TTL after activity.
func (ss *SessionsStore) touchLocked(session *types.GatewaySession) {
	now := time.Now().UTC()
	session.UpdatedAt = now
	session.ExpiresAt = now.Add(ss.ttl)
	ss.cache.LastLoaded = now
}

// evictLocked removes a session and its index entry under the write lock.
func (ss *SessionsStore) evictLocked(session *types.GatewaySession) {
	delete(ss.cache.Sessions, session.SessionID)
	ss.removeFromGatewayIndex(session.GatewayID, session.SessionID)
}

// addToGatewayIndex maintains the gateway -> sessions inverted index.
func (ss *SessionsStore) addToGatewayIndex(gatewayID, sessionID string) {
	for _, existing := range ss.cache.GatewayToSessions[gatewayID] {
		if existing == sessionID {
			return
		}
	}
	ss.cache.GatewayToSessions[gatewayID] = append(ss.cache.GatewayToSessions[gatewayID], sessionID)
}

// removeFromGatewayIndex removes a session from the inverted index.
func (ss *SessionsStore) removeFromGatewayIndex(gatewayID, sessionID string) {
	ids := ss.cache.GatewayToSessions[gatewayID]
	for i, existing := range ids {
		if existing == sessionID {
			ss.cache.GatewayToSessions[gatewayID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ss.cache.GatewayToSessions[gatewayID]) == 0 {
		delete(ss.cache.GatewayToSessions, gatewayID)
	}
}
