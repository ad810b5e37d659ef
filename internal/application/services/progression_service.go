package services

import (
	"fmt"

	"github.com/NexusProtocols/gateway-go/internal/domain/entities/gateway"
	"github.com/NexusProtocols/gateway-go/internal/domain/events"
	"github.com/NexusProtocols/gateway-go/internal/domain/gatewayerr"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/interfaces"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/types"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/messaging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/performance"
	persistence "github.com/NexusProtocols/gateway-go/internal/infrastructure/persistence/gateway"
	"github.com/NexusProtocols/gateway-go/pkg/config"
)

// Completion sources recorded in the ledger.
const (
	SourceClient   = "client"
	SourceCallback = "callback"
	SourcePostback = "postback"
)

// ProgressionService drives sessions through the stage machine: starting
// tasks, accepting completions through their strategies, advancing stages
// when a stage's task list is fully covered, and flagging reward readiness
// after the final stage.
type ProgressionService struct {
	cache       interfaces.Cache
	gateways    *GatewayService
	strategies  *StrategyRegistry
	rateLimiter *RateLimitService
	ledger      *persistence.SQLLedgerRepository
	broadcaster messaging.Broadcaster
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
}

// NewProgressionService creates a new progression service
func NewProgressionService(cache interfaces.Cache, gateways *GatewayService, strategies *StrategyRegistry, rateLimiter *RateLimitService, ledger *persistence.SQLLedgerRepository, broadcaster messaging.Broadcaster, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *ProgressionService {
	return &ProgressionService{
		cache:       cache,
		gateways:    gateways,
		strategies:  strategies,
		rateLimiter: rateLimiter,
		ledger:      ledger,
		broadcaster: broadcaster,
		logger:      logger,
		perfTracker: perfTracker,
	}
}

// CompletionOutcome reports what a completion attempt changed.
type CompletionOutcome struct {
	Session       *types.GatewaySession
	TaskID        string
	NewCompletion bool
	StageComplete bool
	RewardReady   bool
}

// StartTasks moves a verified session from the pre-stage into stage 1.
func (s *ProgressionService) StartTasks(sessionID string) (*types.GatewaySession, error) {
	marker := s.perfTracker.StartOperation("task:start_stage", "")
	defer marker.Complete()

	session, found := s.cache.Sessions().Get(sessionID)
	if !found {
		marker.SetSuccess(false)
		return nil, gatewayerr.ErrNotFound
	}
	marker.GatewayID = session.GatewayID

	if !session.Verified || session.CurrentStage != types.StagePre {
		marker.SetSuccess(false)
		return nil, fmt.Errorf("%w: tasks start from the verified pre-stage, session on stage %d", gatewayerr.ErrInvalidTransition, session.CurrentStage)
	}

	session, err := s.cache.Sessions().AdvanceStage(sessionID, 1)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	s.broadcastStageAdvance(session)
	s.logger.Task().Info("Session entered stage 1", "sessionId", sessionID, "gatewayId", session.GatewayID)
	marker.SetSuccess(true)
	return session, nil
}

// StartTask prepares one task attempt through its strategy. The task must
// belong to the session's current stage.
func (s *ProgressionService) StartTask(sessionID, taskID string) (*TaskStartPayload, error) {
	marker := s.perfTracker.StartOperation("task:start", "")
	defer marker.Complete()

	session, def, task, err := s.resolveTask(sessionID, taskID)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}
	marker.GatewayID = def.ID

	strategy, err := s.strategies.ForType(task.Type)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	payload, err := strategy.Start(session, def, task, taskID)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	s.logger.Task().Debug("Task started", "sessionId", sessionID, "taskId", taskID, "type", task.Type)
	marker.SetSuccess(true)
	return payload, nil
}

// CompleteTask validates a client-submitted proof and records the completion.
func (s *ProgressionService) CompleteTask(sessionID, taskID string, proof *TaskProof) (*CompletionOutcome, error) {
	marker := s.perfTracker.StartOperation("task:complete", "")
	defer marker.Complete()

	session, def, task, err := s.resolveTask(sessionID, taskID)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}
	marker.GatewayID = def.ID

	strategy, err := s.strategies.ForType(task.Type)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}
	if err := strategy.Validate(session, task, taskID, proof); err != nil {
		s.logger.Task().Warn("Task proof rejected", "sessionId", sessionID, "taskId", taskID, "type", task.Type, "error", err)
		marker.SetSuccess(false)
		return nil, err
	}

	outcome, err := s.recordCompletion(session, def, taskID, SourceClient)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	marker.SetSuccess(true)
	return outcome, nil
}

// HandleCallback redeems a redirect-return callback. The task parameter is
// the gateway-global ordinal; the token is single-use. On success the caller
// redirects the visitor to the gateway page with the callback query stripped.
func (s *ProgressionService) HandleCallback(sessionID string, globalOrdinal int, token string) (*CompletionOutcome, string, error) {
	marker := s.perfTracker.StartOperation("task:callback", "")
	defer marker.Complete()

	session, found := s.cache.Sessions().Get(sessionID)
	if !found {
		marker.SetSuccess(false)
		return nil, "", gatewayerr.ErrNotFound
	}
	marker.GatewayID = session.GatewayID

	def, err := s.gateways.GetDefinition(session.GatewayID)
	if err != nil {
		marker.SetError(err)
		return nil, "", err
	}

	stageOrdinal, taskID, ok := def.ResolveGlobalOrdinal(globalOrdinal)
	if !ok {
		marker.SetSuccess(false)
		return nil, "", fmt.Errorf("%w: callback ordinal %d not in gateway %s", gatewayerr.ErrNotFound, globalOrdinal, def.ID)
	}

	if err := validateCallbackToken(s.cache, session, taskID, token); err != nil {
		marker.SetSuccess(false)
		return nil, "", err
	}

	if stageOrdinal != session.CurrentStage {
		marker.SetSuccess(false)
		return nil, "", fmt.Errorf("%w: callback for stage %d, session on stage %d", gatewayerr.ErrInvalidTransition, stageOrdinal, session.CurrentStage)
	}

	outcome, err := s.recordCompletion(session, def, taskID, SourceCallback)
	if err != nil {
		marker.SetError(err)
		return nil, "", err
	}

	redirectURL := config.PublicBaseURL + "/gateway/" + def.ID
	marker.SetSuccess(true)
	return outcome, redirectURL, nil
}

// HandlePostback records a provider-confirmed completion. The provider
// authenticates with the gateway's postback secret; only externally validated
// tasks accept this path.
func (s *ProgressionService) HandlePostback(gatewayID, sessionID, taskID, secret string) (*CompletionOutcome, error) {
	marker := s.perfTracker.StartOperation("task:postback", gatewayID)
	defer marker.Complete()

	valid, err := s.gateways.VerifyPostbackSecret(gatewayID, secret)
	if err != nil {
		marker.SetError(err)
		return nil, fmt.Errorf("%w: %s", gatewayerr.ErrExternalProvider, err.Error())
	}
	if !valid {
		s.logger.Task().Warn("Postback rejected, bad secret", "gatewayId", gatewayID, "taskId", taskID)
		marker.SetSuccess(false)
		return nil, fmt.Errorf("%w: postback secret rejected", gatewayerr.ErrValidationFailed)
	}

	session, def, task, err := s.resolveTask(sessionID, taskID)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}
	if def.ID != gatewayID {
		marker.SetSuccess(false)
		return nil, fmt.Errorf("%w: session belongs to gateway %s", gatewayerr.ErrValidationFailed, def.ID)
	}
	if task.Type != gateway.TaskExternallyValidated {
		marker.SetSuccess(false)
		return nil, fmt.Errorf("%w: task %s is not externally validated", gatewayerr.ErrValidationFailed, taskID)
	}

	outcome, err := s.recordCompletion(session, def, taskID, SourcePostback)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	marker.SetSuccess(true)
	return outcome, nil
}

// resolveTask loads the session, its gateway, and a task that must sit in the
// session's current stage.
func (s *ProgressionService) resolveTask(sessionID, taskID string) (*types.GatewaySession, *gateway.Definition, *gateway.Task, error) {
	session, found := s.cache.Sessions().Get(sessionID)
	if !found {
		return nil, nil, nil, gatewayerr.ErrNotFound
	}

	def, err := s.gateways.GetDefinition(session.GatewayID)
	if err != nil {
		return nil, nil, nil, err
	}

	stageOrdinal, _, ok := gateway.ParseTaskID(taskID)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: malformed task id %q", gatewayerr.ErrValidationFailed, taskID)
	}
	if stageOrdinal != session.CurrentStage {
		return nil, nil, nil, fmt.Errorf("%w: task %s is in stage %d, session on stage %d", gatewayerr.ErrInvalidTransition, taskID, stageOrdinal, session.CurrentStage)
	}

	task := def.TaskByID(taskID)
	if task == nil {
		return nil, nil, nil, fmt.Errorf("%w: task %s not in gateway %s", gatewayerr.ErrNotFound, taskID, def.ID)
	}

	return session, def, task, nil
}

// recordCompletion writes the completion through the session store and the
// durable ledger, then advances the stage machine when the current stage's
// task list is fully covered.
func (s *ProgressionService) recordCompletion(session *types.GatewaySession, def *gateway.Definition, taskID, source string) (*CompletionOutcome, error) {
	updated, newly, err := s.cache.Sessions().ApplyTaskCompletion(session.SessionID, session.CurrentStage, taskID)
	if err != nil {
		return nil, err
	}

	if newly {
		if err := s.ledger.RecordCompletion(def.ID, session.SessionID, taskID, source); err != nil {
			s.logger.LogError(logging.ChannelTask, "record_completion", err, map[string]any{"sessionId": session.SessionID, "taskId": taskID})
		}
		s.broadcaster.BroadcastProgress(session.SessionID, events.ProgressEvent{
			Type:           events.EventTaskCompleted,
			SessionID:      session.SessionID,
			GatewayID:      def.ID,
			CurrentStage:   updated.CurrentStage,
			CompletedTasks: updated.CompletedList(),
			TaskID:         taskID,
		})
		s.logger.Task().Info("Task completed", "sessionId", session.SessionID, "taskId", taskID, "source", source)
	}

	outcome := &CompletionOutcome{
		Session:       updated,
		TaskID:        taskID,
		NewCompletion: newly,
	}

	if !s.stageCovered(updated, def) {
		return outcome, nil
	}
	outcome.StageComplete = true

	if updated.CurrentStage < len(def.Stages) {
		advanced, err := s.cache.Sessions().AdvanceStage(updated.SessionID, updated.CurrentStage+1)
		if err != nil {
			return nil, err
		}
		outcome.Session = advanced
		s.broadcastStageAdvance(advanced)
		s.logger.Task().Info("Stage advanced", "sessionId", advanced.SessionID, "gatewayId", def.ID, "stage", advanced.CurrentStage)
		return outcome, nil
	}

	// Final stage covered: the rate limiter decides here, before any reward
	// side effect, so a denied visitor never sees a half-dispensed state.
	if err := s.rateLimiter.Check(def, Identity(updated)); err != nil {
		if rl, ok := err.(*gatewayerr.RateLimitedError); ok {
			s.broadcaster.BroadcastProgress(updated.SessionID, events.ProgressEvent{
				Type:      events.EventRateLimited,
				SessionID: updated.SessionID,
				GatewayID: def.ID,
				ResetAt:   rl.ResetAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			})
		}
		return nil, err
	}

	outcome.RewardReady = true
	return outcome, nil
}

// stageCovered reports whether every task of the session's current stage is
// in the completed set.
func (s *ProgressionService) stageCovered(session *types.GatewaySession, def *gateway.Definition) bool {
	taskIDs := def.StageTaskIDs(session.CurrentStage)
	if len(taskIDs) == 0 {
		return false
	}
	for _, taskID := range taskIDs {
		if !session.CompletedTaskIDs[taskID] {
			return false
		}
	}
	return true
}

func (s *ProgressionService) broadcastStageAdvance(session *types.GatewaySession) {
	s.broadcaster.BroadcastProgress(session.SessionID, events.ProgressEvent{
		Type:         events.EventStageAdvanced,
		SessionID:    session.SessionID,
		GatewayID:    session.GatewayID,
		CurrentStage: session.CurrentStage,
	})
}
