package services

import (
	"fmt"
	"net/url"
	"time"

	"github.com/NexusProtocols/gateway-go/internal/domain/entities/gateway"
	"github.com/NexusProtocols/gateway-go/internal/domain/gatewayerr"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/interfaces"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/types"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/security"
	"github.com/NexusProtocols/gateway-go/pkg/config"
)

// TaskStartPayload is the type-specific response to a task start. Redirect
// tasks carry the target URL the client navigates to; dwell tasks carry the
// minimum dwell so the client can render a countdown.
type TaskStartPayload struct {
	TaskID          string `json:"taskId"`
	Type            string `json:"type"`
	TargetURL       string `json:"targetUrl,omitempty"`
	CallbackURL     string `json:"callbackUrl,omitempty"`
	MinDwellSeconds int    `json:"minDwellSeconds,omitempty"`
	StartedAt       string `json:"startedAt"`
}

// TaskProof is the client-supplied evidence on a completion attempt. Which
// fields matter depends on the task type.
type TaskProof struct {
	CallbackToken string `json:"callbackToken,omitempty"`
}

// TaskStrategy is the per-type completion mechanism. Start prepares a task
// attempt and records the server-side dwell anchor; Validate decides whether
// the proof earns a completion. Neither mutates the completed set; that is
// always the progression service writing through the session store.
type TaskStrategy interface {
	Type() gateway.TaskType
	Start(session *types.GatewaySession, def *gateway.Definition, task *gateway.Task, taskID string) (*TaskStartPayload, error)
	Validate(session *types.GatewaySession, task *gateway.Task, taskID string, proof *TaskProof) error
}

// StrategyRegistry resolves a task type to its strategy.
type StrategyRegistry struct {
	strategies map[gateway.TaskType]TaskStrategy
}

// NewStrategyRegistry builds the registry with all five task strategies.
func NewStrategyRegistry(cache interfaces.Cache) *StrategyRegistry {
	registry := &StrategyRegistry{strategies: make(map[gateway.TaskType]TaskStrategy)}
	for _, strategy := range []TaskStrategy{
		&dwellRedirectStrategy{cache: cache},
		&interstitialAdStrategy{cache: cache},
		&footerValidatedStrategy{cache: cache},
		&autoTagRedirectStrategy{cache: cache},
		&externallyValidatedStrategy{cache: cache},
	} {
		registry.strategies[strategy.Type()] = strategy
	}
	return registry
}

// ForType returns the strategy for a task type.
func (r *StrategyRegistry) ForType(taskType gateway.TaskType) (TaskStrategy, error) {
	strategy, exists := r.strategies[taskType]
	if !exists {
		return nil, fmt.Errorf("%w: unknown task type %q", gatewayerr.ErrValidationFailed, taskType)
	}
	return strategy, nil
}

// buildCallbackURL signs a single-use callback token and assembles the
// redirect-return URL carried into the ad network. The task parameter is the
// gateway-global ordinal.
func buildCallbackURL(def *gateway.Definition, sessionID, taskID string) (string, error) {
	ordinal, ok := def.GlobalOrdinalOf(taskID)
	if !ok {
		return "", fmt.Errorf("%w: task %s not in gateway %s", gatewayerr.ErrNotFound, taskID, def.ID)
	}

	token, _, err := security.GenerateCallbackToken(sessionID, taskID, config.JWTSecret, config.CallbackTokenTTL)
	if err != nil {
		return "", fmt.Errorf("signing callback token: %w", err)
	}

	query := url.Values{}
	query.Set("task", fmt.Sprintf("%d", ordinal))
	query.Set("completed", "true")
	query.Set("sessionId", sessionID)
	query.Set("token", token)
	return config.PublicBaseURL + "/api/v1/tasks/callback?" + query.Encode(), nil
}

// minDwell returns the effective dwell floor for a task.
func minDwell(task *gateway.Task) int {
	if task.MinDwellSeconds > 0 {
		return task.MinDwellSeconds
	}
	return config.DefaultMinDwellSeconds
}

// validateDwell checks the server-side elapsed time since the recorded task
// start. A small clock skew allowance keeps honest clients on slow networks
// from bouncing off the floor.
func validateDwell(session *types.GatewaySession, task *gateway.Task, taskID string) error {
	startedAt, started := session.TaskStartedAt[taskID]
	if !started {
		return fmt.Errorf("%w: task %s was never started", gatewayerr.ErrValidationFailed, taskID)
	}

	required := time.Duration(minDwell(task))*time.Second - config.DwellClockSkew
	if elapsed := time.Now().UTC().Sub(startedAt); elapsed < required {
		return fmt.Errorf("%w: dwell %s below required %s", gatewayerr.ErrValidationFailed, elapsed.Round(time.Millisecond), required)
	}
	return nil
}

// validateCallbackToken checks a single-use callback JWT against a session and
// task, consuming its jti so a replayed token fails.
func validateCallbackToken(cache interfaces.Cache, session *types.GatewaySession, taskID, token string) error {
	claims, err := security.ValidateJWT(token, config.JWTSecret)
	if err != nil {
		return fmt.Errorf("%w: invalid callback token", gatewayerr.ErrValidationFailed)
	}
	if security.ClaimString(claims, "purpose") != "callback" {
		return fmt.Errorf("%w: wrong token purpose", gatewayerr.ErrValidationFailed)
	}
	if security.ClaimString(claims, "sub") != session.SessionID {
		return fmt.Errorf("%w: callback token session mismatch", gatewayerr.ErrValidationFailed)
	}
	if security.ClaimString(claims, "taskId") != taskID {
		return fmt.Errorf("%w: callback token task mismatch", gatewayerr.ErrValidationFailed)
	}

	jti := security.ClaimString(claims, "jti")
	if jti == "" {
		return fmt.Errorf("%w: callback token missing id", gatewayerr.ErrValidationFailed)
	}
	fresh, err := cache.Sessions().ConsumeCallbackID(session.SessionID, jti)
	if err != nil {
		return err
	}
	if !fresh {
		return fmt.Errorf("%w: callback token already used", gatewayerr.ErrValidationFailed)
	}
	return nil
}

// dwellRedirectStrategy sends the visitor to a target URL and requires a
// minimum server-measured dwell before the completion counts.
type dwellRedirectStrategy struct {
	cache interfaces.Cache
}

func (s *dwellRedirectStrategy) Type() gateway.TaskType { return gateway.TaskDwellRedirect }

func (s *dwellRedirectStrategy) Start(session *types.GatewaySession, def *gateway.Definition, task *gateway.Task, taskID string) (*TaskStartPayload, error) {
	callbackURL, err := buildCallbackURL(def, session.SessionID, taskID)
	if err != nil {
		return nil, err
	}
	updated, err := s.cache.Sessions().RecordTaskStart(session.SessionID, taskID)
	if err != nil {
		return nil, err
	}
	return &TaskStartPayload{
		TaskID:          taskID,
		Type:            string(s.Type()),
		TargetURL:       task.Content,
		CallbackURL:     callbackURL,
		MinDwellSeconds: minDwell(task),
		StartedAt:       updated.TaskStartedAt[taskID].Format(time.RFC3339),
	}, nil
}

func (s *dwellRedirectStrategy) Validate(session *types.GatewaySession, task *gateway.Task, taskID string, proof *TaskProof) error {
	return validateDwell(session, task, taskID)
}

// interstitialAdStrategy shows an in-page ad unit; completion is gated on the
// same server-measured dwell as redirects.
type interstitialAdStrategy struct {
	cache interfaces.Cache
}

func (s *interstitialAdStrategy) Type() gateway.TaskType { return gateway.TaskInterstitialAd }

func (s *interstitialAdStrategy) Start(session *types.GatewaySession, def *gateway.Definition, task *gateway.Task, taskID string) (*TaskStartPayload, error) {
	updated, err := s.cache.Sessions().RecordTaskStart(session.SessionID, taskID)
	if err != nil {
		return nil, err
	}
	return &TaskStartPayload{
		TaskID:          taskID,
		Type:            string(s.Type()),
		MinDwellSeconds: minDwell(task),
		StartedAt:       updated.TaskStartedAt[taskID].Format(time.RFC3339),
	}, nil
}

func (s *interstitialAdStrategy) Validate(session *types.GatewaySession, task *gateway.Task, taskID string, proof *TaskProof) error {
	return validateDwell(session, task, taskID)
}

// footerValidatedStrategy requires scrolling an article to its footer; the
// server cannot see the scroll, so it enforces the dwell floor instead.
type footerValidatedStrategy struct {
	cache interfaces.Cache
}

func (s *footerValidatedStrategy) Type() gateway.TaskType { return gateway.TaskFooterValidated }

func (s *footerValidatedStrategy) Start(session *types.GatewaySession, def *gateway.Definition, task *gateway.Task, taskID string) (*TaskStartPayload, error) {
	updated, err := s.cache.Sessions().RecordTaskStart(session.SessionID, taskID)
	if err != nil {
		return nil, err
	}
	return &TaskStartPayload{
		TaskID:          taskID,
		Type:            string(s.Type()),
		TargetURL:       task.Content,
		MinDwellSeconds: minDwell(task),
		StartedAt:       updated.TaskStartedAt[taskID].Format(time.RFC3339),
	}, nil
}

func (s *footerValidatedStrategy) Validate(session *types.GatewaySession, task *gateway.Task, taskID string, proof *TaskProof) error {
	return validateDwell(session, task, taskID)
}

// autoTagRedirectStrategy completes through the signed redirect callback: the
// destination bounces the visitor back with the single-use token attached.
type autoTagRedirectStrategy struct {
	cache interfaces.Cache
}

func (s *autoTagRedirectStrategy) Type() gateway.TaskType { return gateway.TaskAutoTagRedirect }

func (s *autoTagRedirectStrategy) Start(session *types.GatewaySession, def *gateway.Definition, task *gateway.Task, taskID string) (*TaskStartPayload, error) {
	callbackURL, err := buildCallbackURL(def, session.SessionID, taskID)
	if err != nil {
		return nil, err
	}
	updated, err := s.cache.Sessions().RecordTaskStart(session.SessionID, taskID)
	if err != nil {
		return nil, err
	}
	return &TaskStartPayload{
		TaskID:      taskID,
		Type:        string(s.Type()),
		TargetURL:   task.Content,
		CallbackURL: callbackURL,
		StartedAt:   updated.TaskStartedAt[taskID].Format(time.RFC3339),
	}, nil
}

func (s *autoTagRedirectStrategy) Validate(session *types.GatewaySession, task *gateway.Task, taskID string, proof *TaskProof) error {
	if proof == nil || proof.CallbackToken == "" {
		return fmt.Errorf("%w: callback token required", gatewayerr.ErrValidationFailed)
	}
	return validateCallbackToken(s.cache, session, taskID, proof.CallbackToken)
}

// externallyValidatedStrategy defers to a third-party provider. The provider
// confirms server-to-server via the postback endpoint; the signed callback is
// accepted as an equivalent proof for providers that only do redirects.
type externallyValidatedStrategy struct {
	cache interfaces.Cache
}

func (s *externallyValidatedStrategy) Type() gateway.TaskType { return gateway.TaskExternallyValidated }

func (s *externallyValidatedStrategy) Start(session *types.GatewaySession, def *gateway.Definition, task *gateway.Task, taskID string) (*TaskStartPayload, error) {
	callbackURL, err := buildCallbackURL(def, session.SessionID, taskID)
	if err != nil {
		return nil, err
	}
	updated, err := s.cache.Sessions().RecordTaskStart(session.SessionID, taskID)
	if err != nil {
		return nil, err
	}
	return &TaskStartPayload{
		TaskID:      taskID,
		Type:        string(s.Type()),
		TargetURL:   task.Content,
		CallbackURL: callbackURL,
		StartedAt:   updated.TaskStartedAt[taskID].Format(time.RFC3339),
	}, nil
}

func (s *externallyValidatedStrategy) Validate(session *types.GatewaySession, task *gateway.Task, taskID string, proof *TaskProof) error {
	if proof == nil || proof.CallbackToken == "" {
		return fmt.Errorf("%w: completion requires provider postback or callback token", gatewayerr.ErrExternalProvider)
	}
	return validateCallbackToken(s.cache, session, taskID, proof.CallbackToken)
}
