// Package gatewayerr defines the error taxonomy shared across the session
// store, state machine, and HTTP surface.
package gatewayerr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound covers session or gateway ids that do not resolve.
	ErrNotFound = errors.New("not found")

	// ErrExpired covers sessions past their TTL. Readers treat it like
	// ErrNotFound; logs keep the distinction.
	ErrExpired = errors.New("session expired")

	// ErrInvalidTransition covers stage advances that skip or regress.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrValidationFailed covers completion proofs that fail a sanity check,
	// e.g. dwell time below the task minimum.
	ErrValidationFailed = errors.New("task validation failed")

	// ErrExternalProvider covers unreachable third-party validators.
	ErrExternalProvider = errors.New("external provider error")
)

// RateLimitedError is terminal for a completion attempt and carries the
// window reset so the client can show it.
type RateLimitedError struct {
	GatewayID string
	ResetAt   time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on gateway %s until %s", e.GatewayID, e.ResetAt.UTC().Format(time.RFC3339))
}

// IsRateLimited reports whether err is a RateLimitedError.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}
