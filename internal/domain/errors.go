package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAgentNotFound     = errors.New("agent not found")
	ErrInvalidAgent      = errors.New("invalid agent definition")
	ErrAlreadyRunning    = errors.New("agent is already running")
	ErrNotRunning        = errors.New("agent is not running")
	ErrRunLimitReached   = errors.New("running agent limit reached")
	ErrInvalidSnapshot   = errors.New("invalid progress snapshot")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidCode       = errors.New("verification code is required")
	ErrNoActiveChallenge = errors.New("no active verification challenge")
	ErrCodeConsumed      = errors.New("verification code already consumed")
	ErrForbidden         = errors.New("operator is not allowed to perform this action")
)

// ErrChallengeExpired is returned for submissions that arrive after the deadline.
// It is treated exactly like ErrNoActiveChallenge.
var ErrChallengeExpired = fmt.Errorf("%w: challenge expired", ErrNoActiveChallenge)
