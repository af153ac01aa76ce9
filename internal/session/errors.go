package session

import (
	"errors"
	"fmt"
)

// Start failure reasons.
const (
	ReasonInvalidBinary   = "invalid_binary"
	ReasonHandshakeFailed = "handshake_failed"
)

// ErrNotActive is returned by Command when the session is not in StateActive.
var ErrNotActive = errors.New("session is not active")

// StartError reports why a session could not be started.
type StartError struct {
	Reason string
	Err    error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("session start failed (%s): %v", e.Reason, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}
