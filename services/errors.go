// services/errors.go
package services

import (
	"errors"
	"fmt"
)

// ErrUserNotFound means the Quaver API confirmed the user does not exist, or
// neither local storage nor the remote lookup could resolve the identifier.
// It is a normal outcome for callers, not an internal failure.
var ErrUserNotFound = errors.New("user not found")

// APIStatusError is an error the Quaver API reported inside its response
// envelope (a non-200 embedded status other than 404). Distinct from
// transport/decoding failures, which are returned as wrapped plain errors.
type APIStatusError struct {
	Status  int
	Message string
}

func (e *APIStatusError) Error() string {
	return fmt.Sprintf("quaver API error: status=%d, error=%s", e.Status, e.Message)
}

// CooldownError is a policy rejection, not a pipeline failure: the user was
// synchronized too recently and the caller should retry after
// RemainingSeconds.
type CooldownError struct {
	RemainingSeconds int64
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("updated too recently; wait %d more seconds", e.RemainingSeconds)
}
