package outbox

import (
	"errors"
	"fmt"

	"github.com/matheus3301/parley/internal/auth"
	"github.com/matheus3301/parley/internal/remote"
)

// Failure classifies a failed send for the caller.
type Failure string

const (
	FailureGeneral  Failure = "general"
	FailureNetwork  Failure = "network"
	FailureBlocked  Failure = "blocked"  // the recipient blocked the sender
	FailureBlocking Failure = "blocking" // the sender blocks the recipient
)

// Backend error codes mapped to specific failures.
const (
	CodeBlocked  = "BLOCKED"
	CodeBlocking = "BLOCKING"
)

// SendError is returned by Dispatch when the backend did not accept a message.
type SendError struct {
	Failure Failure
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed (%s): %v", e.Failure, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Classify maps any error from the send path to a Failure. An error without
// a structured backend code is a network failure.
func Classify(err error) Failure {
	if err == nil {
		return ""
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Failure
	}
	if errors.Is(err, auth.ErrUnauthenticated) || remote.IsUnauthenticated(err) {
		return FailureGeneral
	}

	var re *remote.Error
	if !errors.As(err, &re) {
		return FailureNetwork
	}
	switch re.Code {
	case "":
		return FailureNetwork
	case CodeBlocked:
		return FailureBlocked
	case CodeBlocking:
		return FailureBlocking
	default:
		return FailureGeneral
	}
}
