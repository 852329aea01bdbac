package messagebus

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMessageKind = errors.New("message is neither a command nor an event")
	ErrNoCommandHandler   = errors.New("no handler registered for command")
	ErrDuplicateHandler   = errors.New("command handler already registered")
	ErrUnknownLockField   = errors.New("command declares a lock on a field it does not expose")
	ErrQueueFull          = errors.New("message queue is full")
)

// HandlerError wraps a failure raised by a named handler.
type HandlerError struct {
	Handler string
	Type    string
	CID     string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed for %s (cid %s): %v", e.Handler, e.Type, e.CID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
