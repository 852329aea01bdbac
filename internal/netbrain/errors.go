package netbrain

import "errors"

var (
	// ErrUnauthorized is returned when NetBrain rejects the session token.
	// The cached token is dropped before it is returned, so a retry logs in
	// again.
	ErrUnauthorized = errors.New("netbrain: unauthorized")
	// ErrRejected means NetBrain answered but refused the request.
	ErrRejected     = errors.New("netbrain: request rejected")
	ErrTaskNotFound = errors.New("netbrain: task not found")
	ErrNoToken      = errors.New("netbrain: login returned no token")
)
