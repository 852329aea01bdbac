package polling

import "fmt"

// DiscoveryError means the entry listing failed. Existing assignments are
// kept; only new ones are missed for that tick.
type DiscoveryError struct {
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed: %v", e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// SyncError is a per-assignment re-fetch or heartbeat failure. The
// assignment is quarantined.
type SyncError struct {
	EntryID string
	Op      string
	Err     error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s of %s failed: %v", e.Op, e.EntryID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// EmissionError is a failure to hand a due command to the outbound channel.
// The assignment is quarantined.
type EmissionError struct {
	EntryID string
	Err     error
}

func (e *EmissionError) Error() string {
	return fmt.Sprintf("emission for %s failed: %v", e.EntryID, e.Err)
}

func (e *EmissionError) Unwrap() error { return e.Err }

// RecoveryError is a failed attempt to revive a dead assignment. Attempt is
// the failure count after this attempt.
type RecoveryError struct {
	EntryID string
	Attempt int
	Err     error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("recovery of %s failed (attempt %d): %v", e.EntryID, e.Attempt, e.Err)
}

func (e *RecoveryError) Unwrap() error { return e.Err }

const (
	opFetch     = "fetch"
	opHeartbeat = "heartbeat"
	opConvert   = "convert"
)
