// Package messagebus dispatches commands and events to registered handlers
// on a fixed pool of workers sharing one FIFO queue.
//
// Commands declare field locks: while a command runs, no other command of the
// same type with equal values for those fields is executed. A conflicting
// command is discarded, not queued. Events fan out to every handler
// registered for their type and handler failures are isolated.
package messagebus

import (
	"time"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindCommand
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

type Stage string

const (
	StageDev  Stage = "DEV"
	StageTest Stage = "TEST"
	StageProd Stage = "PROD"
)

// ParseStage maps a configured stage name to a Stage, defaulting to PROD.
func ParseStage(s string) Stage {
	switch Stage(s) {
	case StageDev, StageTest:
		return Stage(s)
	default:
		return StageProd
	}
}

// Message is the common contract of commands and events. Type is the routing
// discriminator and must be stable for a concrete message type.
type Message interface {
	Kind() Kind
	Type() string
	CorrelationID() string
	CreatedAt() time.Time
	TargetStage() Stage
}

// Command is a request for exactly one handler to act.
type Command interface {
	Message
	// FieldLocks names the fields whose current values must be unique among
	// in-flight commands of the same type. Empty means unconstrained.
	FieldLocks() []string
	// LockValue returns the current value of a field named by FieldLocks.
	LockValue(field string) (string, bool)
}

// Event is a notification for zero or more independent handlers.
type Event interface {
	Message
}

// Header carries the fields shared by every message. Concrete messages embed
// CommandHeader or EventHeader.
type Header struct {
	CID     string    `json:"cid"`
	Created time.Time `json:"create_time"`
	Stage   Stage     `json:"target_stage"`
}

func NewHeader(cid string) Header {
	return Header{CID: cid, Created: time.Now().UTC(), Stage: StageProd}
}

// Derive returns a header for a follow-up message: same correlation id and
// stage, fresh creation time.
func (h Header) Derive() Header {
	return Header{CID: h.CID, Created: time.Now().UTC(), Stage: h.TargetStage()}
}

func (h Header) CorrelationID() string { return h.CID }

func (h Header) CreatedAt() time.Time { return h.Created }

func (h Header) TargetStage() Stage {
	if h.Stage == "" {
		return StageProd
	}
	return h.Stage
}

type CommandHeader struct {
	Header
}

func (CommandHeader) Kind() Kind { return KindCommand }

func (CommandHeader) FieldLocks() []string { return nil }

func (CommandHeader) LockValue(string) (string, bool) { return "", false }

type EventHeader struct {
	Header
}

func (EventHeader) Kind() Kind { return KindEvent }
