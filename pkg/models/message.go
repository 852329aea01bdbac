package models

import "time"

// MessageEnvelope is the wire form of a bus message when it crosses a process
// boundary (Kafka). Payload holds the message's own fields; the shared header
// travels in Metadata and Timestamp.
type MessageEnvelope struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
	Metadata  Metadata               `json:"metadata"`
}

type Metadata struct {
	Kind          string `json:"kind"`
	Type          string `json:"type"`
	CorrelationID string `json:"cid"`
	Stage         string `json:"target_stage,omitempty"`
	TraceID       string `json:"trace_id,omitempty"`
}
