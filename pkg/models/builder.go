package models

import "time"

type MessageEnvelopeBuilder struct {
	envelope *MessageEnvelope
}

func NewMessageEnvelopeBuilder() *MessageEnvelopeBuilder {
	return &MessageEnvelopeBuilder{
		envelope: &MessageEnvelope{
			Payload:  make(map[string]interface{}),
			Metadata: Metadata{},
		},
	}
}

func (b *MessageEnvelopeBuilder) WithID(id string) *MessageEnvelopeBuilder {
	b.envelope.ID = id
	return b
}

func (b *MessageEnvelopeBuilder) WithSource(source string) *MessageEnvelopeBuilder {
	b.envelope.Source = source
	return b
}

func (b *MessageEnvelopeBuilder) WithTimestamp(timestamp time.Time) *MessageEnvelopeBuilder {
	b.envelope.Timestamp = timestamp
	return b
}

func (b *MessageEnvelopeBuilder) WithPayload(payload map[string]interface{}) *MessageEnvelopeBuilder {
	b.envelope.Payload = payload
	return b
}

func (b *MessageEnvelopeBuilder) WithMessage(kind, msgType string) *MessageEnvelopeBuilder {
	b.envelope.Metadata.Kind = kind
	b.envelope.Metadata.Type = msgType
	return b
}

func (b *MessageEnvelopeBuilder) WithCorrelationID(cid string) *MessageEnvelopeBuilder {
	b.envelope.Metadata.CorrelationID = cid
	return b
}

func (b *MessageEnvelopeBuilder) WithStage(stage string) *MessageEnvelopeBuilder {
	b.envelope.Metadata.Stage = stage
	return b
}

func (b *MessageEnvelopeBuilder) WithTraceID(traceID string) *MessageEnvelopeBuilder {
	b.envelope.Metadata.TraceID = traceID
	return b
}

func (b *MessageEnvelopeBuilder) Build() *MessageEnvelope {
	if b.envelope.Timestamp.IsZero() {
		b.envelope.Timestamp = time.Now().UTC()
	}
	if b.envelope.Payload == nil {
		b.envelope.Payload = make(map[string]interface{})
	}
	return b.envelope
}
