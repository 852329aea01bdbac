package broker

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"netbrain/internal/messagebus"
	"netbrain/internal/messages"
)

// CommandEmitter publishes commands to a topic instead of the local bus. A
// Forwarder on the consuming side hands them back to a bus.
type CommandEmitter struct {
	producer Producer
	topic    string
}

func NewCommandEmitter(producer Producer, topic string) *CommandEmitter {
	return &CommandEmitter{producer: producer, topic: topic}
}

func (e *CommandEmitter) Emit(ctx context.Context, cmd messagebus.Command) error {
	env, err := messages.ToEnvelope(cmd)
	if err != nil {
		return err
	}

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.Metadata.TraceID = sc.TraceID().String()
	}
	return e.producer.Publish(ctx, e.topic, *env)
}
