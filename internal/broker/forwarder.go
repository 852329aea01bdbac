package broker

import (
	"context"

	"netbrain/internal/messagebus"
	"netbrain/internal/messages"
	apperrors "netbrain/pkg/errors"
	"netbrain/pkg/models"
	"netbrain/pkg/retry"
)

// Submitter is the part of the message bus a Forwarder needs.
type Submitter interface {
	Submit(ctx context.Context, msgs ...messagebus.Message) []messagebus.Message
}

// Forwarder decodes consumed envelopes and submits them to a bus.
type Forwarder struct {
	bus Submitter
}

func NewForwarder(bus Submitter) *Forwarder {
	return &Forwarder{bus: bus}
}

// Handle is a HandlerFunc. Envelopes that cannot be decoded fail without
// retries; a full queue is retried by the consumer.
func (f *Forwarder) Handle(ctx context.Context, env models.MessageEnvelope) error {
	msg, err := messages.FromEnvelope(env)
	if err != nil {
		return retry.NewFatalError(err)
	}

	if failed := f.bus.Submit(ctx, msg); len(failed) > 0 {
		return apperrors.ErrQueueFull.WithDetail("message_type", msg.Type())
	}
	return nil
}
