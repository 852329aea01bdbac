package messages

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"netbrain/internal/constants"
	"netbrain/internal/messagebus"
	"netbrain/pkg/models"
)

var (
	ErrUnknownType  = errors.New("unknown message type")
	ErrKindMismatch = errors.New("envelope kind does not match message type")
)

// header keys are carried by the envelope metadata, not the payload.
var headerKeys = []string{"cid", "create_time", "target_stage"}

type decoder func(data []byte) (messagebus.Message, error)

var registry = map[string]struct {
	kind   messagebus.Kind
	decode decoder
}{
	TypeScheduleBenchmark:     {messagebus.KindCommand, decodeAs[ScheduleBenchmark]},
	TypeUpdateCampaignResults: {messagebus.KindCommand, decodeAs[UpdateCampaignResults]},
	TypeCollectDeviceData:     {messagebus.KindCommand, decodeAs[CollectDeviceData]},
	TypeRetireBenchmarkTask:   {messagebus.KindCommand, decodeAs[RetireBenchmarkTask]},
	TypePayloadReceived:       {messagebus.KindEvent, decodeAs[PayloadReceived]},
	TypeBenchmarkScheduled:    {messagebus.KindEvent, decodeAs[BenchmarkScheduled]},
	TypeBenchmarkCompleted:    {messagebus.KindEvent, decodeAs[BenchmarkCompleted]},
	TypeBenchmarkFailed:       {messagebus.KindEvent, decodeAs[BenchmarkFailed]},
	TypeAssignmentQuarantined: {messagebus.KindEvent, decodeAs[AssignmentQuarantined]},
}

func decodeAs[T messagebus.Message](data []byte) (messagebus.Message, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Known reports whether msgType is part of the catalogue.
func Known(msgType string) bool {
	_, ok := registry[msgType]
	return ok
}

// ToEnvelope converts a catalogued message into its wire envelope.
func ToEnvelope(msg messagebus.Message) (*models.MessageEnvelope, error) {
	if !Known(msg.Type()) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, msg.Type())
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", msg.Type(), err)
	}

	payload := make(map[string]interface{})
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to flatten %s: %w", msg.Type(), err)
	}
	for _, key := range headerKeys {
		delete(payload, key)
	}

	return models.NewMessageEnvelopeBuilder().
		WithID(uuid.New().String()).
		WithSource(constants.ServiceName).
		WithTimestamp(msg.CreatedAt()).
		WithMessage(msg.Kind().String(), msg.Type()).
		WithCorrelationID(msg.CorrelationID()).
		WithStage(string(msg.TargetStage())).
		WithPayload(payload).
		Build(), nil
}

// FromEnvelope rebuilds the concrete message described by env.
func FromEnvelope(env models.MessageEnvelope) (messagebus.Message, error) {
	entry, ok := registry[env.Metadata.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Metadata.Type)
	}
	if env.Metadata.Kind != "" && env.Metadata.Kind != entry.kind.String() {
		return nil, fmt.Errorf("%w: %s is a %s, envelope says %s",
			ErrKindMismatch, env.Metadata.Type, entry.kind, env.Metadata.Kind)
	}

	fields := make(map[string]interface{}, len(env.Payload)+len(headerKeys))
	for k, v := range env.Payload {
		fields[k] = v
	}
	fields["cid"] = env.Metadata.CorrelationID
	fields["create_time"] = env.Timestamp
	fields["target_stage"] = string(messagebus.ParseStage(env.Metadata.Stage))

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload of %s: %w", env.Metadata.Type, err)
	}

	msg, err := entry.decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", env.Metadata.Type, err)
	}
	return msg, nil
}
