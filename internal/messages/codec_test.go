package messages

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netbrain/internal/constants"
	"netbrain/internal/messagebus"
	"netbrain/pkg/models"
)

func TestToEnvelope_UpdateCampaignResults(t *testing.T) {
	cmd := NewUpdateCampaignResults("CID123", "example.net", "Benchmark_event_42")
	cmd.Stage = messagebus.StageDev

	env, err := ToEnvelope(cmd)
	require.NoError(t, err)

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, constants.ServiceName, env.Source)
	assert.Equal(t, "command", env.Metadata.Kind)
	assert.Equal(t, TypeUpdateCampaignResults, env.Metadata.Type)
	assert.Equal(t, "CID123", env.Metadata.CorrelationID)
	assert.Equal(t, "DEV", env.Metadata.Stage)
	assert.Equal(t, map[string]interface{}{
		"domain":   "example.net",
		"campaign": "Benchmark_event_42",
	}, env.Payload)
}

func TestFromEnvelope_RestoresHeaderAndFields(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	env := models.MessageEnvelope{
		Timestamp: created,
		Payload: map[string]interface{}{
			"task_name":     "Benchmark_event_7",
			"task_log_id":   "65f1",
			"ip_address":    "10.0.0.1",
			"content_bytes": float64(512),
		},
		Metadata: models.Metadata{
			Kind:          "event",
			Type:          TypeBenchmarkCompleted,
			CorrelationID: "CIDX",
			Stage:         "TEST",
		},
	}

	msg, err := FromEnvelope(env)
	require.NoError(t, err)

	evt, ok := msg.(BenchmarkCompleted)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, messagebus.KindEvent, evt.Kind())
	assert.Equal(t, "CIDX", evt.CorrelationID())
	assert.Equal(t, messagebus.StageTest, evt.TargetStage())
	assert.True(t, created.Equal(evt.CreatedAt()))
	assert.Equal(t, "Benchmark_event_7", evt.TaskName)
	assert.Equal(t, 512, evt.ContentBytes)
}

func TestEnvelope_SurvivesJSONTransport(t *testing.T) {
	original := ScheduleBenchmark{
		CommandHeader: messagebus.CommandHeader{Header: messagebus.NewHeader("CIDT")},
		PayloadID:     "p1",
		DeviceName:    "SAP1",
		ObjectName:    "obj",
		IPAddress:     "192.0.2.10",
	}

	env, err := ToEnvelope(original)
	require.NoError(t, err)

	wire, err := json.Marshal(env)
	require.NoError(t, err)

	var received models.MessageEnvelope
	require.NoError(t, json.Unmarshal(wire, &received))

	msg, err := FromEnvelope(received)
	require.NoError(t, err)

	cmd, ok := msg.(ScheduleBenchmark)
	require.True(t, ok)
	assert.Equal(t, original.PayloadID, cmd.PayloadID)
	assert.Equal(t, original.DeviceName, cmd.DeviceName)
	assert.Equal(t, original.IPAddress, cmd.IPAddress)
	assert.Equal(t, "CIDT", cmd.CorrelationID())
	assert.Equal(t, messagebus.StageProd, cmd.TargetStage())
}

func TestFromEnvelope_Errors(t *testing.T) {
	_, err := FromEnvelope(models.MessageEnvelope{Metadata: models.Metadata{Type: "Nope"}})
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = FromEnvelope(models.MessageEnvelope{Metadata: models.Metadata{Kind: "event", Type: TypeUpdateCampaignResults}})
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestToEnvelope_UnknownType(t *testing.T) {
	_, err := ToEnvelope(stray{})
	assert.ErrorIs(t, err, ErrUnknownType)
}

type stray struct {
	messagebus.EventHeader
}

func (stray) Type() string { return "Stray" }

func TestFieldLocks(t *testing.T) {
	tests := []struct {
		name string
		cmd  messagebus.Command
		want []messagebus.Signature
	}{
		{
			name: "update campaign results locks domain and campaign",
			cmd:  NewUpdateCampaignResults("c", "X", "Y"),
			want: []messagebus.Signature{
				{Type: TypeUpdateCampaignResults, Field: "domain", Value: "X"},
				{Type: TypeUpdateCampaignResults, Field: "campaign", Value: "Y"},
			},
		},
		{
			name: "schedule benchmark locks device and address",
			cmd:  ScheduleBenchmark{DeviceName: "SAP1", IPAddress: "10.1.1.1"},
			want: []messagebus.Signature{
				{Type: TypeScheduleBenchmark, Field: "device_name", Value: "SAP1"},
				{Type: TypeScheduleBenchmark, Field: "ip_address", Value: "10.1.1.1"},
			},
		},
		{
			name: "collect device data locks task",
			cmd:  CollectDeviceData{TaskName: "T"},
			want: []messagebus.Signature{{Type: TypeCollectDeviceData, Field: "task_name", Value: "T"}},
		},
		{
			name: "retire locks task",
			cmd:  RetireBenchmarkTask{TaskName: "T"},
			want: []messagebus.Signature{{Type: TypeRetireBenchmarkTask, Field: "task_name", Value: "T"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := messagebus.Signatures(tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDerivedHeadersKeepCorrelation(t *testing.T) {
	parent := PayloadReceived{EventHeader: messagebus.EventHeader{Header: messagebus.NewHeader("CIDP")}}
	parent.Stage = messagebus.StageDev

	child := ScheduleBenchmark{CommandHeader: CommandHeader(parent)}
	assert.Equal(t, "CIDP", child.CorrelationID())
	assert.Equal(t, messagebus.StageDev, child.TargetStage())

	evt := BenchmarkFailed{EventHeader: EventHeader(child)}
	assert.Equal(t, "CIDP", evt.CorrelationID())
}
