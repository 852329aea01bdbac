// Package messages defines the commands and events that flow through the
// benchmark pipeline.
package messages

import (
	"netbrain/internal/messagebus"
)

const (
	TypeScheduleBenchmark     = "ScheduleBenchmark"
	TypeUpdateCampaignResults = "UpdateCampaignResults"
	TypeCollectDeviceData     = "CollectDeviceData"
	TypeRetireBenchmarkTask   = "RetireBenchmarkTask"

	TypePayloadReceived       = "PayloadReceived"
	TypeBenchmarkScheduled    = "BenchmarkScheduled"
	TypeBenchmarkCompleted    = "BenchmarkCompleted"
	TypeBenchmarkFailed       = "BenchmarkFailed"
	TypeAssignmentQuarantined = "AssignmentQuarantined"
)

// ScheduleBenchmark asks for a benchmark task to be created on NetBrain for
// one incoming payload.
type ScheduleBenchmark struct {
	messagebus.CommandHeader
	PayloadID  string `json:"payload_id"`
	DeviceName string `json:"device_name"`
	ObjectName string `json:"object_name"`
	IPAddress  string `json:"ip_address"`
}

func (ScheduleBenchmark) Type() string { return TypeScheduleBenchmark }

func (ScheduleBenchmark) FieldLocks() []string { return []string{"device_name", "ip_address"} }

func (c ScheduleBenchmark) LockValue(field string) (string, bool) {
	switch field {
	case "device_name":
		return c.DeviceName, true
	case "ip_address":
		return c.IPAddress, true
	}
	return "", false
}

// UpdateCampaignResults is emitted by the polling manager each time an
// assignment is due.
type UpdateCampaignResults struct {
	messagebus.CommandHeader
	Domain   string `json:"domain"`
	Campaign string `json:"campaign"`
}

func NewUpdateCampaignResults(cid, domain, campaign string) UpdateCampaignResults {
	return UpdateCampaignResults{
		CommandHeader: messagebus.CommandHeader{Header: messagebus.NewHeader(cid)},
		Domain:        domain,
		Campaign:      campaign,
	}
}

func (UpdateCampaignResults) Type() string { return TypeUpdateCampaignResults }

func (UpdateCampaignResults) FieldLocks() []string { return []string{"domain", "campaign"} }

func (c UpdateCampaignResults) LockValue(field string) (string, bool) {
	switch field {
	case "domain":
		return c.Domain, true
	case "campaign":
		return c.Campaign, true
	}
	return "", false
}

type CollectDeviceData struct {
	messagebus.CommandHeader
	TaskName  string `json:"task_name"`
	TaskLogID string `json:"task_log_id"`
	IPAddress string `json:"ip_address"`
}

func (CollectDeviceData) Type() string { return TypeCollectDeviceData }

func (CollectDeviceData) FieldLocks() []string { return []string{"task_name"} }

func (c CollectDeviceData) LockValue(field string) (string, bool) {
	if field == "task_name" {
		return c.TaskName, true
	}
	return "", false
}

// RetireBenchmarkTask removes a finished task from NetBrain and stops its
// polling entry.
type RetireBenchmarkTask struct {
	messagebus.CommandHeader
	TaskName     string `json:"task_name"`
	TaskLogID    string `json:"task_log_id"`
	IPAddress    string `json:"ip_address"`
	ContentBytes int    `json:"content_bytes"`
}

func (RetireBenchmarkTask) Type() string { return TypeRetireBenchmarkTask }

func (RetireBenchmarkTask) FieldLocks() []string { return []string{"task_name"} }

func (c RetireBenchmarkTask) LockValue(field string) (string, bool) {
	if field == "task_name" {
		return c.TaskName, true
	}
	return "", false
}

// PayloadReceived is raised by the ingress for every accepted request.
type PayloadReceived struct {
	messagebus.EventHeader
	DeviceName string `json:"device_name"`
	ObjectName string `json:"object_name"`
	IPAddress  string `json:"ip_address"`
}

func (PayloadReceived) Type() string { return TypePayloadReceived }

type BenchmarkScheduled struct {
	messagebus.EventHeader
	TaskName  string `json:"task_name"`
	TaskLogID string `json:"task_log_id"`
	IPAddress string `json:"ip_address"`
	Domain    string `json:"domain"`
}

func (BenchmarkScheduled) Type() string { return TypeBenchmarkScheduled }

type BenchmarkCompleted struct {
	messagebus.EventHeader
	TaskName     string `json:"task_name"`
	TaskLogID    string `json:"task_log_id"`
	IPAddress    string `json:"ip_address"`
	ContentBytes int    `json:"content_bytes"`
}

func (BenchmarkCompleted) Type() string { return TypeBenchmarkCompleted }

// BenchmarkFailed reports that a task could not be scheduled or completed.
// Stage names the pipeline step that gave up.
type BenchmarkFailed struct {
	messagebus.EventHeader
	TaskName string `json:"task_name"`
	Stage    string `json:"stage"`
	Reason   string `json:"reason"`
}

func (BenchmarkFailed) Type() string { return TypeBenchmarkFailed }

// AssignmentQuarantined is raised when a dead polling assignment crosses the
// alert threshold.
type AssignmentQuarantined struct {
	messagebus.EventHeader
	EntryID  string `json:"entry_id"`
	Failures int    `json:"failures"`
}

func (AssignmentQuarantined) Type() string { return TypeAssignmentQuarantined }

// CommandHeader derives a command header from a parent message, keeping its
// correlation id and stage.
func CommandHeader(parent messagebus.Message) messagebus.CommandHeader {
	return messagebus.CommandHeader{Header: derive(parent)}
}

func EventHeader(parent messagebus.Message) messagebus.EventHeader {
	return messagebus.EventHeader{Header: derive(parent)}
}

func derive(parent messagebus.Message) messagebus.Header {
	h := messagebus.NewHeader(parent.CorrelationID())
	h.Stage = parent.TargetStage()
	return h
}
