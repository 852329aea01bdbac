// Package pipeline implements the benchmark workflow as message bus
// handlers: an accepted payload becomes a NetBrain benchmark task, the
// polling manager drives it to completion and the outcome is reported to
// StackStorm.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"netbrain/internal/config"
	"netbrain/internal/constants"
	"netbrain/internal/logger"
	"netbrain/internal/messagebus"
	"netbrain/internal/messages"
	"netbrain/internal/netbrain"
	"netbrain/internal/polling"
	"netbrain/internal/stackstorm"
	"netbrain/internal/storage"
	apperrors "netbrain/pkg/errors"
	"netbrain/pkg/metrics"
)

var ErrUnexpectedMessage = errors.New("unexpected message type")

const (
	taskNamePrefix = "Benchmark_event_"
	scopeTypeSite  = "site"
	frequencyOnce  = "once"
)

// Pipeline stage names, used in BenchmarkFailed and metrics.
const (
	StageSchedule = "schedule"
	StageStatus   = "status"
	StageCollect  = "collect"
	StageRetire   = "retire"
)

type PayloadStore interface {
	InsertIncoming(ctx context.Context, p *storage.IncomingPayload) error
	SetIncomingStatus(ctx context.Context, id, status string) error
	InsertBenchmark(ctx context.Context, p *storage.BenchmarkPayload) error
	SetBenchmarkStatus(ctx context.Context, id, status string) error
	InsertTaskLog(ctx context.Context, l *storage.TaskLog) error
	GetTaskLog(ctx context.Context, id string) (*storage.TaskLog, error)
	FindTaskLogByTaskName(ctx context.Context, taskName string) (*storage.TaskLog, error)
	SetTaskLogStatus(ctx context.Context, id, status string) error
	SetTaskLogContent(ctx context.Context, id, content, status string) error
}

// EntryStore creates and retires polling entries.
type EntryStore interface {
	CreateEntry(ctx context.Context, rec polling.Record) error
	UpdateAssignmentField(ctx context.Context, id, field string, value interface{}) error
}

type Handlers struct {
	cfg      config.PipelineConfig
	payloads PayloadStore
	entries  EntryStore
	netbrain netbrain.API
	notifier stackstorm.Notifier
	logger   logger.Logger
	now      func() time.Time
}

func NewHandlers(
	cfg config.PipelineConfig,
	payloads PayloadStore,
	entries EntryStore,
	api netbrain.API,
	notifier stackstorm.Notifier,
	log logger.Logger,
) *Handlers {
	if cfg.StatusPollMinutes <= 0 {
		cfg.StatusPollMinutes = constants.DefaultStatusPollMinutes
	}
	if cfg.RawDataCommand == "" {
		cfg.RawDataCommand = constants.DefaultRawDataCommand
	}

	return &Handlers{
		cfg:      cfg,
		payloads: payloads,
		entries:  entries,
		netbrain: api,
		notifier: notifier,
		logger:   log,
		now:      time.Now,
	}
}

// Register binds every pipeline handler to the router.
func (h *Handlers) Register(r *messagebus.Router) error {
	commands := []struct {
		msgType string
		name    string
		handler messagebus.CommandHandler
	}{
		{messages.TypeScheduleBenchmark, "schedule_benchmark", h.ScheduleBenchmark},
		{messages.TypeUpdateCampaignResults, "update_campaign_results", h.UpdateCampaignResults},
		{messages.TypeCollectDeviceData, "collect_device_data", h.CollectDeviceData},
		{messages.TypeRetireBenchmarkTask, "retire_benchmark_task", h.RetireBenchmarkTask},
	}
	for _, c := range commands {
		if err := r.HandleCommand(c.msgType, c.name, c.handler); err != nil {
			return err
		}
	}

	r.HandleEvent(messages.TypePayloadReceived, "record_payload", h.RecordPayload)
	r.HandleEvent(messages.TypeBenchmarkScheduled, "start_polling", h.StartPolling)
	r.HandleEvent(messages.TypeBenchmarkScheduled, "count_scheduled", h.countScheduled)
	r.HandleEvent(messages.TypeBenchmarkCompleted, "notify_results", h.NotifyResults)
	r.HandleEvent(messages.TypeBenchmarkFailed, "alert_failure", h.AlertFailure)
	r.HandleEvent(messages.TypeAssignmentQuarantined, "alert_quarantine", h.AlertQuarantine)
	return nil
}

// RecordPayload stores an accepted request and asks for its benchmark.
func (h *Handlers) RecordPayload(ctx context.Context, evt messagebus.Event) ([]messagebus.Message, error) {
	p, err := as[messages.PayloadReceived](evt)
	if err != nil {
		return nil, err
	}

	incoming := &storage.IncomingPayload{
		DeviceName: p.DeviceName,
		ObjectName: p.ObjectName,
		IPAddress:  p.IPAddress,
		CID:        p.CorrelationID(),
		Status:     constants.StatusNew,
	}
	if err := h.payloads.InsertIncoming(ctx, incoming); err != nil {
		return nil, err
	}

	return []messagebus.Message{messages.ScheduleBenchmark{
		CommandHeader: messages.CommandHeader(p),
		PayloadID:     incoming.ID,
		DeviceName:    p.DeviceName,
		ObjectName:    p.ObjectName,
		IPAddress:     p.IPAddress,
	}}, nil
}

// ScheduleBenchmark turns a payload into a NetBrain benchmark task. A device
// without a configured scope or a rejected submission ends the workflow with
// BenchmarkFailed.
func (h *Handlers) ScheduleBenchmark(ctx context.Context, cmd messagebus.Command) ([]messagebus.Message, error) {
	c, err := as[messages.ScheduleBenchmark](cmd)
	if err != nil {
		return nil, err
	}
	taskName := taskNamePrefix + c.PayloadID

	scope, ok := h.scope(c.DeviceName)
	if !ok {
		h.setStatus(ctx, h.payloads.SetIncomingStatus, c.PayloadID, constants.StatusFailed)
		return h.failed(ctx, c, taskName, StageSchedule, fmt.Sprintf("no scope configured for device %q", c.DeviceName)), nil
	}

	now := h.now().UTC()
	bp := &storage.BenchmarkPayload{
		ParentID: c.PayloadID,
		Benchmark: storage.Benchmark{
			TaskName:  taskName,
			StartDate: now.Format("2006-01-02"),
			Schedule: storage.Schedule{
				Frequency: frequencyOnce,
				StartTime: []string{now.Format("15:04:05")},
			},
			DeviceScope: storage.DeviceScope{
				ScopeType: scopeTypeSite,
				Scopes:    []string{scope},
				IPAddress: c.IPAddress,
			},
			CLICommands: h.cfg.CLICommands,
		},
		Status: constants.StatusNew,
	}
	if err := h.payloads.InsertBenchmark(ctx, bp); err != nil {
		return nil, err
	}

	if err := h.netbrain.SubmitBenchmark(ctx, bp.Benchmark); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		h.setStatus(ctx, h.payloads.SetBenchmarkStatus, bp.ID, constants.StatusFailed)
		h.setStatus(ctx, h.payloads.SetIncomingStatus, c.PayloadID, constants.StatusFailed)
		return h.failed(ctx, c, taskName, StageSchedule, err.Error()), nil
	}

	h.setStatus(ctx, h.payloads.SetBenchmarkStatus, bp.ID, constants.StatusCompleted)
	h.setStatus(ctx, h.payloads.SetIncomingStatus, c.PayloadID, constants.StatusCompleted)

	taskLog := &storage.TaskLog{
		ParentID:  bp.ID,
		TaskName:  taskName,
		IPAddress: c.IPAddress,
		Status:    constants.StatusNew,
	}
	if err := h.payloads.InsertTaskLog(ctx, taskLog); err != nil {
		return nil, err
	}

	h.logger.InfowCtx(ctx, "Benchmark task scheduled",
		"cid", c.CorrelationID(),
		"task_name", taskName,
		"task_log_id", taskLog.ID,
	)
	return []messagebus.Message{messages.BenchmarkScheduled{
		EventHeader: messages.EventHeader(c),
		TaskName:    taskName,
		TaskLogID:   taskLog.ID,
		IPAddress:   c.IPAddress,
		Domain:      h.cfg.Domain,
	}}, nil
}

// StartPolling creates the polling entry that checks the task's status.
func (h *Handlers) StartPolling(ctx context.Context, evt messagebus.Event) ([]messagebus.Message, error) {
	e, err := as[messages.BenchmarkScheduled](evt)
	if err != nil {
		return nil, err
	}

	rec := polling.Record{
		ID:       e.TaskLogID,
		Domain:   e.Domain,
		Campaign: e.TaskName,
		Test:     e.IPAddress,
		Interval: h.cfg.StatusPollMinutes,
	}
	if err := h.entries.CreateEntry(ctx, rec); err != nil {
		if apperrors.IsValidation(err) {
			h.logger.WarnwCtx(ctx, "Polling entry already exists", "cid", e.CorrelationID(), "entry_id", rec.ID)
			return nil, nil
		}
		return nil, err
	}
	return nil, nil
}

func (h *Handlers) countScheduled(ctx context.Context, evt messagebus.Event) ([]messagebus.Message, error) {
	metrics.IncPipelineStage(StageSchedule, constants.StatusCompleted)
	return nil, nil
}

// UpdateCampaignResults advances one task by looking at its log. Each
// polling tick re-issues the step the task is waiting on, so a failed step
// is retried on the next due tick.
func (h *Handlers) UpdateCampaignResults(ctx context.Context, cmd messagebus.Command) ([]messagebus.Message, error) {
	c, err := as[messages.UpdateCampaignResults](cmd)
	if err != nil {
		return nil, err
	}

	taskLog, err := h.payloads.FindTaskLogByTaskName(ctx, c.Campaign)
	if err != nil {
		return nil, err
	}

	switch taskLog.Status {
	case constants.StatusNew:
		return h.checkStatus(ctx, c, taskLog)
	case constants.StatusGetDeviceInfo:
		return []messagebus.Message{h.collect(c, taskLog)}, nil
	case constants.StatusDeleteTask:
		return []messagebus.Message{h.retire(c, taskLog)}, nil
	default:
		// finished either way; make sure the entry stops being due
		h.stopPolling(ctx, c.CorrelationID(), taskLog.ID)
		return nil, nil
	}
}

func (h *Handlers) checkStatus(ctx context.Context, c messages.UpdateCampaignResults, taskLog *storage.TaskLog) ([]messagebus.Message, error) {
	status, err := h.netbrain.TaskStatus(ctx, taskLog.TaskName)
	if errors.Is(err, netbrain.ErrTaskNotFound) {
		return h.abandon(ctx, c, taskLog, "task not found on NetBrain"), nil
	}
	if err != nil {
		return nil, err
	}

	switch {
	case status.Done():
		if err := h.payloads.SetTaskLogStatus(ctx, taskLog.ID, constants.StatusGetDeviceInfo); err != nil {
			return nil, err
		}
		metrics.IncPipelineStage(StageStatus, constants.StatusCompleted)
		return []messagebus.Message{h.collect(c, taskLog)}, nil
	case status.Failed():
		return h.abandon(ctx, c, taskLog, status.Description), nil
	default:
		h.logger.DebugwCtx(ctx, "Benchmark task still running",
			"cid", c.CorrelationID(),
			"task_name", taskLog.TaskName,
			"status", status.Description,
		)
		return nil, nil
	}
}

func (h *Handlers) abandon(ctx context.Context, parent messagebus.Message, taskLog *storage.TaskLog, reason string) []messagebus.Message {
	h.setStatus(ctx, h.payloads.SetTaskLogStatus, taskLog.ID, constants.StatusFailed)
	h.stopPolling(ctx, parent.CorrelationID(), taskLog.ID)
	return h.failed(ctx, parent, taskLog.TaskName, StageStatus, reason)
}

func (h *Handlers) collect(parent messagebus.Message, taskLog *storage.TaskLog) messages.CollectDeviceData {
	return messages.CollectDeviceData{
		CommandHeader: messages.CommandHeader(parent),
		TaskName:      taskLog.TaskName,
		TaskLogID:     taskLog.ID,
		IPAddress:     taskLog.IPAddress,
	}
}

func (h *Handlers) retire(parent messagebus.Message, taskLog *storage.TaskLog) messages.RetireBenchmarkTask {
	return messages.RetireBenchmarkTask{
		CommandHeader: messages.CommandHeader(parent),
		TaskName:      taskLog.TaskName,
		TaskLogID:     taskLog.ID,
		IPAddress:     taskLog.IPAddress,
		ContentBytes:  len(taskLog.Content),
	}
}

// CollectDeviceData stores the device output NetBrain gathered for the task.
func (h *Handlers) CollectDeviceData(ctx context.Context, cmd messagebus.Command) ([]messagebus.Message, error) {
	c, err := as[messages.CollectDeviceData](cmd)
	if err != nil {
		return nil, err
	}

	content, err := h.netbrain.DeviceRawData(ctx, c.IPAddress, h.cfg.RawDataCommand)
	if err != nil {
		metrics.IncPipelineStage(StageCollect, constants.StatusFailed)
		return nil, err
	}
	if err := h.payloads.SetTaskLogContent(ctx, c.TaskLogID, content, constants.StatusDeleteTask); err != nil {
		return nil, err
	}
	metrics.IncPipelineStage(StageCollect, constants.StatusCompleted)

	return []messagebus.Message{messages.RetireBenchmarkTask{
		CommandHeader: messages.CommandHeader(c),
		TaskName:      c.TaskName,
		TaskLogID:     c.TaskLogID,
		IPAddress:     c.IPAddress,
		ContentBytes:  len(content),
	}}, nil
}

// RetireBenchmarkTask deletes the finished task and stops its polling entry.
// A task NetBrain no longer knows counts as deleted.
func (h *Handlers) RetireBenchmarkTask(ctx context.Context, cmd messagebus.Command) ([]messagebus.Message, error) {
	c, err := as[messages.RetireBenchmarkTask](cmd)
	if err != nil {
		return nil, err
	}

	if err := h.netbrain.DeleteTask(ctx, c.TaskName); err != nil && !errors.Is(err, netbrain.ErrTaskNotFound) {
		metrics.IncPipelineStage(StageRetire, constants.StatusFailed)
		return nil, err
	}
	if err := h.payloads.SetTaskLogStatus(ctx, c.TaskLogID, constants.StatusCompleted); err != nil {
		return nil, err
	}
	h.stopPolling(ctx, c.CorrelationID(), c.TaskLogID)
	metrics.IncPipelineStage(StageRetire, constants.StatusCompleted)

	return []messagebus.Message{messages.BenchmarkCompleted{
		EventHeader:  messages.EventHeader(c),
		TaskName:     c.TaskName,
		TaskLogID:    c.TaskLogID,
		IPAddress:    c.IPAddress,
		ContentBytes: c.ContentBytes,
	}}, nil
}

type resultComment struct {
	Domain            string `json:"Domain"`
	TestID            string `json:"TestId"`
	TestName          string `json:"TestName"`
	TestStatus        string `json:"TestStatus"`
	StatusDescription string `json:"StatusDescription"`
	TestStartTime     string `json:"TestStartTime"`
	TestEndTime       string `json:"TestEndTime"`
}

// NotifyResults posts the collected device output to StackStorm.
func (h *Handlers) NotifyResults(ctx context.Context, evt messagebus.Event) ([]messagebus.Message, error) {
	e, err := as[messages.BenchmarkCompleted](evt)
	if err != nil {
		return nil, err
	}

	taskLog, err := h.payloads.GetTaskLog(ctx, e.TaskLogID)
	if err != nil {
		return nil, err
	}

	comment, err := json.MarshalIndent(resultComment{
		Domain:            h.cfg.Domain,
		TestID:            taskLog.ID,
		TestName:          taskLog.TaskName,
		TestStatus:        "passed",
		StatusDescription: taskLog.Content,
		TestStartTime:     taskLog.CreatedTime.UTC().Format(time.RFC3339),
		TestEndTime:       h.now().UTC().Format(time.RFC3339),
	}, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result comment: %w", err)
	}

	return nil, h.notifier.NotifyResults(ctx, stackstorm.Result{
		CID:           e.CorrelationID(),
		SupportTicket: h.cfg.SupportTicket,
		Comment:       string(comment),
		TestName:      e.TaskName,
		Passed:        true,
		Stage:         e.TargetStage(),
	})
}

func (h *Handlers) AlertFailure(ctx context.Context, evt messagebus.Event) ([]messagebus.Message, error) {
	e, err := as[messages.BenchmarkFailed](evt)
	if err != nil {
		return nil, err
	}
	metrics.IncPipelineStage(e.Stage, constants.StatusFailed)

	return nil, h.notifier.SendAlert(ctx, stackstorm.Alert{
		CID:         e.CorrelationID(),
		Title:       "NetBrain benchmark failed",
		Description: e.Reason,
		Details: map[string]string{
			"task_name": e.TaskName,
			"stage":     e.Stage,
		},
		Stage: e.TargetStage(),
	})
}

func (h *Handlers) AlertQuarantine(ctx context.Context, evt messagebus.Event) ([]messagebus.Message, error) {
	e, err := as[messages.AssignmentQuarantined](evt)
	if err != nil {
		return nil, err
	}

	return nil, h.notifier.SendAlert(ctx, stackstorm.Alert{
		CID:         e.CorrelationID(),
		Title:       "Polling assignment quarantined",
		Description: fmt.Sprintf("polling entry %s failed %d times in a row", e.EntryID, e.Failures),
		Details: map[string]string{
			"entry_id": e.EntryID,
			"failures": fmt.Sprint(e.Failures),
		},
		Stage: e.TargetStage(),
	})
}

func (h *Handlers) scope(device string) (string, bool) {
	// configuration keys are case-insensitive
	scope, ok := h.cfg.DeviceScopes[strings.ToLower(device)]
	return scope, ok && scope != ""
}

func (h *Handlers) failed(ctx context.Context, parent messagebus.Message, taskName, stage, reason string) []messagebus.Message {
	h.logger.WarnwCtx(ctx, "Benchmark failed",
		"cid", parent.CorrelationID(),
		"task_name", taskName,
		"stage", stage,
		"reason", reason,
	)
	return []messagebus.Message{messages.BenchmarkFailed{
		EventHeader: messages.EventHeader(parent),
		TaskName:    taskName,
		Stage:       stage,
		Reason:      reason,
	}}
}

// stopPolling sets the entry interval to 0 so it is never due again.
func (h *Handlers) stopPolling(ctx context.Context, cid, entryID string) {
	err := h.entries.UpdateAssignmentField(ctx, entryID, polling.FieldInterval, 0)
	if err != nil && !apperrors.IsNotFound(err) {
		h.logger.WarnwCtx(ctx, "Failed to stop polling entry", "cid", cid, "entry_id", entryID, "error", err)
	}
}

// setStatus records a document status. Status bookkeeping never fails the
// workflow.
func (h *Handlers) setStatus(ctx context.Context, set func(context.Context, string, string) error, id, status string) {
	if err := set(ctx, id, status); err != nil {
		h.logger.WarnwCtx(ctx, "Failed to update status", "id", id, "status", status, "error", err)
	}
}

// as unwraps msg into T. Pointers to T are accepted as well, since the bus
// carries whatever the sender submitted.
func as[T messagebus.Message](msg messagebus.Message) (T, error) {
	if m, ok := msg.(T); ok {
		return m, nil
	}
	if m, ok := any(msg).(*T); ok && m != nil {
		return *m, nil
	}
	var zero T
	return zero, fmt.Errorf("%w: %T", ErrUnexpectedMessage, msg)
}
