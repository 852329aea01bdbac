package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"netbrain/internal/netbrain"
	"netbrain/internal/polling"
	"netbrain/internal/stackstorm"
	"netbrain/internal/storage"
	apperrors "netbrain/pkg/errors"
)

type fakePayloads struct {
	mu         sync.Mutex
	seq        int
	incoming   map[string]storage.IncomingPayload
	benchmarks map[string]storage.BenchmarkPayload
	taskLogs   map[string]storage.TaskLog
}

func newFakePayloads() *fakePayloads {
	return &fakePayloads{
		incoming:   make(map[string]storage.IncomingPayload),
		benchmarks: make(map[string]storage.BenchmarkPayload),
		taskLogs:   make(map[string]storage.TaskLog),
	}
}

func (f *fakePayloads) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakePayloads) InsertIncoming(ctx context.Context, p *storage.IncomingPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = f.nextID("in")
	f.incoming[p.ID] = *p
	return nil
}

func (f *fakePayloads) SetIncomingStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.incoming[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	p.Status = status
	f.incoming[id] = p
	return nil
}

func (f *fakePayloads) InsertBenchmark(ctx context.Context, p *storage.BenchmarkPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = f.nextID("bp")
	f.benchmarks[p.ID] = *p
	return nil
}

func (f *fakePayloads) SetBenchmarkStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.benchmarks[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	p.Status = status
	f.benchmarks[id] = p
	return nil
}

func (f *fakePayloads) InsertTaskLog(ctx context.Context, l *storage.TaskLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l.ID == "" {
		l.ID = f.nextID("log")
	}
	if l.CreatedTime.IsZero() {
		l.CreatedTime = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	}
	f.taskLogs[l.ID] = *l
	return nil
}

func (f *fakePayloads) GetTaskLog(ctx context.Context, id string) (*storage.TaskLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.taskLogs[id]
	if !ok {
		return nil, apperrors.ErrNotFound.WithDetail("task_log_id", id)
	}
	return &l, nil
}

func (f *fakePayloads) FindTaskLogByTaskName(ctx context.Context, taskName string) (*storage.TaskLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.taskLogs {
		if l.TaskName == taskName {
			l := l
			return &l, nil
		}
	}
	return nil, apperrors.ErrNotFound.WithDetail("task_name", taskName)
}

func (f *fakePayloads) SetTaskLogStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.taskLogs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	l.Status = status
	f.taskLogs[id] = l
	return nil
}

func (f *fakePayloads) SetTaskLogContent(ctx context.Context, id, content, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.taskLogs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	l.Content = content
	l.Status = status
	f.taskLogs[id] = l
	return nil
}

func (f *fakePayloads) taskLog(id string) storage.TaskLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.taskLogs[id]
}

func (f *fakePayloads) incomingStatus(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.incoming[id].Status
}

func (f *fakePayloads) onlyBenchmark() storage.BenchmarkPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.benchmarks {
		return b
	}
	return storage.BenchmarkPayload{}
}

type fakeEntries struct {
	mu      sync.Mutex
	records map[string]polling.Record
}

func newFakeEntries() *fakeEntries {
	return &fakeEntries{records: make(map[string]polling.Record)}
}

func (f *fakeEntries) CreateEntry(ctx context.Context, rec polling.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[rec.ID]; ok {
		return apperrors.ErrValidation.WithDetail("entry_id", rec.ID)
	}
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeEntries) UpdateAssignmentField(ctx context.Context, id, field string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return apperrors.ErrNotFound.WithDetail("entry_id", id)
	}
	if field == polling.FieldInterval {
		rec.Interval = value.(int)
	}
	f.records[id] = rec
	return nil
}

func (f *fakeEntries) get(id string) (polling.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	return rec, ok
}

type fakeAPI struct {
	mu        sync.Mutex
	submitted []storage.Benchmark
	deleted   []string
	status    netbrain.TaskStatus
	content   string
	submitErr error
	statusErr error
	rawErr    error
	deleteErr error
}

func (f *fakeAPI) SubmitBenchmark(ctx context.Context, benchmark storage.Benchmark) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, benchmark)
	return f.submitErr
}

func (f *fakeAPI) TaskStatus(ctx context.Context, taskName string) (netbrain.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeAPI) DeviceRawData(ctx context.Context, ipAddress, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content, f.rawErr
}

func (f *fakeAPI) DeleteTask(ctx context.Context, taskName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, taskName)
	return f.deleteErr
}

func (f *fakeAPI) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

type fakeNotifier struct {
	mu      sync.Mutex
	alerts  []stackstorm.Alert
	results []stackstorm.Result
}

func (f *fakeNotifier) SendAlert(ctx context.Context, alert stackstorm.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeNotifier) NotifyResults(ctx context.Context, result stackstorm.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
	return nil
}

func (f *fakeNotifier) sent() ([]stackstorm.Alert, []stackstorm.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stackstorm.Alert(nil), f.alerts...), append([]stackstorm.Result(nil), f.results...)
}
