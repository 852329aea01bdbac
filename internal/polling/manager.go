// Package polling schedules recurring UpdateCampaignResults commands for the
// polling entries kept in the backing store.
//
// The manager keeps an in-memory set of active assignments and a dead pile of
// entries that failed to synchronise. Every tick it discovers new entries,
// emits a command for each due assignment and, every SyncEvery ticks,
// reconciles the active set with the store and retries the dead pile.
package polling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"netbrain/internal/logger"
	"netbrain/internal/messagebus"
	"netbrain/internal/messages"
	"netbrain/pkg/correlation"
	"netbrain/pkg/metrics"
	"netbrain/pkg/tracing"
)

const tracerName = "polling"

// Emitter hands a command over for delivery. The bus itself satisfies it, as
// does the Kafka command emitter.
type Emitter interface {
	Emit(ctx context.Context, cmd messagebus.Command) error
}

// AlertFunc is called once when a dead entry's failure count reaches the
// configured alert threshold.
type AlertFunc func(ctx context.Context, entryID string, failures int)

type Config struct {
	TickInterval time.Duration
	// SyncEvery is the number of ticks between state syncs.
	SyncEvery int
	// DeadAlertThreshold of 0 disables the alert hook.
	DeadAlertThreshold int
	// MaxDeadRetries of 0 keeps dead entries forever.
	MaxDeadRetries int
	Stage          messagebus.Stage
}

type Option func(*Manager)

func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

func WithCorrelationIDs(next func() string) Option {
	return func(m *Manager) { m.nextCID = next }
}

func WithDeadAlert(fn AlertFunc) Option {
	return func(m *Manager) { m.alert = fn }
}

// State is a point-in-time copy of the manager's bookkeeping.
type State struct {
	ElapsedMinutes int            `json:"elapsed_minutes"`
	Active         []Assignment   `json:"active"`
	Dead           map[string]int `json:"dead"`
	Abandoned      []string       `json:"abandoned,omitempty"`
}

type Manager struct {
	cfg     Config
	store   Store
	emitter Emitter
	logger  logger.Logger
	clock   func() time.Time
	nextCID func() string
	alert   AlertFunc

	// tickMu serialises ticks and guards the bookkeeping below.
	tickMu  sync.Mutex
	elapsed int
	active  map[Assignment]struct{}
	dead    map[string]int

	// abandoned entries exceeded MaxDeadRetries and are ignored by discovery.
	abandoned map[string]struct{}

	// published is the copy readers see; it is refreshed between tick phases.
	stateMu   sync.RWMutex
	published State
}

func NewManager(cfg Config, store Store, emitter Emitter, log logger.Logger, opts ...Option) (*Manager, error) {
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %s", cfg.TickInterval)
	}
	if cfg.SyncEvery < 1 {
		return nil, fmt.Errorf("sync interval must be at least one tick, got %d", cfg.SyncEvery)
	}
	if cfg.DeadAlertThreshold < 0 || cfg.MaxDeadRetries < 0 {
		return nil, errors.New("dead pile limits must be non-negative")
	}
	if cfg.Stage == "" {
		cfg.Stage = messagebus.StageProd
	}

	m := &Manager{
		cfg:       cfg,
		store:     store,
		emitter:   emitter,
		logger:    log,
		clock:     time.Now,
		nextCID:   correlation.New,
		active:    make(map[Assignment]struct{}),
		dead:      make(map[string]int),
		abandoned: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.publish()
	return m, nil
}

// Run ticks once immediately and then every TickInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	m.logger.InfowCtx(ctx, "Polling manager started",
		"tick_interval", m.cfg.TickInterval,
		"sync_every", m.cfg.SyncEvery,
	)

	for {
		if err := m.Tick(ctx); err != nil && ctx.Err() == nil {
			m.logger.WarnwCtx(ctx, "Polling tick finished with errors", "error", err)
		}

		select {
		case <-ctx.Done():
			m.logger.InfowCtx(ctx, "Polling manager stopped", "elapsed_minutes", m.Elapsed())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one scheduling cycle: sync when due, discovery, due-check, run.
// The returned error joins every per-entry failure of the cycle.
func (m *Manager) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	start := time.Now()
	ctx, span := tracing.GetTracer(tracerName).Start(ctx, "polling.tick",
		trace.WithAttributes(attribute.Int("polling.elapsed_minutes", m.elapsed)),
	)
	defer span.End()

	var errs []error
	if m.elapsed%m.cfg.SyncEvery == 0 {
		errs = append(errs, m.sync(ctx)...)
		m.publish()
	}
	if err := m.discover(ctx); err != nil {
		errs = append(errs, err)
	}
	m.publish()
	errs = append(errs, m.run(ctx, m.due())...)

	m.elapsed++
	m.publish()
	metrics.SetPollingState(len(m.active), len(m.dead))
	metrics.ObservePollingTick(time.Since(start))

	return errors.Join(errs...)
}

// Snapshot returns the state as of the last completed tick phase. It does not
// wait for a running tick.
func (m *Manager) Snapshot() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	return State{
		ElapsedMinutes: m.published.ElapsedMinutes,
		Active:         append([]Assignment(nil), m.published.Active...),
		Dead:           lo.Assign(m.published.Dead),
		Abandoned:      append([]string(nil), m.published.Abandoned...),
	}
}

func (m *Manager) Elapsed() int {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.published.ElapsedMinutes
}

// publish copies the bookkeeping for readers. Callers hold tickMu.
func (m *Manager) publish() {
	abandoned := lo.Keys(m.abandoned)
	sort.Strings(abandoned)

	state := State{
		ElapsedMinutes: m.elapsed,
		Active:         m.sortedActive(),
		Dead:           lo.Assign(m.dead),
		Abandoned:      abandoned,
	}

	m.stateMu.Lock()
	m.published = state
	m.stateMu.Unlock()
}

func (m *Manager) discover(ctx context.Context) error {
	records, err := m.store.ListAssignments(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		metrics.PollingErrorsTotal.WithLabelValues("discovery").Inc()
		m.logger.ErrorwCtx(ctx, "Failed to list polling entries", "error", err)
		return &DiscoveryError{Err: err}
	}

	byID := lo.KeyBy(lo.Keys(m.active), func(a Assignment) string { return a.EntryID })

	for _, rec := range records {
		a, err := AssignmentFromRecord(rec)
		if err != nil {
			m.logger.WarnwCtx(ctx, "Skipping malformed polling entry", "entry_id", rec.ID, "error", err)
			continue
		}
		if _, dead := m.dead[a.EntryID]; dead {
			continue
		}
		if _, gone := m.abandoned[a.EntryID]; gone {
			continue
		}
		if _, ok := m.active[a]; ok {
			continue
		}

		if stale, ok := byID[a.EntryID]; ok {
			delete(m.active, stale)
			m.logger.InfowCtx(ctx, "Polling entry changed, replacing assignment",
				"entry_id", a.EntryID,
				"old", stale.String(),
				"new", a.String(),
			)
		} else {
			m.logger.InfowCtx(ctx, "Added polling assignment", "entry_id", a.EntryID, "assignment", a.String())
		}
		m.active[a] = struct{}{}
		byID[a.EntryID] = a
	}
	return nil
}

func (m *Manager) due() []Assignment {
	return lo.Filter(m.sortedActive(), func(a Assignment, _ int) bool {
		return a.DueAt(m.elapsed)
	})
}

func (m *Manager) run(ctx context.Context, due []Assignment) []error {
	var errs []error

	for _, a := range due {
		if ctx.Err() != nil {
			break
		}

		cmd := messages.NewUpdateCampaignResults(m.nextCID(), a.Domain, a.Campaign)
		cmd.Stage = m.cfg.Stage

		if err := m.emitter.Emit(ctx, cmd); err != nil {
			if ctx.Err() != nil {
				break
			}
			metrics.PollingEmissionsTotal.WithLabelValues("failed").Inc()
			emitErr := &EmissionError{EntryID: a.EntryID, Err: err}
			m.quarantine(ctx, a, "emission", emitErr)
			errs = append(errs, emitErr)
			continue
		}

		metrics.PollingEmissionsTotal.WithLabelValues("success").Inc()
		m.logger.DebugwCtx(ctx, "Emitted command for due assignment",
			"entry_id", a.EntryID,
			"cid", cmd.CorrelationID(),
		)

		if err := m.store.UpdateAssignmentField(ctx, a.EntryID, FieldLastSchedule, m.clock().UTC()); err != nil {
			m.logger.WarnwCtx(ctx, "Failed to record schedule time", "entry_id", a.EntryID, "error", err)
		}
	}
	return errs
}

type replacement struct {
	old, fresh Assignment
}

// sync reconciles the active set with the store, then retries the entries
// that were already dead when it started.
func (m *Manager) sync(ctx context.Context) []error {
	var errs []error
	previouslyDead := lo.Keys(m.dead)
	sort.Strings(previouslyDead)

	var pending []replacement
	for _, a := range m.sortedActive() {
		if ctx.Err() != nil {
			return errs
		}

		fresh, op, err := m.fetch(ctx, a.EntryID)
		if err != nil {
			if ctx.Err() != nil {
				return errs
			}
			syncErr := &SyncError{EntryID: a.EntryID, Op: op, Err: err}
			m.quarantine(ctx, a, "sync", syncErr)
			errs = append(errs, syncErr)
			continue
		}

		if fresh != a {
			m.logger.InfowCtx(ctx, "Polling entry change detected", "entry_id", a.EntryID)
			pending = append(pending, replacement{old: a, fresh: fresh})
			continue
		}

		if err := m.heartbeat(ctx, a.EntryID); err != nil {
			if ctx.Err() != nil {
				return errs
			}
			syncErr := &SyncError{EntryID: a.EntryID, Op: opHeartbeat, Err: err}
			m.quarantine(ctx, a, "sync", syncErr)
			errs = append(errs, syncErr)
		}
	}

	for _, r := range pending {
		if ctx.Err() != nil {
			return errs
		}

		err := m.heartbeat(ctx, r.fresh.EntryID)
		if err != nil && ctx.Err() != nil {
			return errs
		}

		delete(m.active, r.old)
		if err != nil {
			syncErr := &SyncError{EntryID: r.fresh.EntryID, Op: opHeartbeat, Err: err}
			m.dead[r.fresh.EntryID] = 0
			metrics.PollingErrorsTotal.WithLabelValues("sync").Inc()
			m.logger.ErrorwCtx(ctx, "Failed to adopt changed polling entry, moved to dead pile",
				"entry_id", r.fresh.EntryID,
				"error", err,
			)
			errs = append(errs, syncErr)
			continue
		}

		m.active[r.fresh] = struct{}{}
		m.logger.WarnwCtx(ctx, "Replaced polling assignment",
			"entry_id", r.fresh.EntryID,
			"old", r.old.String(),
			"new", r.fresh.String(),
		)
	}

	for _, id := range previouslyDead {
		if ctx.Err() != nil {
			return errs
		}
		if err := m.revive(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (m *Manager) revive(ctx context.Context, id string) error {
	a, _, err := m.fetch(ctx, id)
	if err == nil {
		delete(m.dead, id)
		m.active[a] = struct{}{}
		m.logger.InfowCtx(ctx, "Recovered dead polling assignment", "entry_id", id, "assignment", a.String())
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}

	m.dead[id]++
	failures := m.dead[id]
	metrics.PollingErrorsTotal.WithLabelValues("recovery").Inc()
	m.logger.ErrorwCtx(ctx, "Failed to recover dead polling assignment",
		"entry_id", id,
		"failures", failures,
		"error", err,
	)

	if m.cfg.DeadAlertThreshold > 0 && failures == m.cfg.DeadAlertThreshold && m.alert != nil {
		m.alert(ctx, id, failures)
	}
	if m.cfg.MaxDeadRetries > 0 && failures >= m.cfg.MaxDeadRetries {
		delete(m.dead, id)
		m.abandoned[id] = struct{}{}
		metrics.PollingDeadAbandonedTotal.Inc()
		m.logger.ErrorwCtx(ctx, "Giving up on dead polling assignment",
			"entry_id", id,
			"failures", failures,
		)
	}

	return &RecoveryError{EntryID: id, Attempt: failures, Err: err}
}

func (m *Manager) fetch(ctx context.Context, id string) (Assignment, string, error) {
	rec, err := m.store.GetAssignment(ctx, id)
	if err != nil {
		return Assignment{}, opFetch, err
	}
	a, err := AssignmentFromRecord(rec)
	if err != nil {
		return Assignment{}, opConvert, err
	}
	return a, "", nil
}

func (m *Manager) heartbeat(ctx context.Context, id string) error {
	return m.store.UpdateAssignmentField(ctx, id, FieldLastSync, m.clock().UTC())
}

// quarantine moves an active assignment to the dead pile with a fresh count.
func (m *Manager) quarantine(ctx context.Context, a Assignment, kind string, err error) {
	delete(m.active, a)
	m.dead[a.EntryID] = 0
	metrics.PollingErrorsTotal.WithLabelValues(kind).Inc()
	m.logger.ErrorwCtx(ctx, "Polling assignment moved to dead pile",
		"entry_id", a.EntryID,
		"assignment", a.String(),
		"error", err,
	)
}

func (m *Manager) sortedActive() []Assignment {
	out := lo.Keys(m.active)
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out
}
