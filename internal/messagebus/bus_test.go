package messagebus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netbrain/internal/logger"
	apperrors "netbrain/pkg/errors"
)

const (
	testCommandType = "TestCommand"
	testEventType   = "TestEvent"
)

type testCommand struct {
	CommandHeader
	Domain   string
	Campaign string
	locks    []string
}

func (testCommand) Type() string { return testCommandType }

func (c testCommand) FieldLocks() []string { return c.locks }

func (c testCommand) LockValue(field string) (string, bool) {
	switch field {
	case "domain":
		return c.Domain, true
	case "campaign":
		return c.Campaign, true
	}
	return "", false
}

type testEvent struct {
	EventHeader
	Name string
}

func (testEvent) Type() string { return testEventType }

type bogusMessage struct {
	Header
}

func (bogusMessage) Kind() Kind   { return KindUnknown }
func (bogusMessage) Type() string { return "Bogus" }

func lockedCommand(cid, domain, campaign string) testCommand {
	return testCommand{
		CommandHeader: CommandHeader{Header: NewHeader(cid)},
		Domain:        domain,
		Campaign:      campaign,
		locks:         []string{"domain", "campaign"},
	}
}

func newTestBus(t *testing.T, cfg Config, router *Router) *Bus {
	t.Helper()
	bus, err := New(cfg, router, logger.NopLogger())
	require.NoError(t, err)
	return bus
}

// runBus starts the workers and returns a stop func that waits for Run to return.
func runBus(t *testing.T, bus *Bus) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("bus did not stop")
		}
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{Workers: 0}, nil, logger.NopLogger())
	assert.Error(t, err)

	_, err = New(Config{Workers: 1, QueueCapacity: -1}, nil, logger.NopLogger())
	assert.Error(t, err)
}

func TestRouter_DuplicateCommandHandler(t *testing.T) {
	router := NewRouter()
	noop := func(context.Context, Command) ([]Message, error) { return nil, nil }

	require.NoError(t, router.HandleCommand(testCommandType, "first", noop))
	err := router.HandleCommand(testCommandType, "second", noop)
	assert.ErrorIs(t, err, ErrDuplicateHandler)
	assert.Equal(t, []string{testCommandType}, router.CommandTypes())
}

func TestBus_EverySubmittedCommandIsHandledOnce(t *testing.T) {
	const total = 25
	var calls int32
	var wg sync.WaitGroup
	wg.Add(total)

	router := NewRouter()
	require.NoError(t, router.HandleCommand(testCommandType, "count", func(ctx context.Context, cmd Command) ([]Message, error) {
		atomic.AddInt32(&calls, 1)
		wg.Done()
		return nil, nil
	}))

	bus := newTestBus(t, Config{Workers: 4}, router)
	stop := runBus(t, bus)
	defer stop()

	for i := 0; i < total; i++ {
		failed := bus.Submit(context.Background(), lockedCommand(fmt.Sprintf("cid-%d", i), fmt.Sprintf("D%d", i), "C"))
		require.Empty(t, failed)
	}

	waitGroupOrFail(t, &wg)
	assert.Equal(t, int32(total), atomic.LoadInt32(&calls))
	assert.Eventually(t, func() bool { return bus.LocksHeld() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBus_CommandsWithoutLocksRunConcurrently(t *testing.T) {
	const total = 5
	var started int32
	gate := make(chan struct{})

	router := NewRouter()
	require.NoError(t, router.HandleCommand(testCommandType, "block", func(ctx context.Context, cmd Command) ([]Message, error) {
		atomic.AddInt32(&started, 1)
		<-gate
		return nil, nil
	}))

	bus := newTestBus(t, Config{Workers: total}, router)
	stop := runBus(t, bus)
	defer stop()

	for i := 0; i < total; i++ {
		bus.Submit(context.Background(), testCommand{CommandHeader: CommandHeader{Header: NewHeader("same")}})
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&started) == total }, 2*time.Second, 5*time.Millisecond)
	close(gate)
}

func TestBus_ConflictingCommandIsDiscarded(t *testing.T) {
	var calls int32
	entered := make(chan struct{}, 1)
	gate := make(chan struct{})

	router := NewRouter()
	require.NoError(t, router.HandleCommand(testCommandType, "block", func(ctx context.Context, cmd Command) ([]Message, error) {
		atomic.AddInt32(&calls, 1)
		entered <- struct{}{}
		<-gate
		return nil, nil
	}))
	bus := newTestBus(t, Config{Workers: 1}, router)
	ctx := context.Background()

	firstDone := make(chan struct{})
	go func() {
		bus.dispatch(ctx, lockedCommand("a", "D1", "C1"))
		close(firstDone)
	}()
	<-entered
	assert.Equal(t, 2, bus.LocksHeld())

	// Same lock values while the first is in flight: dropped without running.
	bus.dispatch(ctx, lockedCommand("b", "D1", "C1"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	close(gate)
	<-firstDone
	assert.Equal(t, 0, bus.LocksHeld())

	// Locks are free again, so the same values run.
	bus.dispatch(ctx, lockedCommand("c", "D1", "C1"))
	<-entered
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestBus_PartialLockOverlapIsDiscarded(t *testing.T) {
	var calls int32
	entered := make(chan struct{}, 1)
	gate := make(chan struct{})

	router := NewRouter()
	require.NoError(t, router.HandleCommand(testCommandType, "block", func(ctx context.Context, cmd Command) ([]Message, error) {
		atomic.AddInt32(&calls, 1)
		entered <- struct{}{}
		<-gate
		return nil, nil
	}))
	bus := newTestBus(t, Config{Workers: 1}, router)
	ctx := context.Background()

	go bus.dispatch(ctx, lockedCommand("a", "D1", "C1"))
	<-entered

	bus.dispatch(ctx, lockedCommand("b", "D2", "C1"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 2, bus.LocksHeld())

	close(gate)
	assert.Eventually(t, func() bool { return bus.LocksHeld() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBus_LocksReleasedAfterFailureAndPanic(t *testing.T) {
	var calls int32

	router := NewRouter()
	require.NoError(t, router.HandleCommand(testCommandType, "flaky", func(ctx context.Context, cmd Command) ([]Message, error) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			return nil, errors.New("upstream down")
		case 2:
			panic("boom")
		default:
			return nil, nil
		}
	}))
	bus := newTestBus(t, Config{Workers: 1}, router)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		bus.dispatch(ctx, lockedCommand("cid", "D1", "C1"))
		assert.Equal(t, 0, bus.LocksHeld(), "locks leaked after attempt %d", i+1)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestBus_UnroutedCommandReleasesLocks(t *testing.T) {
	bus := newTestBus(t, Config{Workers: 1}, NewRouter())

	bus.dispatch(context.Background(), lockedCommand("cid", "D1", "C1"))
	assert.Equal(t, 0, bus.LocksHeld())
}

func TestBus_UnknownLockFieldIsNotExecuted(t *testing.T) {
	var calls int32
	router := NewRouter()
	require.NoError(t, router.HandleCommand(testCommandType, "never", func(ctx context.Context, cmd Command) ([]Message, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}))
	bus := newTestBus(t, Config{Workers: 1}, router)

	cmd := lockedCommand("cid", "D1", "C1")
	cmd.locks = []string{"domain", "nope"}
	bus.dispatch(context.Background(), cmd)

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.Equal(t, 0, bus.LocksHeld())
}

func TestBus_InvalidKindIsDropped(t *testing.T) {
	bus := newTestBus(t, Config{Workers: 1}, NewRouter())

	assert.NotPanics(t, func() {
		bus.dispatch(context.Background(), bogusMessage{Header: NewHeader("cid")})
	})
	assert.Equal(t, 0, bus.Pending())
}

func TestBus_EventHandlersAreIsolated(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, name)
	}

	router := NewRouter()
	router.HandleEvent(testEventType, "first", func(ctx context.Context, evt Event) ([]Message, error) {
		record("first")
		return []Message{testEvent{EventHeader: EventHeader{Header: NewHeader("f1")}}}, nil
	})
	router.HandleEvent(testEventType, "failing", func(ctx context.Context, evt Event) ([]Message, error) {
		record("failing")
		return []Message{testEvent{}}, errors.New("nope")
	})
	router.HandleEvent(testEventType, "panicking", func(ctx context.Context, evt Event) ([]Message, error) {
		record("panicking")
		panic("kaboom")
	})
	router.HandleEvent(testEventType, "last", func(ctx context.Context, evt Event) ([]Message, error) {
		record("last")
		return []Message{testEvent{EventHeader: EventHeader{Header: NewHeader("l1")}}}, nil
	})
	bus := newTestBus(t, Config{Workers: 1}, router)

	bus.dispatch(context.Background(), testEvent{EventHeader: EventHeader{Header: NewHeader("cid")}})

	assert.Equal(t, []string{"first", "failing", "panicking", "last"}, order)
	// Only the follow-ups of the two successful handlers are queued.
	assert.Equal(t, 2, bus.Pending())
}

func TestBus_EventWithoutHandlersIsIgnored(t *testing.T) {
	bus := newTestBus(t, Config{Workers: 1}, NewRouter())

	assert.NotPanics(t, func() {
		bus.dispatch(context.Background(), testEvent{})
	})
}

func TestBus_FollowUpsChainWithCorrelationID(t *testing.T) {
	seen := make(chan string, 1)

	router := NewRouter()
	require.NoError(t, router.HandleCommand(testCommandType, "produce", func(ctx context.Context, cmd Command) ([]Message, error) {
		c := cmd.(testCommand)
		return []Message{testEvent{EventHeader: EventHeader{Header: c.Derive()}, Name: c.Domain}}, nil
	}))
	router.HandleEvent(testEventType, "consume", func(ctx context.Context, evt Event) ([]Message, error) {
		seen <- evt.CorrelationID() + "/" + evt.(testEvent).Name
		return nil, nil
	})

	bus := newTestBus(t, Config{Workers: 2}, router)
	stop := runBus(t, bus)
	defer stop()

	require.NoError(t, bus.Emit(context.Background(), lockedCommand("chain-cid", "D9", "C9")))

	select {
	case got := <-seen:
		assert.Equal(t, "chain-cid/D9", got)
	case <-time.After(2 * time.Second):
		t.Fatal("follow-up event was never handled")
	}
}

func TestBus_RouterIsSnapshotAtConstruction(t *testing.T) {
	var calls int32
	router := NewRouter()
	bus := newTestBus(t, Config{Workers: 1}, router)

	require.NoError(t, router.HandleCommand(testCommandType, "late", func(ctx context.Context, cmd Command) ([]Message, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}))

	bus.dispatch(context.Background(), lockedCommand("cid", "D1", "C1"))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestBus_SubmitReportsRejectedMessages(t *testing.T) {
	bus := newTestBus(t, Config{Workers: 1, QueueCapacity: 2}, NewRouter())
	ctx := context.Background()

	first := lockedCommand("1", "D1", "C")
	second := lockedCommand("2", "D2", "C")
	third := lockedCommand("3", "D3", "C")

	failed := bus.Submit(ctx, first, second, third)
	require.Len(t, failed, 1)
	assert.Equal(t, "3", failed[0].CorrelationID())
	assert.Equal(t, 2, bus.Pending())

	err := bus.Emit(ctx, lockedCommand("4", "D4", "C"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.ErrorIs(t, err, apperrors.ErrQueueFull)
}

func TestBus_RunTwiceFails(t *testing.T) {
	bus := newTestBus(t, Config{Workers: 1}, NewRouter())
	stop := runBus(t, bus)
	defer stop()

	assert.Eventually(t, func() bool { return bus.running.Load() }, time.Second, 5*time.Millisecond)
	assert.Error(t, bus.Run(context.Background()))
}

func TestBus_HandlerSeesCancellation(t *testing.T) {
	ctxSeen := make(chan context.Context, 1)
	router := NewRouter()
	require.NoError(t, router.HandleCommand(testCommandType, "wait", func(ctx context.Context, cmd Command) ([]Message, error) {
		ctxSeen <- ctx
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	bus := newTestBus(t, Config{Workers: 1}, router)
	stop := runBus(t, bus)

	bus.Submit(context.Background(), lockedCommand("cid", "D1", "C1"))
	select {
	case <-ctxSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	stop()
	assert.Equal(t, 0, bus.LocksHeld())
}

func waitGroupOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}
}
