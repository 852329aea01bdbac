package messagebus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"netbrain/internal/logger"
	apperrors "netbrain/pkg/errors"
	"netbrain/pkg/logging"
	"netbrain/pkg/metrics"
	"netbrain/pkg/tracing"
)

const tracerName = "messagebus"

const (
	outcomeHandled   = "handled"
	outcomeFailed    = "failed"
	outcomeDiscarded = "discarded"
	outcomeUnrouted  = "unrouted"
	outcomeInvalid   = "invalid"
	outcomePanicked  = "panicked"
)

type Config struct {
	Workers       int
	QueueCapacity int
}

type Bus struct {
	cfg     Config
	router  *Router
	queue   *Queue
	locks   *LockStore
	logger  logger.Logger
	running atomic.Bool
}

// New builds a bus over a snapshot of router. Workers start with Run.
func New(cfg Config, router *Router, log logger.Logger) (*Bus, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("message bus needs at least one worker, got %d", cfg.Workers)
	}
	if cfg.QueueCapacity < 0 {
		return nil, fmt.Errorf("queue capacity must be non-negative, got %d", cfg.QueueCapacity)
	}
	if router == nil {
		router = NewRouter()
	}

	return &Bus{
		cfg:    cfg,
		router: router.clone(),
		queue:  NewQueue(cfg.QueueCapacity),
		locks:  NewLockStore(),
		logger: log,
	}, nil
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has finished its current message. Messages still queued are dropped.
func (b *Bus) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return errors.New("message bus is already running")
	}
	defer b.running.Store(false)

	var wg sync.WaitGroup
	for i := 0; i < b.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			b.work(ctx, id)
		}(i)
	}

	b.logger.InfowCtx(ctx, "Message bus started", "workers", b.cfg.Workers)
	wg.Wait()
	b.logger.InfowCtx(ctx, "Message bus stopped", "pending", b.queue.Len())

	return ctx.Err()
}

func (b *Bus) work(ctx context.Context, id int) {
	for ctx.Err() == nil {
		msg, err := b.queue.Pop(ctx)
		if err != nil {
			return
		}
		metrics.MessageBusQueueDepth.Set(float64(b.queue.Len()))
		b.dispatch(ctx, msg)
	}
	b.logger.DebugwCtx(ctx, "Message bus worker exiting", "worker", id)
}

// Submit enqueues messages in order and returns the ones that could not be
// enqueued. It never retries.
func (b *Bus) Submit(ctx context.Context, messages ...Message) []Message {
	var failed []Message
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		if err := b.queue.Push(msg); err != nil {
			failed = append(failed, msg)
			metrics.MessageBusRejectedTotal.WithLabelValues(msg.Type()).Inc()
			b.logger.ErrorwCtx(ctx, "Failed to enqueue message",
				"cid", msg.CorrelationID(),
				"message_type", msg.Type(),
				"error", err,
			)
		}
	}
	metrics.MessageBusQueueDepth.Set(float64(b.queue.Len()))
	return failed
}

// Emit submits a single command and reports a rejection as an error.
func (b *Bus) Emit(ctx context.Context, cmd Command) error {
	if failed := b.Submit(ctx, cmd); len(failed) > 0 {
		return apperrors.ErrQueueFull.WithCause(ErrQueueFull).WithDetail("message_type", cmd.Type())
	}
	return nil
}

func (b *Bus) Pending() int {
	return b.queue.Len()
}

func (b *Bus) LocksHeld() int {
	return b.locks.Len()
}

func (b *Bus) dispatch(ctx context.Context, msg Message) {
	kind, msgType := KindUnknown.String(), "unknown"

	defer func() {
		if r := recover(); r != nil {
			err := apperrors.RecoverPanic(r)
			metrics.IncMessage(kind, msgType, outcomePanicked)
			b.logger.ErrorwCtx(ctx, "Panic while dispatching message, dropping it",
				"message_type", msgType,
				"error", err,
			)
		}
	}()

	kind, msgType = msg.Kind().String(), msg.Type()
	ctx = logging.WithMessageType(logging.WithCorrelationID(ctx, msg.CorrelationID()), msgType)

	ctx, span := tracing.GetTracer(tracerName).Start(ctx, "messagebus.dispatch",
		trace.WithAttributes(
			attribute.String("message.kind", kind),
			attribute.String("message.type", msgType),
			attribute.String("message.cid", msg.CorrelationID()),
		),
	)
	defer span.End()

	var err error
	switch msg.Kind() {
	case KindCommand:
		cmd, ok := msg.(Command)
		if !ok {
			err = ErrInvalidMessageKind
			break
		}
		err = b.consumeCommand(ctx, cmd)
	case KindEvent:
		b.consumeEvent(ctx, msg)
	default:
		err = ErrInvalidMessageKind
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.logFailure(ctx, kind, msgType, err)
	}
}

func (b *Bus) consumeCommand(ctx context.Context, cmd Command) error {
	sigs, err := Signatures(cmd)
	if err != nil {
		return err
	}

	if !b.locks.AcquireAll(sigs) {
		metrics.IncMessage(KindCommand.String(), cmd.Type(), outcomeDiscarded)
		b.logger.InfowCtx(ctx, "Discarding command, an identical one is in flight",
			"locks", cmd.FieldLocks(),
		)
		return nil
	}
	metrics.MessageBusLocksHeld.Set(float64(b.locks.Len()))
	defer func() {
		b.locks.ReleaseAll(sigs)
		metrics.MessageBusLocksHeld.Set(float64(b.locks.Len()))
	}()

	route, ok := b.router.commands[cmd.Type()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoCommandHandler, cmd.Type())
	}

	out, err := b.invoke(ctx, KindCommand, cmd.Type(), func() ([]Message, error) {
		return route.handler(ctx, cmd)
	})
	if err != nil {
		return &HandlerError{Handler: route.name, Type: cmd.Type(), CID: cmd.CorrelationID(), Err: err}
	}

	metrics.IncMessage(KindCommand.String(), cmd.Type(), outcomeHandled)
	b.logger.DebugwCtx(ctx, "Command handled", "handler", route.name, "follow_ups", len(out))
	b.resubmit(ctx, out)
	return nil
}

func (b *Bus) consumeEvent(ctx context.Context, evt Event) {
	routes := b.router.events[evt.Type()]
	if len(routes) == 0 {
		metrics.IncMessage(KindEvent.String(), evt.Type(), outcomeUnrouted)
		b.logger.DebugwCtx(ctx, "No handlers registered for event")
		return
	}

	for _, route := range routes {
		out, err := b.invoke(ctx, KindEvent, evt.Type(), func() ([]Message, error) {
			return route.handler(ctx, evt)
		})
		if err != nil {
			metrics.IncMessage(KindEvent.String(), evt.Type(), outcomeFailed)
			b.logger.ErrorwCtx(ctx, "Event handler failed",
				"handler", route.name,
				"error", err,
			)
			continue
		}

		metrics.IncMessage(KindEvent.String(), evt.Type(), outcomeHandled)
		b.logger.DebugwCtx(ctx, "Event handled", "handler", route.name, "follow_ups", len(out))
		b.resubmit(ctx, out)
	}
}

// invoke runs a handler and turns a panic into an error.
func (b *Bus) invoke(ctx context.Context, kind Kind, msgType string, fn func() ([]Message, error)) (out []Message, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, apperrors.RecoverPanic(r)
		}
		metrics.ObserveHandlerDuration(kind.String(), msgType, time.Since(start))
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fn()
}

func (b *Bus) resubmit(ctx context.Context, out []Message) {
	if len(out) == 0 {
		return
	}
	if failed := b.Submit(ctx, out...); len(failed) > 0 {
		b.logger.ErrorwCtx(ctx, "Follow-up messages were not enqueued",
			"submitted", len(out),
			"rejected", len(failed),
		)
	}
}

func (b *Bus) logFailure(ctx context.Context, kind, msgType string, err error) {
	var handlerErr *HandlerError

	switch {
	case errors.Is(err, ErrNoCommandHandler), errors.Is(err, ErrUnknownLockField):
		metrics.IncMessage(kind, msgType, outcomeUnrouted)
		b.logger.ErrorwCtx(ctx, "Configuration error, message dropped", "error", err)
	case errors.Is(err, ErrInvalidMessageKind):
		metrics.IncMessage(kind, msgType, outcomeInvalid)
		b.logger.ErrorwCtx(ctx, "Invalid message kind, message dropped", "error", err)
	case errors.As(err, &handlerErr):
		metrics.IncMessage(kind, msgType, outcomeFailed)
		b.logger.ErrorwCtx(ctx, "Command handler failed, message dropped",
			"handler", handlerErr.Handler,
			"panic", apperrors.IsPanic(err),
			"error", handlerErr.Err,
		)
	default:
		metrics.IncMessage(kind, msgType, outcomeFailed)
		b.logger.ErrorwCtx(ctx, "Message dispatch failed", "error", err)
	}
}
