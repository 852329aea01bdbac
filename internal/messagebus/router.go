package messagebus

import (
	"context"
	"fmt"
)

// CommandHandler executes a command and returns follow-up messages. Any
// collaborators the handler needs are bound at registration.
type CommandHandler func(ctx context.Context, cmd Command) ([]Message, error)

// EventHandler reacts to an event and returns follow-up messages.
type EventHandler func(ctx context.Context, evt Event) ([]Message, error)

type commandRoute struct {
	name    string
	handler CommandHandler
}

type eventRoute struct {
	name    string
	handler EventHandler
}

// Router maps message types to handlers. It is filled before the bus is
// built; the bus keeps its own copy so later changes do not leak into
// running workers.
type Router struct {
	commands map[string]commandRoute
	events   map[string][]eventRoute
}

func NewRouter() *Router {
	return &Router{
		commands: make(map[string]commandRoute),
		events:   make(map[string][]eventRoute),
	}
}

// HandleCommand registers the single handler for a command type.
func (r *Router) HandleCommand(msgType, name string, h CommandHandler) error {
	if existing, ok := r.commands[msgType]; ok {
		return fmt.Errorf("%w: %s is handled by %s", ErrDuplicateHandler, msgType, existing.name)
	}
	r.commands[msgType] = commandRoute{name: name, handler: h}
	return nil
}

// HandleEvent appends a handler for an event type. Handlers run in
// registration order.
func (r *Router) HandleEvent(msgType, name string, h EventHandler) {
	r.events[msgType] = append(r.events[msgType], eventRoute{name: name, handler: h})
}

func (r *Router) CommandTypes() []string {
	types := make([]string, 0, len(r.commands))
	for t := range r.commands {
		types = append(types, t)
	}
	return types
}

func (r *Router) clone() *Router {
	c := NewRouter()
	for t, route := range r.commands {
		c.commands[t] = route
	}
	for t, routes := range r.events {
		c.events[t] = append([]eventRoute(nil), routes...)
	}
	return c
}
