package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// EventKind identifies a domain event emitted after a committed transition.
type EventKind string

const (
	EventKanbanCreated  EventKind = "KANBAN_CREATED"
	EventKanbanApproved EventKind = "KANBAN_APPROVED"
	EventKanbanRejected EventKind = "KANBAN_REJECTED"
	EventStatusChange   EventKind = "STATUS_CHANGE"
)

// Event is the payload handed to subscribers.
type Event struct {
	Kind         EventKind      `json:"kind"`
	RequestID    string         `json:"request_id"`
	DepartmentID string         `json:"department_id"`
	ActorID      string         `json:"actor_id"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Subscriber consumes domain events. Delivery is best-effort; the engine
// never awaits confirmation and a subscriber failure never affects the
// transition that produced the event.
type Subscriber interface {
	Notify(ctx context.Context, event Event)
}

// dispatchTimeout bounds how long the detached fan-out may run.
const dispatchTimeout = 10 * time.Second

// Dispatcher invokes an ordered list of subscribers for each event. Each
// subscriber is failure-isolated: a panic is recovered and logged without
// touching the others.
type Dispatcher struct {
	subscribers []Subscriber
	log         zerolog.Logger
}

// NewDispatcher creates a dispatcher over an ordered subscriber list.
func NewDispatcher(log zerolog.Logger, subscribers ...Subscriber) *Dispatcher {
	return &Dispatcher{subscribers: subscribers, log: log}
}

// Dispatch fans the event out asynchronously. It returns immediately; the
// caller holds no locks the subscribers could contend on.
func (d *Dispatcher) Dispatch(event Event) {
	if d == nil || len(d.subscribers) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		for _, sub := range d.subscribers {
			d.notifyOne(ctx, sub, event)
		}
	}()
}

func (d *Dispatcher) notifyOne(ctx context.Context, sub Subscriber, event Event) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error().
				Str("event_kind", string(event.Kind)).
				Str("request_id", event.RequestID).
				Interface("panic", p).
				Msg("event subscriber panicked")
		}
	}()
	sub.Notify(ctx, event)
}
