package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// EventKind discriminates the two lifecycle events of an invocation.
type EventKind string

const (
	EventStarted   EventKind = "interaction.started"
	EventCompleted EventKind = "interaction.completed"
)

// Event is either a Started or a Completed event. The set of implementations
// is closed; callers switch on the concrete type.
type Event interface {
	Kind() EventKind
	Invocation() InvocationContext
	event()
}

// Started is emitted when an instrumented invocation begins.
type Started struct {
	InvocationContext
	SystemMessage string `json:"system_message,omitempty"`
	UserMessage   string `json:"user_message,omitempty"`
}

// Completed is emitted when an instrumented invocation produced its result.
type Completed struct {
	InvocationContext
	Result string `json:"result"`
}

func (Started) Kind() EventKind { return EventStarted }
func (e Started) Invocation() InvocationContext { return e.InvocationContext }
func (Started) event() {}
func (Completed) Kind() EventKind { return EventCompleted }
func (e Completed) Invocation() InvocationContext { return e.InvocationContext }
func (Completed) event() {}

// ValidateEvent checks the invocation context of e.
func ValidateEvent(e Event) error {
	if e == nil {
		return fmt.Errorf("%w: event is nil", ErrInvalidEvent)
	}
	return e.Invocation().Validate()
}

// Envelope is a stored event together with its store-assigned identity.
type Envelope struct {
	ID         uuid.UUID `json:"id"`
	RecordedAt time.Time `json:"recorded_at"`
	Event      Event     `json:"-"`
}

// SortByInvocation orders envelopes by the invocation time of their events.
// Envelopes with equal times keep their arrival order.
func SortByInvocation(envs []Envelope) {
	sort.SliceStable(envs, func(i, j int) bool {
		return envs[i].Event.Invocation().InvokedAt.Before(envs[j].Event.Invocation().InvokedAt)
	})
}

// EventPayload is the wire form of an Event. Type carries the EventKind.
type EventPayload struct {
	Type          EventKind `json:"type"`
	Application   string    `json:"application"`
	Interface     string    `json:"interface"`
	Method        string    `json:"method"`
	CorrelationID string    `json:"correlation_id"`
	InvokedAt     time.Time `json:"invoked_at"`
	SystemMessage string    `json:"system_message,omitempty"`
	UserMessage   string    `json:"user_message,omitempty"`
	Result        string    `json:"result,omitempty"`
}

// PayloadOf converts an Event into its wire form.
func PayloadOf(e Event) EventPayload {
	ic := e.Invocation()
	p := EventPayload{
		Type:          e.Kind(),
		Application:   ic.Application,
		Interface:     ic.Interface,
		Method:        ic.Method,
		CorrelationID: ic.CorrelationID.String(),
		InvokedAt:     ic.InvokedAt,
	}
	switch ev := e.(type) {
	case Started:
		p.SystemMessage = ev.SystemMessage
		p.UserMessage = ev.UserMessage
	case Completed:
		p.Result = ev.Result
	}
	return p
}

// Event converts the payload into a validated Event.
func (p EventPayload) Event() (Event, error) {
	id, err := uuid.Parse(p.CorrelationID)
	if err != nil {
		return nil, fmt.Errorf("%w: correlation id %q: %v", ErrInvalidEvent, p.CorrelationID, err)
	}
	ic, err := NewInvocationContext(p.Application, p.Interface, p.Method, id, p.InvokedAt)
	if err != nil {
		return nil, err
	}
	switch p.Type {
	case EventStarted:
		return Started{InvocationContext: ic, SystemMessage: p.SystemMessage, UserMessage: p.UserMessage}, nil
	case EventCompleted:
		return Completed{InvocationContext: ic, Result: p.Result}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, p.Type)
	}
}

// MarshalEvent encodes e as JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(PayloadOf(e))
}

// UnmarshalEvent decodes and validates a JSON event.
func UnmarshalEvent(data []byte) (Event, error) {
	var p EventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return p.Event()
}
