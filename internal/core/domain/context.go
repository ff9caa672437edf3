package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// InvocationContext identifies a single instrumented invocation. It is shared
// by the Started and Completed events of that invocation and is carried over
// into the Interaction they produce.
type InvocationContext struct {
	Application   string    `json:"application"`
	Interface     string    `json:"interface"`
	Method        string    `json:"method"`
	CorrelationID uuid.UUID `json:"correlation_id"`
	InvokedAt     time.Time `json:"invoked_at"`
}

// NewInvocationContext builds a validated InvocationContext.
func NewInvocationContext(application, iface, method string, correlationID uuid.UUID, invokedAt time.Time) (InvocationContext, error) {
	ic := InvocationContext{
		Application:   application,
		Interface:     iface,
		Method:        method,
		CorrelationID: correlationID,
		InvokedAt:     NormalizeTime(invokedAt),
	}
	if err := ic.Validate(); err != nil {
		return InvocationContext{}, err
	}
	return ic, nil
}

// Validate rejects contexts missing a correlation id, a timestamp or an
// application name.
func (c InvocationContext) Validate() error {
	if c.CorrelationID == uuid.Nil {
		return fmt.Errorf("%w: correlation id is required", ErrInvalidEvent)
	}
	if c.InvokedAt.IsZero() {
		return fmt.Errorf("%w: invocation timestamp is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(c.Application) == "" {
		return fmt.Errorf("%w: application name is required", ErrInvalidEvent)
	}
	return nil
}

// Source returns the source key of the invocation.
func (c InvocationContext) Source() SourceKey {
	return SourceKey{Application: c.Application, Interface: c.Interface, Method: c.Method}
}

// NormalizeTime converts t to UTC with microsecond precision, the finest
// resolution every storage backend round-trips.
func NormalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Microsecond)
}
