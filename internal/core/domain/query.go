package domain

import (
	"fmt"
	"sort"
	"time"
)

// Field is a filterable interaction attribute.
type Field string

const (
	FieldApplication Field = "application"
	FieldInterface   Field = "interface"
	FieldMethod      Field = "method"
	FieldInvokedAt   Field = "invoked_at"
)

// Op is a comparison operator of a Predicate.
type Op string

const (
	OpEq  Op = "="
	OpGte Op = ">="
	OpLte Op = "<="
)

// Predicate is one conjunct of an interaction filter. Value is a string for
// the name fields and a time.Time for FieldInvokedAt.
type Predicate struct {
	Field Field
	Op    Op
	Value any
}

// InteractionQuery filters interactions. Empty fields impose no constraint;
// the time range is inclusive on both ends.
type InteractionQuery struct {
	Application string     `json:"application,omitempty"`
	Interface   string     `json:"interface,omitempty"`
	Method      string     `json:"method,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
}

// Validate rejects a range whose start is after its end.
func (q InteractionQuery) Validate() error {
	if q.Start != nil && q.End != nil && q.Start.After(*q.End) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidQuery,
			q.Start.Format(time.RFC3339), q.End.Format(time.RFC3339))
	}
	return nil
}

// Predicates returns the AND-ed predicate list of the query.
func (q InteractionQuery) Predicates() []Predicate {
	var preds []Predicate
	if q.Application != "" {
		preds = append(preds, Predicate{Field: FieldApplication, Op: OpEq, Value: q.Application})
	}
	if q.Interface != "" {
		preds = append(preds, Predicate{Field: FieldInterface, Op: OpEq, Value: q.Interface})
	}
	if q.Method != "" {
		preds = append(preds, Predicate{Field: FieldMethod, Op: OpEq, Value: q.Method})
	}
	if q.Start != nil {
		preds = append(preds, Predicate{Field: FieldInvokedAt, Op: OpGte, Value: NormalizeTime(*q.Start)})
	}
	if q.End != nil {
		preds = append(preds, Predicate{Field: FieldInvokedAt, Op: OpLte, Value: NormalizeTime(*q.End)})
	}
	return preds
}

// Matches evaluates the query against an interaction in memory.
func (q InteractionQuery) Matches(i *Interaction) bool {
	for _, p := range q.Predicates() {
		if !p.Matches(i) {
			return false
		}
	}
	return true
}

// Matches evaluates a single predicate.
func (p Predicate) Matches(i *Interaction) bool {
	switch p.Field {
	case FieldApplication:
		return compareString(i.Application, p.Op, p.Value)
	case FieldInterface:
		return compareString(i.Interface, p.Op, p.Value)
	case FieldMethod:
		return compareString(i.Method, p.Op, p.Value)
	case FieldInvokedAt:
		t, ok := p.Value.(time.Time)
		if !ok {
			return false
		}
		switch p.Op {
		case OpEq:
			return i.InvokedAt.Equal(t)
		case OpGte:
			return !i.InvokedAt.Before(t)
		case OpLte:
			return !i.InvokedAt.After(t)
		}
	}
	return false
}

func compareString(v string, op Op, want any) bool {
	s, ok := want.(string)
	if !ok || op != OpEq {
		return false
	}
	return v == s
}

// SortInteractions orders interactions by invocation time, then correlation
// id, matching the order of the SQL store.
func SortInteractions(list []*Interaction) {
	sort.SliceStable(list, func(a, b int) bool {
		if !list[a].InvokedAt.Equal(list[b].InvokedAt) {
			return list[a].InvokedAt.Before(list[b].InvokedAt)
		}
		return list[a].CorrelationID.String() < list[b].CorrelationID.String()
	})
}
