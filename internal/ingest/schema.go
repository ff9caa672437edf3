package ingest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
)

//go:embed event.schema.json
var eventSchema []byte

const eventSchemaURL = "event.schema.json"

// Decoder validates raw JSON events against the event schema before
// converting them to domain events.
type Decoder struct {
	schema *jsonschema.Schema
}

// NewDecoder compiles the embedded event schema.
func NewDecoder() (*Decoder, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true

	if err := c.AddResource(eventSchemaURL, bytes.NewReader(eventSchema)); err != nil {
		return nil, fmt.Errorf("failed to add event schema: %w", err)
	}
	schema, err := c.Compile(eventSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile event schema: %w", err)
	}
	return &Decoder{schema: schema}, nil
}

// Decode validates data and returns the event it describes. Every failure
// wraps domain.ErrInvalidEvent.
func (d *Decoder) Decode(data []byte) (domain.Event, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
	}
	if err := d.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidEvent, validationMessage(err))
	}
	return domain.UnmarshalEvent(data)
}

// validationMessage flattens a schema validation error to its leaf causes.
func validationMessage(err error) string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var leaves []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			leaves = append(leaves, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	if len(leaves) == 0 {
		return verr.Message
	}
	return fmt.Sprint(leaves)
}
