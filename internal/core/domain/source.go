package domain

import (
	"fmt"
	"strings"
)

// SourceSeparator joins the parts of a SourceKey.
const SourceSeparator = "::"

// SourceKey is the (application, interface, method) triple used to group
// interactions that answer the same kind of request.
type SourceKey struct {
	Application string `json:"application"`
	Interface   string `json:"interface"`
	Method      string `json:"method"`
}

// String renders the key as application::interface::method.
func (k SourceKey) String() string {
	return k.Application + SourceSeparator + k.Interface + SourceSeparator + k.Method
}

// ParseSourceKey parses an application::interface::method string.
func ParseSourceKey(s string) (SourceKey, error) {
	parts := strings.Split(s, SourceSeparator)
	if len(parts) != 3 {
		return SourceKey{}, fmt.Errorf("%w: source %q must have the form application::interface::method", ErrInvalidQuery, s)
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return SourceKey{}, fmt.Errorf("%w: source %q has an empty part", ErrInvalidQuery, s)
		}
	}
	return SourceKey{Application: parts[0], Interface: parts[1], Method: parts[2]}, nil
}

