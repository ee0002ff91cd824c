package models

import (
	"errors"
	"sort"
	"strings"
)

// Storage and authorization errors. A caller that lacks permission to read
// an object receives the same ErrNotFound as a caller asking for an object
// that does not exist, so responses never reveal which of the two it was.
var (
	ErrNotFound         = errors.New("object not found or access denied")
	ErrConflict         = errors.New("object with conflicting attributes already exists")
	ErrDeleteRestricted = errors.New("object cannot be deleted while other objects reference it")
)

// Token errors.
var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
	ErrNoToken      = errors.New("authorization token required")
)

// FieldErrors collects every validation failure in a request keyed by field
// name. Validation never stops at the first problem; the response names all
// of them at once.
type FieldErrors map[string][]string

// Add records a failure message for a field.
func (e FieldErrors) Add(field, message string) {
	e[field] = append(e[field], message)
}

// Extend copies all failures from other, prefixing each field with the given
// path segment, e.g. "modeling_parameters.surface_tilt".
func (e FieldErrors) Extend(prefix string, other FieldErrors) {
	for field, messages := range other {
		key := field
		if prefix != "" {
			key = prefix + "." + field
		}
		e[key] = append(e[key], messages...)
	}
}

// OrNil returns the collected errors, or nil if nothing failed. Use it to
// finish a Validate method so callers can test the result against nil.
func (e FieldErrors) OrNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Error implements the error interface with a deterministic rendering.
func (e FieldErrors) Error() string {
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	var b strings.Builder
	for i, field := range fields {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(field)
		b.WriteString(": ")
		b.WriteString(strings.Join(e[field], ", "))
	}
	return b.String()
}

// AsFieldErrors unwraps err into FieldErrors if it is one.
func AsFieldErrors(err error) (FieldErrors, bool) {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
