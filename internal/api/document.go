package api

import (
	"fmt"
)

// Document is a decoded JSON response body. The backend speaks a hypermedia
// dialect, so most payloads are objects carrying "@id"/"@type" keys next to
// the domain fields.
type Document map[string]any

// ID returns the resource identifier ("@id"), or an empty string.
func (d Document) ID() string {
	return d.String("@id")
}

// Type returns the resource type ("@type"), or an empty string.
func (d Document) Type() string {
	return d.String("@type")
}

// String returns the value at key when it is a string.
func (d Document) String(key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

// Number returns the value at key as float64 when it is numeric.
func (d Document) Number(key string) float64 {
	switch v := d[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Bool returns the value at key when it is a boolean.
func (d Document) Bool(key string) bool {
	if v, ok := d[key].(bool); ok {
		return v
	}
	return false
}

// Documents returns the value at key as a slice of Documents, for hypermedia
// collections ("hydra:member") and embedded arrays.
func (d Document) Documents(key string) []Document {
	items, ok := d[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Document, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Document(m))
		}
	}
	return out
}

// Members returns the hypermedia collection members.
func (d Document) Members() []Document {
	return d.Documents("hydra:member")
}

const violationListContext = "/api/contexts/ConstraintViolationList"

// ResolveErrorMessage extracts a human-readable message from an error body.
// Violation lists carry their description under the hypermedia key; plain
// envelopes use "message".
func ResolveErrorMessage(d Document) string {
	message := "An error occurred"
	if d.String("@context") == violationListContext {
		if desc := d.String("hydra:description"); desc != "" {
			message = desc
		}
	}
	if m := d.String("message"); m != "" {
		message = m
	}
	return message
}

// Violations returns the violation messages of a constraint violation body.
func (d Document) Violations() []string {
	var out []string
	for _, v := range d.Documents("violations") {
		if msg := v.String("message"); msg != "" {
			out = append(out, msg)
		}
	}
	return out
}

// APIError is a non-2xx response that carried a structured body.
type APIError struct {
	StatusCode int
	Body       Document
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, ResolveErrorMessage(e.Body))
}
