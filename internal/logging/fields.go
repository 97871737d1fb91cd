// Package logging provides a small structured-field builder layered over
// zap, so components log with a consistent vocabulary regardless of which
// subsystem they live in.
package logging

import "time"

// Fields is an unordered bag of structured log fields; the order in which
// KeysAndValues emits them is not defined.
type Fields map[string]any

// NewFields starts an empty field set.
func NewFields() Fields { return Fields{} }

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(resourceType, name string) Fields {
	f["resource_type"] = resourceType
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) ClientID(id string) Fields {
	f["client_id"] = id
	return f
}

func (f Fields) TransactionID(id string) Fields {
	f["transaction_id"] = id
	return f
}

func (f Fields) ErrorID(id string) Fields {
	if id != "" {
		f["error_id"] = id
	}
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

// KeysAndValues flattens f into the alternating key/value slice logr's
// Info/Error methods expect.
func (f Fields) KeysAndValues() []any {
	kvs := make([]any, 0, len(f)*2)
	for k, v := range f {
		kvs = append(kvs, k, v)
	}
	return kvs
}
