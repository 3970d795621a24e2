// Package idgen provides ID generation for leadwatch entities.
//
// Constructors accept a Generator so the ID strategy stays a startup-time
// decision rather than a compile-time one.
package idgen

import "github.com/google/uuid"

// Generator produces unique string identifiers.
type Generator func() string

// New returns an RFC 9562 UUID v7 string. Time-sortable, which keeps
// run and user rows naturally ordered by creation.
func New() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
// Useful for type-scoped identifiers (e.g. "run_", "usr_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}
