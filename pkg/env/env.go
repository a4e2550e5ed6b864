// Package env abstracts environment variable access so that availability
// checks and logger configuration can be tested without mutating the
// process environment.
package env

import "os"

// Reader reads environment variables.
type Reader interface {
	// Getenv returns the value of the named variable, or "" if unset.
	Getenv(key string) string
}

// OSReader reads variables from the process environment.
type OSReader struct{}

// Getenv implements Reader using os.Getenv.
func (*OSReader) Getenv(key string) string {
	return os.Getenv(key)
}

// MapReader reads variables from a fixed map. Intended for tests.
type MapReader map[string]string

// Getenv implements Reader by map lookup.
func (m MapReader) Getenv(key string) string {
	return m[key]
}
