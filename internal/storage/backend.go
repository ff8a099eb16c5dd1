// Package storage persists small string values across process restarts.
//
// Three media exist, from most to least durable: a SQLite key/value table, a
// session directory of atomically replaced files, and an in-process map. A
// Prober decides once per process which media work and hands out namespaced
// Stores on top of the best one.
package storage

import "context"

// Medium names a backing store. The values are reported verbatim to the
// collector as the storage type.
type Medium string

const (
	MediumLocal   Medium = "local"
	MediumSession Medium = "session"
	MediumMemory  Medium = "memory"
)

// Backend is a flat key/value medium. Missing keys report ok == false with a
// nil error.
type Backend interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
