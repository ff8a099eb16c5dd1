package storage

import (
	"context"
	"log/slog"
	"time"
)

// Store is a namespaced view over one medium. It never returns errors: a
// failing backend is logged and reads as absent.
type Store struct {
	log       *slog.Logger
	medium    Medium
	backend   Backend
	namespace string
	timeout   time.Duration
}

func newStore(log *slog.Logger, medium Medium, backend Backend, namespace string) *Store {
	return &Store{
		log:       log,
		medium:    medium,
		backend:   backend,
		namespace: namespace,
		timeout:   3 * time.Second,
	}
}

func (s *Store) Medium() Medium {
	return s.medium
}

func (s *Store) Namespace() string {
	return s.namespace
}

func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	v, ok, err := s.backend.Get(ctx, s.key(key))
	if err != nil {
		s.log.Warn("storage get failed", "medium", string(s.medium), "key", s.key(key), "error", err)
		return "", false
	}
	return v, ok
}

// Set ignores empty values; use Remove to clear a key.
func (s *Store) Set(ctx context.Context, key, value string) {
	if key == "" || value == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.backend.Set(ctx, s.key(key), value); err != nil {
		s.log.Warn("storage set failed", "medium", string(s.medium), "key", s.key(key), "error", err)
	}
}

func (s *Store) Remove(ctx context.Context, key string) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.backend.Remove(ctx, s.key(key)); err != nil {
		s.log.Warn("storage remove failed", "medium", string(s.medium), "key", s.key(key), "error", err)
	}
}

func (s *Store) key(key string) string {
	return s.namespace + "_" + key
}
