package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	probeKey   = "storage_enabled_test"
	probeValue = "test_value"
)

// Kind is what a caller asks for; the Prober maps it onto a Medium.
type Kind int

const (
	KindDurable Kind = iota
	KindSession
)

type probe struct {
	backend Backend
	once    sync.Once
	ok      bool
}

// Prober decides, once per medium, whether that medium can be used. A nil
// backend counts as unavailable.
type Prober struct {
	log     *slog.Logger
	timeout time.Duration
	probes  map[Medium]*probe
	memory  *Memory
}

func NewProber(log *slog.Logger, durable, session Backend) *Prober {
	return &Prober{
		log:     log,
		timeout: 3 * time.Second,
		probes: map[Medium]*probe{
			MediumLocal:   {backend: durable},
			MediumSession: {backend: session},
		},
		memory: NewMemory(),
	}
}

// Usable reports whether the medium passed its probe. The first call runs the
// probe; later calls return the cached answer.
func (p *Prober) Usable(m Medium) bool {
	if m == MediumMemory {
		return true
	}
	pr, ok := p.probes[m]
	if !ok || pr.backend == nil {
		return false
	}
	pr.once.Do(func() {
		pr.ok = p.check(pr.backend)
		if !pr.ok {
			p.log.Debug("storage medium unavailable", "medium", string(m))
		}
	})
	return pr.ok
}

// Available returns the best usable medium.
func (p *Prober) Available() Medium {
	for _, m := range []Medium{MediumLocal, MediumSession} {
		if p.Usable(m) {
			return m
		}
	}
	return MediumMemory
}

func (p *Prober) Open(kind Kind, namespace string) *Store {
	order := []Medium{MediumLocal, MediumSession}
	if kind == KindSession {
		order = []Medium{MediumSession, MediumLocal}
	}
	for _, m := range order {
		if p.Usable(m) {
			return newStore(p.log, m, p.probes[m].backend, namespace)
		}
	}
	p.log.Warn("using memory storage", "namespace", namespace)
	return newStore(p.log, MediumMemory, p.memory, namespace)
}

func (p *Prober) check(b Backend) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Debug("storage probe panicked", "panic", fmt.Sprint(r))
			ok = false
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := b.Set(ctx, probeKey, probeValue); err != nil {
		return false
	}
	v, found, err := b.Get(ctx, probeKey)
	if err != nil || !found || v != probeValue {
		return false
	}
	return b.Remove(ctx, probeKey) == nil
}
