package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	atomicfile "github.com/natefinch/atomic"
)

// Dir is the session-scoped medium: one file per key below a directory that
// lives as long as the browsing session (typically a tmpfs path). Every
// client process sharing the directory takes the same lock file, so a
// whole-value rewrite is never observed half written. mu serializes
// goroutines of this process, which share one flock handle.
type Dir struct {
	root string
	mu   sync.Mutex
	lock *flock.Flock
}

func OpenDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Dir{
		root: root,
		lock: flock.New(filepath.Join(root, ".lock")),
	}, nil
}

func (d *Dir) Root() string {
	return d.root
}

func (d *Dir) Get(_ context.Context, key string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.lock.RLock(); err != nil {
		return "", false, fmt.Errorf("lock session dir: %w", err)
	}
	defer func() { _ = d.lock.Unlock() }()

	data, err := os.ReadFile(d.file(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func (d *Dir) Set(_ context.Context, key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.lock.Lock(); err != nil {
		return fmt.Errorf("lock session dir: %w", err)
	}
	defer func() { _ = d.lock.Unlock() }()

	if err := atomicfile.WriteFile(d.file(key), strings.NewReader(value)); err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	return nil
}

func (d *Dir) Remove(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.lock.Lock(); err != nil {
		return fmt.Errorf("lock session dir: %w", err)
	}
	defer func() { _ = d.lock.Unlock() }()

	if err := os.Remove(d.file(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (d *Dir) file(key string) string {
	return filepath.Join(d.root, base64.RawURLEncoding.EncodeToString([]byte(key))+".v")
}
