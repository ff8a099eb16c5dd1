// Package cookie keeps the cross-subdomain device cookie in a small JSON file.
package cookie

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/coder/quartz"
	atomicfile "github.com/natefinch/atomic"
)

type entry struct {
	Value   string    `json:"value"`
	Domain  string    `json:"domain,omitempty"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires"`
}

// FileJar is a named-cookie store. Expired cookies read as absent.
type FileJar struct {
	path  string
	clock quartz.Clock
}

func NewFileJar(path string, clock quartz.Clock) *FileJar {
	return &FileJar{path: path, clock: clock}
}

// Get returns the cookie value and whether it was set. A cookie explicitly
// set to the empty string is reported as present with an empty value.
func (j *FileJar) Get(name string) (string, bool, error) {
	entries, err := j.load()
	if err != nil {
		return "", false, err
	}
	e, ok := entries[name]
	if !ok {
		return "", false, nil
	}
	if !e.Expires.IsZero() && !j.clock.Now().Before(e.Expires) {
		return "", false, nil
	}
	return e.Value, true, nil
}

func (j *FileJar) Set(c *http.Cookie) error {
	if c == nil || c.Name == "" {
		return errors.New("cookie name required")
	}
	entries, err := j.load()
	if err != nil {
		return err
	}
	entries[c.Name] = entry{
		Value:   c.Value,
		Domain:  c.Domain,
		Path:    c.Path,
		Expires: c.Expires,
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("create cookie dir: %w", err)
	}
	if err := atomicfile.WriteFile(j.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write cookie jar: %w", err)
	}
	return nil
}

// Cookie returns the stored record, including attributes.
func (j *FileJar) Cookie(name string) (*http.Cookie, bool, error) {
	entries, err := j.load()
	if err != nil {
		return nil, false, err
	}
	e, ok := entries[name]
	if !ok {
		return nil, false, nil
	}
	return &http.Cookie{
		Name:    name,
		Value:   e.Value,
		Domain:  e.Domain,
		Path:    e.Path,
		Expires: e.Expires,
	}, true, nil
}

func (j *FileJar) load() (map[string]entry, error) {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cookie jar: %w", err)
	}
	entries := map[string]entry{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt jar behaves like an empty one; the next Set rewrites it.
		return map[string]entry{}, nil
	}
	return entries, nil
}
