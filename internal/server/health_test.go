package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kon-rad/webtrack/internal/storage"
)

type staticSnapshot struct {
	medium string
}

func (s staticSnapshot) Snapshot() RuntimeSnapshot {
	return RuntimeSnapshot{
		StorageMedium:      s.medium,
		QueueDepth:         2,
		LoopState:          "idle",
		LastDeliveryStatus: "none",
	}
}

func decodeHealth(t *testing.T, h http.Handler) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode error = %v", err)
	}
	return body
}

func TestHealthAlwaysReturnsContract(t *testing.T) {
	t.Parallel()

	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "webtrack.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	handler := NewHealthHandler(db, time.Now().Add(-5*time.Second), "test-version", staticSnapshot{medium: "local"})
	body := decodeHealth(t, handler)

	required := []string{
		"status",
		"uptime_seconds",
		"version",
		"storage_medium",
		"db_status",
		"db_size_bytes",
		"wal_size_bytes",
		"queue_depth",
		"loop_state",
		"calls_enqueued",
		"calls_dropped",
		"calls_delivered",
		"delivery_failures",
		"calls_discarded",
		"last_delivery_time",
		"last_delivery_status",
	}
	for _, key := range required {
		if _, ok := body[key]; !ok {
			t.Fatalf("missing health field %q", key)
		}
	}
	if body["status"] != "ok" {
		t.Fatalf("status = %v, want ok", body["status"])
	}
	if body["queue_depth"] != float64(2) {
		t.Fatalf("queue_depth = %v, want 2", body["queue_depth"])
	}
}

func TestHealthDegradedWithoutDurableTier(t *testing.T) {
	t.Parallel()

	handler := NewHealthHandler(nil, time.Now(), "test-version", staticSnapshot{medium: "memory"})
	body := decodeHealth(t, handler)

	if body["status"] != "degraded" {
		t.Fatalf("status = %v, want degraded", body["status"])
	}
	if body["db_status"] != "unavailable" {
		t.Fatalf("db_status = %v, want unavailable", body["db_status"])
	}
	warnings, _ := body["warnings"].([]any)
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v, want durable tier and memory warnings", body["warnings"])
	}
}
