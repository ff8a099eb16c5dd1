package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kon-rad/webtrack/internal/storage"
)

type RuntimeSnapshot struct {
	StorageMedium      string
	QueueDepth         int64
	LoopState          string
	CallsEnqueued      int64
	CallsDropped       int64
	CallsDelivered     int64
	DeliveryFailures   int64
	CallsDiscarded     int64
	LastDeliveryTime   *int64
	LastDeliveryStatus string
}

type SnapshotProvider interface {
	Snapshot() RuntimeSnapshot
}

// DBStatser reports the durable tier's health. A nil DBStatser means the
// durable tier could not be opened.
type DBStatser interface {
	Stats() storage.HealthStats
}

type HealthResponse struct {
	Status             string   `json:"status"`
	UptimeSeconds      int64    `json:"uptime_seconds"`
	Version            string   `json:"version"`
	StorageMedium      string   `json:"storage_medium"`
	DBStatus           string   `json:"db_status"`
	DBSizeBytes        int64    `json:"db_size_bytes"`
	WALSizeBytes       int64    `json:"wal_size_bytes"`
	QueueDepth         int64    `json:"queue_depth"`
	LoopState          string   `json:"loop_state"`
	CallsEnqueued      int64    `json:"calls_enqueued"`
	CallsDropped       int64    `json:"calls_dropped"`
	CallsDelivered     int64    `json:"calls_delivered"`
	DeliveryFailures   int64    `json:"delivery_failures"`
	CallsDiscarded     int64    `json:"calls_discarded"`
	LastDeliveryTime   *int64   `json:"last_delivery_time"`
	LastDeliveryStatus string   `json:"last_delivery_status"`
	GeneratedAt        string   `json:"generated_at"`
	Warnings           []string `json:"warnings,omitempty"`
}

type HealthHandler struct {
	db          DBStatser
	startTime   time.Time
	version     string
	snapshotter SnapshotProvider
}

func NewHealthHandler(db DBStatser, start time.Time, version string, snapshotter SnapshotProvider) *HealthHandler {
	return &HealthHandler{
		db:          db,
		startTime:   start,
		version:     version,
		snapshotter: snapshotter,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.snapshotter.Snapshot()

	resp := HealthResponse{
		Status:             "ok",
		UptimeSeconds:      int64(time.Since(h.startTime).Seconds()),
		Version:            h.version,
		StorageMedium:      snapshot.StorageMedium,
		DBStatus:           "unavailable",
		QueueDepth:         snapshot.QueueDepth,
		LoopState:          snapshot.LoopState,
		CallsEnqueued:      snapshot.CallsEnqueued,
		CallsDropped:       snapshot.CallsDropped,
		CallsDelivered:     snapshot.CallsDelivered,
		DeliveryFailures:   snapshot.DeliveryFailures,
		CallsDiscarded:     snapshot.CallsDiscarded,
		LastDeliveryTime:   snapshot.LastDeliveryTime,
		LastDeliveryStatus: snapshot.LastDeliveryStatus,
		GeneratedAt:        time.Now().UTC().Format(time.RFC3339),
	}

	if h.db != nil {
		stats := h.db.Stats()
		resp.DBStatus = stats.DBStatus
		resp.DBSizeBytes = stats.DBSizeBytes
		resp.WALSizeBytes = stats.WALSize
	}
	if resp.DBStatus != "ok" {
		resp.Status = "degraded"
		resp.Warnings = append(resp.Warnings, "durable_storage_"+resp.DBStatus)
	}
	if resp.StorageMedium == string(storage.MediumMemory) {
		resp.Status = "degraded"
		resp.Warnings = append(resp.Warnings, "memory_storage")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
