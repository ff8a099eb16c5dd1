package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kon-rad/webtrack/internal/app"
	"github.com/kon-rad/webtrack/internal/config"
)

type collector struct {
	fail atomic.Bool

	mu    sync.Mutex
	paths []string
	names []string
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("h") == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	name := r.URL.Query().Get("event_name")
	if r.Method == http.MethodPost {
		var body struct {
			Payload   string `json:"payload"`
			Signature string `json:"signature"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Signature == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}

	c.mu.Lock()
	c.paths = append(c.paths, r.URL.Path)
	c.names = append(c.names, name)
	c.mu.Unlock()

	if c.fail.Load() {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (c *collector) seen() ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...), append([]string(nil), c.names...)
}

func startCollector(t *testing.T) (*collector, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("network listener unavailable in sandbox: %v", err)
	}
	c := &collector{}
	server := httptest.NewUnstartedServer(c)
	server.Listener = ln
	server.Start()
	t.Cleanup(server.Close)
	return c, server.URL + "/api/v1"
}

func testConfig(t *testing.T, endpoint string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		APIKey:                "key",
		Secret:                "secret",
		ProductID:             "com.example.web",
		ProductName:           "Example",
		Endpoint:              endpoint,
		Port:                  "0",
		DBPath:                filepath.Join(dir, "webtrack.db"),
		SessionDir:            filepath.Join(dir, "session"),
		CookiePath:            filepath.Join(dir, "cookies.json"),
		LogLevel:              "info",
		SessionTimeout:        30 * time.Minute,
		LandingURL:            "https://shop.example.com/?utm_source=newsletter",
		QueueCapacity:         100,
		RequestTimeout:        2 * time.Second,
		DrainInterval:         time.Minute,
		UnloadTimeout:         5 * time.Second,
		MaxParamBytes:         16384,
		WALCheckpointInterval: 10 * time.Minute,
		WALRestartThresholdB:  50 << 20,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func post(t *testing.T, h http.Handler, path, body string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestLandingVisitAndEventsReachCollectorInOrder(t *testing.T) {
	t.Parallel()

	col, endpoint := startCollector(t)
	rt := app.New(testConfig(t, endpoint), discardLogger(), "1.0.0-test")
	handler, err := rt.Start(context.Background())
	require.NoError(t, err)

	for _, name := range []string{"first", "second", "third"} {
		require.Equal(t, http.StatusAccepted, post(t, handler, "/v1/events", `{"name":"`+name+`"}`))
	}

	require.Eventually(t, func() bool {
		paths, _ := col.seen()
		return len(paths) == 4
	}, 5*time.Second, 10*time.Millisecond)

	paths, names := col.seen()
	require.Equal(t, "/api/v1/start", paths[0])
	require.Equal(t, []string{"first", "second", "third"}, names[1:])

	require.NoError(t, rt.Shutdown(context.Background()))
}

func TestShutdownDiscardsUndeliverableCalls(t *testing.T) {
	t.Parallel()

	col, endpoint := startCollector(t)
	col.fail.Store(true)
	cfg := testConfig(t, endpoint)

	rt := app.New(cfg, discardLogger(), "1.0.0-test")
	handler, err := rt.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, post(t, handler, "/v1/conversions", `{"name":"signup"}`))

	require.NoError(t, rt.Shutdown(context.Background()))

	var out strings.Builder
	require.NoError(t, app.New(cfg, discardLogger(), "1.0.0-test").PrintQueue(context.Background(), &out))
	require.Empty(t, out.String(), "forced flush must leave nothing queued")

	paths, _ := col.seen()
	require.GreaterOrEqual(t, len(paths), 2)
}

func TestFlushSendsCallsLeftByEarlierRun(t *testing.T) {
	t.Parallel()

	col, endpoint := startCollector(t)
	col.fail.Store(true)
	cfg := testConfig(t, endpoint)

	// A collector that is down at startup leaves the landing visit at the
	// head; nothing is discarded until an unload.
	rt := app.New(cfg, discardLogger(), "1.0.0-test")
	handler, err := rt.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, post(t, handler, "/v1/events", `{"name":"queued"}`))
	require.Eventually(t, func() bool {
		paths, _ := col.seen()
		return len(paths) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	var out strings.Builder
	// PrintQueue on a second runtime reads the shared durable state.
	require.NoError(t, app.New(cfg, discardLogger(), "1.0.0-test").PrintQueue(context.Background(), &out))
	require.Contains(t, out.String(), `"event_name":"queued"`)

	col.fail.Store(false)
	require.NoError(t, rt.Shutdown(context.Background()))

	_, names := col.seen()
	require.Equal(t, "queued", names[len(names)-1])
}
