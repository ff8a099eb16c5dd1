package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/kon-rad/webtrack/internal/call"
	"github.com/kon-rad/webtrack/internal/config"
	"github.com/kon-rad/webtrack/internal/cookie"
	"github.com/kon-rad/webtrack/internal/deliver"
	"github.com/kon-rad/webtrack/internal/identity"
	"github.com/kon-rad/webtrack/internal/metrics"
	"github.com/kon-rad/webtrack/internal/queue"
	"github.com/kon-rad/webtrack/internal/server"
	"github.com/kon-rad/webtrack/internal/storage"
	"github.com/kon-rad/webtrack/internal/tracker"
	"github.com/kon-rad/webtrack/internal/transport"
)

type Runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	version   string
	startedAt time.Time
	clock     quartz.Clock

	db       *storage.SQLite
	prober   *storage.Prober
	state    *identity.State
	queue    *queue.Queue
	client   *transport.Client
	loop     *deliver.Loop
	registry *prometheus.Registry
	delivery *metrics.Delivery
	tracker  *tracker.Tracker

	httpClient *http.Client
	httpServer *http.Server
	bgCancel   context.CancelFunc
	bg         *errgroup.Group
}

func New(cfg *config.Config, logger *slog.Logger, version string) *Runtime {
	return &Runtime{
		cfg:       cfg,
		logger:    logger,
		version:   version,
		startedAt: time.Now(),
		clock:     quartz.NewReal(),
	}
}

// SetClock replaces the real clock. It must be called before Run or Flush.
func (r *Runtime) SetClock(clock quartz.Clock) {
	r.clock = clock
}

// SetHTTPClient routes collector requests through client. It must be called
// before Open.
func (r *Runtime) SetHTTPClient(client *http.Client) {
	r.httpClient = client
}

// Open builds every component up to, but not including, the background loops.
// A durable tier that fails to open is logged and skipped.
func (r *Runtime) Open(ctx context.Context) error {
	if err := r.openStorage(ctx); err != nil {
		return err
	}
	jar := cookie.NewFileJar(r.cfg.CookiePath, r.clock)

	state, err := identity.New(ctx, r.logger, r.clock, r.prober, jar, identity.Options{
		APIKey:            r.cfg.APIKey,
		ProductID:         r.cfg.ProductID,
		SessionTimeout:    r.cfg.SessionTimeout,
		DeviceID:          r.cfg.DeviceID,
		AutoPersistDomain: r.cfg.AutoPersistDomain,
		CustomUserID:      r.cfg.CustomUserID,
	})
	if err != nil {
		return fmt.Errorf("init identity: %w", err)
	}
	r.state = state

	store := r.prober.Open(storage.KindSession, state.Namespace())
	r.queue = queue.New(ctx, r.logger, store, call.DefaultRegistry(), r.cfg.QueueCapacity)
	r.client = transport.New(r.logger, r.cfg.Endpoint, r.cfg.Secret, r.clock, state, r.cfg.RequestTimeout)
	if r.httpClient != nil {
		r.client.SetTestOptions(r.httpClient)
	}

	r.registry = prometheus.NewRegistry()
	r.delivery = metrics.NewDelivery(r.registry, func() float64 {
		return float64(r.queue.Len())
	})
	r.loop = deliver.New(r.logger, r.queue, r.client, state, r.delivery)

	r.logger.Info("Runtime opened",
		"namespace", state.Namespace(),
		"storage", string(r.prober.Available()),
		"queued", r.queue.Len(),
	)
	return nil
}

// openStorage opens the storage tiers and the prober, nothing else.
func (r *Runtime) openStorage(ctx context.Context) error {
	var durable, session storage.Backend

	db, err := storage.OpenSQLite(r.cfg.DBPath)
	if err != nil {
		r.logger.Warn("durable storage unavailable", "path", r.cfg.DBPath, "error", err)
	} else {
		r.db = db
		durable = db
		journalMode, busyTimeout, autoVacuum, err := db.Pragmas(ctx)
		if err != nil {
			return fmt.Errorf("query sqlite pragmas: %w", err)
		}
		r.logger.Info("SQLite opened",
			"path", r.cfg.DBPath,
			"journal_mode", journalMode,
			"busy_timeout", busyTimeout,
			"auto_vacuum", autoVacuum,
		)
	}

	dir, err := storage.OpenDir(r.cfg.SessionDir)
	if err != nil {
		r.logger.Warn("session storage unavailable", "path", r.cfg.SessionDir, "error", err)
	} else {
		session = dir
	}

	r.prober = storage.NewProber(r.logger, durable, session)
	return nil
}

// Start opens the runtime, starts the background loops, records the landing
// page visit and returns the HTTP handler. Callers must Shutdown afterwards.
func (r *Runtime) Start(ctx context.Context) (http.Handler, error) {
	if err := r.Open(ctx); err != nil {
		return nil, errors.Join(err, r.closeStorage(context.Background()))
	}
	r.startBackgroundLoops()

	builder := call.NewBuilder(r.state, r.clock, r.builderOptions())
	r.tracker = tracker.New(ctx, r.logger, r.state, builder, r.loop, r.cfg.LandingURL, r.cfg.Referrer)

	var db server.DBStatser
	if r.db != nil {
		db = r.db
	}
	health := server.NewHealthHandler(db, r.startedAt, r.version, r)
	api := server.NewAPI(r.tracker, r.cfg.UnloadTimeout)
	return server.NewRouter(health, metrics.Handler(r.registry), api), nil
}

func (r *Runtime) Run(ctx context.Context) error {
	handler, err := r.Start(ctx)
	if err != nil {
		return err
	}
	r.httpServer = server.New(":"+r.cfg.Port, handler, r.cfg.UnloadTimeout)

	serverErr := make(chan error, 1)
	go func() {
		r.logger.Info("Listening", "addr", ":"+r.cfg.Port)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		shutdownErr := r.Shutdown(context.Background())
		if err != nil {
			return errors.Join(fmt.Errorf("http server failed: %w", err), shutdownErr)
		}
		return shutdownErr
	case <-ctx.Done():
		r.logger.Info("Signal received, shutting down...")
		return r.Shutdown(context.Background())
	}
}

// Flush sends everything queued by earlier runs with failures discarded, then
// shuts down.
func (r *Runtime) Flush(ctx context.Context) error {
	if err := r.Open(ctx); err != nil {
		return errors.Join(err, r.closeStorage(context.Background()))
	}
	r.startBackgroundLoops()
	r.logger.Info("Flushing queue", "queued", r.queue.Len())
	return r.Shutdown(ctx)
}

// PrintQueue writes the persisted queue to w, one call per line, without
// sending anything. Only storage is opened, so identity is never created.
func (r *Runtime) PrintQueue(ctx context.Context, w io.Writer) error {
	if err := r.openStorage(ctx); err != nil {
		return errors.Join(err, r.closeStorage(context.Background()))
	}
	defer func() {
		_ = r.closeStorage(context.Background())
	}()

	namespace := identity.Options{APIKey: r.cfg.APIKey, ProductID: r.cfg.ProductID}.Namespace()
	q := queue.New(ctx, r.logger, r.prober.Open(storage.KindSession, namespace), call.DefaultRegistry(), r.cfg.QueueCapacity)

	enc := json.NewEncoder(w)
	for _, e := range q.Entries() {
		if e.Call == nil {
			if err := enc.Encode(map[string]any{"undecodable": e.Raw}); err != nil {
				return err
			}
			continue
		}
		rec := e.Call.Base()
		line := map[string]any{
			"type":       e.Call.Tag(),
			"id":         rec.ID,
			"endpoint":   rec.Endpoint,
			"created_at": time.UnixMilli(rec.CreatedAt).UTC().Format(time.RFC3339),
		}
		if name, ok := rec.Params[call.ParamEventName]; ok {
			line["event_name"] = name
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) Snapshot() server.RuntimeSnapshot {
	counts := r.delivery.Counts()
	var lastDelivery *int64
	ts, status := r.loop.LastDelivery()
	if ts > 0 {
		lastDelivery = &ts
	}
	return server.RuntimeSnapshot{
		StorageMedium:      string(r.prober.Available()),
		QueueDepth:         int64(r.loop.Depth()),
		LoopState:          r.loop.State().String(),
		CallsEnqueued:      counts.Enqueued,
		CallsDropped:       counts.Dropped,
		CallsDelivered:     counts.Delivered,
		DeliveryFailures:   counts.Failed,
		CallsDiscarded:     counts.Discarded,
		LastDeliveryTime:   lastDelivery,
		LastDeliveryStatus: status,
	}
}

func (r *Runtime) builderOptions() call.BuilderOptions {
	ua := r.cfg.UserAgent
	if ua == "" {
		ua = "webtrack/" + r.version
	}
	return call.BuilderOptions{
		ProductName:   r.cfg.ProductName,
		SDKVersion:    r.version,
		SDKWrapper:    r.cfg.SDKWrapper,
		UserAgent:     ua,
		MaxParamBytes: r.cfg.MaxParamBytes,
		StorageType:   r.prober.Available(),
	}
}

func (r *Runtime) startBackgroundLoops() {
	bgCtx, bgCancel := context.WithCancel(context.Background())
	r.bgCancel = bgCancel
	g, gctx := errgroup.WithContext(bgCtx)
	r.bg = g

	g.Go(func() error {
		return r.loop.Run(gctx)
	})

	g.Go(func() error {
		err := r.clock.TickerFunc(gctx, r.cfg.DrainInterval, func() error {
			r.loop.Trigger()
			return nil
		}, "app", "drain").Wait()
		return ignoreCanceled(err)
	})

	if r.db != nil {
		g.Go(func() error {
			err := r.clock.TickerFunc(gctx, r.cfg.WALCheckpointInterval, func() error {
				cpCtx, cancel := context.WithTimeout(gctx, 3*time.Second)
				_, err := r.db.CheckpointIfWALExceeds(cpCtx, r.cfg.WALRestartThresholdB)
				cancel()
				if err != nil {
					r.logger.Warn("wal checkpoint loop failed", "error", err)
				}
				return nil
			}, "app", "wal").Wait()
			return ignoreCanceled(err)
		})
	}
}

// Shutdown stops the HTTP server, runs the forced flush bounded by the unload
// timeout, stops the background loops and closes storage.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var joined error

	if r.httpServer != nil {
		httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := r.httpServer.Shutdown(httpCtx); err != nil {
			joined = errors.Join(joined, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if r.loop != nil && r.bg != nil {
		r.logger.Info("Unloading queue", "remaining", r.queue.Len())
		unloadCtx, cancel := context.WithTimeout(ctx, r.cfg.UnloadTimeout)
		err := r.loop.Unload(unloadCtx)
		cancel()
		if err != nil {
			r.logger.Warn("unload incomplete", "remaining", r.queue.Len(), "error", err)
			joined = errors.Join(joined, fmt.Errorf("unload: %w", err))
		}
	}

	if r.bgCancel != nil {
		r.bgCancel()
		if err := r.bg.Wait(); err != nil {
			joined = errors.Join(joined, fmt.Errorf("background loops: %w", err))
		}
	}

	joined = errors.Join(joined, r.closeStorage(ctx))

	r.logger.Info("Shutdown complete",
		"remaining", r.queueLen(),
		"uptime", time.Since(r.startedAt).String(),
	)
	return joined
}

func (r *Runtime) closeStorage(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	var joined error
	cpCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Checkpoint(cpCtx); err != nil {
		r.logger.Warn("WAL checkpoint failed", "error", err)
		joined = errors.Join(joined, fmt.Errorf("wal checkpoint: %w", err))
	}
	if err := r.db.Close(); err != nil {
		joined = errors.Join(joined, fmt.Errorf("db close: %w", err))
	}
	r.db = nil
	return joined
}

func (r *Runtime) queueLen() int {
	if r.queue == nil {
		return 0
	}
	return r.queue.Len()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
