// Package identity tracks who the client is and which session it is in.
//
// State owns the device id, custom user id, session id, touchpoint URL and
// first-occurrence flags. Everything is persisted through storage, so a
// restarted process picks up where the previous one stopped.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/kon-rad/webtrack/internal/storage"
)

const (
	GlobalNamespace = "global"

	keyDeviceID               = "singular_id"
	keyMatchID                = "match_id"
	keyCustomUserID           = "custom_user_id"
	keySessionID              = "session_id"
	keyLastEventTimestamp     = "last_event_timestamp"
	keyDidVisitSite           = "did_visit_site"
	keyDidSendEventBase       = "did_send_event"
	keyWebURL                 = "web_url"
	keyTouchpointTimestamp    = "touchpoint_timestamp"
	keyGlobalProperties       = "global_properties"
	keyInstanceID             = "instance_id"
	keyFirstPageVisitOccurred = "first_page_visit_occurred"
	keyFirstPageVisitURL      = "first_page_visit_url"
	keyRotationPending        = "session_rotation_pending"

	DeviceCookieName = "singular_device_id"
	deviceCookieTTL  = 2 * 365 * 24 * time.Hour
)

// ErrAppIdentityChanged is returned by Reconfigure when the API key or product
// id differ from the ones the State was built for.
var ErrAppIdentityChanged = errors.New("app identity changed")

// ErrMissingAppIdentity is returned by New when the API key or product id is empty.
var ErrMissingAppIdentity = errors.New("api key and product id are required")

// CookieJar holds the cross-subdomain device cookie.
type CookieJar interface {
	Get(name string) (string, bool, error)
	Set(c *http.Cookie) error
}

type Options struct {
	APIKey            string
	ProductID         string
	SessionTimeout    time.Duration
	DeviceID          string
	AutoPersistDomain string
	CustomUserID      string
}

// Namespace is the storage namespace of the app identity.
func (o Options) Namespace() string {
	return o.APIKey + "_" + o.ProductID
}

// State is safe for concurrent use.
type State struct {
	log    *slog.Logger
	clock  quartz.Clock
	jar    CookieJar
	app    *storage.Store
	global *storage.Store

	mu         sync.Mutex
	opts       Options
	device     deviceInfo
	instanceID string
	customUser string
	webURL     string
	touchpoint int64
}

func New(ctx context.Context, log *slog.Logger, clock quartz.Clock, prober *storage.Prober, jar CookieJar, opts Options) (*State, error) {
	if opts.APIKey == "" || opts.ProductID == "" {
		return nil, ErrMissingAppIdentity
	}
	s := &State{
		log:    log,
		clock:  clock,
		jar:    jar,
		app:    prober.Open(storage.KindDurable, opts.Namespace()),
		global: prober.Open(storage.KindDurable, GlobalNamespace),
		opts:   opts,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if opts.CustomUserID != "" {
		s.app.Set(ctx, keyCustomUserID, opts.CustomUserID)
	}
	s.loadPersistentLocked(ctx)
	return s, nil
}

func (s *State) Namespace() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Namespace()
}

func (s *State) Options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// Reconfigure applies new options for the same app identity and reloads the
// persisted identifiers.
func (s *State) Reconfigure(ctx context.Context, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if opts.APIKey != s.opts.APIKey || opts.ProductID != s.opts.ProductID {
		return ErrAppIdentityChanged
	}
	s.opts = opts
	if opts.CustomUserID != "" {
		s.app.Set(ctx, keyCustomUserID, opts.CustomUserID)
	}
	s.loadPersistentLocked(ctx)
	return nil
}

func (s *State) loadPersistentLocked(ctx context.Context) {
	s.device = s.resolveDeviceLocked(ctx)
	s.customUser, _ = s.app.Get(ctx, keyCustomUserID)
	s.instanceID = persistentUUID(ctx, s.app, keyInstanceID)
	s.webURL, _ = s.app.Get(ctx, keyWebURL)
	s.touchpoint = readInt64(ctx, s.app, keyTouchpointTimestamp)
	s.persistDeviceCookieLocked()
}

func (s *State) InstanceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instanceID
}

func (s *State) CustomUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customUser
}

func (s *State) SetCustomUserID(ctx context.Context, id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customUser = id
	s.app.Set(ctx, keyCustomUserID, id)
}

func (s *State) UnsetCustomUserID(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customUser = ""
	s.app.Remove(ctx, keyCustomUserID)
}

// StorageMedium reports the medium backing the app namespace.
func (s *State) StorageMedium() storage.Medium {
	return s.app.Medium()
}

func (s *State) now() int64 {
	return s.clock.Now().Unix()
}

func persistentUUID(ctx context.Context, st *storage.Store, key string) string {
	if v, ok := st.Get(ctx, key); ok && v != "" {
		return v
	}
	v := uuid.NewString()
	st.Set(ctx, key, v)
	return v
}

func readInt64(ctx context.Context, st *storage.Store, key string) int64 {
	v, ok := st.Get(ctx, key)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
