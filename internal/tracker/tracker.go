// Package tracker is the application-facing surface: it turns user actions
// into calls and hands them to the drain loop.
package tracker

import (
	"context"
	"log/slog"

	"github.com/kon-rad/webtrack/internal/call"
	"github.com/kon-rad/webtrack/internal/identity"
)

// Submitter accepts calls for delivery.
type Submitter interface {
	Submit(ctx context.Context, c call.Call) bool
	Unload(ctx context.Context) error
}

type Tracker struct {
	log     *slog.Logger
	state   *identity.State
	builder *call.Builder
	sub     Submitter
}

// New observes the landing URL and enqueues the initial page visit. The
// submitter's loop must already be running.
func New(ctx context.Context, log *slog.Logger, state *identity.State, builder *call.Builder, sub Submitter, landingURL, referrer string) *Tracker {
	t := &Tracker{
		log:     log,
		state:   state,
		builder: builder,
		sub:     sub,
	}
	t.PageVisit(ctx, landingURL, referrer)
	log.Info("tracker initialized",
		"namespace", state.Namespace(),
		"device_id", state.DeviceID(),
		"storage", string(state.StorageMedium()),
	)
	return t
}

// PageVisit reports a page view. It returns whether the call was queued.
func (t *Tracker) PageVisit(ctx context.Context, pageURL, referrer string) bool {
	t.state.ObserveURL(ctx, pageURL)
	return t.submit(ctx, t.builder.PageVisit(ctx, pageURL, referrer))
}

func (t *Tracker) Event(ctx context.Context, name string, args map[string]any) (bool, error) {
	ev, err := t.builder.Event(ctx, name)
	if err != nil {
		return false, err
	}
	ev.WithArgs(args)
	return t.submit(ctx, ev), nil
}

func (t *Tracker) ConversionEvent(ctx context.Context, name string, args map[string]any) (bool, error) {
	ev, err := t.builder.ConversionEvent(ctx, name)
	if err != nil {
		return false, err
	}
	ev.WithArgs(args)
	return t.submit(ctx, ev), nil
}

func (t *Tracker) Revenue(ctx context.Context, name, currency, amount string, args map[string]any) (bool, error) {
	// Checked before building so a rejected call leaves the first-event
	// flags untouched.
	if name == "" {
		return false, call.ErrEmptyEventName
	}
	if err := call.ValidateRevenue(currency, amount); err != nil {
		return false, err
	}
	ev, err := t.builder.Event(ctx, name)
	if err != nil {
		return false, err
	}
	if err := ev.WithRevenue(currency, amount); err != nil {
		return false, err
	}
	ev.WithArgs(args)
	return t.submit(ctx, ev), nil
}

// Login sets the custom user id. Empty ids are ignored.
func (t *Tracker) Login(ctx context.Context, id string) {
	if id == "" {
		return
	}
	t.state.SetCustomUserID(ctx, id)
}

func (t *Tracker) Logout(ctx context.Context) {
	t.state.UnsetCustomUserID(ctx)
}

// SetDeviceCustomUserID logs in and tells the collector to bind the device to
// id. Empty ids are ignored.
func (t *Tracker) SetDeviceCustomUserID(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	t.Login(ctx, id)
	return t.submit(ctx, t.builder.CustomUserID(ctx))
}

func (t *Tracker) GlobalProperties(ctx context.Context) map[string]string {
	return t.state.GlobalProperties(ctx)
}

func (t *Tracker) SetGlobalProperty(ctx context.Context, key, value string) {
	t.state.SetGlobalProperty(ctx, key, value)
}

func (t *Tracker) ClearGlobalProperties(ctx context.Context) {
	t.state.ClearGlobalProperties(ctx)
}

// MatchID falls back to the device id when no match id is set.
func (t *Tracker) MatchID(ctx context.Context) string {
	if id := t.state.MatchID(ctx); id != "" {
		return id
	}
	return t.state.DeviceID()
}

// SetMatchID stores id and reports it to the collector.
func (t *Tracker) SetMatchID(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	t.state.SetMatchID(ctx, id)
	return t.submit(ctx, t.builder.SetMatchID(ctx, id))
}

func (t *Tracker) ClearMatchID(ctx context.Context) {
	t.state.ClearMatchID(ctx)
}

func (t *Tracker) DeviceID() string {
	return t.state.DeviceID()
}

// Reconfigure applies opts when they name the same app. A different app
// identity returns identity.ErrAppIdentityChanged; the caller must build a new
// Tracker for it.
func (t *Tracker) Reconfigure(ctx context.Context, opts identity.Options) error {
	return t.state.Reconfigure(ctx, opts)
}

// Unload flushes the queue, discarding calls that fail.
func (t *Tracker) Unload(ctx context.Context) error {
	return t.sub.Unload(ctx)
}

func (t *Tracker) submit(ctx context.Context, c call.Call) bool {
	ok := t.sub.Submit(ctx, c)
	if !ok {
		t.log.Debug("call not queued", "tag", string(c.Tag()), "id", c.Base().ID)
	}
	return ok
}
