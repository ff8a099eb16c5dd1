package tracker

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/kon-rad/webtrack/internal/call"
	"github.com/kon-rad/webtrack/internal/identity"
	"github.com/kon-rad/webtrack/internal/storage"
)

type nopJar struct{}

func (nopJar) Get(string) (string, bool, error) { return "", false, nil }
func (nopJar) Set(*http.Cookie) error          { return nil }

type recorder struct {
	calls   []call.Call
	accept  bool
	unloads int
}

func (r *recorder) Submit(_ context.Context, c call.Call) bool {
	r.calls = append(r.calls, c)
	return r.accept
}

func (r *recorder) Unload(context.Context) error {
	r.unloads++
	return nil
}

func newTracker(t *testing.T, landing string) (*Tracker, *recorder, *identity.State) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2030, 7, 4, 10, 0, 0, 0, time.UTC))
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	prober := storage.NewProber(log, storage.NewMemory(), nil)
	state, err := identity.New(context.Background(), log, clock, prober, nopJar{}, identity.Options{
		APIKey:         "key",
		ProductID:      "com.example.web",
		SessionTimeout: 30 * time.Minute,
	})
	require.NoError(t, err)
	b := call.NewBuilder(state, clock, call.BuilderOptions{SDKVersion: "1.4.0"})
	rec := &recorder{accept: true}
	return New(context.Background(), log, state, b, rec, landing, "https://ref.example.com/"), rec, state
}

func TestNewSubmitsLandingPageVisit(t *testing.T) {
	t.Parallel()

	_, rec, state := newTracker(t, "https://shop.example.com/?utm_source=mail")
	require.Len(t, rec.calls, 1)

	pv, ok := rec.calls[0].(*call.PageVisit)
	require.True(t, ok, "first call is %T", rec.calls[0])
	require.Equal(t, "https://shop.example.com/?utm_source=mail", pv.WebURL())
	require.Equal(t, "https://ref.example.com/", pv.Params[call.ParamReferrer])
	require.Equal(t, state.DeviceID(), pv.Params[call.ParamECID])
	require.Equal(t, "https://shop.example.com/?utm_source=mail", state.WebURL())
}

func TestEventsRejectEmptyName(t *testing.T) {
	t.Parallel()

	tr, rec, _ := newTracker(t, "https://shop.example.com/")
	ctx := context.Background()

	_, err := tr.Event(ctx, "", nil)
	require.ErrorIs(t, err, call.ErrEmptyEventName)
	_, err = tr.ConversionEvent(ctx, "", nil)
	require.ErrorIs(t, err, call.ErrEmptyEventName)
	require.Len(t, rec.calls, 1)

	ok, err := tr.ConversionEvent(ctx, "signup", map[string]any{"plan": "pro"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, rec.calls, 2)
	conv := rec.calls[1].(*call.ConversionEvent)
	require.Equal(t, "pro", conv.Extra["plan"])
	require.Equal(t, true, conv.Params[call.ParamIsConversion])
}

func TestRevenueValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		currency string
		amount   string
		wantErr  error
	}{
		{name: "missing currency", amount: "9.99", wantErr: call.ErrEmptyCurrency},
		{name: "missing amount", currency: "USD", wantErr: call.ErrEmptyAmount},
		{name: "not a number", currency: "USD", amount: "ten", wantErr: call.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr, rec, state := newTracker(t, "https://shop.example.com/")
			ctx := context.Background()

			_, err := tr.Revenue(ctx, "purchase", tt.currency, tt.amount, nil)
			require.ErrorIs(t, err, tt.wantErr)
			require.Len(t, rec.calls, 1)
			require.True(t, state.IsFirstEvent(ctx, "purchase"), "rejected call must not consume the first-event flag")
		})
	}
}

func TestRevenueSubmitsEvent(t *testing.T) {
	t.Parallel()

	tr, rec, _ := newTracker(t, "https://shop.example.com/")
	ok, err := tr.Revenue(context.Background(), "purchase", "EUR", "12.50", map[string]any{"sku": "A1"})
	require.NoError(t, err)
	require.True(t, ok)

	ev := rec.calls[len(rec.calls)-1].(*call.Event)
	require.Equal(t, true, ev.Params[call.ParamIsRevenueEvent])
	require.Equal(t, "EUR", ev.Extra[call.ParamRevenueCurrency])
	require.Equal(t, "A1", ev.Extra["sku"])
}

func TestLoginLogoutAndDeviceCustomUserID(t *testing.T) {
	t.Parallel()

	tr, rec, state := newTracker(t, "https://shop.example.com/")
	ctx := context.Background()

	tr.Login(ctx, "")
	require.Empty(t, state.CustomUserID())

	tr.Login(ctx, "user-1")
	require.Equal(t, "user-1", state.CustomUserID())
	tr.Logout(ctx)
	require.Empty(t, state.CustomUserID())

	require.False(t, tr.SetDeviceCustomUserID(ctx, ""))
	require.Len(t, rec.calls, 1)

	require.True(t, tr.SetDeviceCustomUserID(ctx, "user-2"))
	require.Equal(t, "user-2", state.CustomUserID())
	cu, ok := rec.calls[1].(*call.CustomUserID)
	require.True(t, ok)
	require.Equal(t, call.EndpointCustomUserID, cu.Endpoint)
	require.Equal(t, "user-2", cu.Params[call.ParamCustomUserID])
}

func TestMatchIDFallsBackToDeviceID(t *testing.T) {
	t.Parallel()

	tr, rec, _ := newTracker(t, "https://shop.example.com/")
	ctx := context.Background()

	require.Equal(t, tr.DeviceID(), tr.MatchID(ctx))

	require.True(t, tr.SetMatchID(ctx, "crm-42"))
	require.Equal(t, "crm-42", tr.MatchID(ctx))
	ev := rec.calls[len(rec.calls)-1].(*call.Event)
	require.Equal(t, call.SetMatchIDEventName, ev.Params[call.ParamEventName])
	require.Equal(t, "crm-42", ev.Params[call.ParamMatchID])

	tr.ClearMatchID(ctx)
	require.Equal(t, tr.DeviceID(), tr.MatchID(ctx))
}

func TestGlobalPropertiesPassThrough(t *testing.T) {
	t.Parallel()

	tr, _, _ := newTracker(t, "https://shop.example.com/")
	ctx := context.Background()

	tr.SetGlobalProperty(ctx, "tier", "gold")
	require.Equal(t, map[string]string{"tier": "gold"}, tr.GlobalProperties(ctx))
	tr.ClearGlobalProperties(ctx)
	require.Empty(t, tr.GlobalProperties(ctx))
}

func TestUnloadDelegates(t *testing.T) {
	t.Parallel()

	tr, rec, _ := newTracker(t, "https://shop.example.com/")
	require.NoError(t, tr.Unload(context.Background()))
	require.Equal(t, 1, rec.unloads)
}

func TestReconfigureRejectsOtherApp(t *testing.T) {
	t.Parallel()

	tr, _, _ := newTracker(t, "https://shop.example.com/")
	err := tr.Reconfigure(context.Background(), identity.Options{
		APIKey:         "other",
		ProductID:      "com.example.web",
		SessionTimeout: 30 * time.Minute,
	})
	require.ErrorIs(t, err, identity.ErrAppIdentityChanged)
}
