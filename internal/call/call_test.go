package call

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/google/go-cmp/cmp"

	"github.com/kon-rad/webtrack/internal/identity"
	"github.com/kon-rad/webtrack/internal/storage"
)

type nopJar struct{}

func (nopJar) Get(string) (string, bool, error) { return "", false, nil }
func (nopJar) Set(*http.Cookie) error          { return nil }

func newTestBuilder(t *testing.T) (*Builder, *identity.State, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2030, 5, 1, 9, 0, 0, 0, time.UTC))
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	prober := storage.NewProber(log, storage.NewMemory(), nil)
	state, err := identity.New(context.Background(), log, clock, prober, nopJar{}, identity.Options{
		APIKey:         "key",
		ProductID:      "com.example.web",
		SessionTimeout: 30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("identity.New() error = %v", err)
	}
	b := NewBuilder(state, clock, BuilderOptions{
		ProductName:   "Example",
		SDKVersion:    "1.4.0",
		UserAgent:     "webtrack-test",
		MaxParamBytes: 64,
		StorageType:   prober.Available(),
	})
	return b, state, clock
}

func TestRegistryRoundTripKeepsVariant(t *testing.T) {
	t.Parallel()

	b, _, _ := newTestBuilder(t)
	ctx := context.Background()

	ev, err := b.Event(ctx, "purchase")
	if err != nil {
		t.Fatalf("Event() error = %v", err)
	}
	if err := ev.WithRevenue("USD", "19.99"); err != nil {
		t.Fatalf("WithRevenue() error = %v", err)
	}
	ev.WithArgs(map[string]any{"sku": "A-1"})
	conv, err := b.ConversionEvent(ctx, "signup")
	if err != nil {
		t.Fatalf("ConversionEvent() error = %v", err)
	}
	calls := []Call{ev, conv, b.PageVisit(ctx, "https://www.example.com/", ""), b.CustomUserID(ctx)}

	reg := DefaultRegistry()
	for _, c := range calls {
		raw, err := Marshal(c)
		if err != nil {
			t.Fatalf("Marshal(%s) error = %v", c.Tag(), err)
		}
		got, err := reg.Decode(raw)
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", c.Tag(), err)
		}
		if got.Tag() != c.Tag() {
			t.Fatalf("decoded tag = %s, want %s", got.Tag(), c.Tag())
		}
		again, err := Marshal(got)
		if err != nil {
			t.Fatalf("re-Marshal(%s) error = %v", c.Tag(), err)
		}
		var want, have map[string]any
		_ = json.Unmarshal(raw, &want)
		_ = json.Unmarshal(again, &have)
		if diff := cmp.Diff(want, have); diff != "" {
			t.Fatalf("%s round trip mismatch (-want +got):\n%s", c.Tag(), diff)
		}
	}
}

func TestDecodedPageVisitIsAcknowledger(t *testing.T) {
	t.Parallel()

	b, state, _ := newTestBuilder(t)
	ctx := context.Background()

	raw, err := Marshal(b.PageVisit(ctx, "https://www.example.com/a", "https://ref.example.org/"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got, err := DefaultRegistry().Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	ack, ok := got.(Acknowledger)
	if !ok {
		t.Fatalf("decoded %T does not acknowledge", got)
	}
	ack.Acknowledge(ctx, state)
	if !state.FirstPageVisitOccurred(ctx) {
		t.Fatalf("first page visit not recorded")
	}
	if u := state.FirstPageVisitURL(ctx); u != "https://www.example.com/a" {
		t.Fatalf("first page visit url = %q", u)
	}
	if got.Base().Endpoint != EndpointSession {
		t.Fatalf("endpoint = %q, want %q", got.Base().Endpoint, EndpointSession)
	}
	if _, ok := DefaultRegistry().decoders[TagEvent](Record{}).(Acknowledger); ok {
		t.Fatalf("plain events must not acknowledge")
	}
}

func TestDecodeNumbersStayExact(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"type":"event","id":"x","endpoint":"event","created_at":1893456000123,"params":{"device_time":1893456000123,"r":"1"}}`)
	got, err := DefaultRegistry().Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if v := got.Base().Params[ParamDeviceTime]; v != json.Number("1893456000123") {
		t.Fatalf("device_time = %#v, want json.Number", v)
	}
	if got.Base().CreatedAt != 1893456000123 {
		t.Fatalf("created_at = %d", got.Base().CreatedAt)
	}
}

func TestDecodeRejectsUnknownAndMalformed(t *testing.T) {
	t.Parallel()

	reg := DefaultRegistry()
	if _, err := reg.Decode([]byte(`{"type":"banner","params":{}}`)); !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("unknown tag error = %v, want ErrUnknownTag", err)
	}
	if _, err := reg.Decode([]byte(`{"type":`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("truncated json error = %v, want ErrMalformed", err)
	}
	if _, err := reg.Decode([]byte(`{"type":"event","params":"nope"}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("bad params error = %v, want ErrMalformed", err)
	}
	if _, err := Marshal(nil); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Marshal(nil) error = %v, want ErrMalformed", err)
	}
}

func TestBuilderContractViolations(t *testing.T) {
	t.Parallel()

	b, _, _ := newTestBuilder(t)
	ctx := context.Background()

	if _, err := b.Event(ctx, ""); !errors.Is(err, ErrEmptyEventName) {
		t.Fatalf("Event(\"\") error = %v", err)
	}
	if _, err := b.ConversionEvent(ctx, ""); !errors.Is(err, ErrEmptyEventName) {
		t.Fatalf("ConversionEvent(\"\") error = %v", err)
	}
	ev, err := b.Event(ctx, "purchase")
	if err != nil {
		t.Fatalf("Event() error = %v", err)
	}
	if err := ev.WithRevenue("", "1"); !errors.Is(err, ErrEmptyCurrency) {
		t.Fatalf("empty currency error = %v", err)
	}
	if err := ev.WithRevenue("USD", ""); !errors.Is(err, ErrEmptyAmount) {
		t.Fatalf("empty amount error = %v", err)
	}
	if err := ev.WithRevenue("USD", "NaN"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("NaN amount error = %v", err)
	}
	if ev.Params[ParamIsRevenueEvent] != false {
		t.Fatalf("failed WithRevenue changed is_revenue_event")
	}
}

func TestBuilderPopulatesIdentity(t *testing.T) {
	t.Parallel()

	b, state, _ := newTestBuilder(t)
	ctx := context.Background()
	state.SetCustomUserID(ctx, "user-7")
	state.SetGlobalProperty(ctx, "plan", "pro")

	first, err := b.Event(ctx, "level_up")
	if err != nil {
		t.Fatalf("Event() error = %v", err)
	}
	second, _ := b.Event(ctx, "level_up")

	p := first.Params
	if p[ParamDeviceID] != state.DeviceID() || p[ParamUUID] != state.DeviceID() {
		t.Fatalf("device params = %v/%v, want %s", p[ParamDeviceID], p[ParamUUID], state.DeviceID())
	}
	if p[ParamCustomUserID] != "user-7" {
		t.Fatalf("cuid = %v", p[ParamCustomUserID])
	}
	if p[ParamGlobalProperties] != `{"plan":"pro"}` {
		t.Fatalf("global_properties = %v", p[ParamGlobalProperties])
	}
	if p[ParamStorageType] != "local" || p[ParamPlatform] != "web" {
		t.Fatalf("storage/platform = %v/%v", p[ParamStorageType], p[ParamPlatform])
	}
	if p[ParamIsFirstEvent] != true || second.Params[ParamIsFirstEvent] != false {
		t.Fatalf("is_first_event = %v then %v, want true then false", p[ParamIsFirstEvent], second.Params[ParamIsFirstEvent])
	}
	if first.ID == second.ID || first.ID == "" {
		t.Fatalf("call ids not unique: %q %q", first.ID, second.ID)
	}
}

func TestPageVisitSeesExpiredSession(t *testing.T) {
	t.Parallel()

	b, state, clock := newTestBuilder(t)
	ctx := context.Background()

	pv := b.PageVisit(ctx, "https://www.example.com/", "")
	pv.Acknowledge(ctx, state)
	if pv.Params[ParamIsFirstPageVisit] != true || pv.Params[ParamIsFirstVisit] != true {
		t.Fatalf("first visit flags = %v/%v", pv.Params[ParamIsFirstPageVisit], pv.Params[ParamIsFirstVisit])
	}

	clock.Advance(31 * time.Minute)
	next := b.PageVisit(ctx, "https://www.example.com/b", "")
	if next.SessionID() == pv.SessionID() {
		t.Fatalf("session did not rotate after timeout")
	}
	if next.Params[ParamIsFirstPageVisit] != true {
		t.Fatalf("rotated session should report first page visit")
	}
	if next.Params[ParamIsFirstVisit] != false {
		t.Fatalf("second visit reported as first visit")
	}
}

func TestBuilderTruncatesLongStrings(t *testing.T) {
	t.Parallel()

	b, _, _ := newTestBuilder(t)
	long := "https://www.example.com/" + "path/that/is/definitely/longer/than/sixty/four/bytes/in/total"
	pv := b.PageVisit(context.Background(), long, "")
	if got := pv.WebURL(); len(got) != 64 {
		t.Fatalf("web url length = %d, want 64", len(got))
	}
}

func TestTruncateBytes(t *testing.T) {
	t.Parallel()

	if got := TruncateBytes("hello", 10); got != "hello" {
		t.Fatalf("short input changed: %q", got)
	}
	if got := TruncateBytes("hello", 3); got != "hel" {
		t.Fatalf("TruncateBytes = %q, want hel", got)
	}
	if got := TruncateBytes("héllo", 2); got != "h" {
		t.Fatalf("TruncateBytes split a rune: %q", got)
	}
	if got := TruncateBytes("hello", 0); got != "" {
		t.Fatalf("zero cap = %q", got)
	}
}

func TestMatchIDCalls(t *testing.T) {
	t.Parallel()

	b, state, _ := newTestBuilder(t)
	ctx := context.Background()

	pv := b.PageVisit(ctx, "https://www.example.com/landing", "")
	if pv.Params[ParamECID] != state.DeviceID() {
		t.Fatalf("ecid = %v, want device id %q", pv.Params[ParamECID], state.DeviceID())
	}
	pv.Acknowledge(ctx, state)

	state.SetMatchID(ctx, "crm-1")
	ev := b.SetMatchID(ctx, "crm-1")
	if ev.Tag() != TagEvent || ev.Endpoint != EndpointEvent {
		t.Fatalf("set match id call = %s %s", ev.Tag(), ev.Endpoint)
	}
	want := map[string]any{
		ParamEventName:    SetMatchIDEventName,
		ParamMatchID:      "crm-1",
		ParamIsSetMatchID: true,
		ParamWebURL:       "https://www.example.com/landing",
	}
	for k, v := range want {
		if ev.Params[k] != v {
			t.Fatalf("param %s = %v, want %v", k, ev.Params[k], v)
		}
	}

	if got := b.PageVisit(ctx, "https://www.example.com/next", "").Params[ParamECID]; got != "crm-1" {
		t.Fatalf("ecid after SetMatchID = %v, want crm-1", got)
	}
}
