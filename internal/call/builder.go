package call

import (
	"context"
	"runtime"

	"github.com/coder/quartz"
	"github.com/oklog/ulid/v2"

	"github.com/kon-rad/webtrack/internal/hardening"
	"github.com/kon-rad/webtrack/internal/identity"
	"github.com/kon-rad/webtrack/internal/storage"
)

type BuilderOptions struct {
	ProductName   string
	SDKVersion    string
	SDKWrapper    string
	UserAgent     string
	MaxParamBytes int
	StorageType   storage.Medium
}

// Builder creates calls populated from the identity state. Building any call
// counts as activity for session timeout purposes.
type Builder struct {
	state *identity.State
	clock quartz.Clock
	opts  BuilderOptions
}

func NewBuilder(state *identity.State, clock quartz.Clock, opts BuilderOptions) *Builder {
	return &Builder{state: state, clock: clock, opts: opts}
}

func (b *Builder) sdkVersion() string {
	if b.opts.SDKWrapper == "" {
		return b.opts.SDKVersion
	}
	return b.opts.SDKVersion + "-" + b.opts.SDKWrapper
}

func (b *Builder) base(ctx context.Context, endpoint string) Record {
	now := b.clock.Now()
	deviceID := b.state.DeviceID()
	mem := hardening.MemoryStats()
	zone, _ := now.Local().Zone()
	id := ulid.Make().String()

	p := map[string]any{
		ParamEventID:         id,
		ParamDeviceID:        deviceID,
		ParamUUID:            deviceID,
		ParamKeyspace:        ParamDeviceID,
		ParamInstanceID:      b.state.InstanceID(),
		ParamAppKey:          b.state.Options().APIKey,
		ParamProductID:       b.state.Options().ProductID,
		ParamPlatform:        PlatformWeb,
		ParamOS:              runtime.GOOS,
		ParamSDKVersion:      b.sdkVersion(),
		ParamStorageType:     string(b.opts.StorageType),
		ParamTimezone:        zone,
		ParamMemoryUsed:      mem.UsedBytes,
		ParamMemoryAvailable: mem.AvailableBytes,
		ParamDeviceTime:      now.UnixMilli(),
		ParamIsConversion:    false,
	}
	setIf(p, ParamCustomUserID, b.state.CustomUserID())
	setIf(p, ParamUserAgent, b.opts.UserAgent)
	setIf(p, ParamGlobalProperties, b.state.GlobalPropertiesJSON(ctx))
	if ts := b.state.TouchpointTimestamp(); ts > 0 {
		p[ParamTouchpointTimestamp] = ts
	}

	b.state.MarkActivity(ctx)
	return Record{
		ID:        id,
		Endpoint:  endpoint,
		CreatedAt: now.UnixMilli(),
		Params:    p,
	}
}

func (b *Builder) event(ctx context.Context, name string) Event {
	rec := b.base(ctx, EndpointEvent)
	setIf(rec.Params, ParamProductName, b.opts.ProductName)
	rec.Params[ParamEventName] = b.truncate(name)
	rec.Params[ParamIsRevenueEvent] = false
	rec.Params[ParamIsFirstEvent] = b.state.IsFirstEvent(ctx, name)
	return Event{Record: rec}
}

func (b *Builder) conversion(ctx context.Context, name string) ConversionEvent {
	ev := b.event(ctx, name)
	ev.Params[ParamIsConversion] = true
	setIf(ev.Params, ParamWebURL, b.truncate(b.state.WebURL()))
	return ConversionEvent{Event: ev}
}

func (b *Builder) Event(ctx context.Context, name string) (*Event, error) {
	if name == "" {
		return nil, ErrEmptyEventName
	}
	ev := b.event(ctx, name)
	return &ev, nil
}

func (b *Builder) ConversionEvent(ctx context.Context, name string) (*ConversionEvent, error) {
	if name == "" {
		return nil, ErrEmptyEventName
	}
	ev := b.conversion(ctx, name)
	return &ev, nil
}

// PageVisit builds the visit for pageURL. The session id is resolved before
// the call marks activity, so an expired session is still seen as expired.
func (b *Builder) PageVisit(ctx context.Context, pageURL, referrer string) *PageVisit {
	sessionID := b.state.SessionIDForPageVisit(ctx)

	ev := b.conversion(ctx, PageVisitEventName)
	ev.Endpoint = EndpointSession
	p := ev.Params
	if pageURL == "" {
		pageURL = b.state.WebURL()
	}
	p[ParamSessionID] = sessionID
	setIf(p, ParamWebURL, b.truncate(pageURL))
	setIf(p, ParamReferrer, b.truncate(referrer))
	p[ParamIsFirstVisit] = b.state.IsFirstVisit(ctx)
	p[ParamPersistMode] = string(b.state.PersistMode())
	p[ParamIsFirstPageVisit] = !b.state.FirstPageVisitOccurred(ctx)

	matchID := b.state.MatchID(ctx)
	if matchID == "" {
		matchID = b.state.DeviceID()
	}
	p[ParamECID] = matchID
	setIf(p, ParamPersistFailReason, b.state.PersistFailReason())
	setIf(p, ParamPreviousDeviceID, b.state.TakePreviousDeviceID())

	return &PageVisit{ConversionEvent: ev}
}

// SetMatchID builds the event announcing a new match id. It carries the
// session's first page URL.
func (b *Builder) SetMatchID(ctx context.Context, matchID string) *Event {
	ev := b.event(ctx, SetMatchIDEventName)
	ev.Params[ParamMatchID] = b.truncate(matchID)
	ev.Params[ParamIsSetMatchID] = true
	setIf(ev.Params, ParamWebURL, b.truncate(b.state.FirstPageVisitURL(ctx)))
	return &ev
}

func (b *Builder) CustomUserID(ctx context.Context) *CustomUserID {
	return &CustomUserID{Record: b.base(ctx, EndpointCustomUserID)}
}

func (b *Builder) truncate(s string) string {
	if b.opts.MaxParamBytes <= 0 {
		return s
	}
	return TruncateBytes(s, b.opts.MaxParamBytes)
}

func setIf(p map[string]any, key, value string) {
	if value != "" {
		p[key] = value
	}
}
