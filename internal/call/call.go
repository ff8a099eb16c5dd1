// Package call describes outbound tracking calls.
//
// A call is a tagged record: the tag picks the concrete variant and the record
// carries everything needed to send it. Calls survive restarts by being
// marshalled into the delivery queue and decoded through a Registry.
package call

import (
	"context"
	"errors"
)

// Tag identifies a call variant in its persisted form.
type Tag string

const (
	TagEvent           Tag = "event"
	TagConversionEvent Tag = "conversion_event"
	TagPageVisit       Tag = "page_visit"
	TagCustomUserID    Tag = "custom_user_id"
)

const (
	EndpointEvent        = "event"
	EndpointSession      = "start"
	EndpointCustomUserID = "set_device_for_custom_id"
)

var (
	ErrEmptyEventName = errors.New("event name must not be empty")
	ErrEmptyCurrency  = errors.New("currency must not be empty")
	ErrEmptyAmount    = errors.New("amount must not be empty")
	ErrInvalidAmount  = errors.New("amount must be a number")
)

// Record is the state shared by every variant.
type Record struct {
	ID        string         `json:"id"`
	Endpoint  string         `json:"endpoint"`
	CreatedAt int64          `json:"created_at"`
	Params    map[string]any `json:"params"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Call is implemented by every variant.
type Call interface {
	Tag() Tag
	Base() *Record
}

// Committer receives the side effects of an acknowledged page visit.
type Committer interface {
	CommitSession(ctx context.Context, id string)
	RecordFirstPageVisit(ctx context.Context, url string)
}

// Acknowledger is implemented by calls that change identity state once the
// collector accepted them.
type Acknowledger interface {
	Acknowledge(ctx context.Context, c Committer)
}

type Event struct {
	Record
}

func (e *Event) Tag() Tag { return TagEvent }

func (e *Event) Base() *Record {
	if e == nil {
		return nil
	}
	return &e.Record
}

// ValidateRevenue reports whether currency and amount form a valid revenue
// pair.
func ValidateRevenue(currency, amount string) error {
	if currency == "" {
		return ErrEmptyCurrency
	}
	if amount == "" {
		return ErrEmptyAmount
	}
	if _, ok := parseNumber(amount); !ok {
		return ErrInvalidAmount
	}
	return nil
}

// WithRevenue marks the event as a revenue event. amount must be a decimal
// number.
func (e *Event) WithRevenue(currency, amount string) error {
	if err := ValidateRevenue(currency, amount); err != nil {
		return err
	}
	n, _ := parseNumber(amount)
	e.extra()[ParamRevenueCurrency] = currency
	e.extra()[ParamRevenueAmount] = n
	e.Params[ParamIsRevenueEvent] = true
	return nil
}

// WithArgs merges custom arguments into the event's extra payload.
func (e *Event) WithArgs(args map[string]any) {
	for k, v := range args {
		e.extra()[k] = v
	}
}

func (e *Event) extra() map[string]any {
	if e.Extra == nil {
		e.Extra = map[string]any{}
	}
	return e.Extra
}

type ConversionEvent struct {
	Event
}

func (e *ConversionEvent) Tag() Tag { return TagConversionEvent }

func (e *ConversionEvent) Base() *Record {
	if e == nil {
		return nil
	}
	return &e.Record
}

type PageVisit struct {
	ConversionEvent
}

func (p *PageVisit) Tag() Tag { return TagPageVisit }

func (p *PageVisit) Base() *Record {
	if p == nil {
		return nil
	}
	return &p.Record
}

func (p *PageVisit) SessionID() string {
	s, _ := p.Params[ParamSessionID].(string)
	return s
}

func (p *PageVisit) WebURL() string {
	s, _ := p.Params[ParamWebURL].(string)
	return s
}

// Acknowledge commits the session the visit was built for and records the
// session's first page.
func (p *PageVisit) Acknowledge(ctx context.Context, c Committer) {
	c.CommitSession(ctx, p.SessionID())
	c.RecordFirstPageVisit(ctx, p.WebURL())
}

type CustomUserID struct {
	Record
}

func (c *CustomUserID) Tag() Tag { return TagCustomUserID }

func (c *CustomUserID) Base() *Record {
	if c == nil {
		return nil
	}
	return &c.Record
}
