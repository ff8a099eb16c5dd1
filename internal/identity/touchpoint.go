package identity

import (
	"context"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

var marketingParams = map[string]struct{}{
	"gclid":   {},
	"gbraid":  {},
	"wbraid":  {},
	"fbclid":  {},
	"ttclid":  {},
	"msclkid": {},
	"wpsrc":   {},
	"wpcn":    {},
	"wpcl":    {},
	"wpcid":   {},
}

// HasMarketingParams reports whether raw carries attribution query parameters.
func HasMarketingParams(raw string) bool {
	for key := range queryOf(raw) {
		k := strings.ToLower(key)
		if strings.HasPrefix(k, "utm_") {
			return true
		}
		if _, ok := marketingParams[k]; ok {
			return true
		}
	}
	return false
}

// ObserveURL records the page URL the client was opened with. The first URL
// ever seen becomes the touchpoint; later URLs replace it only when they carry
// marketing parameters that differ from the stored ones, and such a
// replacement starts a new session.
func (s *State) ObserveURL(ctx context.Context, raw string) {
	if raw == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, _ := s.app.Get(ctx, keyWebURL)
	if stored != "" && !(HasMarketingParams(raw) && queryChanged(stored, raw)) {
		s.webURL = stored
		s.touchpoint = readInt64(ctx, s.app, keyTouchpointTimestamp)
		return
	}

	s.webURL = raw
	s.touchpoint = s.now()
	s.app.Set(ctx, keyWebURL, raw)
	s.app.Set(ctx, keyTouchpointTimestamp, strconv.FormatInt(s.touchpoint, 10))
	s.requestRotationLocked(ctx)
}

// WebURL is the current touchpoint URL.
func (s *State) WebURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.webURL
}

// TouchpointTimestamp is the unix time the touchpoint was recorded, or 0.
func (s *State) TouchpointTimestamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touchpoint
}

func queryChanged(oldRaw, newRaw string) bool {
	oldQ, newQ := queryOf(oldRaw), queryOf(newRaw)
	return !maps.EqualFunc(oldQ, newQ, func(a, b []string) bool {
		return slices.Equal(a, b)
	})
}

func queryOf(raw string) url.Values {
	u, err := url.Parse(raw)
	if err != nil {
		return url.Values{}
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return url.Values{}
	}
	return q
}
