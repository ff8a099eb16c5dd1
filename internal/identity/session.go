package identity

import (
	"context"
	"strconv"

	"github.com/google/uuid"
)

// MarkActivity records now as the last activity time. Every built call does
// this.
func (s *State) MarkActivity(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.app.Set(ctx, keyLastEventTimestamp, strconv.FormatInt(s.now(), 10))
}

// SessionID returns the committed session id, or "" when none exists yet.
func (s *State) SessionID(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.app.Get(ctx, keySessionID)
	return v
}

// SessionIDForPageVisit returns the session id a new page visit should carry.
// A new id is generated when no session is stored, when no activity was ever
// recorded, when the last activity is older than the timeout, or when a new
// touchpoint asked for rotation. The new id only becomes authoritative once
// CommitSession is called for it, except for the very first session, which is
// stored right away.
func (s *State) SessionIDForPageVisit(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, _ := s.app.Get(ctx, keySessionID)
	if !s.needsNewSessionLocked(ctx, current) {
		return current
	}

	id := uuid.NewString()
	s.app.Set(ctx, keyFirstPageVisitOccurred, "false")
	s.app.Remove(ctx, keyFirstPageVisitURL)

	if current == "" {
		s.app.Set(ctx, keySessionID, id)
		s.app.Remove(ctx, keyRotationPending)
		return id
	}
	s.requestRotationLocked(ctx)
	return id
}

// requestRotationLocked persists that the next page visit must start a new
// session. The request survives a restart until CommitSession clears it.
func (s *State) requestRotationLocked(ctx context.Context) {
	s.app.Set(ctx, keyRotationPending, "true")
}

func (s *State) needsNewSessionLocked(ctx context.Context, current string) bool {
	if current == "" {
		return true
	}
	if v, _ := s.app.Get(ctx, keyRotationPending); v == "true" {
		return true
	}
	last := readInt64(ctx, s.app, keyLastEventTimestamp)
	if last == 0 {
		return true
	}
	return s.now()-last > int64(s.opts.SessionTimeout.Seconds())
}

// CommitSession makes id the stored session id and clears any pending rotation.
func (s *State) CommitSession(ctx context.Context, id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.app.Set(ctx, keySessionID, id)
	s.app.Remove(ctx, keyRotationPending)
}

// IsFirstVisit reports true exactly once per storage scope.
func (s *State) IsFirstVisit(ctx context.Context) bool {
	return s.firstOccurrence(ctx, keyDidVisitSite)
}

// IsFirstEvent reports true exactly once per event name.
func (s *State) IsFirstEvent(ctx context.Context, name string) bool {
	return s.firstOccurrence(ctx, keyDidSendEventBase+"."+name)
}

func (s *State) firstOccurrence(ctx context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.app.Get(ctx, key); ok {
		return false
	}
	s.app.Set(ctx, key, "true")
	return true
}

func (s *State) FirstPageVisitOccurred(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.app.Get(ctx, keyFirstPageVisitOccurred)
	return v == "true"
}

func (s *State) FirstPageVisitURL(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.app.Get(ctx, keyFirstPageVisitURL)
	return v
}

// RecordFirstPageVisit stores url as the session's first page, unless one was
// already recorded.
func (s *State) RecordFirstPageVisit(ctx context.Context, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, _ := s.app.Get(ctx, keyFirstPageVisitOccurred); v == "true" {
		return
	}
	s.app.Set(ctx, keyFirstPageVisitURL, url)
	s.app.Set(ctx, keyFirstPageVisitOccurred, "true")
}
