package identity

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// PersistMode says where a persistent device id came from.
type PersistMode string

const (
	PersistOff    PersistMode = "off"
	PersistManual PersistMode = "manual"
	PersistAuto   PersistMode = "auto"
)

type deviceInfo struct {
	id         string
	previous   string
	mode       PersistMode
	failReason string
}

// ValidUUID accepts only the canonical 36-character form.
func ValidUUID(v string) bool {
	if len(v) != 36 {
		return false
	}
	_, err := uuid.Parse(v)
	return err == nil
}

// resolveDeviceLocked picks the device id: explicit option, then cookie, then
// stored value, then a fresh UUID. A rejected candidate leaves a fail reason.
func (s *State) resolveDeviceLocked(ctx context.Context) deviceInfo {
	info := deviceInfo{mode: PersistOff}
	stored, _ := s.global.Get(ctx, keyDeviceID)

	switch {
	case s.opts.DeviceID != "":
		info.mode = PersistManual
		if ValidUUID(s.opts.DeviceID) {
			s.global.Set(ctx, keyDeviceID, s.opts.DeviceID)
		} else {
			info.failReason = "invalid udid:" + s.opts.DeviceID
			s.log.Warn("explicit device id is not a uuid", "device_id", s.opts.DeviceID)
		}
	case s.opts.AutoPersistDomain != "":
		info.mode = PersistAuto
		v, ok, err := s.jar.Get(DeviceCookieName)
		if err != nil {
			s.log.Warn("read device cookie failed", "error", err)
		}
		switch {
		case !ok:
		case v == "":
			info.failReason = "singular sdid cookie was set to an empty string"
		case !ValidUUID(v):
			info.failReason = "invalid udid:" + v
			s.log.Warn("device cookie is not a uuid", "device_id", v)
		default:
			s.global.Set(ctx, keyDeviceID, v)
		}
	}

	info.id = persistentUUID(ctx, s.global, keyDeviceID)
	if stored != "" && stored != info.id {
		info.previous = stored
	}
	return info
}

func (s *State) persistDeviceCookieLocked() {
	if s.opts.AutoPersistDomain == "" || s.jar == nil {
		return
	}
	err := s.jar.Set(&http.Cookie{
		Name:    DeviceCookieName,
		Value:   s.device.id,
		Domain:  s.opts.AutoPersistDomain,
		Path:    "/",
		Expires: s.clock.Now().Add(deviceCookieTTL),
	})
	if err != nil {
		s.log.Warn("write device cookie failed", "error", err)
	}
}

func (s *State) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device.id
}

func (s *State) PersistMode() PersistMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device.mode
}

func (s *State) PersistFailReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device.failReason
}

// TakePreviousDeviceID returns the id the device had before this process
// resolved a different one. It is reported once.
func (s *State) TakePreviousDeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.device.previous
	s.device.previous = ""
	return prev
}

func (s *State) MatchID(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.global.Get(ctx, keyMatchID)
	return v
}

func (s *State) SetMatchID(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global.Set(ctx, keyMatchID, id)
}

func (s *State) ClearMatchID(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global.Remove(ctx, keyMatchID)
}
