package identity

import (
	"context"
	"encoding/json"
)

// GlobalProperties returns the property bag merged into every call. A corrupt
// stored value reads as empty.
func (s *State) GlobalProperties(ctx context.Context) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalPropertiesLocked(ctx)
}

// GlobalPropertiesJSON returns the encoded bag, or "" when it is empty.
func (s *State) GlobalPropertiesJSON(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	props := s.globalPropertiesLocked(ctx)
	if len(props) == 0 {
		return ""
	}
	data, err := json.Marshal(props)
	if err != nil {
		return ""
	}
	return string(data)
}

func (s *State) SetGlobalProperty(ctx context.Context, key, value string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	props := s.globalPropertiesLocked(ctx)
	props[key] = value
	data, err := json.Marshal(props)
	if err != nil {
		s.log.Warn("encode global properties failed", "error", err)
		return
	}
	s.app.Set(ctx, keyGlobalProperties, string(data))
}

func (s *State) ClearGlobalProperties(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.app.Remove(ctx, keyGlobalProperties)
}

func (s *State) globalPropertiesLocked(ctx context.Context) map[string]string {
	props := map[string]string{}
	raw, ok := s.app.Get(ctx, keyGlobalProperties)
	if !ok {
		return props
	}
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		s.log.Warn("stored global properties are malformed", "error", err)
		return map[string]string{}
	}
	return props
}
