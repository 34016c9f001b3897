// internal/state/state.go
package state

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/user/langfuse-hook/internal/types"
)

// Parts maps part id to the verbatim part record.
type Parts map[string]json.RawMessage

// State is the whole persisted document. Every top-level map is always
// non-nil after New or Load.
type State struct {
	Messages            map[types.MessageKey]json.RawMessage      `json:"messages"`
	MessageEvents       map[types.MessageKey][]types.MessageEvent `json:"message_events"`
	UserParts           map[types.MessageKey]Parts                `json:"user_parts"`
	AssistantParts      map[types.MessageKey]Parts                `json:"assistant_parts"`
	AssistantFinishSeen map[types.MessageKey]string               `json:"assistant_finish_seen"`
	PendingParts        map[types.MessageKey]Parts                `json:"pending_parts"`
	MessageLastSeen     map[types.MessageKey]string               `json:"message_last_seen"`
	PartLastSeen        map[types.PartKey]string                  `json:"part_last_seen"`
	Emitted             map[types.TurnID]string                   `json:"emitted"`
	SessionLifecycle    map[string]types.Lifecycle                `json:"session_lifecycle"`
}

// New returns an empty, fully initialized state.
func New() *State {
	s := &State{}
	s.init()
	return s
}

func (s *State) init() {
	if s.Messages == nil {
		s.Messages = make(map[types.MessageKey]json.RawMessage)
	}
	if s.MessageEvents == nil {
		s.MessageEvents = make(map[types.MessageKey][]types.MessageEvent)
	}
	if s.UserParts == nil {
		s.UserParts = make(map[types.MessageKey]Parts)
	}
	if s.AssistantParts == nil {
		s.AssistantParts = make(map[types.MessageKey]Parts)
	}
	if s.AssistantFinishSeen == nil {
		s.AssistantFinishSeen = make(map[types.MessageKey]string)
	}
	if s.PendingParts == nil {
		s.PendingParts = make(map[types.MessageKey]Parts)
	}
	if s.MessageLastSeen == nil {
		s.MessageLastSeen = make(map[types.MessageKey]string)
	}
	if s.PartLastSeen == nil {
		s.PartLastSeen = make(map[types.PartKey]string)
	}
	if s.Emitted == nil {
		s.Emitted = make(map[types.TurnID]string)
	}
	if s.SessionLifecycle == nil {
		s.SessionLifecycle = make(map[string]types.Lifecycle)
	}
}

// Message decodes the stored record for key.
func (s *State) Message(key types.MessageKey) (types.Message, bool) {
	raw, ok := s.Messages[key]
	if !ok {
		return types.Message{}, false
	}
	var msg types.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return types.Message{}, false
	}
	return msg, true
}

// AcceptMessage applies the last-seen watermark for a message key. It
// returns false, leaving state untouched, when at is strictly older than
// the stored watermark.
func (s *State) AcceptMessage(key types.MessageKey, at time.Time) bool {
	if older(s.MessageLastSeen[key], at) {
		return false
	}
	s.MessageLastSeen[key] = types.FormatTime(at)
	return true
}

// AcceptPart is AcceptMessage for a (message, part) key.
func (s *State) AcceptPart(key types.PartKey, at time.Time) bool {
	if older(s.PartLastSeen[key], at) {
		return false
	}
	s.PartLastSeen[key] = types.FormatTime(at)
	return true
}

func older(prev string, at time.Time) bool {
	t, ok := types.ParseTime(prev)
	if !ok {
		return false
	}
	return at.Before(t)
}

// IsEmitted reports whether turn already has an emission marker.
func (s *State) IsEmitted(turn types.TurnID) bool {
	return s.Emitted[turn] != ""
}

// AppendMessageEvent records info in the bounded history ring for key,
// dropping the oldest entries beyond limit.
func (s *State) AppendMessageEvent(key types.MessageKey, info json.RawMessage, at time.Time, limit int) {
	events := append(s.MessageEvents[key], types.MessageEvent{
		CapturedAt: types.FormatTime(at),
		Info:       info,
	})
	if limit > 0 && len(events) > limit {
		events = append([]types.MessageEvent(nil), events[len(events)-limit:]...)
	}
	s.MessageEvents[key] = events
}

// PutPart stores raw under bucket[key][partID].
func PutPart(bucket map[types.MessageKey]Parts, key types.MessageKey, partID string, raw json.RawMessage) {
	parts := bucket[key]
	if parts == nil {
		parts = make(Parts)
		bucket[key] = parts
	}
	parts[partID] = raw
}

// Purge drops every buffer held for key. Messages, watermarks and
// emission markers are kept.
func (s *State) Purge(key types.MessageKey) {
	delete(s.AssistantParts, key)
	delete(s.UserParts, key)
	delete(s.PendingParts, key)
	delete(s.MessageEvents, key)
	delete(s.AssistantFinishSeen, key)
}

// AssistantKeys returns the buffered assistant message keys of a session
// in sorted order.
func (s *State) AssistantKeys(sessionID string) []types.MessageKey {
	prefix := sessionID + ":"
	var keys []types.MessageKey
	for key := range s.AssistantParts {
		if strings.HasPrefix(string(key), prefix) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

// Stats reports the size of each top-level map.
func (s *State) Stats() map[string]int {
	return map[string]int{
		"messages":              len(s.Messages),
		"message_events":        len(s.MessageEvents),
		"user_parts":            len(s.UserParts),
		"assistant_parts":       len(s.AssistantParts),
		"assistant_finish_seen": len(s.AssistantFinishSeen),
		"pending_parts":         len(s.PendingParts),
		"message_last_seen":     len(s.MessageLastSeen),
		"part_last_seen":        len(s.PartLastSeen),
		"emitted":               len(s.Emitted),
		"session_lifecycle":     len(s.SessionLifecycle),
	}
}
