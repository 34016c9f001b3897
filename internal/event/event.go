// Package event turns one raw hook payload into a canonical event.
//
// Payloads come from the OpenCode plugin as
//
//	{"source": "...", "captured_at": "...", "event": {"type": "...", "properties": {...}}}
//
// but flat payloads without the "event" wrapper are accepted too. Field
// lookups are driven by the rule tables below, evaluated in order; the
// first non-empty match wins.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/user/langfuse-hook/internal/types"
)

const (
	MessageUpdated     = "message.updated"
	MessagePartUpdated = "message.part.updated"
	MessageRemoved     = "message.removed"
	MessagePartRemoved = "message.part.removed"
	SessionCreated     = "session.created"
	SessionIdle        = "session.idle"
	SessionError       = "session.error"
	SessionCompacted   = "session.compacted"

	Unknown = "unknown"
)

// Event is a normalized hook payload.
type Event struct {
	Name       string
	SessionID  string
	Source     string
	At         time.Time
	Properties map[string]any
	// Object is the event object: the "event" wrapper when present,
	// otherwise the whole payload.
	Object map[string]any
}

// IsTerminal reports whether name is a session event that ends a turn.
func IsTerminal(name string) bool {
	switch name {
	case SessionIdle, SessionError, SessionCompacted:
		return true
	}
	return false
}

// IsLifecycle reports whether name is a session-level event.
func IsLifecycle(name string) bool {
	return name == SessionCreated || IsTerminal(name)
}

// root selects which object a rule path starts from.
type root int

const (
	rootPayload root = iota
	rootEvent
	rootProperties
)

type rule struct {
	from root
	path []string
}

var nameRules = []rule{
	{rootEvent, []string{"type"}},
	{rootEvent, []string{"event"}},
	{rootEvent, []string{"name"}},
	{rootPayload, []string{"type"}},
}

var sessionRules = []rule{
	{rootProperties, []string{"sessionID"}},
	{rootProperties, []string{"sessionId"}},
	{rootProperties, []string{"info", "sessionID"}},
	{rootProperties, []string{"info", "sessionId"}},
	// session.created carries the session record itself in info.
	{rootProperties, []string{"info", "id"}},
	{rootProperties, []string{"part", "sessionID"}},
	{rootPayload, []string{"session_id"}},
	{rootPayload, []string{"sessionId"}},
}

var timestampRules = []rule{
	{rootPayload, []string{"captured_at"}},
	{rootEvent, []string{"timestamp"}},
}

// Normalize parses one payload. It never fails: input that is empty, not
// JSON, or not a JSON object reports false and the caller drops it.
func Normalize(data []byte, now time.Time) (Event, bool) {
	payload, err := decodeObject(data)
	if err != nil || len(payload) == 0 {
		return Event{}, false
	}

	obj := payload
	if wrapped, ok := payload["event"].(map[string]any); ok {
		obj = wrapped
	}
	props, _ := obj["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
	}
	roots := [...]map[string]any{rootPayload: payload, rootEvent: obj, rootProperties: props}

	ev := Event{
		Name:       Unknown,
		SessionID:  types.UnknownSession,
		Properties: props,
		Object:     obj,
		At:         now.UTC(),
	}
	if name := firstString(roots[:], nameRules); name != "" {
		ev.Name = strings.ToLower(name)
	}
	if sid := firstString(roots[:], sessionRules); sid != "" {
		ev.SessionID = sid
	}
	ev.Source = asString(payload["source"])
	for _, r := range timestampRules {
		if t, ok := types.ParseTime(lookup(roots[r.from], r.path)); ok {
			ev.At = t
			break
		}
	}
	return ev, true
}

// Decode re-decodes a property (for example "info" or "part") into v and
// returns its raw JSON form for verbatim persistence.
func (e Event) Decode(key string, v any) (json.RawMessage, error) {
	obj, ok := e.Properties[key].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("property %q is not an object", key)
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal property %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("decode property %q: %w", key, err)
	}
	return raw, nil
}

func decodeObject(data []byte) (map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("payload is %T, not an object", v)
	}
	return obj, nil
}

func firstString(roots []map[string]any, rules []rule) string {
	for _, r := range rules {
		if s := strings.TrimSpace(asString(lookup(roots[r.from], r.path))); s != "" {
			return s
		}
	}
	return ""
}

func lookup(obj map[string]any, path []string) any {
	var cur any = obj
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

func asString(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case json.Number:
		return value.String()
	default:
		return ""
	}
}
