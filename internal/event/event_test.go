package event

import (
	"testing"
	"time"

	"github.com/user/langfuse-hook/internal/types"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizeWrappedPayload(t *testing.T) {
	raw := `{
		"source": "opencode-plugin",
		"captured_at": "2025-03-01T12:30:00Z",
		"event": {"type": "Message.Updated", "properties": {"info": {"id": "msg_1", "sessionID": "ses_1", "role": "user"}}}
	}`

	ev, ok := Normalize([]byte(raw), fixedNow)
	if !ok {
		t.Fatal("expected event")
	}
	if ev.Name != MessageUpdated {
		t.Errorf("expected lower-cased name, got %q", ev.Name)
	}
	if ev.SessionID != "ses_1" {
		t.Errorf("expected ses_1, got %q", ev.SessionID)
	}
	if ev.Source != "opencode-plugin" {
		t.Errorf("unexpected source %q", ev.Source)
	}
	want := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	if !ev.At.Equal(want) {
		t.Errorf("expected captured_at %v, got %v", want, ev.At)
	}
}

func TestNormalizeFlatPayload(t *testing.T) {
	raw := `{"type": "session.idle", "properties": {"sessionID": "ses_flat"}, "timestamp": 1740832200000}`

	ev, ok := Normalize([]byte(raw), fixedNow)
	if !ok {
		t.Fatal("expected event")
	}
	if ev.Name != SessionIdle || ev.SessionID != "ses_flat" {
		t.Errorf("unexpected event %q %q", ev.Name, ev.SessionID)
	}
	if ev.At.UnixMilli() != 1740832200000 {
		t.Errorf("expected embedded timestamp, got %v", ev.At)
	}
}

func TestNormalizeSessionRulePriority(t *testing.T) {
	cases := map[string]string{
		`{"event":{"type":"x","properties":{"sessionID":"a","info":{"sessionID":"b"}}}}`:        "a",
		`{"event":{"type":"x","properties":{"sessionId":"a2"}}}`:                                "a2",
		`{"event":{"type":"x","properties":{"info":{"sessionID":"b","id":"c"}}}}`:               "b",
		`{"event":{"type":"session.created","properties":{"info":{"id":"ses_created"}}}}`:       "ses_created",
		`{"event":{"type":"x","properties":{"part":{"sessionID":"p"}}}}`:                        "p",
		`{"session_id":"top","event":{"type":"x","properties":{}}}`:                             "top",
		`{"sessionId":"top2","event":{"type":"x"}}`:                                             "top2",
		`{"event":{"type":"x","properties":{"sessionID":"  ","part":{"sessionID":"trimmed"}}}}`: "trimmed",
		`{"event":{"type":"x","properties":{}}}`:                                                types.UnknownSession,
	}
	for raw, want := range cases {
		ev, ok := Normalize([]byte(raw), fixedNow)
		if !ok {
			t.Fatalf("%s: expected event", raw)
		}
		if ev.SessionID != want {
			t.Errorf("%s: expected %q, got %q", raw, want, ev.SessionID)
		}
	}
}

func TestNormalizeDefaults(t *testing.T) {
	ev, ok := Normalize([]byte(`{"event":{"properties":{}}}`), fixedNow)
	if !ok {
		t.Fatal("expected event")
	}
	if ev.Name != Unknown {
		t.Errorf("expected unknown name, got %q", ev.Name)
	}
	if !ev.At.Equal(fixedNow) {
		t.Errorf("expected now fallback, got %v", ev.At)
	}
}

func TestNormalizeUnparseableTimestampFallsBack(t *testing.T) {
	raw := `{"captured_at":"not a time","event":{"type":"x","timestamp":"2025-03-01T12:45:00"}}`
	ev, ok := Normalize([]byte(raw), fixedNow)
	if !ok {
		t.Fatal("expected event")
	}
	if ev.At.Minute() != 45 {
		t.Errorf("expected event timestamp fallback, got %v", ev.At)
	}
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "   ", "{", "[1,2]", `"text"`, "42", "{}"} {
		if _, ok := Normalize([]byte(raw), fixedNow); ok {
			t.Errorf("%q: expected no event", raw)
		}
	}
}

func TestDecodeProperty(t *testing.T) {
	raw := `{"event":{"type":"message.part.updated","properties":{"part":{"id":"prt_1","messageID":"msg_1","type":"text","text":"hello","time":{"start":1740832200000}}}}}`
	ev, ok := Normalize([]byte(raw), fixedNow)
	if !ok {
		t.Fatal("expected event")
	}

	var part types.Part
	data, err := ev.Decode("part", &part)
	if err != nil {
		t.Fatal(err)
	}
	if part.ID != "prt_1" || part.TextValue() != "hello" {
		t.Errorf("unexpected part %+v", part)
	}
	if part.Time.Start.Time.UnixMilli() != 1740832200000 {
		t.Errorf("expected start preserved, got %v", part.Time.Start.Time)
	}
	if len(data) == 0 {
		t.Error("expected raw JSON")
	}

	if _, err := ev.Decode("info", &types.Message{}); err == nil {
		t.Error("expected error for missing property")
	}
}

func TestIsTerminal(t *testing.T) {
	for _, name := range []string{SessionIdle, SessionError, SessionCompacted} {
		if !IsTerminal(name) || !IsLifecycle(name) {
			t.Errorf("%s: expected terminal lifecycle event", name)
		}
	}
	if IsTerminal(SessionCreated) || !IsLifecycle(SessionCreated) {
		t.Error("session.created is lifecycle but not terminal")
	}
	if IsLifecycle(MessageUpdated) {
		t.Error("message.updated is not a lifecycle event")
	}
}
