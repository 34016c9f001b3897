// internal/types/ids_test.go
package types

import (
	"testing"
)

func TestNewTurnIDStable(t *testing.T) {
	a := NewTurnID("ses_1", "msg_1")
	b := NewTurnID("ses_1", "msg_1")
	if a != b {
		t.Errorf("expected stable turn id, got %s and %s", a, b)
	}
	if len(string(a)) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(string(a)))
	}
}

func TestNewTurnIDDistinct(t *testing.T) {
	if NewTurnID("ses_1", "msg_1") == NewTurnID("ses_1", "msg_2") {
		t.Error("expected different messages to hash differently")
	}
	if NewTurnID("ses_1", "msg_1") == NewTurnID("ses_2", "msg_1") {
		t.Error("expected different sessions to hash differently")
	}
}

func TestMessageKeyFormat(t *testing.T) {
	key := NewMessageKey("ses_1", "msg_1")
	if key != MessageKey("ses_1:msg_1") {
		t.Errorf("unexpected key %s", key)
	}
	if part := key.Part("prt_1"); part != PartKey("ses_1:msg_1:prt_1") {
		t.Errorf("unexpected part key %s", part)
	}
	id, ok := key.MessageID("ses_1")
	if !ok || id != "msg_1" {
		t.Errorf("expected msg_1, got %q (%v)", id, ok)
	}
	if _, ok := key.MessageID("ses_2"); ok {
		t.Error("expected prefix mismatch for other session")
	}
}
