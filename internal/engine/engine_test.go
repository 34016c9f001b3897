package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/langfuse-hook/internal/event"
	"github.com/user/langfuse-hook/internal/state"
	"github.com/user/langfuse-hook/internal/types"
)

const session = "ses_1"

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	traces []*types.Trace
	err    error
}

func (s *recordingSink) Send(_ context.Context, trace *types.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.traces = append(s.traces, trace)
	return nil
}

func (s *recordingSink) turns() []*types.Trace {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Trace
	for _, tr := range s.traces {
		if strings.HasPrefix(tr.Name, "OpenCode turn ") {
			out = append(out, tr)
		}
	}
	return out
}

func newTestEngine(sink types.Sink) *Engine {
	return New(sink, Options{
		MaxChars:         1000,
		MaxMessageEvents: 5,
		Now:              func() time.Time { return t0.Add(time.Hour) },
	})
}

func mkEvent(t testing.TB, name string, at time.Time, props map[string]any) event.Event {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"source":      "opencode-plugin",
		"captured_at": at.Format(time.RFC3339Nano),
		"event":       map[string]any{"type": name, "properties": props},
	})
	if err != nil {
		t.Fatal(err)
	}
	ev, ok := event.Normalize(data, t0)
	if !ok {
		t.Fatalf("normalize %s failed", name)
	}
	return ev
}

func msgEvent(t testing.TB, at time.Time, info map[string]any) event.Event {
	info["sessionID"] = session
	return mkEvent(t, event.MessageUpdated, at, map[string]any{"info": info})
}

func partEvent(t testing.TB, at time.Time, part map[string]any) event.Event {
	part["sessionID"] = session
	return mkEvent(t, event.MessagePartUpdated, at, map[string]any{"part": part})
}

func sessionEvent(t testing.TB, name string, at time.Time) event.Event {
	return mkEvent(t, name, at, map[string]any{"sessionID": session})
}

func ms(n int) time.Time {
	return t0.Add(time.Duration(n) * time.Millisecond)
}

// scenario is user "hi", assistant "hello", completed.
func scenario(t testing.TB) []event.Event {
	return []event.Event{
		msgEvent(t, ms(1), map[string]any{"id": "u1", "role": "user"}),
		partEvent(t, ms(2), map[string]any{"id": "p1", "messageID": "u1", "type": "text", "text": "hi"}),
		msgEvent(t, ms(3), map[string]any{"id": "a1", "role": "assistant", "parentID": "u1"}),
		partEvent(t, ms(4), map[string]any{"id": "p2", "messageID": "a1", "type": "text", "text": "hello"}),
		msgEvent(t, ms(5), map[string]any{
			"id": "a1", "role": "assistant", "parentID": "u1",
			"time": map[string]any{"created": ms(3).UnixMilli(), "completed": ms(5).UnixMilli()},
		}),
	}
}

func applyAll(t testing.TB, e *Engine, st *state.State, events []event.Event) {
	t.Helper()
	for _, ev := range events {
		if err := e.Apply(context.Background(), st, ev); err != nil {
			t.Fatalf("Apply %s: %v", ev.Name, err)
		}
	}
}

func content(v any) string {
	m, _ := v.(map[string]any)
	s, _ := m["content"].(string)
	return s
}

func key(id string) types.MessageKey {
	return types.NewMessageKey(session, id)
}

func TestScenarioEmitsOnce(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(sink)
	st := state.New()

	applyAll(t, e, st, scenario(t))

	turns := sink.turns()
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if got := content(turns[0].Input); got != "hi" {
		t.Errorf("expected input hi, got %q", got)
	}
	if got := content(turns[0].Output); got != "hello" {
		t.Errorf("expected output hello, got %q", got)
	}
	if turns[0].SessionID != session || turns[0].Name != "OpenCode turn a1" {
		t.Errorf("unexpected trace %s / %s", turns[0].Name, turns[0].SessionID)
	}
	if !st.IsEmitted(types.NewTurnID(session, "a1")) {
		t.Error("expected emitted marker")
	}
	assertNoBuffers(t, st, "a1", "u1")
}

func TestReplayIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(sink)
	st := state.New()

	applyAll(t, e, st, scenario(t))
	applyAll(t, e, st, scenario(t))

	if n := len(sink.turns()); n != 1 {
		t.Fatalf("expected replay to add no turns, got %d total", n)
	}
	assertNoBuffers(t, st, "a1", "u1")
}

func TestIdleFlushEmitsToolTurn(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(sink)
	st := state.New()

	applyAll(t, e, st, []event.Event{
		msgEvent(t, ms(1), map[string]any{"id": "a1", "role": "assistant"}),
		partEvent(t, ms(2), map[string]any{
			"id": "t1", "messageID": "a1", "type": "tool", "tool": "bash",
			"state": map[string]any{"status": "completed", "input": map[string]any{"cmd": "ls"}, "output": "a.txt"},
		}),
	})
	if n := len(sink.turns()); n != 0 {
		t.Fatalf("expected no emission before idle, got %d", n)
	}

	applyAll(t, e, st, []event.Event{sessionEvent(t, event.SessionIdle, ms(3))})

	turns := sink.turns()
	if len(turns) != 1 {
		t.Fatalf("expected idle flush to emit, got %d", len(turns))
	}
	var toolSpan *types.Observation
	for i, obs := range turns[0].Observations {
		if obs.Name == "tool:bash" {
			toolSpan = &turns[0].Observations[i]
		}
	}
	if toolSpan == nil || toolSpan.Output != "a.txt" {
		t.Errorf("expected tool span with output, got %+v", toolSpan)
	}
	if len(sink.traces) != 2 || sink.traces[1].Name != "OpenCode session.idle" {
		t.Errorf("expected lifecycle trace after turn, got %d traces", len(sink.traces))
	}
	if lc := st.SessionLifecycle[session]; lc.Event != event.SessionIdle {
		t.Errorf("expected lifecycle recorded, got %+v", lc)
	}
}

func TestPartAfterTerminalEventFlushes(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(sink)
	st := state.New()

	applyAll(t, e, st, []event.Event{
		sessionEvent(t, event.SessionIdle, ms(1)),
		partEvent(t, ms(2), map[string]any{
			"id": "r1", "messageID": "a2", "type": "reasoning", "text": "thinking late",
		}),
	})

	turns := sink.turns()
	if len(turns) != 1 {
		t.Fatalf("expected post-part flush to emit, got %d", len(turns))
	}
	if turns[0].Metadata["reasoning_count"] != 1 {
		t.Errorf("expected one reasoning block, got %v", turns[0].Metadata["reasoning_count"])
	}
}

func TestEmptyTurnSuppressed(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(sink)
	st := state.New()

	applyAll(t, e, st, []event.Event{
		msgEvent(t, ms(1), map[string]any{"id": "a1", "role": "assistant"}),
		partEvent(t, ms(2), map[string]any{"id": "s1", "messageID": "a1", "type": "step-start"}),
		partEvent(t, ms(3), map[string]any{
			"id": "t1", "messageID": "a1", "type": "tool", "tool": "bash",
			"state": map[string]any{"status": "running"},
		}),
		msgEvent(t, ms(4), map[string]any{"id": "a1", "role": "assistant", "time": map[string]any{"completed": true}}),
		sessionEvent(t, event.SessionIdle, ms(5)),
	})

	if n := len(sink.turns()); n != 0 {
		t.Fatalf("expected empty turn suppressed, got %d", n)
	}
	if st.IsEmitted(types.NewTurnID(session, "a1")) {
		t.Error("expected no marker for empty turn")
	}
	if len(st.AssistantParts[key("a1")]) != 2 {
		t.Errorf("expected buffers retained, got %d parts", len(st.AssistantParts[key("a1")]))
	}
}

func TestRoleConvergence(t *testing.T) {
	e := newTestEngine(&recordingSink{})
	st := state.New()

	applyAll(t, e, st, []event.Event{
		partEvent(t, ms(1), map[string]any{"id": "p1", "messageID": "m1", "type": "text", "text": "question"}),
	})
	if len(st.PendingParts[key("m1")]) != 1 {
		t.Fatal("expected text part pending while role unknown")
	}

	applyAll(t, e, st, []event.Event{msgEvent(t, ms(2), map[string]any{"id": "m1", "role": "user"})})

	if _, ok := st.PendingParts[key("m1")]; ok {
		t.Error("expected pending parts reconciled")
	}
	if _, ok := st.UserParts[key("m1")]["p1"]; !ok {
		t.Error("expected part in user_parts")
	}
	if _, ok := st.AssistantParts[key("m1")]; ok {
		t.Error("expected nothing in assistant_parts")
	}
}

func TestStructuralPartsInferAssistant(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(sink)
	st := state.New()

	applyAll(t, e, st, []event.Event{
		partEvent(t, ms(1), map[string]any{"id": "p0", "messageID": "a1", "type": "text", "text": "early"}),
		partEvent(t, ms(2), map[string]any{"id": "p1", "messageID": "a1", "type": "step-start"}),
		partEvent(t, ms(3), map[string]any{"id": "p2", "messageID": "a1", "type": "text", "text": "answer",
			"time": map[string]any{"start": ms(3).UnixMilli()}}),
	})
	if len(st.AssistantParts[key("a1")]) != 3 || len(st.PendingParts) != 0 {
		t.Fatalf("expected pending text pulled into assistant bucket, got %d parts", len(st.AssistantParts[key("a1")]))
	}

	applyAll(t, e, st, []event.Event{
		partEvent(t, ms(4), map[string]any{"id": "p3", "messageID": "a1", "type": "step-finish", "reason": "stop"}),
	})

	turns := sink.turns()
	if len(turns) != 1 {
		t.Fatalf("expected step-finish to trigger emission, got %d", len(turns))
	}
	if got := content(turns[0].Output); !strings.Contains(got, "answer") || !strings.Contains(got, "early") {
		t.Errorf("unexpected output %q", got)
	}
	if _, ok := st.Messages[key("a1")]; ok {
		t.Error("synthesized record must not be persisted")
	}
}

func TestLateParentFreesUserBuffers(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(sink)
	st := state.New()

	// step-finish emits before the assistant record names its parent.
	applyAll(t, e, st, []event.Event{
		msgEvent(t, ms(1), map[string]any{"id": "u1", "role": "user"}),
		partEvent(t, ms(2), map[string]any{"id": "p1", "messageID": "u1", "type": "text", "text": "hi"}),
		partEvent(t, ms(3), map[string]any{"id": "p2", "messageID": "a1", "type": "text", "text": "hello"}),
		partEvent(t, ms(4), map[string]any{"id": "p3", "messageID": "a1", "type": "step-finish", "reason": "stop"}),
	})
	if n := len(sink.turns()); n != 1 {
		t.Fatalf("expected 1 turn, got %d", n)
	}
	if len(st.UserParts[key("u1")]) != 1 {
		t.Fatalf("expected user parts still buffered before the parent is known")
	}

	applyAll(t, e, st, []event.Event{
		msgEvent(t, ms(5), map[string]any{
			"id": "a1", "role": "assistant", "parentID": "u1",
			"time": map[string]any{"completed": ms(5).UnixMilli()},
		}),
	})
	if _, ok := st.UserParts[key("u1")]; ok {
		t.Error("expected parent user parts purged once the parent is known")
	}
	if _, ok := st.AssistantParts[key("a1")]; ok {
		t.Error("expected assistant parts purged")
	}

	// A replayed user part is not buffered again.
	applyAll(t, e, st, []event.Event{
		partEvent(t, ms(6), map[string]any{"id": "p1", "messageID": "u1", "type": "text", "text": "hi"}),
	})
	if _, ok := st.UserParts[key("u1")]; ok {
		t.Error("expected consumed user message to stay unbuffered")
	}
	if n := len(sink.turns()); n != 1 {
		t.Errorf("expected no re-emission, got %d turns", n)
	}
}

func TestStalePartRejected(t *testing.T) {
	e := newTestEngine(&recordingSink{})
	st := state.New()

	applyAll(t, e, st, []event.Event{
		msgEvent(t, ms(1), map[string]any{"id": "u1", "role": "user"}),
		partEvent(t, ms(5), map[string]any{"id": "p1", "messageID": "u1", "type": "text", "text": "new"}),
		partEvent(t, ms(3), map[string]any{"id": "p1", "messageID": "u1", "type": "text", "text": "old"}),
	})

	var p types.Part
	if err := json.Unmarshal(st.UserParts[key("u1")]["p1"], &p); err != nil {
		t.Fatal(err)
	}
	if p.TextValue() != "new" {
		t.Errorf("expected stale update ignored, got %q", p.TextValue())
	}
}

func TestSinkFailureWithholdsMarker(t *testing.T) {
	sink := &recordingSink{err: errors.New("backend down")}
	e := newTestEngine(sink)
	st := state.New()

	applyAll(t, e, st, scenario(t))

	if st.IsEmitted(types.NewTurnID(session, "a1")) {
		t.Fatal("expected no marker after sink failure")
	}
	if len(st.AssistantParts[key("a1")]) != 1 || len(st.UserParts[key("u1")]) != 1 {
		t.Fatal("expected buffers retained for retry")
	}

	sink.err = nil
	applyAll(t, e, st, []event.Event{sessionEvent(t, event.SessionIdle, ms(6))})

	turns := sink.turns()
	if len(turns) != 1 {
		t.Fatalf("expected retry via lifecycle flush, got %d", len(turns))
	}
	if content(turns[0].Input) != "hi" {
		t.Errorf("expected input preserved, got %q", content(turns[0].Input))
	}
	assertNoBuffers(t, st, "a1", "u1")
}

func TestMessageEventRingBounded(t *testing.T) {
	e := newTestEngine(&recordingSink{})
	st := state.New()

	for i := 1; i <= 8; i++ {
		applyAll(t, e, st, []event.Event{msgEvent(t, ms(i), map[string]any{"id": "a1", "role": "assistant"})})
	}
	if n := len(st.MessageEvents[key("a1")]); n != 5 {
		t.Errorf("expected ring capped at 5, got %d", n)
	}
}

func TestLifecycleLastWriteWins(t *testing.T) {
	e := newTestEngine(&recordingSink{})
	st := state.New()

	applyAll(t, e, st, []event.Event{
		sessionEvent(t, event.SessionIdle, ms(5)),
		sessionEvent(t, event.SessionCreated, ms(1)),
	})
	if lc := st.SessionLifecycle[session]; lc.Event != event.SessionIdle {
		t.Errorf("expected older created event ignored, got %+v", lc)
	}
}

func TestUnknownSessionNotFlushed(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(sink)
	st := state.New()
	state.PutPart(st.AssistantParts, types.NewMessageKey(types.UnknownSession, "a1"), "p",
		json.RawMessage(`{"id":"p","type":"text","text":"x"}`))

	applyAll(t, e, st, []event.Event{mkEvent(t, event.SessionIdle, ms(1), map[string]any{})})

	if n := len(sink.turns()); n != 0 {
		t.Errorf("expected unknown session skipped, got %d turns", n)
	}
	if len(sink.traces) != 1 || sink.traces[0].SessionID != types.UnknownSession {
		t.Errorf("expected one lifecycle trace, got %d", len(sink.traces))
	}
}

func TestMalformedPropertiesReported(t *testing.T) {
	e := newTestEngine(&recordingSink{})
	st := state.New()

	ev := mkEvent(t, event.MessageUpdated, ms(1), map[string]any{"info": "not an object"})
	if err := e.Apply(context.Background(), st, ev); err == nil {
		t.Error("expected decode error")
	}
	if len(st.Messages) != 0 {
		t.Error("expected state untouched")
	}
}

func assertNoBuffers(t *testing.T, st *state.State, ids ...string) {
	t.Helper()
	for _, id := range ids {
		k := key(id)
		if _, ok := st.AssistantParts[k]; ok {
			t.Errorf("residual assistant_parts for %s", id)
		}
		if _, ok := st.UserParts[k]; ok {
			t.Errorf("residual user_parts for %s", id)
		}
		if _, ok := st.MessageEvents[k]; ok {
			t.Errorf("residual message_events for %s", id)
		}
		if _, ok := st.PendingParts[k]; ok {
			t.Errorf("residual pending_parts for %s", id)
		}
	}
}
