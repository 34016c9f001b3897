package turn

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/user/langfuse-hook/internal/types"
)

func partList(m map[string]types.Part) []types.Part {
	out := make([]types.Part, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out
}

func TestBuildTurnTraceShape(t *testing.T) {
	assistantRaw := `{"id":"msg_a","role":"assistant","parentID":"msg_u","modelID":"claude","providerID":"anthropic","time":{"created":1740830400000}}`
	var assistant types.Message
	if err := json.Unmarshal([]byte(assistantRaw), &assistant); err != nil {
		t.Fatal(err)
	}
	created := time.UnixMilli(1740830400000).UTC()

	// The reasoning block and tool share a timestamp with the generation slot.
	parts := decodeParts(t,
		`{"id":"r1","type":"reasoning","text":"think","time":{"start":1740830400001}}`,
		`{"id":"t1","type":"tool","tool":"bash","state":{"status":"completed","input":{"cmd":"ls"},"output":"ok"},"time":{"start":1740830400001}}`,
		`{"id":"x1","type":"text","text":"hello","time":{"start":1740830400003}}`,
	)
	user := decodeParts(t, `{"id":"u1","type":"text","text":"hi"}`)
	tr := Assemble(parts, user, created, Options{})

	trace := BuildTurnTrace(TurnInput{
		TurnID:         types.NewTurnID("ses_1", "msg_a"),
		SessionID:      "ses_1",
		UserID:         "opencode-user",
		Assistant:      assistant,
		AssistantRaw:   json.RawMessage(assistantRaw),
		AssistantParts: partList(parts),
		UserParts:      partList(user),
		Transcript:     tr,
		Usage:          &types.Usage{Input: 3, Output: 5, Total: 8},
		MaxChars:       100,
		Now:            created.Add(time.Minute),
	})

	if trace.Name != "OpenCode turn msg_a" {
		t.Errorf("unexpected name %q", trace.Name)
	}
	if !trace.Timestamp.Equal(created) {
		t.Errorf("expected trace timestamp at message creation, got %v", trace.Timestamp)
	}
	if len(trace.Observations) != 4 {
		t.Fatalf("expected root, generation and two spans, got %d", len(trace.Observations))
	}

	root, gen := trace.Observations[0], trace.Observations[1]
	if root.ParentID != "" || !root.StartTime.Equal(created) {
		t.Errorf("unexpected root %+v", root)
	}
	if gen.Kind != types.ObservationGeneration || gen.Name != "assistant_turn" || gen.Model != "claude" || gen.Usage.Total != 8 {
		t.Errorf("unexpected generation %+v", gen)
	}
	if !gen.StartTime.Equal(created.Add(Step)) {
		t.Errorf("expected generation at created+1ms, got %v", gen.StartTime)
	}

	reasoning, tool := trace.Observations[2], trace.Observations[3]
	if reasoning.Name != "reasoning[1]" || tool.Name != "tool:bash" {
		t.Errorf("expected reasoning before tool at equal timestamps, got %s, %s", reasoning.Name, tool.Name)
	}
	prev := gen.StartTime
	for _, obs := range trace.Observations[2:] {
		if !obs.StartTime.After(prev) {
			t.Errorf("expected strictly increasing start times, %s at %v after %v", obs.Name, obs.StartTime, prev)
		}
		if obs.ParentID != root.ID {
			t.Errorf("expected %s parented to root", obs.Name)
		}
		prev = obs.StartTime
	}

	input := trace.Input.(map[string]any)
	if input["content"] != "hi" {
		t.Errorf("unexpected input %v", input)
	}
	counts := trace.Metadata["parts_count"].(map[string]any)
	if counts["assistant_total"] != 3 || counts["user_total"] != 1 {
		t.Errorf("unexpected parts_count %v", counts)
	}
	if _, err := json.Marshal(trace.Metadata); err != nil {
		t.Errorf("metadata must be JSON encodable: %v", err)
	}
}

func TestBuildTurnTraceDeterministicIDs(t *testing.T) {
	in := TurnInput{
		TurnID:     types.NewTurnID("ses_1", "msg_a"),
		Assistant:  types.Message{ID: "msg_a"},
		Transcript: Transcript{Output: "x"},
		Now:        base,
	}
	a, b := BuildTurnTrace(in), BuildTurnTrace(in)
	if a.ID != b.ID || a.Observations[0].ID != b.Observations[0].ID {
		t.Error("expected ids derived from the turn id")
	}

	in.TurnID = types.NewTurnID("ses_1", "msg_b")
	if c := BuildTurnTrace(in); c.ID == a.ID {
		t.Error("expected different turns to get different trace ids")
	}
}

func TestBuildLifecycleTrace(t *testing.T) {
	obj := map[string]any{"type": "session.idle"}
	trace := BuildLifecycleTrace(LifecycleInput{
		Event:     "session.idle",
		SessionID: "ses_1",
		UserID:    "u",
		Object:    obj,
		At:        base,
	})
	if trace.Name != "OpenCode session.idle" {
		t.Errorf("unexpected name %q", trace.Name)
	}
	if trace.Tags[2] != "lifecycle" {
		t.Errorf("unexpected tags %v", trace.Tags)
	}
	if trace.Metadata["reconstruction"] != "plugin-event-lifecycle" {
		t.Errorf("unexpected metadata %v", trace.Metadata)
	}
	if len(trace.Observations) != 1 {
		t.Errorf("expected a single span, got %d", len(trace.Observations))
	}
}
