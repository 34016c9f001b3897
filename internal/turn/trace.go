package turn

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/user/langfuse-hook/internal/types"
)

const product = "opencode"

var (
	turnTags      = []string{"opencode", "hook-only", "deep-observability"}
	lifecycleTags = []string{"opencode", "hook-only", "lifecycle"}
)

// idSpace namespaces every derived trace and observation id, so the same
// turn always maps to the same ids at the backend.
var idSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://opencode.ai/langfuse-hook"))

// TurnInput is everything needed to shape one emitted turn.
type TurnInput struct {
	TurnID    types.TurnID
	SessionID string
	UserID    string
	Hostname  string

	Assistant    types.Message
	AssistantRaw json.RawMessage
	UserRaw      json.RawMessage

	AssistantEvents []types.MessageEvent
	UserEvents      []types.MessageEvent
	AssistantParts  []types.Part
	UserParts       []types.Part

	Transcript Transcript
	Usage      *types.Usage
	MaxChars   int
	Now        time.Time
}

// BuildTurnTrace shapes a turn into a trace: a root span carrying the
// conversation, a generation with usage, then one span per reasoning block
// and per finished tool call placed on a monotonic timeline.
func BuildTurnTrace(in TurnInput) *types.Trace {
	messageID := in.Assistant.ID
	if messageID == "" {
		messageID = "unknown"
	}
	name := "OpenCode turn " + messageID
	created := in.Assistant.Time.Created.Or(in.Now)
	tr := in.Transcript

	traceID := uuid.NewSHA1(idSpace, []byte(in.TurnID))
	obsID := func(label string) string {
		return uuid.NewSHA1(traceID, []byte(label)).String()
	}

	metadata := map[string]any{
		"product":           product,
		"reconstruction":    "plugin-event-turn-assembly",
		"source":            product,
		"session_id":        in.SessionID,
		"user_id":           in.UserID,
		"hostname":          in.Hostname,
		"message_id":        messageID,
		"parent_message_id": nullable(in.Assistant.ParentID),
		"provider_id":       nullable(in.Assistant.ProviderID),
		"model_id":          nullable(in.Assistant.ModelID),
		"agent":             nullable(in.Assistant.Agent),
		"mode":              nullable(in.Assistant.Mode),
		"cost":              in.Assistant.Cost,
		"tokens":            in.Assistant.Tokens,
		"reasoning_count":   len(tr.Reasoning),
		"tool_count":        len(tr.Tools),
		"messages": map[string]any{
			"user_info":      rawOrNull(in.UserRaw),
			"assistant_info": rawOrNull(in.AssistantRaw),
		},
		"message_events": map[string]any{
			"user":      eventsOrEmpty(in.UserEvents),
			"assistant": eventsOrEmpty(in.AssistantEvents),
		},
		"message_events_count": map[string]int{
			"user":      len(in.UserEvents),
			"assistant": len(in.AssistantEvents),
		},
		"parts": map[string]any{
			"user":      serializeParts(in.UserParts, in.MaxChars),
			"assistant": serializeParts(in.AssistantParts, in.MaxChars),
		},
		"parts_count": map[string]any{
			"user_total":        len(in.UserParts),
			"assistant_total":   len(in.AssistantParts),
			"user_by_type":      countByType(in.UserParts),
			"assistant_by_type": countByType(in.AssistantParts),
		},
	}

	input := map[string]any{"role": types.RoleUser, "content": Truncate(tr.Input, in.MaxChars)}
	output := map[string]any{"role": types.RoleAssistant, "content": Truncate(tr.Output, in.MaxChars)}

	rootID := obsID("root")
	cursor := NewCursor(created)
	genStart := cursor.Take()
	observations := []types.Observation{
		{
			ID:        rootID,
			Kind:      types.ObservationSpan,
			Name:      name,
			Input:     input,
			Output:    output,
			Metadata:  metadata,
			StartTime: created,
		},
		{
			ID:       obsID("assistant_turn"),
			ParentID: rootID,
			Kind:     types.ObservationGeneration,
			Name:     "assistant_turn",
			Input:    input,
			Output:   output,
			Metadata: map[string]any{
				"provider_id": nullable(in.Assistant.ProviderID),
				"agent":       nullable(in.Assistant.Agent),
			},
			StartTime: genStart,
			EndTime:   genStart,
			Model:     in.Assistant.ModelID,
			Usage:     in.Usage,
		},
	}

	for _, item := range timeline(tr) {
		start := cursor.Place(item.at)
		obs := types.Observation{
			ParentID:  rootID,
			Kind:      types.ObservationSpan,
			StartTime: start,
			EndTime:   start,
		}
		if r := item.reasoning; r != nil {
			obs.ID = obsID("reasoning:" + r.ID)
			obs.Name = fmt.Sprintf("reasoning[%d]", item.index)
			obs.Output = Truncate(r.Text, in.MaxChars)
			obs.Metadata = map[string]any{"kind": "reasoning", "meta": rawOrNull(r.Meta)}
		} else {
			t := item.tool
			obs.ID = obsID("tool:" + t.ID)
			obs.Name = "tool:" + t.Name
			obs.Input = Truncate(t.Input, in.MaxChars)
			obs.Output = Truncate(t.Output, in.MaxChars)
			obs.Metadata = map[string]any{"kind": "tool", "status": t.Status, "meta": rawOrNull(t.Meta)}
		}
		observations = append(observations, obs)
	}

	end := in.Now
	if last := cursor.Now(); last.After(end) {
		end = last
	}
	observations[0].EndTime = end

	return &types.Trace{
		ID:           traceID.String(),
		Name:         name,
		SessionID:    in.SessionID,
		UserID:       in.UserID,
		Tags:         turnTags,
		Input:        input,
		Output:       output,
		Metadata:     metadata,
		Timestamp:    created,
		Observations: observations,
	}
}

// LifecycleInput describes one session-level event.
type LifecycleInput struct {
	Event     string
	SessionID string
	UserID    string
	Hostname  string
	Object    map[string]any
	At        time.Time
}

// BuildLifecycleTrace shapes a session event into a single-span trace.
func BuildLifecycleTrace(in LifecycleInput) *types.Trace {
	name := "OpenCode " + in.Event
	traceID := uuid.NewSHA1(idSpace, []byte(in.SessionID+"|"+in.Event+"|"+types.FormatTime(in.At)))
	metadata := map[string]any{
		"product":        product,
		"reconstruction": "plugin-event-lifecycle",
		"source":         product,
		"event":          in.Event,
		"session_id":     in.SessionID,
		"user_id":        in.UserID,
		"hostname":       in.Hostname,
		"payload":        in.Object,
	}
	return &types.Trace{
		ID:        traceID.String(),
		Name:      name,
		SessionID: in.SessionID,
		UserID:    in.UserID,
		Tags:      lifecycleTags,
		Input:     in.Object,
		Metadata:  metadata,
		Timestamp: in.At,
		Observations: []types.Observation{{
			ID:        uuid.NewSHA1(traceID, []byte("root")).String(),
			Kind:      types.ObservationSpan,
			Name:      name,
			Input:     in.Object,
			Metadata:  metadata,
			StartTime: in.At,
			EndTime:   in.At,
		}},
	}
}

type timelineItem struct {
	at        time.Time
	kind      string
	id        string
	index     int
	reasoning *Reasoning
	tool      *ToolCall
}

func timeline(tr Transcript) []timelineItem {
	items := make([]timelineItem, 0, len(tr.Reasoning)+len(tr.Tools))
	for i := range tr.Reasoning {
		r := &tr.Reasoning[i]
		items = append(items, timelineItem{at: r.At, kind: "reasoning", id: r.ID, index: i + 1, reasoning: r})
	}
	for i := range tr.Tools {
		t := &tr.Tools[i]
		items = append(items, timelineItem{at: t.At, kind: "tool", id: t.ID, tool: t})
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.at.Equal(b.at) {
			return a.at.Before(b.at)
		}
		if a.kind != b.kind {
			return a.kind < b.kind
		}
		return a.id < b.id
	})
	return items
}

func serializeParts(parts []types.Part, limit int) []map[string]any {
	out := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		row := map[string]any{
			"id":         p.ID,
			"message_id": p.MessageID,
			"type":       p.Type,
			"time":       p.Time,
		}
		if p.Text != nil {
			row["text"] = Truncate(*p.Text, limit)
		}
		if p.Tool != "" {
			row["tool"] = p.Tool
		}
		if len(p.Metadata) > 0 {
			row["metadata"] = p.Metadata
		}
		if s := p.State; s != nil {
			row["state"] = map[string]any{
				"status":   s.Status,
				"input":    rawOrNull(s.Input),
				"output":   truncateRaw(s.Output, limit),
				"error":    truncateRaw(s.Error, limit),
				"metadata": rawOrNull(s.Metadata),
			}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["id"].(string) < out[j]["id"].(string)
	})
	return out
}

// truncateRaw truncates JSON strings and keeps other values verbatim.
func truncateRaw(raw json.RawMessage, limit int) any {
	if len(raw) > 0 && raw[0] == '"' {
		return Truncate(rawText(raw), limit)
	}
	return rawOrNull(raw)
}

func countByType(parts []types.Part) map[string]int {
	counts := make(map[string]int)
	for _, p := range parts {
		kind := p.Type
		if kind == "" {
			kind = "unknown"
		}
		counts[kind]++
	}
	return counts
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func eventsOrEmpty(events []types.MessageEvent) []types.MessageEvent {
	if events == nil {
		return []types.MessageEvent{}
	}
	return events
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
