package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/user/langfuse-hook/internal/state"
	"github.com/user/langfuse-hook/internal/turn"
	"github.com/user/langfuse-hook/internal/types"
	"github.com/user/langfuse-hook/internal/usage"
)

// attemptEmit is the emission gate for one assistant message. It returns
// true only when the turn was sent and marked emitted by this call.
func (e *Engine) attemptEmit(ctx context.Context, st *state.State, sessionID string, msg types.Message, msgRaw json.RawMessage) bool {
	turnID := types.NewTurnID(sessionID, msg.ID)
	if st.IsEmitted(turnID) {
		return false
	}

	assistantKey := types.NewMessageKey(sessionID, msg.ID)
	var userKey types.MessageKey
	if msg.ParentID != "" {
		userKey = types.NewMessageKey(sessionID, msg.ParentID)
	}

	now := e.now()
	assistantParts := decodeParts(st.AssistantParts[assistantKey])
	userParts := decodeParts(st.UserParts[userKey])

	tr := turn.Assemble(assistantParts, userParts, now, turn.Options{HTMLToMarkdown: e.opts.HTMLToMarkdown})
	if !tr.Ready() {
		slog.Debug("turn skipped: no output", "session", sessionID, "message", msg.ID)
		return false
	}

	var userRaw json.RawMessage
	var userEvents []types.MessageEvent
	if userKey != "" {
		userRaw = st.Messages[userKey]
		userEvents = st.MessageEvents[userKey]
	}
	assistantEvents := st.MessageEvents[assistantKey]

	reasoning := make([]string, len(tr.Reasoning))
	for i, r := range tr.Reasoning {
		reasoning[i] = r.Text
	}

	trace := turn.BuildTurnTrace(turn.TurnInput{
		TurnID:          turnID,
		SessionID:       sessionID,
		UserID:          e.opts.UserID,
		Hostname:        e.opts.Hostname,
		Assistant:       msg,
		AssistantRaw:    msgRaw,
		UserRaw:         userRaw,
		AssistantEvents: assistantEvents,
		UserEvents:      userEvents,
		AssistantParts:  sortedParts(assistantParts),
		UserParts:       sortedParts(userParts),
		Transcript:      tr,
		Usage:           e.opts.Estimator.Resolve(msg, usage.Text{Input: tr.Input, Output: tr.Output, Reasoning: reasoning}),
		MaxChars:        e.opts.MaxChars,
		Now:             now,
	})

	if err := e.sink.Send(ctx, trace); err != nil {
		slog.Warn("turn emit failed", "session", sessionID, "turn_id", turnID, "message", msg.ID, "error", err)
		return false
	}

	st.Emitted[turnID] = types.FormatTime(now)
	slog.Info("turn emitted",
		"session", sessionID,
		"turn_id", turnID,
		"assistant_message_id", msg.ID,
		"user_message_events", len(userEvents),
		"assistant_message_events", len(assistantEvents),
		"user_parts", len(userParts),
		"assistant_parts", len(assistantParts),
		"reasoning", len(tr.Reasoning),
		"tools", len(tr.Tools),
	)

	st.Purge(assistantKey)
	if userKey != "" {
		st.Purge(userKey)
	}
	return true
}

// decodeParts decodes buffered part records, skipping any that no longer
// decode. Part ids fall back to the map key.
func decodeParts(parts state.Parts) map[string]types.Part {
	out := make(map[string]types.Part, len(parts))
	for id, raw := range parts {
		var p types.Part
		if err := json.Unmarshal(raw, &p); err != nil {
			slog.Debug("skipping undecodable part", "part", id, "error", err)
			continue
		}
		if p.ID == "" {
			p.ID = id
		}
		out[id] = p
	}
	return out
}

func sortedParts(parts map[string]types.Part) []types.Part {
	out := make([]types.Part, 0, len(parts))
	for _, p := range parts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
