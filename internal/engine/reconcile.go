package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/langfuse-hook/internal/event"
	"github.com/user/langfuse-hook/internal/state"
	"github.com/user/langfuse-hook/internal/types"
)

// assistantPartTypes never occur in user messages.
var assistantPartTypes = map[string]bool{
	types.PartReasoning:  true,
	types.PartTool:       true,
	types.PartStepStart:  true,
	types.PartStepFinish: true,
	types.PartPatch:      true,
	types.PartAgent:      true,
	types.PartRetry:      true,
	types.PartCompaction: true,
}

// roleRule resolves the role owning a part, or returns "" to defer to the
// next rule.
type roleRule func(st *state.State, key types.MessageKey, part types.Part) string

// roleRules are evaluated in order; the first non-empty answer wins.
var roleRules = []roleRule{
	// The message record is authoritative once it names a role.
	func(st *state.State, key types.MessageKey, _ types.Part) string {
		if msg, ok := st.Message(key); ok {
			switch role := msg.NormalizedRole(); role {
			case types.RoleUser, types.RoleAssistant:
				return role
			}
		}
		return ""
	},
	// Siblings already bucketed settle it.
	func(st *state.State, key types.MessageKey, _ types.Part) string {
		if len(st.AssistantParts[key]) > 0 {
			return types.RoleAssistant
		}
		if len(st.UserParts[key]) > 0 {
			return types.RoleUser
		}
		return ""
	},
	// Structural part types.
	func(_ *state.State, _ types.MessageKey, part types.Part) string {
		if assistantPartTypes[part.Type] {
			return types.RoleAssistant
		}
		return ""
	},
}

func resolveRole(st *state.State, key types.MessageKey, part types.Part) string {
	for _, rule := range roleRules {
		if role := rule(st, key, part); role != "" {
			return role
		}
	}
	return ""
}

func bucket(st *state.State, role string) map[types.MessageKey]state.Parts {
	if role == types.RoleAssistant {
		return st.AssistantParts
	}
	return st.UserParts
}

// reconcilePending moves parts buffered while the role was unknown into
// the role's bucket. Parts already in the bucket are newer and win.
func reconcilePending(st *state.State, key types.MessageKey, role string) {
	pending, ok := st.PendingParts[key]
	if !ok || (role != types.RoleUser && role != types.RoleAssistant) {
		return
	}
	delete(st.PendingParts, key)
	for partID, raw := range pending {
		dst := bucket(st, role)
		if _, exists := dst[key][partID]; exists {
			continue
		}
		state.PutPart(dst, key, partID, raw)
	}
}

func (e *Engine) messageUpdated(ctx context.Context, st *state.State, ev event.Event) error {
	var msg types.Message
	raw, err := ev.Decode("info", &msg)
	if err != nil {
		return fmt.Errorf("message.updated: %w", err)
	}
	if msg.ID == "" {
		return nil
	}

	key := types.NewMessageKey(ev.SessionID, msg.ID)
	if !st.AcceptMessage(key, ev.At) {
		slog.Debug("stale message event dropped", "session", ev.SessionID, "message", msg.ID)
		return nil
	}
	st.Messages[key] = raw

	role := msg.NormalizedRole()
	if role == types.RoleAssistant && st.IsEmitted(types.NewTurnID(ev.SessionID, msg.ID)) {
		st.Purge(key)
		// The turn may have been emitted before its parent was known.
		if msg.ParentID != "" {
			st.Purge(types.NewMessageKey(ev.SessionID, msg.ParentID))
		}
		return nil
	}
	if role == types.RoleUser && consumed(st, ev.SessionID, msg.ID) {
		st.Purge(key)
		return nil
	}

	st.AppendMessageEvent(key, raw, e.now(), e.opts.MaxMessageEvents)
	reconcilePending(st, key, role)

	if role != types.RoleAssistant || !msg.Completed() {
		return nil
	}
	st.AssistantFinishSeen[key] = types.FormatTime(e.now())
	e.attemptEmit(ctx, st, ev.SessionID, msg, raw)
	return nil
}

func (e *Engine) partUpdated(ctx context.Context, st *state.State, ev event.Event) error {
	var part types.Part
	raw, err := ev.Decode("part", &part)
	if err != nil {
		return fmt.Errorf("message.part.updated: %w", err)
	}
	if part.MessageID == "" || part.ID == "" {
		return nil
	}

	key := types.NewMessageKey(ev.SessionID, part.MessageID)
	if !st.AcceptPart(key.Part(part.ID), ev.At) {
		slog.Debug("stale part event dropped", "session", ev.SessionID, "message", part.MessageID, "part", part.ID)
		return nil
	}
	if st.IsEmitted(types.NewTurnID(ev.SessionID, part.MessageID)) {
		st.Purge(key)
		return nil
	}

	role := resolveRole(st, key, part)
	if role == "" {
		state.PutPart(st.PendingParts, key, part.ID, raw)
		return nil
	}
	if role == types.RoleUser && consumed(st, ev.SessionID, part.MessageID) {
		st.Purge(key)
		return nil
	}
	reconcilePending(st, key, role)
	state.PutPart(bucket(st, role), key, part.ID, raw)

	if role != types.RoleAssistant {
		return nil
	}
	if part.Type == types.PartStepFinish {
		st.AssistantFinishSeen[key] = types.FormatTime(e.now())
	}

	msg, known := st.Message(key)
	if !msg.Completed() && st.AssistantFinishSeen[key] == "" {
		return nil
	}
	msgRaw := st.Messages[key]
	if !known {
		msg, msgRaw = synthesize(part.MessageID)
	}
	e.attemptEmit(ctx, st, ev.SessionID, msg, msgRaw)
	return nil
}

// consumed reports whether a user message already fed an emitted turn, so
// replayed events for it are not buffered again.
func consumed(st *state.State, sessionID, userMessageID string) bool {
	prefix := sessionID + ":"
	for key := range st.Messages {
		if !strings.HasPrefix(string(key), prefix) {
			continue
		}
		msg, ok := st.Message(key)
		if !ok || msg.ParentID != userMessageID || msg.NormalizedRole() != types.RoleAssistant {
			continue
		}
		if st.IsEmitted(types.NewTurnID(sessionID, msg.ID)) {
			return true
		}
	}
	return false
}

// synthesize builds the minimal assistant record used when parts arrive
// for a message whose message.updated never landed.
func synthesize(messageID string) (types.Message, json.RawMessage) {
	msg := types.Message{ID: messageID, Role: types.RoleAssistant}
	raw, _ := json.Marshal(map[string]any{"id": messageID, "role": types.RoleAssistant})
	return msg, raw
}
