package engine

import (
	"context"
	"log/slog"

	"github.com/user/langfuse-hook/internal/event"
	"github.com/user/langfuse-hook/internal/state"
	"github.com/user/langfuse-hook/internal/turn"
	"github.com/user/langfuse-hook/internal/types"
)

// recordLifecycle keeps the latest session event by timestamp.
func (e *Engine) recordLifecycle(st *state.State, ev event.Event) {
	prev, ok := st.SessionLifecycle[ev.SessionID]
	if ok {
		if at, parsed := types.ParseTime(prev.At); parsed && ev.At.Before(at) {
			return
		}
	}
	st.SessionLifecycle[ev.SessionID] = types.Lifecycle{Event: ev.Name, At: types.FormatTime(ev.At)}
}

// flushSession forces the emission gate over every buffered assistant
// message of a session, recovering turns whose completion signal never
// arrived or arrived before the last content parts.
func (e *Engine) flushSession(ctx context.Context, st *state.State, sessionID, reason string) int {
	if sessionID == "" || sessionID == types.UnknownSession {
		return 0
	}

	keys := st.AssistantKeys(sessionID)
	emitted := 0
	for _, key := range keys {
		messageID, ok := key.MessageID(sessionID)
		if !ok || messageID == "" {
			continue
		}
		if st.IsEmitted(types.NewTurnID(sessionID, messageID)) {
			st.Purge(key)
			continue
		}
		if len(st.AssistantParts[key]) == 0 {
			continue
		}

		msg, known := st.Message(key)
		msgRaw := st.Messages[key]
		if !known {
			msg, msgRaw = synthesize(messageID)
		}
		if msg.ID == "" {
			msg.ID = messageID
		}
		if e.attemptEmit(ctx, st, sessionID, msg, msgRaw) {
			emitted++
		}
	}

	if emitted > 0 {
		slog.Info("flush emitted pending turns", "session", sessionID, "reason", reason, "scanned", len(keys), "emitted", emitted)
	}
	return emitted
}

func (e *Engine) emitLifecycle(ctx context.Context, ev event.Event) {
	trace := turn.BuildLifecycleTrace(turn.LifecycleInput{
		Event:     ev.Name,
		SessionID: ev.SessionID,
		UserID:    e.opts.UserID,
		Hostname:  e.opts.Hostname,
		Object:    ev.Object,
		At:        ev.At,
	})
	if err := e.sink.Send(ctx, trace); err != nil {
		slog.Warn("lifecycle emit failed", "session", ev.SessionID, "event", ev.Name, "error", err)
	}
}
