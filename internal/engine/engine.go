// Package engine applies normalized hook events to the persisted state and
// emits each reconstructed turn to the sink at most once.
//
// The engine is pure with respect to I/O except for sink calls: the caller
// loads the state, holds the lock, calls Apply and saves the state.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/langfuse-hook/internal/event"
	"github.com/user/langfuse-hook/internal/state"
	"github.com/user/langfuse-hook/internal/types"
	"github.com/user/langfuse-hook/internal/usage"
)

// Options configure an Engine.
type Options struct {
	UserID   string
	Hostname string
	// MaxChars bounds every text field embedded in a trace.
	MaxChars int
	// MaxMessageEvents bounds the per-message event history ring.
	MaxMessageEvents int
	HTMLToMarkdown   bool
	// Estimator fills in token usage when the provider reported none.
	// Nil disables estimation.
	Estimator *usage.Estimator
	Now       func() time.Time
}

// Engine is the reconciliation state machine.
type Engine struct {
	sink types.Sink
	opts Options
}

// New creates an engine emitting to sink.
func New(sink types.Sink, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.UserID == "" {
		opts.UserID = "opencode-user"
	}
	if opts.MaxMessageEvents <= 0 {
		opts.MaxMessageEvents = 30
	}
	return &Engine{sink: sink, opts: opts}
}

func (e *Engine) now() time.Time {
	return e.opts.Now().UTC()
}

// Apply applies one event to st. Sink failures are logged and leave the
// affected turns unemitted; the returned error only reports event
// properties that could not be decoded.
func (e *Engine) Apply(ctx context.Context, st *state.State, ev event.Event) error {
	slog.Debug("event received", "event", ev.Name, "session", ev.SessionID)

	var err error
	switch ev.Name {
	case event.MessageUpdated:
		err = e.messageUpdated(ctx, st, ev)
	case event.MessagePartUpdated:
		err = e.partUpdated(ctx, st, ev)
		if last := st.SessionLifecycle[ev.SessionID].Event; event.IsTerminal(last) {
			e.flushSession(ctx, st, ev.SessionID, last+":post-part")
		}
	case event.MessageRemoved, event.MessagePartRemoved:
		// Removal is not reconciled; buffers are freed on emission.
	}

	if event.IsLifecycle(ev.Name) {
		e.recordLifecycle(st, ev)
	}
	if event.IsTerminal(ev.Name) {
		e.flushSession(ctx, st, ev.SessionID, ev.Name)
	}
	if event.IsLifecycle(ev.Name) {
		e.emitLifecycle(ctx, ev)
	}
	return err
}
