// Package hook is the per-invocation boundary around the engine: it takes
// the state lock, loads the state, applies one event and saves it back.
// Every internal failure stops here.
package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/user/langfuse-hook/internal/config"
	"github.com/user/langfuse-hook/internal/engine"
	"github.com/user/langfuse-hook/internal/event"
	"github.com/user/langfuse-hook/internal/langfuse"
	"github.com/user/langfuse-hook/internal/state"
	"github.com/user/langfuse-hook/internal/types"
	"github.com/user/langfuse-hook/internal/usage"
)

// ErrLockRequired is returned when the state lock cannot be taken and
// lock_mode is "required".
var ErrLockRequired = errors.New("state lock required but unavailable")

// Runner handles hook payloads against one state directory.
type Runner struct {
	cfg    *config.Config
	store  *state.Store
	engine *engine.Engine
	now    func() time.Time
}

// NewRunner wires a Runner from configuration. A nil sink selects the
// Langfuse client.
func NewRunner(cfg *config.Config, sink types.Sink) (*Runner, error) {
	if sink == nil {
		timeout, err := cfg.Timeout()
		if err != nil {
			return nil, err
		}
		sink = langfuse.New(langfuse.Config{
			BaseURL:     cfg.Langfuse.BaseURL,
			PublicKey:   cfg.Langfuse.PublicKey,
			SecretKey:   cfg.Langfuse.SecretKey,
			Timeout:     timeout,
			MaxAttempts: cfg.Langfuse.MaxAttempts,
		})
	}

	var estimator *usage.Estimator
	if cfg.EstimateTokens {
		estimator = usage.NewEstimator()
	}
	hostname, _ := os.Hostname()

	return &Runner{
		cfg:   cfg,
		store: state.NewStore(cfg.StateDir),
		engine: engine.New(sink, engine.Options{
			UserID:           cfg.Langfuse.UserID,
			Hostname:         hostname,
			MaxChars:         cfg.MaxChars,
			MaxMessageEvents: cfg.MaxMessageEvents,
			HTMLToMarkdown:   cfg.HTMLToMarkdown,
			Estimator:        estimator,
		}),
		now: time.Now,
	}, nil
}

// Store returns the state store the runner works on.
func (r *Runner) Store() *state.Store {
	return r.store
}

// Handle processes one raw payload. Malformed input is a silent no-op.
// The returned error is for logging only; callers must not fail on it.
func (r *Runner) Handle(ctx context.Context, payload []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panic: %v", p)
		}
	}()

	if !r.cfg.Active() {
		return nil
	}

	ev, ok := event.Normalize(payload, r.now())
	if !ok {
		slog.Debug("payload ignored: not a JSON object")
		return nil
	}

	unlock, err := r.store.Lock()
	if err != nil {
		if r.cfg.LockMode == config.LockRequired {
			return fmt.Errorf("%w: %v", ErrLockRequired, err)
		}
		slog.Warn("state lock unavailable", "error", err)
	} else {
		defer unlock()
	}

	st, err := r.store.Load()
	if err != nil {
		slog.Warn("state load failed", "error", err)
	}

	if err := r.engine.Apply(ctx, st, ev); err != nil {
		slog.Debug("event ignored", "event", ev.Name, "session", ev.SessionID, "error", err)
	}

	if err := r.store.Save(st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	slog.Debug("state saved", statsArgs(st)...)
	return nil
}

func statsArgs(st *state.State) []any {
	stats := st.Stats()
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, k, stats[k])
	}
	return args
}
