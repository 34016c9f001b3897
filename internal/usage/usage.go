// Package usage derives token usage for an emitted turn, either from the
// counts the provider reported or, when it reported none, by running the
// text through a tokenizer.
package usage

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/langfuse-hook/internal/types"
)

// Counter counts tokens in a string.
type Counter interface {
	Count(text string) int
}

// Tokenizer is a tiktoken-backed Counter.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer selects the encoding for model, falling back to
// cl100k_base for models tiktoken does not know.
func NewTokenizer(model string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Tokenizer{enc: enc}, nil
}

func (t *Tokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// Text is the turn content an estimate is computed from.
type Text struct {
	Input     string
	Output    string
	Reasoning []string
}

// Estimator resolves usage for a turn. The zero value never estimates.
type Estimator struct {
	newCounter func(model string) (Counter, error)

	mu       sync.Mutex
	counters map[string]Counter
}

// NewEstimator returns an Estimator backed by tiktoken.
func NewEstimator() *Estimator {
	return WithCounter(func(model string) (Counter, error) {
		return NewTokenizer(model)
	})
}

// WithCounter returns an Estimator using newCounter to build per-model
// counters.
func WithCounter(newCounter func(model string) (Counter, error)) *Estimator {
	return &Estimator{newCounter: newCounter, counters: make(map[string]Counter)}
}

// FromMessage converts provider-reported token counts. It reports false
// when the message carries no counts at all.
func FromMessage(msg types.Message) (*types.Usage, bool) {
	tok := msg.Tokens
	if tok == nil {
		return &types.Usage{}, false
	}
	u := &types.Usage{
		Input:          tok.Input,
		Output:         tok.Output,
		Total:          tok.Total,
		Reasoning:      tok.Reasoning,
		InputCacheRead: tok.Cache.Read,
	}
	if u.Total == 0 {
		u.Total = u.Input + u.Output + u.Reasoning
	}
	return u, u.Total > 0 || u.InputCacheRead > 0
}

// Resolve returns reported usage when present, otherwise an estimate.
// Estimation failures fall back to zero counts.
func (e *Estimator) Resolve(msg types.Message, text Text) *types.Usage {
	u, ok := FromMessage(msg)
	if ok || e == nil || e.newCounter == nil {
		return u
	}

	counter, err := e.counter(msg.ModelID)
	if err != nil {
		slog.Debug("token estimate unavailable", "model", msg.ModelID, "error", err)
		return u
	}

	est := &types.Usage{
		Input:     int64(counter.Count(text.Input)),
		Output:    int64(counter.Count(text.Output)),
		Estimated: true,
	}
	for _, r := range text.Reasoning {
		est.Reasoning += int64(counter.Count(r))
	}
	est.Total = est.Input + est.Output + est.Reasoning
	return est
}

func (e *Estimator) counter(model string) (Counter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.counters[model]; ok {
		return c, nil
	}
	c, err := e.newCounter(model)
	if err != nil {
		return nil, err
	}
	e.counters[model] = c
	return c, nil
}
