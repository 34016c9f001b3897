package usage

import (
	"errors"
	"strings"
	"testing"

	"github.com/user/langfuse-hook/internal/types"
)

// wordCounter counts whitespace-separated words; it keeps tests offline.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func TestFromMessageReported(t *testing.T) {
	msg := types.Message{Tokens: &types.Tokens{Input: 10, Output: 4, Reasoning: 2, Cache: types.CacheUsage{Read: 7}}}
	u, ok := FromMessage(msg)
	if !ok {
		t.Fatal("expected reported usage")
	}
	if u.Total != 16 || u.InputCacheRead != 7 || u.Estimated {
		t.Errorf("unexpected usage %+v", u)
	}
}

func TestFromMessageMissing(t *testing.T) {
	u, ok := FromMessage(types.Message{})
	if ok {
		t.Error("expected no reported usage")
	}
	if u == nil || u.Total != 0 {
		t.Errorf("expected zero usage, got %+v", u)
	}
	if _, ok := FromMessage(types.Message{Tokens: &types.Tokens{}}); ok {
		t.Error("expected all-zero tokens to count as unreported")
	}
}

func TestResolveEstimates(t *testing.T) {
	calls := 0
	est := WithCounter(func(model string) (Counter, error) {
		calls++
		return wordCounter{}, nil
	})
	msg := types.Message{ModelID: "some-model"}
	text := Text{Input: "hi there", Output: "hello to you", Reasoning: []string{"one", "two words"}}

	u := est.Resolve(msg, text)
	if !u.Estimated || u.Input != 2 || u.Output != 3 || u.Reasoning != 3 || u.Total != 8 {
		t.Errorf("unexpected estimate %+v", u)
	}
	est.Resolve(msg, text)
	if calls != 1 {
		t.Errorf("expected counter cached per model, built %d times", calls)
	}
}

func TestResolvePrefersReported(t *testing.T) {
	est := WithCounter(func(string) (Counter, error) {
		t.Fatal("counter must not be built when usage is reported")
		return nil, nil
	})
	u := est.Resolve(types.Message{Tokens: &types.Tokens{Input: 1, Output: 1, Total: 2}}, Text{Output: "x"})
	if u.Estimated || u.Total != 2 {
		t.Errorf("unexpected usage %+v", u)
	}
}

func TestResolveCounterFailure(t *testing.T) {
	est := WithCounter(func(string) (Counter, error) { return nil, errors.New("offline") })
	u := est.Resolve(types.Message{}, Text{Output: "x"})
	if u.Estimated || u.Total != 0 {
		t.Errorf("expected zero usage on failure, got %+v", u)
	}

	var disabled *Estimator
	if u := disabled.Resolve(types.Message{}, Text{Output: "x"}); u.Total != 0 {
		t.Errorf("expected nil estimator to skip estimation, got %+v", u)
	}
}
