// internal/types/models.go
package types

import (
	"encoding/json"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	PartText       = "text"
	PartReasoning  = "reasoning"
	PartTool       = "tool"
	PartStepStart  = "step-start"
	PartStepFinish = "step-finish"
	PartPatch      = "patch"
	PartAgent      = "agent"
	PartRetry      = "retry"
	PartCompaction = "compaction"
)

const (
	ToolPending   = "pending"
	ToolRunning   = "running"
	ToolCompleted = "completed"
	ToolError     = "error"
)

// Message is the subset of an OpenCode message record the engine reads.
// The full record is persisted verbatim; this struct is decoded from it.
type Message struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"sessionID,omitempty"`
	Role       string      `json:"role,omitempty"`
	ParentID   string      `json:"parentID,omitempty"`
	ProviderID string      `json:"providerID,omitempty"`
	ModelID    string      `json:"modelID,omitempty"`
	Agent      string      `json:"agent,omitempty"`
	Mode       string      `json:"mode,omitempty"`
	Cost       *float64    `json:"cost,omitempty"`
	Tokens     *Tokens     `json:"tokens,omitempty"`
	Time       MessageTime `json:"time"`
}

type MessageTime struct {
	Created   Instant `json:"created"`
	Completed Instant `json:"completed"`
}

// NormalizedRole returns the lower-cased role, empty when unknown.
func (m Message) NormalizedRole() string {
	return strings.ToLower(strings.TrimSpace(m.Role))
}

// Completed reports whether the producer flagged the message finished.
func (m Message) Completed() bool {
	return m.Time.Completed.IsSet()
}

type Tokens struct {
	Input     int64      `json:"input"`
	Output    int64      `json:"output"`
	Reasoning int64      `json:"reasoning"`
	Total     int64      `json:"total"`
	Cache     CacheUsage `json:"cache"`
}

type CacheUsage struct {
	Read  int64 `json:"read"`
	Write int64 `json:"write"`
}

// Part is one fragment of a message.
type Part struct {
	ID        string          `json:"id"`
	MessageID string          `json:"messageID"`
	SessionID string          `json:"sessionID,omitempty"`
	Type      string          `json:"type"`
	Text      *string         `json:"text,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	CallID    string          `json:"callID,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	State     *ToolState      `json:"state,omitempty"`
	Time      PartTime        `json:"time"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

type PartTime struct {
	Start Instant `json:"start"`
	End   Instant `json:"end"`
}

type ToolState struct {
	Status   string          `json:"status"`
	Title    string          `json:"title,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    json.RawMessage `json:"error,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// TextValue returns the part text, empty when absent.
func (p Part) TextValue() string {
	if p.Text == nil {
		return ""
	}
	return *p.Text
}

// MessageEvent is one entry of the per-message diagnostic history ring.
type MessageEvent struct {
	CapturedAt string          `json:"captured_at"`
	Info       json.RawMessage `json:"info"`
}

// Lifecycle is the last accepted session-level event.
type Lifecycle struct {
	Event string `json:"event"`
	At    string `json:"at"`
}
