// Package turn reconstructs a conversational turn from buffered message
// parts and shapes it into a trace for the sink.
package turn

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/user/langfuse-hook/internal/types"
)

// Reasoning is one reasoning block of an assistant message.
type Reasoning struct {
	ID   string
	Text string
	At   time.Time
	Meta json.RawMessage
}

// ToolCall is one tool invocation that reached a terminal status.
type ToolCall struct {
	ID     string
	Name   string
	Status string
	Input  string
	Output string
	At     time.Time
	Meta   json.RawMessage
}

// Transcript is the reconstructed (user input, assistant output) pair.
type Transcript struct {
	Input     string
	Output    string
	Reasoning []Reasoning
	Tools     []ToolCall
}

// Ready reports whether the transcript has anything worth emitting.
func (t Transcript) Ready() bool {
	return t.Output != "" || len(t.Reasoning) > 0 || len(t.Tools) > 0
}

// Options tune how part payloads are rendered.
type Options struct {
	// HTMLToMarkdown converts HTML tool output to markdown.
	HTMLToMarkdown bool
}

// Assemble builds the transcript for an assistant message and its linked
// user message. Parts without a start time sort as if they started at now.
func Assemble(assistant, user map[string]types.Part, now time.Time, opts Options) Transcript {
	tr := Transcript{Input: JoinText(user, now)}

	var text []textRow
	for _, p := range assistant {
		at := p.Time.Start.Or(now)
		switch p.Type {
		case types.PartText:
			if s := p.TextValue(); s != "" {
				text = append(text, textRow{at: at, id: p.ID, text: s})
			}
		case types.PartReasoning:
			if s := p.TextValue(); s != "" {
				tr.Reasoning = append(tr.Reasoning, Reasoning{ID: p.ID, Text: s, At: at, Meta: p.Metadata})
			}
		case types.PartTool:
			if call, ok := toolCall(p, at, opts); ok {
				tr.Tools = append(tr.Tools, call)
			}
		}
	}

	tr.Output = joinRows(text)
	sort.Slice(tr.Reasoning, func(i, j int) bool {
		return before(tr.Reasoning[i].At, tr.Reasoning[i].ID, tr.Reasoning[j].At, tr.Reasoning[j].ID)
	})
	sort.Slice(tr.Tools, func(i, j int) bool {
		return before(tr.Tools[i].At, tr.Tools[i].ID, tr.Tools[j].At, tr.Tools[j].ID)
	})
	return tr
}

// JoinText concatenates the text parts ordered by (start, id), one per
// line, trimmed.
func JoinText(parts map[string]types.Part, now time.Time) string {
	var rows []textRow
	for _, p := range parts {
		if p.Type != types.PartText {
			continue
		}
		if s := p.TextValue(); s != "" {
			rows = append(rows, textRow{at: p.Time.Start.Or(now), id: p.ID, text: s})
		}
	}
	return joinRows(rows)
}

type textRow struct {
	at   time.Time
	id   string
	text string
}

func joinRows(rows []textRow) string {
	sort.Slice(rows, func(i, j int) bool {
		return before(rows[i].at, rows[i].id, rows[j].at, rows[j].id)
	})
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = r.text
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func before(at time.Time, id string, bt time.Time, bid string) bool {
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return id < bid
}

func toolCall(p types.Part, at time.Time, opts Options) (ToolCall, bool) {
	if p.State == nil {
		return ToolCall{}, false
	}
	status := p.State.Status
	if status != types.ToolCompleted && status != types.ToolError {
		return ToolCall{}, false
	}

	name := p.Tool
	if name == "" {
		name = "tool"
	}
	result := p.State.Output
	if status == types.ToolError {
		result = p.State.Error
	}
	output := rawText(result)
	if opts.HTMLToMarkdown {
		output = htmlToMarkdown(output)
	}
	return ToolCall{
		ID:     p.ID,
		Name:   name,
		Status: status,
		Input:  canonicalInput(p.State.Input),
		Output: output,
		At:     at,
		Meta:   p.State.Metadata,
	}, true
}
