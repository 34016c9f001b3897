package langfuse

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/user/langfuse-hook/internal/types"
)

const (
	eventTraceCreate      = "trace-create"
	eventSpanCreate       = "span-create"
	eventGenerationCreate = "generation-create"
)

type ingestionRequest struct {
	Batch    []ingestionEvent `json:"batch"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// ingestionEvent is one batch envelope. Its id is random; the body ids are
// the stable ones the backend upserts on.
type ingestionEvent struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Body      any    `json:"body"`
}

type traceBody struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Name      string         `json:"name"`
	UserID    string         `json:"userId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Input     any            `json:"input,omitempty"`
	Output    any            `json:"output,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
}

type observationBody struct {
	ID                  string           `json:"id"`
	TraceID             string           `json:"traceId"`
	ParentObservationID string           `json:"parentObservationId,omitempty"`
	Name                string           `json:"name"`
	StartTime           string           `json:"startTime"`
	EndTime             string           `json:"endTime,omitempty"`
	Input               any              `json:"input,omitempty"`
	Output              any              `json:"output,omitempty"`
	Metadata            map[string]any   `json:"metadata,omitempty"`
	Model               string           `json:"model,omitempty"`
	Usage               *legacyUsage     `json:"usage,omitempty"`
	UsageDetails        map[string]int64 `json:"usageDetails,omitempty"`
}

type legacyUsage struct {
	Input  int64  `json:"input"`
	Output int64  `json:"output"`
	Total  int64  `json:"total"`
	Unit   string `json:"unit"`
}

// batch converts a trace into ingestion events. The trace-create event
// comes first and observations keep their order, so parents precede
// children.
func (c *Client) batch(trace *types.Trace) ingestionRequest {
	now := formatTime(c.now())
	events := make([]ingestionEvent, 0, len(trace.Observations)+1)
	events = append(events, ingestionEvent{
		ID:        uuid.NewString(),
		Timestamp: now,
		Type:      eventTraceCreate,
		Body: traceBody{
			ID:        trace.ID,
			Timestamp: formatTime(trace.Timestamp),
			Name:      trace.Name,
			UserID:    trace.UserID,
			SessionID: trace.SessionID,
			Input:     trace.Input,
			Output:    trace.Output,
			Metadata:  trace.Metadata,
			Tags:      trace.Tags,
		},
	})

	for _, obs := range trace.Observations {
		body := observationBody{
			ID:                  obs.ID,
			TraceID:             trace.ID,
			ParentObservationID: obs.ParentID,
			Name:                obs.Name,
			StartTime:           formatTime(obs.StartTime),
			Input:               obs.Input,
			Output:              obs.Output,
			Metadata:            obs.Metadata,
		}
		if !obs.EndTime.IsZero() {
			body.EndTime = formatTime(obs.EndTime)
		}

		kind := eventSpanCreate
		if obs.Kind == types.ObservationGeneration {
			kind = eventGenerationCreate
			body.Model = obs.Model
			if u := obs.Usage; u != nil {
				body.Usage = &legacyUsage{Input: u.Input, Output: u.Output, Total: u.Total, Unit: "TOKENS"}
				body.UsageDetails = map[string]int64{
					"input":            u.Input,
					"output":           u.Output,
					"total":            u.Total,
					"reasoning":        u.Reasoning,
					"input_cache_read": u.InputCacheRead,
				}
				if u.Estimated {
					meta := maps.Clone(obs.Metadata)
					if meta == nil {
						meta = map[string]any{}
					}
					meta["usage_estimated"] = true
					body.Metadata = meta
				}
			}
		}

		events = append(events, ingestionEvent{
			ID:        uuid.NewString(),
			Timestamp: now,
			Type:      kind,
			Body:      body,
		})
	}

	return ingestionRequest{
		Batch:    events,
		Metadata: map[string]any{"sdk_name": userAgent},
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
