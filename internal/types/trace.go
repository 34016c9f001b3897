package types

import "time"

const (
	ObservationSpan       = "span"
	ObservationGeneration = "generation"
)

// Trace is a fully assembled trace handed to a Sink. Observations are
// ordered; a parent always precedes its children.
type Trace struct {
	ID           string
	Name         string
	SessionID    string
	UserID       string
	Tags         []string
	Input        any
	Output       any
	Metadata     map[string]any
	Timestamp    time.Time
	Observations []Observation
}

type Observation struct {
	ID        string
	ParentID  string
	Kind      string
	Name      string
	Input     any
	Output    any
	Metadata  map[string]any
	StartTime time.Time
	EndTime   time.Time
	Model     string
	Usage     *Usage
}

// Usage is token accounting attached to a generation observation.
type Usage struct {
	Input          int64 `json:"input"`
	Output         int64 `json:"output"`
	Total          int64 `json:"total"`
	Reasoning      int64 `json:"reasoning"`
	InputCacheRead int64 `json:"input_cache_read"`
	Estimated      bool  `json:"-"`
}
