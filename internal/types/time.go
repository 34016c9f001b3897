package types

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// OpenCode reports milliseconds; anything above this cannot be a plausible
// seconds value.
const epochMillisThreshold = 10_000_000_000

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTime accepts epoch milliseconds, epoch seconds and ISO-8601 strings
// with or without a zone suffix. Values without a zone are taken as UTC.
// The result is always UTC. Unparseable input reports false.
func ParseTime(v any) (time.Time, bool) {
	switch value := v.(type) {
	case nil:
		return time.Time{}, false
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f)
	case float64:
		return fromEpoch(value)
	case int64:
		return fromEpoch(float64(value))
	case int:
		return fromEpoch(float64(value))
	case string:
		s := strings.TrimSpace(value)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	case time.Time:
		if value.IsZero() {
			return time.Time{}, false
		}
		return value.UTC(), true
	default:
		return time.Time{}, false
	}
}

func fromEpoch(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f > epochMillisThreshold {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// FormatTime renders t the way every timestamp is persisted.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Instant is a loosely typed timestamp field. OpenCode mostly sends epoch
// milliseconds but other producers send ISO strings or plain booleans.
// Set records whether the field carried a truthy value at all, even when
// the value could not be parsed as a time.
type Instant struct {
	Time time.Time
	Set  bool
}

func (i *Instant) UnmarshalJSON(data []byte) error {
	*i = Instant{}
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "", "null", "false", "0", `""`:
		return nil
	case "true":
		i.Set = true
		return nil
	}
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil
	}
	i.Set = true
	if t, ok := ParseTime(raw); ok {
		i.Time = t
	}
	return nil
}

func (i Instant) MarshalJSON() ([]byte, error) {
	if !i.Set {
		return []byte("null"), nil
	}
	if i.Time.IsZero() {
		return []byte("true"), nil
	}
	return []byte(strconv.FormatInt(i.Time.UnixMilli(), 10)), nil
}

// IsSet reports whether the field was present and truthy.
func (i Instant) IsSet() bool {
	return i.Set
}

// Or returns the parsed time, or fallback when none was parsed.
func (i Instant) Or(fallback time.Time) time.Time {
	if i.Time.IsZero() {
		return fallback
	}
	return i.Time
}
