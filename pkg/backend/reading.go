package backend

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// RawReading is one row as returned by the data service, keyed by channel name
// (e.g. "WindSpeed(MPH)", "C2H4_F") plus the pathway and event_timestamp fields.
type RawReading map[string]any

const (
	FieldPathway   = "pathway"
	FieldTimestamp = "event_timestamp"
)

// Pathway returns the site identifier the reading belongs to.
func (r RawReading) Pathway() string {
	s, _ := r[FieldPathway].(string)
	return s
}

// EventTimestamp returns the reading time in epoch seconds.
func (r RawReading) EventTimestamp() (int64, bool) {
	f, ok := r.Number(FieldTimestamp)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// Number coerces the channel to a float the same loose way the dashboard always has:
// numeric strings parse, an empty string is zero, booleans are 0/1 and anything else
// (absent, non-numeric text) is reported as not a number.
func (r RawReading) Number(key string) (float64, bool) {
	v, ok := r[key]
	if !ok {
		return 0, false
	}
	return ToNumber(v)
}

// ToNumber is the coercion used by RawReading.Number.
func ToNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		if !finite(t) {
			return 0, false
		}
		return t, true
	case float32:
		if !finite(float64(t)) {
			return 0, false
		}
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil || !finite(f) {
			return 0, false
		}
		return f, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || !finite(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// finite rejects NaN and the infinities, which have no JSON form.
func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// FilterByPathway keeps the readings of one pathway, preserving order.
func FilterByPathway(readings []RawReading, pathway string) []RawReading {
	out := make([]RawReading, 0, len(readings))
	for _, r := range readings {
		if r.Pathway() == pathway {
			out = append(out, r)
		}
	}
	return out
}
