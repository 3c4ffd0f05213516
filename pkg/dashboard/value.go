package dashboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/nimdanitro/fenceline-dashboard/pkg/backend"
)

type Kind uint8

const (
	KindMissing Kind = iota
	KindNumber
	KindText
)

// Value is a table cell: a number, a text such as "< DL", or missing.
type Value struct {
	Kind Kind
	Num  float64
	Text string
}

func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }
func Text(s string) Value    { return Value{Kind: KindText, Text: s} }

// numeric coerces a channel to a number; unparsable or absent channels are missing.
func numeric(v any) Value {
	if f, ok := backend.ToNumber(v); ok {
		return Number(f)
	}
	return Value{}
}

// passthrough keeps the channel as the service sent it.
func passthrough(v any) Value {
	switch t := v.(type) {
	case nil:
		return Value{}
	case string:
		return Text(t)
	case json.Number, float64, float32, int, int64:
		if f, ok := backend.ToNumber(t); ok {
			return Number(f)
		}
		return Value{}
	default:
		return Text(fmt.Sprint(t))
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindText:
		return v.Text
	default:
		return "n/a"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
			return []byte("null"), nil
		}
		return []byte(strconv.FormatFloat(v.Num, 'f', -1, 64)), nil
	case KindText:
		return json.Marshal(v.Text)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*v = Value{}
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Text(s)
	default:
		f, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return fmt.Errorf("cell value %s: %w", b, err)
		}
		*v = Number(f)
	}
	return nil
}
