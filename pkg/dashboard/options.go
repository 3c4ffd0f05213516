package dashboard

import (
	"strconv"
)

// Pathway is a monitoring site the dashboard can show.
type Pathway struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// DefaultPathways are the fenceline sites known at build time.
var DefaultPathways = []Pathway{
	{Value: "FNorth", Label: "North"},
	{Value: "FPC", Label: "Point Comfort"},
}

// SpectrumKey selects the unaggregated 5 minute readings.
const SpectrumKey = "5"

// Average is an averaging interval offered to the user.
type Average struct {
	Key   string  `json:"value"`
	Hours float64 `json:"hours"`
	Label string  `json:"label"`
}

// Spectrum reports whether the option means raw 5 minute data.
func (a Average) Spectrum() bool { return a.Key == SpectrumKey }

type averageDef struct {
	key     string
	hours   float64
	amount  float64
	unitKey string
}

var averageDefs = []averageDef{
	{SpectrumKey, 0, 5, "minutes"},
	{"0.5", 0.5, 30, "minutes"},
	{"0.5r", 0.5, 30, "minutes (rolling)"},
	{"1", 1, 1, "hour (rolling)"},
	{"12", 12, 12, "hours (rolling)"},
	{"24", 24, 24, "hours (rolling)"},
}

// Averages returns the averaging options labelled through tr.
func Averages(tr Translator) []Average {
	if tr == nil {
		tr = Catalog{}
	}
	out := make([]Average, 0, len(averageDefs))
	for _, d := range averageDefs {
		out = append(out, Average{
			Key:   d.key,
			Hours: d.hours,
			Label: strconv.FormatFloat(d.amount, 'f', -1, 64) + " " + tr.Translate(d.unitKey),
		})
	}
	return out
}

func findPathway(ps []Pathway, v string) (Pathway, bool) {
	for _, p := range ps {
		if p.Value == v {
			return p, true
		}
	}
	return Pathway{}, false
}

func findAverage(as []Average, key string) (Average, bool) {
	for _, a := range as {
		if a.Key == key {
			return a, true
		}
	}
	return Average{}, false
}
