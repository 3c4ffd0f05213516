package dashboard

import (
	"github.com/nimdanitro/fenceline-dashboard/pkg/backend"
)

// DisplayRow is one line of the readings table.
type DisplayRow struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

type channel struct {
	key     string
	name    string
	numeric bool
}

// displayChannels are rendered in this order. Gas channels keep the service's
// value untouched since they may carry detection-limit text.
var displayChannels = []channel{
	{"WindSpeed(MPH)", "Wind Speed (mph)", true},
	{"WindDir(deg)", "Wind Direction (deg)", true},
	{"BUT_F", "1,3 Butadiene (ppb)", false},
	{"C2H4_F", "Ethylene (ppb)", false},
	{"C6H6_F", "Benzene (ppb)", false},
	{"DCA_F", "1,2 Dichloroethane (ppb)", false},
	{"ETO_F", "Ethylene Oxide (ppb)", false},
	{"HCl_F", "Hydrogen Chloride (ppb)", false},
	{"VCl_F", "Vinyl Chloride (ppb)", false},
	{"H2O", "Water (ppm)", true},
	{"CO2", "Carbon Dioxide (ppm)", true},
	{"CH4", "Methane (ppm)", true},
}

// Summary holds the instrument and shelter readings shown beside the table.
type Summary struct {
	Signal      Value `json:"signal"`
	ShelterTemp Value `json:"shelterTemp"`
	Pressure    Value `json:"pressure"`
	Temp        Value `json:"temp"`
}

// Values returns the summary in display order: signal, shelter temperature,
// ambient pressure, ambient temperature.
func (s Summary) Values() []Value {
	return []Value{s.Signal, s.ShelterTemp, s.Pressure, s.Temp}
}

func rowsOf(r backend.RawReading) []DisplayRow {
	rows := make([]DisplayRow, 0, len(displayChannels))
	for _, ch := range displayChannels {
		v := passthrough(r[ch.key])
		if ch.numeric {
			v = numeric(r[ch.key])
		}
		rows = append(rows, DisplayRow{Name: ch.name, Value: v})
	}
	return rows
}

func summaryOf(r backend.RawReading) Summary {
	return Summary{
		Signal:      numeric(r["SGL_Max"]),
		ShelterTemp: numeric(r["Shelter_Temp(C)"]),
		Pressure:    numeric(r["Press(atm)"]),
		Temp:        numeric(r["Temp(C)"]),
	}
}

// ReshapeLatest builds the table from the most recent reading, which is the last
// element of a chronologically ordered sequence.
func ReshapeLatest(readings []backend.RawReading) ([]DisplayRow, Summary, bool) {
	if len(readings) == 0 {
		return nil, Summary{}, false
	}
	last := readings[len(readings)-1]
	return rowsOf(last), summaryOf(last), true
}

// ReshapeAverages lists the rows of every reading in order. The summary is taken
// from the last reading; earlier ones are not folded in.
func ReshapeAverages(readings []backend.RawReading) ([]DisplayRow, *Summary) {
	rows := make([]DisplayRow, 0, len(readings)*len(displayChannels))
	var summary *Summary
	for _, r := range readings {
		rows = append(rows, rowsOf(r)...)
		s := summaryOf(r)
		summary = &s
	}
	return rows, summary
}
