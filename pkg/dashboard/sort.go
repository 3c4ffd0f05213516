package dashboard

import (
	"fmt"
	"sort"
	"strings"
)

// SortSpec is the table's active sort: column "name" or "value", direction "asc" or "desc".
// An empty column leaves rows in channel order.
type SortSpec struct {
	Column    string
	Direction string
}

func ParseSort(column, direction string) (SortSpec, error) {
	s := SortSpec{Column: strings.ToLower(column), Direction: strings.ToLower(direction)}
	switch s.Column {
	case "", "name", "value":
	default:
		return SortSpec{}, fmt.Errorf("unknown sort column %q", column)
	}
	switch s.Direction {
	case "":
		s.Direction = "asc"
	case "asc", "desc":
	default:
		return SortSpec{}, fmt.Errorf("unknown sort direction %q", direction)
	}
	return s, nil
}

// SortRows returns a sorted copy of rows. Ascending puts numbers before text;
// missing values come last either way.
func SortRows(rows []DisplayRow, spec SortSpec) []DisplayRow {
	out := append([]DisplayRow(nil), rows...)
	if spec.Column == "" {
		return out
	}
	desc := spec.Direction == "desc"
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if spec.Column == "name" {
			if desc {
				return a.Name > b.Name
			}
			return a.Name < b.Name
		}
		if a.Value.Kind == KindMissing || b.Value.Kind == KindMissing {
			return b.Value.Kind == KindMissing && a.Value.Kind != KindMissing
		}
		c := compareValues(a.Value, b.Value)
		if desc {
			return c > 0
		}
		return c < 0
	})
	return out
}

func compareValues(a, b Value) int {
	if a.Kind != b.Kind {
		if a.Kind == KindNumber {
			return -1
		}
		return 1
	}
	if a.Kind == KindNumber {
		switch {
		case a.Num < b.Num:
			return -1
		case a.Num > b.Num:
			return 1
		}
		return 0
	}
	return strings.Compare(a.Text, b.Text)
}
