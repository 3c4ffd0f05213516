package window

import (
	"net/url"
	"strconv"
	"time"
)

// Width is the span of every window in seconds (12 hours).
const Width int64 = 43200

// Window is a [Start, End] range in epoch seconds.
type Window struct {
	Start int64 `json:"startDate"`
	End   int64 `json:"endDate"`
}

// Current returns the 12 hour window ending at now.
func Current(now time.Time) Window {
	end := now.Unix()
	return Window{Start: end - Width, End: end}
}

// Earlier returns the window immediately preceding prior.
func Earlier(prior Window) Window {
	return Window{Start: prior.Start - Width, End: prior.End - Width}
}

// Params encodes the window as the sdate/edate query the backend expects.
func (w Window) Params() url.Values {
	v := url.Values{}
	v.Set("sdate", strconv.FormatInt(w.Start, 10))
	v.Set("edate", strconv.FormatInt(w.End, 10))
	return v
}

func (w Window) String() string {
	return time.Unix(w.Start, 0).UTC().Format(time.RFC3339) + "/" + time.Unix(w.End, 0).UTC().Format(time.RFC3339)
}
