package dashboard

import "time"

// mediumLayout renders like "Jan 2, 2006, 3:04:05 PM".
const mediumLayout = "Jan 2, 2006, 3:04:05 PM"

// FormatTimestamp formats an epoch-millisecond timestamp in UTC.
func FormatTimestamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(mediumLayout)
}

// Event announces the time of the reading currently on display.
type Event struct {
	TS          int64  `json:"ts"`
	TSConverted string `json:"tsConverted"`
}

func NewEvent(ts int64) Event {
	return Event{TS: ts, TSConverted: FormatTimestamp(ts * 1000)}
}
