package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentWidth(t *testing.T) {
	for _, now := range []time.Time{
		time.Unix(0, 0),
		time.Unix(1546300800, 0),
		time.Date(2026, 10, 18, 9, 30, 15, 999, time.UTC),
	} {
		w := Current(now)
		assert.Equal(t, Width, w.End-w.Start)
		assert.Equal(t, now.Unix(), w.End)
	}
}

func TestEarlier(t *testing.T) {
	w := Current(time.Unix(1546300800, 0))

	prev := Earlier(w)
	assert.Equal(t, w.End-Width, prev.End)
	assert.Equal(t, w.Start-Width, prev.Start)
	assert.Equal(t, Width, prev.End-prev.Start)

	assert.Equal(t, w.Start-86400, Earlier(prev).Start)
}

func TestParams(t *testing.T) {
	w := Window{Start: 100, End: 43300}
	p := w.Params()
	require.Equal(t, "100", p.Get("sdate"))
	require.Equal(t, "43300", p.Get("edate"))
	assert.Equal(t, "edate=43300&sdate=100", p.Encode())
}
