package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nimdanitro/fenceline-dashboard/pkg/backend"
	"github.com/nimdanitro/fenceline-dashboard/pkg/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Unix(1546300800, 0)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchReadings(_ context.Context, auth string, w window.Window) ([]backend.RawReading, error) {
	args := m.Called(auth, w)
	r, _ := args.Get(0).([]backend.RawReading)
	return r, args.Error(1)
}

func (m *mockFetcher) FetchAverages(_ context.Context, auth string, hours float64) ([]backend.RawReading, error) {
	args := m.Called(auth, hours)
	r, _ := args.Get(0).([]backend.RawReading)
	return r, args.Error(1)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	snaps  []Snapshot
}

func (r *recordingSink) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) Record(_ context.Context, s Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
	return nil
}

func reading(pathway string, ts int64, co2 float64) backend.RawReading {
	return backend.RawReading{
		"pathway":         pathway,
		"event_timestamp": float64(ts),
		"WindSpeed(MPH)":  "4.5",
		"WindDir(deg)":    180.0,
		"BUT_F":           "< DL",
		"C2H4_F":          1.2,
		"C6H6_F":          0.4,
		"DCA_F":           "< DL",
		"ETO_F":           0.0,
		"HCl_F":           2.5,
		"VCl_F":           "0.1",
		"H2O":             "12000",
		"CO2":             co2,
		"CH4":             1.9,
		"SGL_Max":         3000.0,
		"Shelter_Temp(C)": 22.5,
		"Press(atm)":      0.99,
		"Temp(C)":         18.0,
	}
}

func newController(t *testing.T, f backend.Fetcher, opts ...Option) (*Controller, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	base := []Option{
		WithLogger(zap.NewNop()),
		WithClock(func() time.Time { return testNow }),
		WithEventSink(sink),
		WithSnapshotSink(sink),
	}
	c, err := New(f, backend.StaticToken("tok"), append(base, opts...)...)
	require.NoError(t, err)
	return c, sink
}

func TestSpectrumReshapesLatestReading(t *testing.T) {
	f := &mockFetcher{}
	w0 := window.Current(testNow)
	f.On("FetchReadings", "tok", w0).Return([]backend.RawReading{
		reading("FNorth", 1546290000, 400),
		reading("FPC", 1546290300, 999),
		reading("FNorth", 1546290600, 410.5),
	}, nil).Once()

	c, sink := newController(t, f)
	require.NoError(t, c.Start(context.Background()))

	st := c.State()
	assert.False(t, st.Loading)
	assert.Equal(t, StatusOK, st.Status)
	require.Len(t, st.Rows, 12)
	assert.Equal(t, "Wind Speed (mph)", st.Rows[0].Name)
	assert.Equal(t, Number(4.5), st.Rows[0].Value)
	assert.Equal(t, Text("< DL"), st.Rows[2].Value)
	assert.Equal(t, "Carbon Dioxide (ppm)", st.Rows[10].Name)
	assert.Equal(t, Number(410.5), st.Rows[10].Value)
	assert.Equal(t, Number(12000), st.Rows[9].Value)

	require.NotNil(t, st.Summary)
	assert.Equal(t, []Value{Number(3000), Number(22.5), Number(0.99), Number(18)}, st.Summary.Values())

	require.Len(t, sink.events, 1)
	assert.Equal(t, int64(1546290600), sink.events[0].TS)
	assert.Equal(t, "Dec 31, 2018, 9:10:00 PM", sink.events[0].TSConverted)
	require.NotNil(t, st.LastEvent)
	assert.Equal(t, sink.events[0], *st.LastEvent)

	require.Len(t, sink.snaps, 1)
	assert.Equal(t, ModeSpectrum, sink.snaps[0].Mode)
	f.AssertExpectations(t)
}

func TestInfiniteChannelIsMissing(t *testing.T) {
	f := &mockFetcher{}
	latest := reading("FNorth", 2, 2)
	latest["WindSpeed(MPH)"] = "Infinity"
	latest["CO2"] = json.Number("-Inf")
	f.On("FetchReadings", "tok", window.Current(testNow)).Return([]backend.RawReading{
		reading("FNorth", 1, 1), latest,
	}, nil).Once()

	c, _ := newController(t, f)
	require.NoError(t, c.Start(context.Background()))

	st := c.State()
	assert.Equal(t, KindMissing, st.Rows[0].Value.Kind)
	assert.Equal(t, KindMissing, st.Rows[10].Value.Kind)
	_, err := json.Marshal(st)
	require.NoError(t, err)
}

func TestSpectrumRewindsOnEmpty(t *testing.T) {
	f := &mockFetcher{}
	w0 := window.Current(testNow)
	w1 := window.Earlier(w0)
	f.On("FetchReadings", "tok", w0).Return([]backend.RawReading{}, nil).Once()
	f.On("FetchReadings", "tok", w1).Return([]backend.RawReading{
		reading("FNorth", 1, 1), reading("FNorth", 2, 2),
	}, nil).Once()

	c, _ := newController(t, f)
	require.NoError(t, c.Start(context.Background()))

	f.AssertNumberOfCalls(t, "FetchReadings", 2)
	assert.Equal(t, w0.End-window.Width, f.Calls[1].Arguments.Get(1).(window.Window).End)

	st := c.State()
	assert.Equal(t, w1, st.Window)
	assert.Equal(t, 1, st.Rewinds)
	assert.Equal(t, StatusOK, st.Status)
}

func TestSpectrumRewindsOnSingleReading(t *testing.T) {
	f := &mockFetcher{}
	w0 := window.Current(testNow)
	w1 := window.Earlier(w0)
	f.On("FetchReadings", "tok", w0).Return([]backend.RawReading{reading("FNorth", 1, 1)}, nil).Once()
	f.On("FetchReadings", "tok", w1).Return([]backend.RawReading{
		reading("FNorth", 1, 1), reading("FNorth", 2, 2),
	}, nil).Once()

	c, _ := newController(t, f)
	require.NoError(t, c.Start(context.Background()))

	f.AssertExpectations(t)
	assert.Equal(t, 1, c.State().Rewinds)
}

func TestSpectrumRewindsWhenPathwayMissing(t *testing.T) {
	f := &mockFetcher{}
	w0 := window.Current(testNow)
	w1 := window.Earlier(w0)
	f.On("FetchReadings", "tok", w0).Return([]backend.RawReading{
		reading("FPC", 1, 1), reading("FPC", 2, 2),
	}, nil).Once()
	f.On("FetchReadings", "tok", w1).Return([]backend.RawReading{
		reading("FPC", 1, 1), reading("FNorth", 2, 2),
	}, nil).Once()

	c, _ := newController(t, f)
	require.NoError(t, c.Start(context.Background()))
	f.AssertExpectations(t)
	assert.Equal(t, Number(2), c.State().Rows[10].Value)
}

func TestSpectrumLookbackExhausted(t *testing.T) {
	f := &mockFetcher{}
	f.On("FetchReadings", "tok", mock.Anything).Return([]backend.RawReading{}, nil)

	c, sink := newController(t, f, WithMaxLookback(3))
	err := c.Start(context.Background())
	require.ErrorIs(t, err, ErrExhausted)

	f.AssertNumberOfCalls(t, "FetchReadings", 4)
	st := c.State()
	assert.False(t, st.Loading)
	assert.Equal(t, StatusExhausted, st.Status)
	assert.Empty(t, st.Rows)
	assert.Equal(t, 3, st.Rewinds)
	assert.Empty(t, sink.events)
}

func TestTransportErrorClearsLoading(t *testing.T) {
	f := &mockFetcher{}
	f.On("FetchReadings", "tok", mock.Anything).Return(nil, errors.New("connection reset")).Once()

	c, _ := newController(t, f)
	err := c.Start(context.Background())
	require.Error(t, err)

	f.AssertNumberOfCalls(t, "FetchReadings", 1)
	st := c.State()
	assert.False(t, st.Loading)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Contains(t, st.Error, "connection reset")
}

func TestMissingTokenFailsCycle(t *testing.T) {
	f := &mockFetcher{}
	c, err := New(f, backend.StaticToken(""), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	err = c.Start(context.Background())
	require.ErrorIs(t, err, backend.ErrNoToken)
	assert.False(t, c.State().Loading)
	f.AssertNotCalled(t, "FetchReadings", mock.Anything, mock.Anything)
}

func TestAveragesSummaryFromLastElement(t *testing.T) {
	f := &mockFetcher{}
	f.On("FetchAverages", "tok", 12.0).Return([]backend.RawReading{
		reading("FNorth", 1, 401),
		reading("FPC", 2, 999),
		reading("FNorth", 3, 402),
		func() backend.RawReading {
			r := reading("FNorth", 4, 403)
			r["SGL_Max"] = 1234.0
			r["Temp(C)"] = "21"
			return r
		}(),
	}, nil).Once()

	c, sink := newController(t, f)
	require.NoError(t, c.SelectAverage(context.Background(), "12"))

	st := c.State()
	require.Len(t, st.Rows, 36)
	assert.Equal(t, Number(401), st.Rows[10].Value)
	assert.Equal(t, Number(403), st.Rows[34].Value)
	require.NotNil(t, st.Summary)
	assert.Equal(t, Number(1234), st.Summary.Signal)
	assert.Equal(t, Number(21), st.Summary.Temp)
	assert.Empty(t, sink.events)
	require.Len(t, sink.snaps, 1)
	assert.Equal(t, ModeAverages, sink.snaps[0].Mode)
}

func TestSelectSpectrumAfterAverages(t *testing.T) {
	f := &mockFetcher{}
	f.On("FetchAverages", "tok", 24.0).Return([]backend.RawReading{reading("FNorth", 1, 1)}, nil).Once()
	f.On("FetchReadings", "tok", mock.Anything).Return([]backend.RawReading{
		reading("FNorth", 1, 1), reading("FNorth", 2, 2),
	}, nil).Once()

	c, _ := newController(t, f)
	require.NoError(t, c.SelectAverage(context.Background(), "24"))
	require.NoError(t, c.SelectAverage(context.Background(), SpectrumKey))

	f.AssertNumberOfCalls(t, "FetchAverages", 1)
	f.AssertNumberOfCalls(t, "FetchReadings", 1)
	assert.Equal(t, SpectrumKey, c.State().Average)
}

func TestSelectPathwayUsesCurrentAverage(t *testing.T) {
	f := &mockFetcher{}
	f.On("FetchAverages", "tok", 0.5).Return([]backend.RawReading{
		reading("FNorth", 1, 1), reading("FPC", 2, 2),
	}, nil).Twice()

	c, _ := newController(t, f)
	require.NoError(t, c.SelectAverage(context.Background(), "0.5r"))
	require.NoError(t, c.SelectPathway(context.Background(), "FPC"))

	st := c.State()
	assert.Equal(t, "FPC", st.Pathway)
	require.Len(t, st.Rows, 12)
	assert.Equal(t, Number(2), st.Rows[10].Value)
	assert.Equal(t, window.Current(testNow), st.Window)
	f.AssertNotCalled(t, "FetchReadings", mock.Anything, mock.Anything)
}

func TestSelectPathwayResetsRewoundWindow(t *testing.T) {
	f := &mockFetcher{}
	w0 := window.Current(testNow)
	w1 := window.Earlier(w0)
	f.On("FetchReadings", "tok", w0).Return([]backend.RawReading{}, nil).Once()
	f.On("FetchReadings", "tok", w1).Return([]backend.RawReading{
		reading("FNorth", 1, 1), reading("FNorth", 2, 2),
	}, nil).Once()
	f.On("FetchReadings", "tok", w0).Return([]backend.RawReading{
		reading("FPC", 3, 3), reading("FPC", 4, 4),
	}, nil).Once()

	c, _ := newController(t, f)
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, w1, c.State().Window)

	require.NoError(t, c.SelectPathway(context.Background(), "FPC"))
	f.AssertExpectations(t)
	last := f.Calls[len(f.Calls)-1]
	assert.Equal(t, w0, last.Arguments.Get(1))

	st := c.State()
	assert.Equal(t, w0, st.Window)
	assert.Equal(t, 0, st.Rewinds)
	assert.Equal(t, Number(4), st.Rows[10].Value)
}

func TestSelectSpectrumKeepsRewoundWindow(t *testing.T) {
	f := &mockFetcher{}
	w0 := window.Current(testNow)
	w1 := window.Earlier(w0)
	f.On("FetchReadings", "tok", w0).Return([]backend.RawReading{}, nil).Once()
	f.On("FetchReadings", "tok", w1).Return([]backend.RawReading{
		reading("FNorth", 1, 1), reading("FNorth", 2, 2),
	}, nil).Twice()

	c, _ := newController(t, f)
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.SelectAverage(context.Background(), SpectrumKey))

	f.AssertExpectations(t)
	f.AssertNumberOfCalls(t, "FetchReadings", 3)
	last := f.Calls[len(f.Calls)-1]
	assert.Equal(t, w1, last.Arguments.Get(1))
	assert.Equal(t, w1, c.State().Window)
	assert.Equal(t, StatusOK, c.State().Status)
}

func TestUnboundedLookback(t *testing.T) {
	const empty = 20
	f := &mockFetcher{}
	w := window.Current(testNow)
	for i := 0; i < empty; i++ {
		f.On("FetchReadings", "tok", w).Return([]backend.RawReading{}, nil).Once()
		w = window.Earlier(w)
	}
	f.On("FetchReadings", "tok", w).Return([]backend.RawReading{
		reading("FNorth", 1, 1), reading("FNorth", 2, 2),
	}, nil).Once()

	c, _ := newController(t, f, WithMaxLookback(0))
	require.NoError(t, c.Start(context.Background()))

	f.AssertExpectations(t)
	f.AssertNumberOfCalls(t, "FetchReadings", empty+1)
	st := c.State()
	assert.Equal(t, StatusOK, st.Status)
	assert.Equal(t, empty, st.Rewinds)
	assert.Equal(t, w, st.Window)
}

func TestSelectRejectsUnknownValues(t *testing.T) {
	c, _ := newController(t, &mockFetcher{})
	assert.ErrorIs(t, c.SelectPathway(context.Background(), "Nowhere"), ErrUnknownPathway)
	assert.ErrorIs(t, c.SelectAverage(context.Background(), "7"), ErrUnknownAverage)
	assert.Equal(t, StatusIdle, c.State().Status)
}

type gatedFetcher struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedFetcher) FetchReadings(context.Context, string, window.Window) ([]backend.RawReading, error) {
	close(g.started)
	<-g.release
	return []backend.RawReading{reading("FPC", 1, 1), reading("FPC", 2, 2)}, nil
}

func (g *gatedFetcher) FetchAverages(context.Context, string, float64) ([]backend.RawReading, error) {
	return []backend.RawReading{reading("FPC", 3, 77)}, nil
}

func TestSupersededCycleIsDropped(t *testing.T) {
	g := &gatedFetcher{started: make(chan struct{}), release: make(chan struct{})}
	c, sink := newController(t, g)

	done := make(chan error, 1)
	go func() { done <- c.SelectPathway(context.Background(), "FPC") }()
	<-g.started

	require.NoError(t, c.SelectAverage(context.Background(), "1"))
	close(g.release)
	require.ErrorIs(t, <-done, ErrSuperseded)

	st := c.State()
	assert.Equal(t, "1", st.Average)
	assert.False(t, st.Loading)
	require.Len(t, st.Rows, 12)
	assert.Equal(t, Number(77), st.Rows[10].Value)
	assert.Empty(t, sink.events)
}

func TestLabels(t *testing.T) {
	es, err := LoadCatalog("es")
	require.NoError(t, err)
	c, _ := newController(t, &mockFetcher{}, WithTranslator(es), WithSelection("FPC", "12"))

	assert.Equal(t, "Point Comfort", c.PathwayLabel())
	assert.Equal(t, "12 horas (móvil)", c.AverageLabel())
}

func TestNewValidatesSelection(t *testing.T) {
	_, err := New(&mockFetcher{}, backend.StaticToken("t"), WithSelection("Nowhere", ""))
	assert.ErrorIs(t, err, ErrUnknownPathway)

	_, err = New(&mockFetcher{}, backend.StaticToken("t"), WithMaxLookback(-1))
	assert.Error(t, err)
}
