package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimdanitro/fenceline-dashboard/pkg/backend"
	"github.com/nimdanitro/fenceline-dashboard/pkg/window"
	"go.uber.org/zap"
)

var (
	ErrUnknownPathway = errors.New("unknown pathway")
	ErrUnknownAverage = errors.New("unknown averaging interval")
	ErrSuperseded     = errors.New("cycle superseded by a newer selection")
	ErrExhausted      = errors.New("no readings within the lookback limit")
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusOK        Status = "ok"
	StatusExhausted Status = "exhausted"
	StatusFailed    Status = "failed"
)

type Mode string

const (
	ModeSpectrum Mode = "spectrum"
	ModeAverages Mode = "averages"
)

// ViewState is what the table currently shows.
type ViewState struct {
	Pathway   string        `json:"pathway"`
	Average   string        `json:"average"`
	Window    window.Window `json:"window"`
	Loading   bool          `json:"loading"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Rows      []DisplayRow  `json:"rows"`
	Summary   *Summary      `json:"summary,omitempty"`
	LastEvent *Event        `json:"lastEvent,omitempty"`
	Rewinds   int           `json:"rewinds"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Snapshot is the outcome of a successful cycle.
type Snapshot struct {
	Pathway string        `json:"pathway"`
	Average string        `json:"average"`
	Mode    Mode          `json:"mode"`
	Window  window.Window `json:"window"`
	Rows    []DisplayRow  `json:"rows"`
	Summary *Summary      `json:"summary,omitempty"`
	Event   *Event        `json:"event,omitempty"`
	TakenAt time.Time     `json:"takenAt"`
}

// EventSink receives the timestamp of every reading put on display.
type EventSink interface {
	Publish(Event)
}

// SnapshotSink receives every successful cycle.
type SnapshotSink interface {
	Record(ctx context.Context, s Snapshot) error
}

// Controller owns the view state and runs fetch cycles against the data service.
// Each selection change starts a new generation; results of older generations
// are dropped.
type Controller struct {
	fetcher     backend.Fetcher
	tokens      backend.TokenSource
	log         *zap.Logger
	now         func() time.Time
	maxLookback int
	pathways    []Pathway
	averages    []Average
	events      []EventSink
	sinks       []SnapshotSink

	mu     sync.Mutex
	state  ViewState
	gen    uint64
	cancel context.CancelFunc
}

type Option func(c *Controller) error

func New(f backend.Fetcher, tokens backend.TokenSource, opts ...Option) (*Controller, error) {
	if f == nil {
		return nil, errors.New("nil fetcher")
	}
	if tokens == nil {
		return nil, errors.New("nil token source")
	}
	c := &Controller{
		fetcher:     f,
		tokens:      tokens,
		log:         zap.L(),
		now:         time.Now,
		maxLookback: 14,
		pathways:    DefaultPathways,
		averages:    Averages(nil),
		state: ViewState{
			Pathway: DefaultPathways[0].Value,
			Average: SpectrumKey,
			Status:  StatusIdle,
		},
	}

	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}

	if _, ok := findPathway(c.pathways, c.state.Pathway); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPathway, c.state.Pathway)
	}
	if _, ok := findAverage(c.averages, c.state.Average); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAverage, c.state.Average)
	}
	c.state.Window = window.Current(c.now())
	return c, nil
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) error {
		c.log = l
		return nil
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) error {
		c.now = now
		return nil
	}
}

// WithMaxLookback caps how many times a spectrum cycle moves its window back.
// Zero removes the cap.
func WithMaxLookback(n int) Option {
	return func(c *Controller) error {
		if n < 0 {
			return fmt.Errorf("max lookback must not be negative, got %d", n)
		}
		c.maxLookback = n
		return nil
	}
}

func WithPathways(ps []Pathway) Option {
	return func(c *Controller) error {
		if len(ps) == 0 {
			return errors.New("at least one pathway is required")
		}
		c.pathways = ps
		c.state.Pathway = ps[0].Value
		return nil
	}
}

func WithTranslator(tr Translator) Option {
	return func(c *Controller) error {
		c.averages = Averages(tr)
		return nil
	}
}

// WithSelection sets the initial pathway and averaging interval. Apply it after WithPathways.
func WithSelection(pathway, average string) Option {
	return func(c *Controller) error {
		if pathway != "" {
			c.state.Pathway = pathway
		}
		if average != "" {
			c.state.Average = average
		}
		return nil
	}
}

func WithEventSink(s EventSink) Option {
	return func(c *Controller) error {
		c.events = append(c.events, s)
		return nil
	}
}

func WithSnapshotSink(s SnapshotSink) Option {
	return func(c *Controller) error {
		c.sinks = append(c.sinks, s)
		return nil
	}
}

func (c *Controller) Pathways() []Pathway { return append([]Pathway(nil), c.pathways...) }
func (c *Controller) Averages() []Average { return append([]Average(nil), c.averages...) }

func (c *Controller) HasPathway(p string) bool {
	_, ok := findPathway(c.pathways, p)
	return ok
}

func (c *Controller) HasAverage(key string) bool {
	_, ok := findAverage(c.averages, key)
	return ok
}

// State returns a copy of the current view state.
func (c *Controller) State() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Rows = append([]DisplayRow(nil), c.state.Rows...)
	return s
}

// PathwayLabel is the display name of the selected pathway.
func (c *Controller) PathwayLabel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, _ := findPathway(c.pathways, c.state.Pathway)
	return p.Label
}

// AverageLabel is the display name of the selected averaging interval.
func (c *Controller) AverageLabel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, _ := findAverage(c.averages, c.state.Average)
	return a.Label
}

// Start runs the first cycle for the initial selection.
func (c *Controller) Start(ctx context.Context) error {
	return c.Refresh(ctx)
}

// Refresh resets the window to the latest 12 hours and reloads the current selection.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	p := c.state.Pathway
	c.mu.Unlock()
	return c.SelectPathway(ctx, p)
}

// SelectPathway switches site, resets the window to the latest 12 hours and
// reloads with the current averaging interval.
func (c *Controller) SelectPathway(ctx context.Context, pathway string) error {
	if !c.HasPathway(pathway) {
		return fmt.Errorf("%w: %q", ErrUnknownPathway, pathway)
	}
	cy, ctx, cancel := c.begin(ctx, func(s *ViewState) {
		s.Pathway = pathway
		s.Window = window.Current(c.now())
	})
	defer cancel()
	return c.run(ctx, cy)
}

// SelectAverage switches the averaging interval. The 5 minute option loads raw
// readings from the last used window; every other option loads averages.
func (c *Controller) SelectAverage(ctx context.Context, key string) error {
	if !c.HasAverage(key) {
		return fmt.Errorf("%w: %q", ErrUnknownAverage, key)
	}
	cy, ctx, cancel := c.begin(ctx, func(s *ViewState) {
		s.Average = key
	})
	defer cancel()
	return c.run(ctx, cy)
}

type cycle struct {
	gen     uint64
	pathway string
	average Average
	window  window.Window
}

func (cy cycle) mode() Mode {
	if cy.average.Spectrum() {
		return ModeSpectrum
	}
	return ModeAverages
}

// begin applies the selection, supersedes any running cycle and marks the view loading.
func (c *Controller) begin(parent context.Context, mutate func(*ViewState)) (cycle, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	c.mu.Lock()
	defer c.mu.Unlock()
	mutate(&c.state)
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	c.cancel = cancel
	c.state.Loading = true
	c.state.Status = StatusLoading
	c.state.Error = ""
	c.state.Rewinds = 0

	a, _ := findAverage(c.averages, c.state.Average)
	return cycle{gen: c.gen, pathway: c.state.Pathway, average: a, window: c.state.Window}, ctx, cancel
}

// apply mutates the state only if cy is still the newest cycle.
func (c *Controller) apply(cy cycle, f func(*ViewState)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cy.gen != c.gen {
		return false
	}
	f(&c.state)
	c.state.UpdatedAt = c.now()
	return true
}

func (c *Controller) run(ctx context.Context, cy cycle) error {
	log := c.log.With(
		zap.Uint64("generation", cy.gen),
		zap.String("pathway", cy.pathway),
		zap.String("average", cy.average.Key),
		zap.String("mode", string(cy.mode())),
	)

	var (
		snap *Snapshot
		err  error
	)
	if cy.mode() == ModeSpectrum {
		snap, err = c.spectrum(ctx, log, cy)
	} else {
		snap, err = c.averaged(ctx, log, cy)
	}

	switch {
	case err == nil:
		if !c.apply(cy, func(s *ViewState) {
			s.Loading = false
			s.Status = StatusOK
			s.Rows = snap.Rows
			s.Summary = snap.Summary
			if snap.Event != nil {
				s.LastEvent = snap.Event
			}
		}) {
			return c.superseded(log, cy)
		}
		cyclesTotal.WithLabelValues(string(cy.mode()), "ok").Inc()
		log.Info("table updated", zap.Int("rows", len(snap.Rows)))
		c.publish(ctx, log, *snap)
		return nil

	case errors.Is(err, ErrExhausted):
		if !c.apply(cy, func(s *ViewState) {
			s.Loading = false
			s.Status = StatusExhausted
			s.Error = err.Error()
			s.Rows = nil
			s.Summary = nil
		}) {
			return c.superseded(log, cy)
		}
		cyclesTotal.WithLabelValues(string(cy.mode()), "exhausted").Inc()
		log.Warn("gave up looking for readings", zap.Error(err))
		return err

	default:
		if !c.apply(cy, func(s *ViewState) {
			s.Loading = false
			s.Status = StatusFailed
			s.Error = err.Error()
		}) {
			return c.superseded(log, cy)
		}
		cyclesTotal.WithLabelValues(string(cy.mode()), "failed").Inc()
		log.Error("failed to fetch data", zap.Error(err))
		return err
	}
}

func (c *Controller) superseded(log *zap.Logger, cy cycle) error {
	cyclesTotal.WithLabelValues(string(cy.mode()), "superseded").Inc()
	log.Debug("dropping results of superseded cycle")
	return ErrSuperseded
}

// spectrum walks back one window at a time until the pathway has readings.
func (c *Controller) spectrum(ctx context.Context, log *zap.Logger, cy cycle) (*Snapshot, error) {
	w := cy.window
	for rewinds := 0; ; rewinds++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("session token: %w", err)
		}

		readings, err := c.fetcher.FetchReadings(ctx, token, w)
		if err != nil {
			return nil, fmt.Errorf("fetch readings %s: %w", w, err)
		}

		matched := backend.FilterByPathway(readings, cy.pathway)
		if len(readings) > 1 && len(matched) > 0 {
			rows, summary, _ := ReshapeLatest(matched)
			snap := &Snapshot{
				Pathway: cy.pathway,
				Average: cy.average.Key,
				Mode:    ModeSpectrum,
				Window:  w,
				Rows:    rows,
				Summary: &summary,
				TakenAt: c.now(),
			}
			if ts, ok := matched[len(matched)-1].EventTimestamp(); ok {
				ev := NewEvent(ts)
				snap.Event = &ev
			} else {
				log.Warn("latest reading carries no event_timestamp")
			}
			return snap, nil
		}

		if c.maxLookback > 0 && rewinds >= c.maxLookback {
			return nil, fmt.Errorf("%w: %d windows back from %s", ErrExhausted, rewinds, cy.window)
		}

		log.Info("no recent readings, moving window back",
			zap.Int("received", len(readings)),
			zap.Int("matched", len(matched)),
			zap.Stringer("window", w),
		)
		w = window.Earlier(w)
		rewindsTotal.WithLabelValues(cy.pathway).Inc()
		n := rewinds + 1
		if !c.apply(cy, func(s *ViewState) {
			s.Window = w
			s.Rewinds = n
		}) {
			return nil, ErrSuperseded
		}
	}
}

func (c *Controller) averaged(ctx context.Context, log *zap.Logger, cy cycle) (*Snapshot, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("session token: %w", err)
	}

	readings, err := c.fetcher.FetchAverages(ctx, token, cy.average.Hours)
	if err != nil {
		return nil, fmt.Errorf("fetch %gh averages: %w", cy.average.Hours, err)
	}

	matched := backend.FilterByPathway(readings, cy.pathway)
	log.Debug("received averages", zap.Int("received", len(readings)), zap.Int("matched", len(matched)))
	rows, summary := ReshapeAverages(matched)
	return &Snapshot{
		Pathway: cy.pathway,
		Average: cy.average.Key,
		Mode:    ModeAverages,
		Window:  cy.window,
		Rows:    rows,
		Summary: summary,
		TakenAt: c.now(),
	}, nil
}

func (c *Controller) publish(ctx context.Context, log *zap.Logger, snap Snapshot) {
	if snap.Event != nil {
		for _, e := range c.events {
			e.Publish(*snap.Event)
		}
	}
	// a newer selection cancels ctx; recording this snapshot should still finish
	ctx = context.WithoutCancel(ctx)
	for _, s := range c.sinks {
		if err := s.Record(ctx, snap); err != nil {
			log.Error("cannot record snapshot", zap.Error(err))
		}
	}
}
