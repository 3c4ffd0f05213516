package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/nimdanitro/fenceline-dashboard/pkg/dashboard"
	"github.com/nimdanitro/fenceline-dashboard/pkg/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templates embed.FS

// Controller is the dashboard as driven over HTTP.
type Controller interface {
	State() dashboard.ViewState
	Pathways() []dashboard.Pathway
	Averages() []dashboard.Average
	HasPathway(p string) bool
	HasAverage(key string) bool
	PathwayLabel() string
	AverageLabel() string
	SelectPathway(ctx context.Context, p string) error
	SelectAverage(ctx context.Context, key string) error
	Refresh(ctx context.Context) error
}

// History lists stored snapshots.
type History interface {
	Recent(ctx context.Context, pathway string, limit int) ([]store.SnapshotRecord, error)
	Latest(ctx context.Context, pathway, average string) (*store.SnapshotRecord, error)
}

type Server struct {
	ctrl    Controller
	hub     *Hub
	history History
	log     *zap.Logger
	page    *template.Template

	// base outlives requests; selection cycles run under it
	base context.Context
	wg   sync.WaitGroup
}

type Option func(s *Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

func New(base context.Context, ctrl Controller, opts ...Option) (*Server, error) {
	page, err := template.New("index.html").Funcs(template.FuncMap{
		"value": func(v dashboard.Value) string { return v.String() },
	}).ParseFS(templates, "templates/index.html")
	if err != nil {
		return nil, err
	}
	s := &Server{
		ctrl: ctrl,
		log:  zap.L(),
		page: page,
		base: base,
	}
	for _, o := range opts {
		o(s)
	}
	if s.hub == nil {
		s.hub = NewHub(s.log)
	}
	return s, nil
}

// Handler returns the full HTTP surface with middleware applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.index).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "subscribers": s.hub.Subscribers()})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.getState).Methods(http.MethodGet)
	api.HandleFunc("/options", s.getOptions).Methods(http.MethodGet)
	api.HandleFunc("/pathway", s.putPathway).Methods(http.MethodPut)
	api.HandleFunc("/average", s.putAverage).Methods(http.MethodPut)
	api.HandleFunc("/refresh", s.postRefresh).Methods(http.MethodPost)
	api.HandleFunc("/history", s.getHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/latest", s.getLatest).Methods(http.MethodGet)
	api.Handle("/events", s.hub).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	var h http.Handler = cors(r)
	h = handlers.CompressHandler(h)
	h = accessLog(s.log, h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(zap.NewStdLog(s.log)))(h)
	return otelhttp.NewHandler(h, "dashboard")
}

// Wait blocks until selection cycles started by requests have finished.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) launch(name string, op func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := op(s.base); err != nil && !errors.Is(err, dashboard.ErrSuperseded) {
			s.log.Warn("cycle ended with error", zap.String("trigger", name), zap.Error(err))
		}
	}()
}

type stateResponse struct {
	dashboard.ViewState
	PathwayLabel string `json:"pathwayLabel"`
	AverageLabel string `json:"averageLabel"`
}

func (s *Server) currentState(r *http.Request) (stateResponse, error) {
	spec, err := dashboard.ParseSort(r.URL.Query().Get("sort"), r.URL.Query().Get("dir"))
	if err != nil {
		return stateResponse{}, err
	}
	st := s.ctrl.State()
	st.Rows = dashboard.SortRows(st.Rows, spec)
	return stateResponse{
		ViewState:    st,
		PathwayLabel: s.ctrl.PathwayLabel(),
		AverageLabel: s.ctrl.AverageLabel(),
	}, nil
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	resp, err := s.currentState(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"pathways": s.ctrl.Pathways(),
		"averages": s.ctrl.Averages(),
	})
}

func (s *Server) putPathway(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Pathway string `json:"pathway"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if !s.ctrl.HasPathway(body.Pathway) {
		writeErr(w, http.StatusBadRequest, "unknown pathway: "+body.Pathway)
		return
	}
	s.launch("pathway", func(ctx context.Context) error { return s.ctrl.SelectPathway(ctx, body.Pathway) })
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "pathway": body.Pathway})
}

func (s *Server) putAverage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Average string `json:"average"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if !s.ctrl.HasAverage(body.Average) {
		writeErr(w, http.StatusBadRequest, "unknown averaging interval: "+body.Average)
		return
	}
	s.launch("average", func(ctx context.Context) error { return s.ctrl.SelectAverage(ctx, body.Average) })
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "average": body.Average})
}

func (s *Server) postRefresh(w http.ResponseWriter, r *http.Request) {
	s.launch("refresh", s.ctrl.Refresh)
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeErr(w, http.StatusNotFound, "history is disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	recs, err := s.history.Recent(r.Context(), r.URL.Query().Get("pathway"), limit)
	if err != nil {
		s.log.Error("cannot list history", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "cannot list history")
		return
	}

	out := make([]dashboard.Snapshot, 0, len(recs))
	for _, rec := range recs {
		snap, err := rec.Snapshot()
		if err != nil {
			s.log.Warn("skipping unreadable snapshot", zap.Uint("id", rec.ID), zap.Error(err))
			continue
		}
		out = append(out, snap)
	}
	writeJSON(w, http.StatusOK, out)
}

// getLatest serves the newest stored snapshot for a selection, defaulting to
// the one currently shown.
func (s *Server) getLatest(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeErr(w, http.StatusNotFound, "history is disabled")
		return
	}
	st := s.ctrl.State()
	pathway, average := r.URL.Query().Get("pathway"), r.URL.Query().Get("average")
	if pathway == "" {
		pathway = st.Pathway
	}
	if average == "" {
		average = st.Average
	}
	rec, err := s.history.Latest(r.Context(), pathway, average)
	if err != nil {
		s.log.Error("cannot read latest snapshot", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "cannot read latest snapshot")
		return
	}
	if rec == nil {
		writeErr(w, http.StatusNotFound, "no snapshot for "+pathway+"/"+average)
		return
	}
	snap, err := rec.Snapshot()
	if err != nil {
		s.log.Error("unreadable snapshot", zap.Uint("id", rec.ID), zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "unreadable snapshot")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type pageData struct {
	stateResponse
	Pathways []dashboard.Pathway
	Averages []dashboard.Average
	Sort     string
	Dir      string
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	st, err := s.currentState(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data := pageData{
		stateResponse: st,
		Pathways:      s.ctrl.Pathways(),
		Averages:      s.ctrl.Averages(),
		Sort:          r.URL.Query().Get("sort"),
		Dir:           r.URL.Query().Get("dir"),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, data); err != nil {
		s.log.Error("cannot render page", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		zap.L().Error("cannot encode response", zap.Error(err))
		http.Error(w, `{"error":"cannot encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
