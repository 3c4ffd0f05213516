package dashboard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fenceline",
		Subsystem: "dashboard",
		Name:      "cycles_total",
		Help:      "Fetch cycles by mode and outcome.",
	}, []string{"mode", "outcome"})

	rewindsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fenceline",
		Subsystem: "dashboard",
		Name:      "window_rewinds_total",
		Help:      "Times the readings window was moved 12 hours back for lack of data.",
	}, []string{"pathway"})
)
