package backend

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "fenceline",
	Subsystem: "backend",
	Name:      "request_duration_seconds",
	Help:      "Latency of data service requests.",
	Buckets:   prometheus.DefBuckets,
}, []string{"op", "code"})

func observeRequest(op string, resp *http.Response, d time.Duration) {
	code := "error"
	if resp != nil {
		code = strconv.Itoa(resp.StatusCode)
	}
	requestDuration.WithLabelValues(op, code).Observe(d.Seconds())
}
