package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DetectionTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fete", Name: "detection_ticks_total", Help: "Detection loop ticks",
	})
	DetectionSkips = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fete", Name: "detection_skips_total", Help: "Ticks skipped because a pass was in flight",
	})
	DetectionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fete", Name: "detection_errors_total", Help: "Failed detection passes",
	})
	FacesMatched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fete", Name: "faces_matched_total", Help: "Detections matched to a member",
	})
	FacesUnknown = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fete", Name: "faces_unknown_total", Help: "Detections below threshold or with no corpus",
	})
	SessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fete", Name: "sessions_started_total", Help: "Attendance sessions started",
	})
	SessionsEnded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fete", Name: "sessions_ended_total", Help: "Attendance sessions archived",
	})
)

func init() {
	prometheus.MustRegister(
		DetectionTicks, DetectionSkips, DetectionErrors,
		FacesMatched, FacesUnknown,
		SessionsStarted, SessionsEnded,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
