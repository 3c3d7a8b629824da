package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Synopsis outcomes.
const (
	SynopsisGenerated = "generated"
	SynopsisFallback  = "fallback"
	SynopsisFailed    = "failed"
)

var (
	downloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "acadrepo",
			Subsystem: "projects",
			Name:      "downloads_total",
			Help:      "Number of served project documents.",
		},
	)

	synopsisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "acadrepo",
			Subsystem: "synopsis",
			Name:      "results_total",
			Help:      "Synopsis pipeline runs by outcome and origin (upload, edit, worker, manual).",
		},
		[]string{"outcome", "origin"},
	)
)

// ObserveDownload counts a served document.
func ObserveDownload() {
	downloadsTotal.Inc()
}

// ObserveSynopsis counts one synopsis pipeline run.
func ObserveSynopsis(origin string, failed, fallback bool) {
	outcome := SynopsisGenerated
	switch {
	case failed:
		outcome = SynopsisFailed
	case fallback:
		outcome = SynopsisFallback
	}
	synopsisTotal.WithLabelValues(outcome, origin).Inc()
}
