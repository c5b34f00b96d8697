// Package metrics exposes the monitor's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// NodeOnline reports whether the primary status fetch is succeeding.
	NodeOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_node_online",
		Help: "Whether the monitored node's status endpoint is reachable",
	})

	// ConsensusHeight tracks the height from the latest consensus sample.
	ConsensusHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_consensus_height",
		Help: "Height reported by the latest consensus sample",
	})

	// ConsensusRound tracks the round from the latest consensus sample.
	ConsensusRound = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_consensus_round",
		Help: "Round reported by the latest consensus sample",
	})

	// PrevoteRatio tracks prevote participation for the current round.
	PrevoteRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_prevote_ratio",
		Help: "Prevote participation ratio for the current round",
	})

	// PrecommitRatio tracks precommit participation for the current round.
	PrecommitRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_precommit_ratio",
		Help: "Precommit participation ratio for the current round",
	})

	// HealthIssues counts issues on the latest health verdict.
	HealthIssues = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_health_issues",
		Help: "Number of issues on the latest consensus health verdict",
	})

	// DivergenceState is 0 when clean, 1 for an unconfirmed candidate and
	// 2 once a divergence is confirmed.
	DivergenceState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_divergence_state",
		Help: "Divergence detector state (0 none, 1 candidate, 2 confirmed)",
	})

	// DivergencesConfirmed counts confirmed divergences.
	DivergencesConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_divergences_confirmed_total",
		Help: "Total number of confirmed app-hash divergences",
	})

	// PollErrors counts fetch failures per stream and endpoint.
	PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_poll_errors_total",
		Help: "Total number of fetch failures",
	}, []string{"stream", "endpoint"})

	// SupersededPolls counts completions discarded because a newer request
	// on the same stream had already been dispatched.
	SupersededPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_superseded_polls_total",
		Help: "Total number of poll completions discarded as stale",
	}, []string{"stream"})
)

// Serve exposes /metrics on addr. It blocks until the server fails.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}
