// Package metrics registers the Prometheus collectors shared by all three
// services, per §4.8a. It mirrors Fleet's habit of a single package-level
// registry exposed through promhttp, rather than per-service registries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeployAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_deployer_deploy_attempts_total",
		Help: "Count of resource deploy attempts by environment, resource, and result.",
	}, []string{"env", "resource", "result"})

	RolloutStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dm_deployer_rollout_status",
		Help: "Current rollout status per environment, as the lattice's numeric rank (0=Clean .. 3=Failed).",
	}, []string{"env"})

	TransitionRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_transitioner_runs_total",
		Help: "Count of transition rule evaluations by transition name and result.",
	}, []string{"transition", "result"})

	AggregatorSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dm_aggregator_subscribers",
		Help: "Current number of connected /api websocket subscribers.",
	})
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)
