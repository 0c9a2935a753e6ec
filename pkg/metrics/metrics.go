package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Relation metrics
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jenkins_relay_events_total",
			Help: "Total number of relation events handled by kind and result",
		},
		[]string{"kind", "result"},
	)

	EventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jenkins_relay_event_duration_seconds",
			Help:    "Time taken to handle a relation event in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	RelationInstances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jenkins_relay_relation_instances",
			Help: "Number of known relation instances by phase",
		},
		[]string{"phase"},
	)

	// Management API metrics
	NodeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jenkins_relay_node_operations_total",
			Help: "Total number of node operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	APIRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jenkins_relay_api_retries_total",
			Help: "Total number of management API retries after transient errors",
		},
		[]string{"operation"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jenkins_relay_api_request_duration_seconds",
			Help:    "Management API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// ComponentHealthy is 1 while a relay component reports healthy
	ComponentHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jenkins_relay_component_healthy",
			Help: "Whether a relay component is healthy (1) or failing (0)",
		},
		[]string{"component"},
	)

	PostconditionMismatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jenkins_relay_postcondition_mismatches_total",
			Help: "Node creations that succeeded but were not visible afterwards",
		},
	)
)

func init() {
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(EventDuration)
	prometheus.MustRegister(RelationInstances)
	prometheus.MustRegister(NodeOperationsTotal)
	prometheus.MustRegister(APIRetriesTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(PostconditionMismatches)
	prometheus.MustRegister(ComponentHealthy)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
