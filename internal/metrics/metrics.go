package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	InboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsfwd_inbound_total",
			Help: "Inbound messages by outcome",
		},
		[]string{"outcome"}, // accepted|duplicate|invalid
	)

	FilterDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsfwd_filter_decisions_total",
			Help: "Rule engine decisions by result",
		},
		[]string{"result"}, // allow|block|default|fail_open
	)

	RuleErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsfwd_rule_errors_total",
			Help: "Rules that failed to evaluate, by rule type",
		},
		[]string{"type"},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsfwd_jobs_total",
			Help: "Delivery job lifecycle counter by stage and priority",
		},
		[]string{"stage", "priority"}, // enqueued|replaced|coalesced|dispatched|succeeded|retried|failed|cancelled|recovered
	)

	TransportResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsfwd_transport_results_total",
			Help: "Transport results by code",
		},
		[]string{"code"},
	)

	EndpointRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsfwd_endpoint_refresh_total",
			Help: "Endpoint directory fetches by result",
		},
		[]string{"result"}, // ok|error
	)

	ActiveEndpoints = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "smsfwd_active_endpoints",
			Help: "Active send endpoints seen on the last directory fetch",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		InboundTotal,
		FilterDecisionsTotal,
		RuleErrorsTotal,
		JobsTotal,
		TransportResultsTotal,
		EndpointRefreshTotal,
		ActiveEndpoints,
	)
}
