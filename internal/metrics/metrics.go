package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const pre = "escrow_"

// Escrow groups the service's collectors.
var Escrow = struct {
	DealsActive      prometheus.Gauge
	Transitions      *prometheus.CounterVec
	RateRefreshes    *prometheus.CounterVec
	Rate             prometheus.Gauge
	LookupErrors     prometheus.Counter
	PaymentsMatched  prometheus.Counter
	TxClaimConflicts prometheus.Counter
	MonitorsRunning  prometheus.Gauge
	Releases         *prometheus.CounterVec
}{
	DealsActive: prometheus.NewGauge(prometheus.GaugeOpts{
		Name: pre + "deals_active",
		Help: "Deals currently held in the registry.",
	}),
	Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "stage_transitions_total",
		Help: "Deal stage transitions by target stage.",
	}, []string{"to"}),
	RateRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "rate_refreshes_total",
		Help: "Price oracle refreshes by result.",
	}, []string{"result"}),
	Rate: prometheus.NewGauge(prometheus.GaugeOpts{
		Name: pre + "rate_usd",
		Help: "Last observed coin price in USD.",
	}),
	LookupErrors: prometheus.NewCounter(prometheus.CounterOpts{
		Name: pre + "chain_lookup_errors_total",
		Help: "Failed chain lookups while monitoring payments.",
	}),
	PaymentsMatched: prometheus.NewCounter(prometheus.CounterOpts{
		Name: pre + "payments_matched_total",
		Help: "Incoming transfers matched to a deal.",
	}),
	TxClaimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
		Name: pre + "tx_claim_conflicts_total",
		Help: "Transfers matching a deal but already credited to another.",
	}),
	MonitorsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
		Name: pre + "payment_monitors_running",
		Help: "Payment monitors currently polling.",
	}),
	Releases: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "releases_total",
		Help: "Release attempts by result.",
	}, []string{"result"}),
}

func init() {
	prometheus.MustRegister(
		Escrow.DealsActive,
		Escrow.Transitions,
		Escrow.RateRefreshes,
		Escrow.Rate,
		Escrow.LookupErrors,
		Escrow.PaymentsMatched,
		Escrow.TxClaimConflicts,
		Escrow.MonitorsRunning,
		Escrow.Releases,
	)
}
