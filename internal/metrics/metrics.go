package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	// Ledger operations, labelled by op and result ("ok" or an error code).
	Ops       *prometheus.CounterVec
	OpLatency *prometheus.HistogramVec
	UnitsSold prometheus.Counter
	Revenue   prometheus.Counter

	ChangelogAppended prometheus.Counter
	SnapshotsWritten  prometheus.Counter

	// Recovery
	Applied            prometheus.Counter
	Skipped            prometheus.Counter
	TTRSec             prometheus.Gauge
	LastManifestAgeSec prometheus.Gauge

	IntakeMessages *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "foodledger_ops_total"}, []string{"op", "result"})
	opLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "foodledger_op_latency_seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	unitsSold := prometheus.NewCounter(prometheus.CounterOpts{Name: "foodledger_units_sold_total"})
	revenue := prometheus.NewCounter(prometheus.CounterOpts{Name: "foodledger_revenue_minor_units_total"})
	changelogAppended := prometheus.NewCounter(prometheus.CounterOpts{Name: "foodledger_changelog_appended_total"})
	snapshots := prometheus.NewCounter(prometheus.CounterOpts{Name: "foodledger_snapshots_written_total"})

	applied := prometheus.NewCounter(prometheus.CounterOpts{Name: "foodledger_replay_applied_total"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "foodledger_replay_skipped_total"})
	ttr := prometheus.NewGauge(prometheus.GaugeOpts{Name: "foodledger_recovery_ttr_seconds"})
	lastAge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "foodledger_last_manifest_age_seconds"})

	intake := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "foodledger_intake_messages_total"}, []string{"result"})

	r.MustRegister(ops, opLatency, unitsSold, revenue, changelogAppended, snapshots, applied, skipped, ttr, lastAge, intake)
	return &Registry{
		reg:                r,
		Ops:                ops,
		OpLatency:          opLatency,
		UnitsSold:          unitsSold,
		Revenue:            revenue,
		ChangelogAppended:  changelogAppended,
		SnapshotsWritten:   snapshots,
		Applied:            applied,
		Skipped:            skipped,
		TTRSec:             ttr,
		LastManifestAgeSec: lastAge,
		IntakeMessages:     intake,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
