// Package admin exposes TokenSmart's runtime attribute surface: the
// read-only central_pool endpoint, the admin_adjust write, the read/write
// mips_threshold endpoint, plus Prometheus gauges for the fleet's token
// and pool-mode state.
package admin

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tokensmart/governor/internal/governor"
	"github.com/tokensmart/governor/internal/tokenpool"
)

// Metrics are the process-wide gauges registered once at startup; no
// per-FD label cardinality beyond the small, bounded fd_id set.
type Metrics struct {
	centralPool     prometheus.Gauge
	tokensInSystem  prometheus.Gauge
	mipsThreshold   prometheus.Gauge
	fdTokens        *prometheus.GaugeVec
	fdStarvation    *prometheus.GaugeVec
	poolModeIsFair  prometheus.Gauge
}

// NewMetrics constructs and registers the gauges against reg. Passing
// prometheus.NewRegistry() (rather than the global DefaultRegisterer)
// keeps repeated construction in tests from panicking on double
// registration, the way prom_counters.go's package-level MustRegister
// does not need to guard against.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		centralPool: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tokensmart_central_pool_tokens",
			Help: "Tokens currently unheld by any frequency domain",
		}),
		tokensInSystem: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tokensmart_tokens_in_system",
			Help: "Total tokens in the fleet, held plus pooled",
		}),
		mipsThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tokensmart_mips_threshold",
			Help: "Current IPC threshold used by the frequency-sensitivity regret test",
		}),
		fdTokens: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tokensmart_fd_tokens",
			Help: "Tokens currently held by a frequency domain",
		}, []string{"fd_id"}),
		fdStarvation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tokensmart_fd_starvation_count",
			Help: "Consecutive empty-pool ticks observed by a frequency domain",
		}, []string{"fd_id"}),
		poolModeIsFair: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tokensmart_pool_mode_fair",
			Help: "1 when the shared pool is in FAIR mode, 0 when GREEDY",
		}),
	}
	reg.MustRegister(m.centralPool, m.tokensInSystem, m.mipsThreshold, m.fdTokens, m.fdStarvation, m.poolModeIsFair)
	return m
}

// Refresh samples the daemon's current state into the gauges. Called
// periodically by the admin server, not on the hot tick path.
func (m *Metrics) Refresh(d *governor.Daemon) {
	pool, tokensInSystem, mode := d.Pool().Snapshot()
	m.centralPool.Set(float64(pool))
	m.tokensInSystem.Set(float64(tokensInSystem))
	m.mipsThreshold.Set(d.IPCThreshold().Load())

	fair := 0.0
	if mode == tokenpool.Fair {
		fair = 1
	}
	m.poolModeIsFair.Set(fair)

	for _, fd := range d.Snapshot() {
		label := strconv.Itoa(fd.ID)
		m.fdTokens.WithLabelValues(label).Set(float64(fd.MyTokens))
		m.fdStarvation.WithLabelValues(label).Set(float64(fd.State.Starvation))
	}
}
