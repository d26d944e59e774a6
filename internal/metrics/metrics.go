// Package metrics holds the prometheus collectors of the coordination core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolution outcomes.
const (
	OutcomeResolved    = "resolved"
	OutcomeCached      = "cached"
	OutcomeVetoed      = "vetoed"
	OutcomeNoImporter  = "no_importer"
	OutcomeFailed      = "failed"
	OutcomeSuccess     = "success"
	OutcomeExhausted   = "resource_exhausted"
	OutcomeBackendFail = "backend_error"
)

// Compile kinds.
const (
	KindFull        = "full"
	KindIncremental = "incremental"
	KindSyntax      = "syntax"
)

var (
	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groovyls_resolutions_total",
		Help: "Classpath resolutions by outcome",
	}, []string{"outcome"})

	importerInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groovyls_importer_invocations_total",
		Help: "Build tool importer invocations by importer",
	}, []string{"importer"})

	compilationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groovyls_compilations_total",
		Help: "Scope compilations by kind and outcome",
	}, []string{"kind", "outcome"})

	compileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "groovyls_compile_duration_seconds",
		Help:    "Time spent compiling a scope",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"kind"})

	permitsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "groovyls_compile_permits_in_use",
		Help: "Compilation permits currently held",
	})

	poolRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groovyls_pool_rejections_total",
		Help: "Tasks rejected by an executor pool",
	}, []string{"pool"})
)

// Resolution counts one resolution outcome.
func Resolution(outcome string) {
	resolutionsTotal.WithLabelValues(outcome).Inc()
}

// ImporterInvoked counts one importer call.
func ImporterInvoked(importer string) {
	importerInvocations.WithLabelValues(importer).Inc()
}

// Compilation records one compile.
func Compilation(kind, outcome string, d time.Duration) {
	compilationsTotal.WithLabelValues(kind, outcome).Inc()
	compileDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// PermitsInUse sets the permits gauge.
func PermitsInUse(n int64) {
	permitsInUse.Set(float64(n))
}

// PoolRejected counts a rejected submission.
func PoolRejected(pool string) {
	poolRejections.WithLabelValues(pool).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
