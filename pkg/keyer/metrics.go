package keyer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	keyingTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rigmacros_keying_total",
		Help: "Keying operations by action kind and result",
	}, []string{"kind", "result"})

	keyingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rigmacros_keying_duration_seconds",
		Help:    "Wall time of keying operations",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"kind"})

	pttAsserted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rigmacros_ptt_asserted",
		Help: "1 while the coordinator holds PTT asserted",
	})

	restoreFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rigmacros_mode_restore_failures_total",
		Help: "Mode restores that failed after a prompt",
	})
)

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isRejection(err):
		return "rejected"
	default:
		return "error"
	}
}
