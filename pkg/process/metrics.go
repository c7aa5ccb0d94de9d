package process

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	terminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rigmacros_process_terminate_total",
		Help: "Signals sent to supervised processes, by signal and result",
	}, []string{"signal", "result"})

	exitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rigmacros_process_exit_total",
		Help: "Supervised process exits, by tool and outcome",
	}, []string{"tool", "outcome"})
)

func incTerminate(signal, result string) {
	terminateTotal.WithLabelValues(signal, result).Inc()
}

func incExit(tool, outcome string) {
	exitTotal.WithLabelValues(tool, outcome).Inc()
}
