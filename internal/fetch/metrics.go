package fetch

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Error kinds of the fetchkit_registry_errors_total counter.
const (
	errorKindConstruction = "construction"
	errorKindMisuse       = "misuse"
	errorKindTeardown     = "teardown"
)

type metrics struct {
	live      prometheus.Gauge
	acquires  prometheus.Counter
	releases  prometheus.Counter
	teardowns prometheus.Counter
	errors    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		live: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fetchkit",
			Subsystem: "registry",
			Name:      "live_namespaces",
			Help:      "Number of namespaces with a live subsystem graph.",
		})),
		acquires: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fetchkit",
			Subsystem: "registry",
			Name:      "acquires_total",
			Help:      "Successful namespace acquisitions.",
		})),
		releases: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fetchkit",
			Subsystem: "registry",
			Name:      "releases_total",
			Help:      "Releases of live namespaces.",
		})),
		teardowns: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fetchkit",
			Subsystem: "registry",
			Name:      "teardowns_total",
			Help:      "Subsystem graphs torn down after their last release.",
		})),
		errors: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fetchkit",
			Subsystem: "registry",
			Name:      "errors_total",
			Help:      "Registry failures by kind.",
		}, []string{"kind"})),
	}
}

// register adds c to reg, reusing an identical collector registered by
// another Registry. A nil reg leaves c unregistered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
