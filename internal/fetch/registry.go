package fetch

import (
	"errors"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures a Registry.
type Option func(*Registry)

// WithBuilder replaces Build as the graph constructor.
func WithBuilder(b Builder) Option {
	return func(r *Registry) { r.build = b }
}

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithRegisterer registers the registry metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Registry) { r.registerer = reg }
}

// entry binds a namespace to its live graph. The usage counter lives on the
// graph's executor.
type entry struct {
	graph *Graph
	cfg   Configuration
}

// Registry shares one subsystem graph per namespace between all holders and
// tears it down when the last holder releases it.
//
// A single mutex covers lookup, construction and counting in Acquire and
// lookup, counting and teardown in Release, so operations on all namespaces
// are serialized.
type Registry struct {
	build      Builder
	logger     *zap.Logger
	registerer prometheus.Registerer
	metrics    *metrics

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		build:   Build,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("registry")
	r.metrics = newMetrics(r.registerer)
	return r
}

// Acquire returns a handle onto the graph of namespace, building the graph
// if the namespace has no live entry. Every successful Acquire must be paired
// with exactly one Release. cfg is only used when the graph is built.
func (r *Registry) Acquire(namespace string, cfg Configuration) (*Handle, error) {
	logger := r.logger.With(zap.String("namespace", namespace))

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[namespace]
	if !ok {
		g, err := r.build(namespace, cfg)
		if err == nil && !g.complete() {
			if g != nil {
				g.abandon()
			}
			err = errIncompleteGraph
		}
		if err != nil {
			var ce *ConstructionError
			if !errors.As(err, &ce) {
				err = &ConstructionError{Namespace: namespace, Step: "build", Err: err}
			}
			r.metrics.errors.WithLabelValues(errorKindConstruction).Inc()
			logger.Error("construct namespace", zap.Error(err))
			return nil, err
		}

		cfg.Namespace = namespace
		e = &entry{graph: g, cfg: cfg}
		r.entries[namespace] = e
		r.metrics.live.Inc()
		logger.Info("namespace constructed")
	}

	count := e.graph.Executor.IncrementUsageCounter()
	r.metrics.acquires.Inc()
	logger.Debug("namespace acquired", zap.Int("usage", count))

	return &Handle{registry: r, namespace: namespace, cfg: e.cfg, graph: e.graph}, nil
}

// Release gives up one acquisition of namespace. When the last one is
// released the graph is torn down in order and the namespace removed, even
// if teardown steps fail. Releasing a namespace without a live entry is
// logged and otherwise ignored.
func (r *Registry) Release(namespace string) error {
	logger := r.logger.With(zap.String("namespace", namespace))

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[namespace]
	if !ok {
		r.metrics.errors.WithLabelValues(errorKindMisuse).Inc()
		logger.Warn("release without matching acquire", zap.Error(ErrNotAcquired))
		return nil
	}

	r.metrics.releases.Inc()
	count := e.graph.Executor.DecrementUsageCounter()
	if count > 0 {
		logger.Debug("namespace released", zap.Int("usage", count))
		return nil
	}

	err := e.graph.teardown()
	delete(r.entries, namespace)
	r.metrics.live.Dec()
	r.metrics.teardowns.Inc()

	if err != nil {
		r.metrics.errors.WithLabelValues(errorKindTeardown).Inc()
		logger.Error("namespace teardown", zap.Error(err))
		return newTeardownError(namespace, err)
	}
	logger.Info("namespace torn down")
	return nil
}

// UsageCount returns the number of outstanding acquisitions of namespace.
func (r *Registry) UsageCount(namespace string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[namespace]; ok {
		return e.graph.Executor.UsageCount()
	}
	return 0
}

// Namespaces returns the live namespaces in sorted order.
func (r *Registry) Namespaces() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.entries))
	for ns := range r.entries {
		names = append(names, ns)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}
