package fetch

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/ligustah/fetchkit/internal/database"
	"github.com/ligustah/fetchkit/internal/downloader"
	"github.com/ligustah/fetchkit/internal/executor"
	"github.com/ligustah/fetchkit/internal/listener"
	"github.com/ligustah/fetchkit/internal/network"
	"github.com/ligustah/fetchkit/internal/provider"
	"github.com/ligustah/fetchkit/internal/scheduler"
	"github.com/ligustah/fetchkit/internal/storage"
)

// Handle is one acquisition of a namespace. It references the shared graph
// without owning it.
type Handle struct {
	registry  *Registry
	namespace string
	cfg       Configuration
	graph     *Graph

	once sync.Once
	err  error
}

// Namespace returns the namespace the handle was acquired for.
func (h *Handle) Namespace() string { return h.namespace }

// Config returns the configuration the graph was built with.
func (h *Handle) Config() Configuration { return h.cfg }

// Graph returns the shared graph of the namespace.
func (h *Handle) Graph() *Graph { return h.graph }

// The accessors below return the shared collaborators of the namespace.
// They stay valid until the last handle is released.

// Executor returns the serial task runner.
func (h *Handle) Executor() *executor.Executor { return h.graph.Executor }

// Database returns the record store.
func (h *Handle) Database() database.Manager { return h.graph.Database }

// Downloads returns the read-side view of the records.
func (h *Handle) Downloads() *provider.DownloadProvider { return h.graph.Downloads }

// GroupInfo returns the cached group snapshots.
func (h *Handle) GroupInfo() *provider.GroupInfoProvider { return h.graph.Groups }

// Listeners returns the listener coordinator.
func (h *Handle) Listeners() *listener.Coordinator { return h.graph.Listeners }

// Coordinator returns the set of running downloads.
func (h *Handle) Coordinator() *downloader.Coordinator { return h.graph.Coordinator }

// Updater returns the record updater used by the download manager.
func (h *Handle) Updater() *downloader.InfoUpdater { return h.graph.Updater }

// Network returns the connectivity monitor.
func (h *Handle) Network() *network.Monitor { return h.graph.Network }

// Manager returns the download manager.
func (h *Handle) Manager() *downloader.Manager { return h.graph.Manager }

// Scheduler returns the priority processor.
func (h *Handle) Scheduler() *scheduler.PriorityProcessor { return h.graph.Scheduler }

// Storage returns the temp-part resolver.
func (h *Handle) Storage() storage.Resolver { return h.graph.Storage }

// Release releases the acquisition. Only the first call reaches the
// registry; later calls return the same result.
func (h *Handle) Release() error {
	h.once.Do(func() {
		h.err = h.registry.Release(h.namespace)
	})
	return h.err
}

// With acquires namespace, runs fn with the handle and releases the handle
// on every exit path of fn, including panics.
func With(r *Registry, namespace string, cfg Configuration, fn func(h *Handle) error) (err error) {
	h, err := r.Acquire(namespace, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, h.Release())
	}()
	return fn(h)
}
