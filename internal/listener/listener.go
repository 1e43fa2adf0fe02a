// Package listener fans download events out to registered observers.
package listener

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ligustah/fetchkit/internal/database"
	"github.com/ligustah/fetchkit/internal/provider"
)

// Listener observes download lifecycle events.
type Listener interface {
	OnAdded(d database.DownloadInfo)
	OnQueued(d database.DownloadInfo)
	OnStarted(d database.DownloadInfo)
	OnProgress(d database.DownloadInfo, eta time.Duration, bytesPerSecond int64)
	OnCompleted(d database.DownloadInfo)
	OnError(d database.DownloadInfo, err error)
	OnPaused(d database.DownloadInfo)
	OnResumed(d database.DownloadInfo)
	OnCancelled(d database.DownloadInfo)
	OnRemoved(d database.DownloadInfo)
	OnDeleted(d database.DownloadInfo)
}

// Funcs is a Listener whose events are optional function fields.
type Funcs struct {
	Added     func(d database.DownloadInfo)
	Queued    func(d database.DownloadInfo)
	Started   func(d database.DownloadInfo)
	Progress  func(d database.DownloadInfo, eta time.Duration, bytesPerSecond int64)
	Completed func(d database.DownloadInfo)
	Error     func(d database.DownloadInfo, err error)
	Paused    func(d database.DownloadInfo)
	Resumed   func(d database.DownloadInfo)
	Cancelled func(d database.DownloadInfo)
	Removed   func(d database.DownloadInfo)
	Deleted   func(d database.DownloadInfo)
}

func (f *Funcs) OnAdded(d database.DownloadInfo)   { call(f.Added, d) }
func (f *Funcs) OnQueued(d database.DownloadInfo)  { call(f.Queued, d) }
func (f *Funcs) OnStarted(d database.DownloadInfo) { call(f.Started, d) }
func (f *Funcs) OnProgress(d database.DownloadInfo, eta time.Duration, bps int64) {
	if f.Progress != nil {
		f.Progress(d, eta, bps)
	}
}
func (f *Funcs) OnCompleted(d database.DownloadInfo) { call(f.Completed, d) }
func (f *Funcs) OnError(d database.DownloadInfo, err error) {
	if f.Error != nil {
		f.Error(d, err)
	}
}
func (f *Funcs) OnPaused(d database.DownloadInfo)    { call(f.Paused, d) }
func (f *Funcs) OnResumed(d database.DownloadInfo)   { call(f.Resumed, d) }
func (f *Funcs) OnCancelled(d database.DownloadInfo) { call(f.Cancelled, d) }
func (f *Funcs) OnRemoved(d database.DownloadInfo)   { call(f.Removed, d) }
func (f *Funcs) OnDeleted(d database.DownloadInfo)   { call(f.Deleted, d) }

func call(fn func(database.DownloadInfo), d database.DownloadInfo) {
	if fn != nil {
		fn(d)
	}
}

// Coordinator keeps the registered listeners of a namespace and refreshes
// group snapshots before dispatching.
type Coordinator struct {
	namespace string
	groups    *provider.GroupInfoProvider
	downloads *provider.DownloadProvider
	logger    *zap.Logger

	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
}

// NewCoordinator creates a coordinator for namespace.
func NewCoordinator(namespace string, groups *provider.GroupInfoProvider, downloads *provider.DownloadProvider, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		namespace: namespace,
		groups:    groups,
		downloads: downloads,
		logger:    logger.Named("listener").With(zap.String("namespace", namespace)),
		listeners: make(map[int]Listener),
	}
}

// AddListener registers l and returns an id for RemoveListener.
func (c *Coordinator) AddListener(l Listener) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.listeners[c.nextID] = l
	return c.nextID
}

// RemoveListener unregisters the listener with id.
func (c *Coordinator) RemoveListener(id int) {
	c.mu.Lock()
	delete(c.listeners, id)
	c.mu.Unlock()
}

// Len returns the number of registered listeners.
func (c *Coordinator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.listeners)
}

// ClearAll unregisters every listener.
func (c *Coordinator) ClearAll() {
	c.mu.Lock()
	c.listeners = make(map[int]Listener)
	c.mu.Unlock()
}

func (c *Coordinator) snapshot() []Listener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		out = append(out, l)
	}
	return out
}

// Dispatcher returns the Listener through which the engine reports events.
func (c *Coordinator) Dispatcher() Listener {
	return dispatcher{c}
}

func (c *Coordinator) refresh(d database.DownloadInfo, reason provider.Reason) {
	if c.groups == nil {
		return
	}
	if _, err := c.groups.Update(d, reason); err != nil {
		c.logger.Warn("refresh group snapshot", zap.Int("group", d.Group), zap.Error(err))
	}
}

func (c *Coordinator) each(d database.DownloadInfo, reason provider.Reason, fn func(Listener)) {
	c.refresh(d, reason)
	for _, l := range c.snapshot() {
		fn(l)
	}
}

type dispatcher struct {
	c *Coordinator
}

func (x dispatcher) OnAdded(d database.DownloadInfo) {
	x.c.each(d, provider.ReasonAdded, func(l Listener) { l.OnAdded(d) })
}

func (x dispatcher) OnQueued(d database.DownloadInfo) {
	x.c.each(d, provider.ReasonQueued, func(l Listener) { l.OnQueued(d) })
}

func (x dispatcher) OnStarted(d database.DownloadInfo) {
	x.c.each(d, provider.ReasonStarted, func(l Listener) { l.OnStarted(d) })
}

func (x dispatcher) OnProgress(d database.DownloadInfo, eta time.Duration, bps int64) {
	x.c.each(d, provider.ReasonProgress, func(l Listener) { l.OnProgress(d, eta, bps) })
}

func (x dispatcher) OnCompleted(d database.DownloadInfo) {
	x.c.each(d, provider.ReasonCompleted, func(l Listener) { l.OnCompleted(d) })
}

func (x dispatcher) OnError(d database.DownloadInfo, err error) {
	x.c.each(d, provider.ReasonError, func(l Listener) { l.OnError(d, err) })
}

func (x dispatcher) OnPaused(d database.DownloadInfo) {
	x.c.each(d, provider.ReasonPaused, func(l Listener) { l.OnPaused(d) })
}

func (x dispatcher) OnResumed(d database.DownloadInfo) {
	x.c.each(d, provider.ReasonResumed, func(l Listener) { l.OnResumed(d) })
}

func (x dispatcher) OnCancelled(d database.DownloadInfo) {
	x.c.each(d, provider.ReasonCancelled, func(l Listener) { l.OnCancelled(d) })
}

func (x dispatcher) OnRemoved(d database.DownloadInfo) {
	x.c.each(d, provider.ReasonRemoved, func(l Listener) { l.OnRemoved(d) })
}

func (x dispatcher) OnDeleted(d database.DownloadInfo) {
	x.c.each(d, provider.ReasonDeleted, func(l Listener) { l.OnDeleted(d) })
}
