// Package scheduler starts queued downloads in priority order.
package scheduler

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ligustah/fetchkit/internal/database"
	"github.com/ligustah/fetchkit/internal/executor"
	"github.com/ligustah/fetchkit/internal/network"
)

// Pending lists queued downloads, highest priority first.
type Pending interface {
	GetPendingByPriority() ([]database.DownloadInfo, error)
}

// Starter starts downloads within its own concurrency limit.
type Starter interface {
	CanAccommodate() bool
	Contains(id int) bool
	Start(d database.DownloadInfo) bool
}

// Options configures a PriorityProcessor.
type Options struct {
	Namespace string

	Executor *executor.Executor
	Pending  Pending
	Starter  Starter
	Network  *network.Monitor

	// GlobalNetworkType applies to downloads whose own type is NetworkGlobalOff.
	GlobalNetworkType database.NetworkType

	// RetryOnNetworkGain runs a pass as soon as the network comes back.
	RetryOnNetworkGain bool

	// AutoStart starts the processor from NewPriorityProcessor.
	AutoStart bool

	// Interval is the delay between passes while downloads are active.
	// Default: 500ms
	Interval time.Duration

	// MaxBackoff caps the delay between passes while nothing is queued.
	// Default: 30s
	MaxBackoff time.Duration

	Logger *zap.Logger
}

// PriorityProcessor runs passes on the namespace executor. Each pass starts
// the highest-priority queued downloads that fit the free slots and the
// current network.
type PriorityProcessor struct {
	opts   Options
	logger *zap.Logger

	mu         sync.Mutex
	running    bool
	paused     bool
	generation uint64
	backoff    time.Duration
	globalType database.NetworkType
	unregister func()
}

// NewPriorityProcessor creates a processor. Executor, Pending, Starter and
// Network are required.
func NewPriorityProcessor(opts Options) (*PriorityProcessor, error) {
	switch {
	case opts.Executor == nil:
		return nil, errors.New("scheduler: executor is required")
	case opts.Pending == nil:
		return nil, errors.New("scheduler: pending source is required")
	case opts.Starter == nil:
		return nil, errors.New("scheduler: starter is required")
	case opts.Network == nil:
		return nil, errors.New("scheduler: network monitor is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.Interval {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	p := &PriorityProcessor{
		opts:       opts,
		logger:     opts.Logger.Named("scheduler").With(zap.String("namespace", opts.Namespace)),
		backoff:    opts.Interval,
		globalType: opts.GlobalNetworkType,
	}
	if opts.AutoStart {
		p.Start()
	}
	return p, nil
}

// Start begins processing. Starting a running processor is a no-op.
func (p *PriorityProcessor) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.paused = false
	p.backoff = p.opts.Interval
	p.mu.Unlock()

	unregister := p.opts.Network.RegisterNetworkChangeListener(network.ListenerFunc(p.onNetworkChanged))

	p.mu.Lock()
	p.unregister = unregister
	p.scheduleLocked(0)
	p.mu.Unlock()

	p.logger.Debug("started")
}

// Stop ends processing. Running downloads are not affected.
func (p *PriorityProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.paused = false
	p.generation++
	unregister := p.unregister
	p.unregister = nil
	p.mu.Unlock()

	if unregister != nil {
		unregister()
	}
	p.logger.Debug("stopped")
}

// Pause suspends passes until Resume.
func (p *PriorityProcessor) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.paused {
		return
	}
	p.paused = true
	p.generation++
}

// Resume continues a paused processor with an immediate pass.
func (p *PriorityProcessor) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || !p.paused {
		return
	}
	p.paused = false
	p.backoff = p.opts.Interval
	p.scheduleLocked(0)
}

// IsRunning reports whether the processor was started and not stopped.
func (p *PriorityProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// IsPaused reports whether the processor is paused.
func (p *PriorityProcessor) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Kick resets the idle backoff and runs a pass now.
func (p *PriorityProcessor) Kick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.paused {
		return
	}
	p.backoff = p.opts.Interval
	p.scheduleLocked(0)
}

// GlobalNetworkType returns the network type applied to downloads without
// their own.
func (p *PriorityProcessor) GlobalNetworkType() database.NetworkType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.globalType
}

// SetGlobalNetworkType changes the global network type and runs a pass.
func (p *PriorityProcessor) SetGlobalNetworkType(nt database.NetworkType) {
	p.mu.Lock()
	p.globalType = nt
	p.mu.Unlock()
	p.Kick()
}

func (p *PriorityProcessor) onNetworkChanged(s network.Status) {
	p.logger.Debug("network changed", zap.Bool("connected", s.Connected), zap.Bool("metered", s.Metered))
	if s.Connected && p.opts.RetryOnNetworkGain {
		p.Kick()
	}
}

// scheduleLocked supersedes any pending pass with one after delay.
func (p *PriorityProcessor) scheduleLocked(delay time.Duration) {
	p.generation++
	gen := p.generation

	task := func() { p.pass(gen) }
	var ok bool
	if delay <= 0 {
		ok = p.opts.Executor.Post(task)
	} else {
		ok = p.opts.Executor.PostDelayed(delay, task)
	}
	if !ok {
		p.logger.Debug("executor closed, pass not scheduled")
	}
}

func (p *PriorityProcessor) current(gen uint64) (bool, database.NetworkType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running && !p.paused && p.generation == gen, p.globalType
}

func (p *PriorityProcessor) pass(gen uint64) {
	ok, global := p.current(gen)
	if !ok {
		return
	}

	waiting := p.startPending(global)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generation != gen || !p.running || p.paused {
		return
	}
	if waiting {
		p.backoff = p.opts.Interval
	} else {
		p.backoff *= 2
		if p.backoff > p.opts.MaxBackoff {
			p.backoff = p.opts.MaxBackoff
		}
	}
	p.scheduleLocked(p.backoff)
}

// startPending starts what fits. It reports whether anything was queued.
func (p *PriorityProcessor) startPending(global database.NetworkType) bool {
	if !p.opts.Network.IsNetworkAvailable() {
		return false
	}

	pending, err := p.opts.Pending.GetPendingByPriority()
	if err != nil {
		p.logger.Warn("list pending downloads", zap.Error(err))
		return false
	}

	for _, d := range pending {
		if !p.opts.Starter.CanAccommodate() {
			break
		}
		if p.opts.Starter.Contains(d.ID) {
			continue
		}
		if !p.opts.Network.IsOnAllowedNetwork(unmeteredOnly(d.NetworkType, global)) {
			continue
		}
		if p.opts.Starter.Start(d) {
			p.logger.Debug("started download", zap.Int("id", d.ID), zap.Int("priority", int(d.Priority)))
		}
	}
	return len(pending) > 0
}

func unmeteredOnly(own, global database.NetworkType) bool {
	if own == database.NetworkGlobalOff {
		own = global
	}
	return own == database.NetworkUnmetered
}
