// Package network watches connectivity and notifies observers when it changes.
package network

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Status is a connectivity snapshot.
type Status struct {
	Connected bool
	Metered   bool
}

// Prober reports the current connectivity.
type Prober interface {
	Probe(ctx context.Context) Status
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) Status

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) Status {
	return f(ctx)
}

// Listener is notified when connectivity changes.
type Listener interface {
	OnNetworkChanged(s Status)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(s Status)

// OnNetworkChanged calls f.
func (f ListenerFunc) OnNetworkChanged(s Status) {
	f(s)
}

// Options configures a Monitor.
type Options struct {
	// Prober checks connectivity. Default: InterfaceProber.
	Prober Prober

	// Interval between probes while listeners are registered.
	// Default: 5s
	Interval time.Duration

	// Clock drives the polling ticker. Default: clock.New()
	Clock clock.Clock

	// Logger. Default: zap.NewNop()
	Logger *zap.Logger
}

// Monitor polls a Prober while at least one listener is registered.
type Monitor struct {
	opts   Options
	logger *zap.Logger

	mu        sync.Mutex
	listeners map[*registration]struct{}
	last      Status
	stop      context.CancelFunc
}

type registration struct {
	l Listener
}

// NewMonitor creates a monitor. Polling starts with the first listener.
func NewMonitor(opts Options) *Monitor {
	if opts.Prober == nil {
		opts.Prober = InterfaceProber{}
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Monitor{
		opts:      opts,
		logger:    opts.Logger.Named("network"),
		listeners: make(map[*registration]struct{}),
		last:      opts.Prober.Probe(context.Background()),
	}
}

// IsNetworkAvailable probes connectivity now.
func (m *Monitor) IsNetworkAvailable() bool {
	return m.opts.Prober.Probe(context.Background()).Connected
}

// IsOnAllowedNetwork reports whether the current network satisfies unmeteredOnly.
func (m *Monitor) IsOnAllowedNetwork(unmeteredOnly bool) bool {
	s := m.opts.Prober.Probe(context.Background())
	if !s.Connected {
		return false
	}
	return !unmeteredOnly || !s.Metered
}

// RegisterNetworkChangeListener adds l and returns a function that removes it.
func (m *Monitor) RegisterNetworkChangeListener(l Listener) (unregister func()) {
	reg := &registration{l: l}

	m.mu.Lock()
	m.listeners[reg] = struct{}{}
	if m.stop == nil {
		m.startLocked()
	}
	m.mu.Unlock()

	return func() { m.unregister(reg) }
}

// UnregisterAllNetworkChangeListeners removes all listeners and stops polling.
func (m *Monitor) UnregisterAllNetworkChangeListeners() {
	m.mu.Lock()
	m.listeners = make(map[*registration]struct{})
	m.stopIfIdleLocked()
	m.mu.Unlock()
}

// ListenerCount returns the number of registered listeners.
func (m *Monitor) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

func (m *Monitor) unregister(reg *registration) {
	m.mu.Lock()
	delete(m.listeners, reg)
	m.stopIfIdleLocked()
	m.mu.Unlock()
}

func (m *Monitor) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	m.stop = cancel
	go m.poll(ctx, m.opts.Clock.Ticker(m.opts.Interval))
}

// stopIfIdleLocked cancels polling when no listeners remain. It does not wait
// for the poller to exit since listeners may unregister from a callback.
func (m *Monitor) stopIfIdleLocked() {
	if len(m.listeners) > 0 || m.stop == nil {
		return
	}
	m.stop()
	m.stop = nil
}

// Polling reports whether the poller is running.
func (m *Monitor) Polling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}

func (m *Monitor) poll(ctx context.Context, ticker *clock.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	s := m.opts.Prober.Probe(ctx)

	m.mu.Lock()
	if s == m.last || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.last = s
	listeners := make([]Listener, 0, len(m.listeners))
	for reg := range m.listeners {
		listeners = append(listeners, reg.l)
	}
	m.mu.Unlock()

	m.logger.Info("network changed", zap.Bool("connected", s.Connected), zap.Bool("metered", s.Metered))
	for _, l := range listeners {
		l.OnNetworkChanged(s)
	}
}

// InterfaceProber reports connected when any non-loopback interface is up
// and has an address.
type InterfaceProber struct{}

// Probe implements Prober.
func (InterfaceProber) Probe(context.Context) Status {
	ifaces, err := net.Interfaces()
	if err != nil {
		return Status{}
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return Status{Connected: true}
		}
	}
	return Status{}
}
