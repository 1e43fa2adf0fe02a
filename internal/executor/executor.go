package executor

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options configures an Executor.
type Options struct {
	// Logger receives task panics and lifecycle events.
	// Default: zap.NewNop()
	Logger *zap.Logger

	// Clock drives PostDelayed.
	// Default: clock.New()
	Clock clock.Clock
}

// Executor runs tasks serially on a single goroutine.
type Executor struct {
	name   string
	id     string
	logger *zap.Logger
	clock  clock.Clock

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	delayed map[*delayed]struct{}
	usage   int
	closed  bool
	done    chan struct{}
}

// New creates and starts an executor.
func New(name string, opts Options) *Executor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	id := uuid.NewString()
	e := &Executor{
		name:    name,
		id:      id,
		logger:  opts.Logger.Named("executor").With(zap.String("executor", name), zap.String("executor_id", id)),
		clock:   opts.Clock,
		delayed: make(map[*delayed]struct{}),
		done:    make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)

	go e.loop()
	return e
}

// Name returns the executor name.
func (e *Executor) Name() string {
	return e.name
}

// ID returns a unique identifier for this executor instance.
func (e *Executor) ID() string {
	return e.id
}

// Post queues fn for execution. It returns false if the executor is closed.
func (e *Executor) Post(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}
	e.queue = append(e.queue, fn)
	e.cond.Signal()
	return true
}

// PostDelayed queues fn for execution after d has elapsed on the executor clock.
// It returns false if the executor is closed.
func (e *Executor) PostDelayed(d time.Duration, fn func()) bool {
	if e.IsClosed() {
		return false
	}

	entry := &delayed{}
	entry.timer = e.clock.AfterFunc(d, func() {
		e.mu.Lock()
		delete(e.delayed, entry)
		e.mu.Unlock()
		e.Post(fn)
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		entry.timer.Stop()
		return false
	}
	e.delayed[entry] = struct{}{}
	return true
}

type delayed struct {
	timer *clock.Timer
}

// IncrementUsageCounter records one more user of the executor.
func (e *Executor) IncrementUsageCounter() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.usage++
	return e.usage
}

// DecrementUsageCounter records one less user. The counter never drops below zero.
func (e *Executor) DecrementUsageCounter() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.usage > 0 {
		e.usage--
	}
	return e.usage
}

// UsageCount returns the current number of users.
func (e *Executor) UsageCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usage
}

// Close stops the executor. Queued tasks that have not started are dropped
// and pending delayed tasks are cancelled. Close does not wait for a running
// task to finish, so it is safe to call from inside a task; use Done to wait.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	for d := range e.delayed {
		d.timer.Stop()
	}
	e.delayed = nil
	if n := len(e.queue); n > 0 {
		e.logger.Debug("dropping queued tasks", zap.Int("count", n))
	}
	e.queue = nil
	e.cond.Broadcast()
	return nil
}

// IsClosed reports whether Close has been called.
func (e *Executor) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Done is closed once the executor goroutine has exited.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

func (e *Executor) loop() {
	defer close(e.done)

	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if e.closed {
			e.mu.Unlock()
			return
		}
		fn := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.run(fn)
	}
}

func (e *Executor) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("task panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
