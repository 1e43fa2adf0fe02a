package downloader

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ligustah/fetchkit/internal/database"
)

// Job is one running download.
type Job struct {
	id     int
	info   database.DownloadInfo
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func newJob(ctx context.Context, info database.DownloadInfo) (*Job, context.Context) {
	ctx, cancel := context.WithCancelCause(ctx)
	return &Job{
		id:     info.ID,
		info:   info,
		cancel: cancel,
		done:   make(chan struct{}),
	}, ctx
}

// ID returns the download id.
func (j *Job) ID() int { return j.id }

// Info returns the record the job was started with.
func (j *Job) Info() database.DownloadInfo { return j.info }

// Interrupt stops the job. The first cause wins.
func (j *Job) Interrupt(cause error) { j.cancel(cause) }

// Done is closed when the job's goroutine has returned.
func (j *Job) Done() <-chan struct{} { return j.done }

// Coordinator tracks the running jobs of a namespace by download id.
type Coordinator struct {
	logger *zap.Logger

	mu   sync.Mutex
	jobs map[int]*Job
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(namespace string, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		logger: logger.Named("coordinator").With(zap.String("namespace", namespace)),
		jobs:   make(map[int]*Job),
	}
}

// Add registers j. It returns false if a job with the same id is running.
func (c *Coordinator) Add(j *Job) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[j.id]; ok {
		return false
	}
	c.jobs[j.id] = j
	return true
}

// Remove drops the job with id if it is still the registered one.
func (c *Coordinator) Remove(j *Job) {
	c.mu.Lock()
	if c.jobs[j.id] == j {
		delete(c.jobs, j.id)
	}
	c.mu.Unlock()
}

// Get returns the running job for id.
func (c *Coordinator) Get(id int) (*Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	return j, ok
}

// Contains reports whether a job for id is running.
func (c *Coordinator) Contains(id int) bool {
	_, ok := c.Get(id)
	return ok
}

// Len returns the number of running jobs.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

// IDs returns the ids of running jobs in ascending order.
func (c *Coordinator) IDs() []int {
	c.mu.Lock()
	ids := make([]int, 0, len(c.jobs))
	for id := range c.jobs {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Ints(ids)
	return ids
}

// InterruptAll interrupts every running job with cause. Jobs stay
// registered until their goroutines return.
func (c *Coordinator) InterruptAll(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, j := range c.jobs {
		j.Interrupt(cause)
	}
}

// ClearAll interrupts every running job and forgets them.
func (c *Coordinator) ClearAll() {
	c.mu.Lock()
	jobs := c.jobs
	c.jobs = make(map[int]*Job)
	c.mu.Unlock()

	for _, j := range jobs {
		j.Interrupt(ErrInterrupted)
	}
	if len(jobs) > 0 {
		c.logger.Debug("interrupted running downloads", zap.Int("count", len(jobs)))
	}
}
