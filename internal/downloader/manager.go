package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ligustah/fetchkit/internal/database"
	fkhttp "github.com/ligustah/fetchkit/internal/http"
	"github.com/ligustah/fetchkit/internal/listener"
	"github.com/ligustah/fetchkit/internal/network"
	"github.com/ligustah/fetchkit/internal/storage"
)

// Options configures a Manager.
type Options struct {
	Namespace string

	// ConcurrentLimit caps the number of running downloads.
	// Default: 1
	ConcurrentLimit int

	// ProgressInterval is how often progress is reported per download.
	// Default: 2s
	ProgressInterval time.Duration

	// SegmentSize is the size of one ranged request.
	// Default: 8MiB
	SegmentSize int64

	// SegmentWorkers is the number of parallel ranged requests per download.
	// Default: 4
	SegmentWorkers int

	// OutputDir is where relative record file names are resolved.
	OutputDir string

	// HashChecking verifies the sha256 of finished files against the record checksum.
	HashChecking bool

	// RetryOnNetworkGain re-queues downloads that fail while offline.
	RetryOnNetworkGain bool

	HTTP fkhttp.Options

	Coordinator *Coordinator
	Updater     *InfoUpdater
	Listener    listener.Listener
	Network     *network.Monitor
	Storage     storage.Resolver

	Clock  clock.Clock
	Logger *zap.Logger
}

// Manager runs downloads within a concurrency limit.
type Manager struct {
	opts   Options
	client *fkhttp.Client
	slots  *semaphore.Weighted
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	// startMu orders wg.Add in Start against the wg.Wait in Close.
	startMu sync.Mutex
	wg      sync.WaitGroup
}

// NewManager creates a manager. Coordinator, Updater, Listener, Network and
// Storage are required.
func NewManager(opts Options) (*Manager, error) {
	switch {
	case opts.Coordinator == nil:
		return nil, errors.New("downloader: coordinator is required")
	case opts.Updater == nil:
		return nil, errors.New("downloader: info updater is required")
	case opts.Listener == nil:
		return nil, errors.New("downloader: listener is required")
	case opts.Network == nil:
		return nil, errors.New("downloader: network monitor is required")
	case opts.Storage == nil:
		return nil, errors.New("downloader: storage resolver is required")
	}
	if opts.ConcurrentLimit <= 0 {
		opts.ConcurrentLimit = 1
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 2 * time.Second
	}
	if opts.SegmentSize <= 0 {
		opts.SegmentSize = 8 * 1024 * 1024
	}
	if opts.SegmentWorkers <= 0 {
		opts.SegmentWorkers = 4
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HTTP.Logger == nil {
		opts.HTTP.Logger = opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:   opts,
		client: fkhttp.NewClient(opts.HTTP),
		slots:  semaphore.NewWeighted(int64(opts.ConcurrentLimit)),
		logger: opts.Logger.Named("downloader").With(zap.String("namespace", opts.Namespace)),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// ConcurrentLimit returns the maximum number of running downloads.
func (m *Manager) ConcurrentLimit() int { return m.opts.ConcurrentLimit }

// ActiveCount returns the number of running downloads.
func (m *Manager) ActiveCount() int { return m.opts.Coordinator.Len() }

// CanAccommodate reports whether another download could start now.
func (m *Manager) CanAccommodate() bool {
	return !m.closed.Load() && m.ActiveCount() < m.opts.ConcurrentLimit
}

// Contains reports whether the download with id is running.
func (m *Manager) Contains(id int) bool { return m.opts.Coordinator.Contains(id) }

// Start begins downloading info in the background. It returns false if the
// manager is closed, the download is already running, or no slot is free.
func (m *Manager) Start(info database.DownloadInfo) bool {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.closed.Load() || m.Contains(info.ID) {
		return false
	}
	if !m.slots.TryAcquire(1) {
		return false
	}

	job, ctx := newJob(m.ctx, info)
	if !m.opts.Coordinator.Add(job) {
		m.slots.Release(1)
		return false
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.slots.Release(1)
		defer close(job.done)
		defer m.opts.Coordinator.Remove(job)
		m.run(ctx, job)
	}()
	return true
}

// Cancel stops the running download with id and marks it cancelled.
func (m *Manager) Cancel(id int) bool {
	return m.interrupt(id, ErrCancelled)
}

// Pause stops the running download with id and marks it paused.
func (m *Manager) Pause(id int) bool {
	return m.interrupt(id, ErrPaused)
}

func (m *Manager) interrupt(id int, cause error) bool {
	job, ok := m.opts.Coordinator.Get(id)
	if !ok {
		return false
	}
	job.Interrupt(cause)
	return true
}

// CancelAll cancels every running download.
func (m *Manager) CancelAll() {
	m.opts.Coordinator.InterruptAll(ErrCancelled)
}

// Enqueue stores new records as queued and reports them as added.
func (m *Manager) Enqueue(downloads ...database.DownloadInfo) error {
	if m.closed.Load() {
		return ErrClosed
	}
	for _, d := range downloads {
		if d.Namespace == "" {
			d.Namespace = m.opts.Namespace
		}
		d.Status = database.StatusQueued
		if err := m.opts.Updater.db.Insert(d); err != nil {
			return fmt.Errorf("downloader: enqueue %d: %w", d.ID, err)
		}
		m.opts.Listener.OnAdded(d)
		m.opts.Listener.OnQueued(d)
	}
	return nil
}

// Resume re-queues a paused, failed or cancelled download.
func (m *Manager) Resume(id int) error {
	d, err := m.opts.Updater.Get(id)
	if err != nil {
		return fmt.Errorf("downloader: resume %d: %w", id, err)
	}
	switch d.Status {
	case database.StatusPaused, database.StatusFailed, database.StatusCancelled:
	default:
		return fmt.Errorf("downloader: resume %d: status is %s", id, d.Status)
	}
	d, err = m.opts.Updater.SetStatus(id, database.StatusQueued, nil)
	if err != nil {
		return fmt.Errorf("downloader: resume %d: %w", id, err)
	}
	m.opts.Listener.OnResumed(d)
	m.opts.Listener.OnQueued(d)
	return nil
}

// Remove stops the download with id if it is running and deletes its record
// and temp parts. The output file is kept.
func (m *Manager) Remove(ctx context.Context, id int) error {
	d, err := m.drop(ctx, id)
	if err != nil {
		return err
	}
	d.Status = database.StatusRemoved
	m.opts.Listener.OnRemoved(d)
	return nil
}

// Delete is Remove plus deletion of the output file.
func (m *Manager) Delete(ctx context.Context, id int) error {
	d, err := m.drop(ctx, id)
	if err != nil {
		return err
	}
	if err := os.Remove(m.outputPath(d)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("downloader: delete output of %d: %w", id, err)
	}
	d.Status = database.StatusDeleted
	m.opts.Listener.OnDeleted(d)
	return nil
}

func (m *Manager) drop(ctx context.Context, id int) (database.DownloadInfo, error) {
	if job, ok := m.opts.Coordinator.Get(id); ok {
		job.Interrupt(ErrRemoved)
		select {
		case <-job.Done():
		case <-ctx.Done():
			return database.DownloadInfo{}, ctx.Err()
		}
	}

	d, err := m.opts.Updater.Get(id)
	if err != nil {
		return d, fmt.Errorf("downloader: remove %d: %w", id, err)
	}
	if err := m.opts.Updater.db.Delete(ctx, id); err != nil {
		return d, fmt.Errorf("downloader: remove %d: %w", id, err)
	}
	return d, nil
}

// Close interrupts all running downloads and waits for them to return.
func (m *Manager) Close() error {
	m.startMu.Lock()
	swapped := m.closed.CompareAndSwap(false, true)
	m.startMu.Unlock()
	if !swapped {
		return nil
	}
	m.opts.Coordinator.InterruptAll(ErrInterrupted)
	m.cancel()
	m.wg.Wait()
	return nil
}

// Wait blocks until no download started by m is running.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) outputPath(d database.DownloadInfo) string {
	if filepath.IsAbs(d.File) {
		return d.File
	}
	return filepath.Join(m.opts.OutputDir, d.File)
}

// settle records the outcome of a finished job and notifies listeners.
func (m *Manager) settle(ctx context.Context, job *Job, err error) {
	logger := m.logger.With(zap.Int("id", job.id))

	if err == nil {
		return
	}

	cause := context.Cause(ctx)
	if ctx.Err() == nil {
		cause = nil
	}

	var (
		status database.Status
		notify func(database.DownloadInfo)
		record error
	)
	switch {
	case errors.Is(cause, ErrRemoved):
		return
	case errors.Is(cause, ErrCancelled):
		status, notify = database.StatusCancelled, m.opts.Listener.OnCancelled
	case errors.Is(cause, ErrPaused):
		status, notify = database.StatusPaused, m.opts.Listener.OnPaused
	case cause != nil:
		// Shutdown. Leave the record queued so the next owner picks it up.
		status = database.StatusQueued
	case m.opts.RetryOnNetworkGain && !m.opts.Network.IsNetworkAvailable():
		logger.Info("network lost, re-queueing download", zap.Error(err))
		status, notify = database.StatusQueued, m.opts.Listener.OnQueued
	default:
		logger.Warn("download failed", zap.Error(err))
		status, record = database.StatusFailed, err
	}

	d, uerr := m.opts.Updater.SetStatus(job.id, status, record)
	if uerr != nil {
		logger.Debug("record outcome", zap.Stringer("status", status), zap.Error(uerr))
		return
	}
	if record != nil {
		m.opts.Listener.OnError(d, record)
		return
	}
	if notify != nil {
		notify(d)
	}
}
