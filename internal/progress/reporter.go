package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"

	"github.com/ligustah/fetchkit/internal/database"
	"github.com/ligustah/fetchkit/internal/listener"
)

var _ listener.Listener = (*Reporter)(nil)

// Options configures the progress reporter.
type Options struct {
	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// Interval is the minimum time between two progress lines of one download.
	// Default: 500ms
	Interval time.Duration

	// Clock is used for throttling and elapsed time. Default: wall clock.
	Clock clock.Clock
}

// Reporter outputs human-readable download events.
type Reporter struct {
	out   io.Writer
	clock clock.Clock

	interval atomic.Int64

	mu        sync.Mutex
	started   map[int]time.Time
	lastPrint map[int]time.Time

	completed atomic.Int32
	failed    atomic.Int32
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	r := &Reporter{
		out:       opts.Output,
		clock:     opts.Clock,
		started:   make(map[int]time.Time),
		lastPrint: make(map[int]time.Time),
	}
	r.interval.Store(int64(opts.Interval))
	return r
}

// SetProgressInterval changes the progress line throttle.
func (r *Reporter) SetProgressInterval(d time.Duration) {
	if d > 0 {
		r.interval.Store(int64(d))
	}
}

// ProgressInterval returns the current progress line throttle.
func (r *Reporter) ProgressInterval() time.Duration {
	return time.Duration(r.interval.Load())
}

// Completed returns the number of downloads reported as completed.
func (r *Reporter) Completed() int { return int(r.completed.Load()) }

// Failed returns the number of downloads reported as failed.
func (r *Reporter) Failed() int { return int(r.failed.Load()) }

func (r *Reporter) printf(format string, args ...any) {
	fmt.Fprintf(r.out, "[fetchkit] "+format+"\n", args...)
}

func (r *Reporter) OnAdded(d database.DownloadInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printf("added: %s (%s)", d.File, d.URL)
}

func (r *Reporter) OnQueued(d database.DownloadInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printf("queued: %s", d.File)
}

func (r *Reporter) OnStarted(d database.DownloadInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started[d.ID] = r.clock.Now()
	r.printf("started: %s (%s)", d.File, d.URL)
}

func (r *Reporter) OnProgress(d database.DownloadInfo, eta time.Duration, bytesPerSecond int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if last, ok := r.lastPrint[d.ID]; ok && now.Sub(last) < r.ProgressInterval() {
		return
	}
	r.lastPrint[d.ID] = now

	if d.Total <= 0 {
		r.printf("%s: %s | Speed: %s/s", d.File, FormatBytes(d.Downloaded), FormatBytes(bytesPerSecond))
		return
	}

	etaText := "calculating..."
	if bytesPerSecond > 0 {
		etaText = formatDuration(eta)
	}
	percent := float64(d.Downloaded) / float64(d.Total) * 100
	r.printf("%s: %.1f%% | %s / %s | Speed: %s/s | ETA: %s",
		d.File,
		percent,
		FormatBytes(d.Downloaded),
		FormatBytes(d.Total),
		FormatBytes(bytesPerSecond),
		etaText,
	)
}

func (r *Reporter) OnCompleted(d database.DownloadInfo) {
	r.completed.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := r.forgetLocked(d.ID)
	r.printf("completed: %s (%s in %s)", d.File, FormatBytes(d.Downloaded), formatDuration(elapsed))
}

func (r *Reporter) OnError(d database.DownloadInfo, err error) {
	r.failed.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgetLocked(d.ID)
	r.printf("failed: %s: %v", d.File, err)
}

func (r *Reporter) OnPaused(d database.DownloadInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printf("paused: %s", d.File)
}

func (r *Reporter) OnResumed(d database.DownloadInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printf("resumed: %s", d.File)
}

func (r *Reporter) OnCancelled(d database.DownloadInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgetLocked(d.ID)
	r.printf("cancelled: %s", d.File)
}

func (r *Reporter) OnRemoved(d database.DownloadInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgetLocked(d.ID)
	r.printf("removed: %s", d.File)
}

func (r *Reporter) OnDeleted(d database.DownloadInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgetLocked(d.ID)
	r.printf("deleted: %s", d.File)
}

// forgetLocked drops per-download state and returns the time since start.
func (r *Reporter) forgetLocked(id int) time.Duration {
	var elapsed time.Duration
	if start, ok := r.started[id]; ok {
		elapsed = r.clock.Since(start)
	}
	delete(r.started, id)
	delete(r.lastPrint, id)
	return elapsed
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes formats b with IEC units (KiB, MiB, ...).
func FormatBytes(b int64) string {
	if b < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(b))
}

// ParseBytes parses a human-readable byte string such as "256MiB" or "1GB".
// IEC suffixes are powers of 1024, SI suffixes powers of 1000.
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("progress: invalid byte string %q: %w", s, err)
	}
	return int64(n), nil
}
