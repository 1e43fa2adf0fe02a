package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ligustah/fetchkit/internal/database"
	fkhttp "github.com/ligustah/fetchkit/internal/http"
	"github.com/ligustah/fetchkit/internal/storage"
)

// segment is one part of a download. end is inclusive, -1 means until EOF.
type segment struct {
	index int
	start int64
	end   int64
}

func (s segment) length() int64 {
	if s.end < 0 {
		return -1
	}
	return s.end - s.start + 1
}

// plan splits total bytes into segments of size. A download that cannot use
// ranges is a single open-ended segment.
func plan(total, size int64, ranged bool) []segment {
	if !ranged || total <= size {
		end := int64(-1)
		if ranged {
			end = total - 1
		}
		return []segment{{index: 0, start: 0, end: end}}
	}

	var segments []segment
	for start, i := int64(0), 0; start < total; start, i = start+size, i+1 {
		end := start + size - 1
		if end >= total {
			end = total - 1
		}
		segments = append(segments, segment{index: i, start: start, end: end})
	}
	return segments
}

// run performs one download end to end and settles its record.
func (m *Manager) run(ctx context.Context, job *Job) {
	err := m.download(ctx, job)
	if err == nil {
		return
	}
	m.settle(ctx, job, err)
}

func (m *Manager) download(ctx context.Context, job *Job) error {
	logger := m.logger.With(zap.Int("id", job.id))

	info, err := m.opts.Updater.SetStatus(job.id, database.StatusDownloading, nil)
	if err != nil {
		return fmt.Errorf("downloader: mark started: %w", err)
	}
	m.opts.Listener.OnStarted(info)

	head, err := m.client.Head(ctx, info.URL, info.Headers)
	if err != nil {
		return fmt.Errorf("downloader: get file info: %w", err)
	}

	ranged := head.AcceptsRanges && head.Size > m.opts.SegmentSize
	segments := plan(head.Size, m.opts.SegmentSize, ranged)
	req := storage.Request{ID: info.ID, URL: info.URL, File: info.File, Parallel: ranged}
	dir := m.opts.Storage.DirectoryForRequest(req)

	total := head.Size
	if total <= 0 {
		total = -1
	}

	var downloaded atomic.Int64
	stopProgress := m.reportProgress(job.id, &downloaded, total)
	err = m.fetchSegments(ctx, info, dir, segments, &downloaded)
	stopProgress()
	if err != nil {
		return err
	}

	logger.Debug("segments complete", zap.Int("segments", len(segments)), zap.Bool("ranged", ranged))

	written, err := m.assemble(ctx, info, dir, segments)
	if err != nil {
		return err
	}

	if err := m.opts.Storage.DeleteAllForID(ctx, dir, info.ID); err != nil {
		logger.Warn("delete temp parts", zap.Error(err))
	}

	info, err = m.opts.Updater.UpdateProgress(job.id, written, written)
	if err != nil {
		return fmt.Errorf("downloader: record size: %w", err)
	}
	info, err = m.opts.Updater.SetStatus(job.id, database.StatusCompleted, nil)
	if err != nil {
		return fmt.Errorf("downloader: mark completed: %w", err)
	}
	m.opts.Listener.OnCompleted(info)
	return nil
}

// fetchSegments downloads every segment not already stored as a complete part.
func (m *Manager) fetchSegments(ctx context.Context, info database.DownloadInfo, dir string, segments []segment, downloaded *atomic.Int64) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.SegmentWorkers)

	for _, seg := range segments {
		if n := seg.length(); n > 0 {
			if size, err := m.opts.Storage.PartSize(ctx, dir, info.ID, seg.index); err == nil && size == n {
				downloaded.Add(n)
				continue
			}
		}

		g.Go(func() error {
			if err := m.fetchSegment(ctx, info, dir, seg, downloaded); err != nil {
				return &SegmentError{Index: seg.index, Err: err}
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) fetchSegment(ctx context.Context, info database.DownloadInfo, dir string, seg segment, downloaded *atomic.Int64) error {
	var (
		resp *fkhttp.Response
		err  error
	)
	if seg.end < 0 {
		resp, err = m.client.Get(ctx, info.URL, info.Headers)
	} else {
		resp, err = m.client.GetRange(ctx, info.URL, info.Headers, seg.start, seg.end)
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	w, err := m.opts.Storage.NewPartWriter(ctx, dir, info.ID, seg.index)
	if err != nil {
		return err
	}

	n, err := io.Copy(w, &countingReader{r: resp.Body, n: downloaded})
	if err != nil {
		w.Close()
		downloaded.Add(-n)
		return fmt.Errorf("write part: %w", err)
	}
	if want := seg.length(); want > 0 && n != want {
		w.Close()
		downloaded.Add(-n)
		return fmt.Errorf("short body: got %d bytes, want %d", n, want)
	}
	if err := w.Close(); err != nil {
		downloaded.Add(-n)
		return fmt.Errorf("commit part: %w", err)
	}
	return nil
}

// assemble concatenates the parts into the output file and verifies the
// checksum. It returns the number of bytes written.
func (m *Manager) assemble(ctx context.Context, info database.DownloadInfo, dir string, segments []segment) (int64, error) {
	out := m.outputPath(info)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return 0, fmt.Errorf("downloader: create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(out), "."+filepath.Base(out)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("downloader: create output: %w", err)
	}
	defer os.Remove(tmp.Name())

	var (
		dst    io.Writer = tmp
		hasher hash.Hash
	)
	verify := m.opts.HashChecking && info.Checksum != ""
	if verify {
		hasher = sha256.New()
		dst = io.MultiWriter(tmp, hasher)
	}

	var written int64
	for _, seg := range segments {
		n, err := m.copyPart(ctx, dst, dir, info.ID, seg.index)
		written += n
		if err != nil {
			tmp.Close()
			return 0, err
		}
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("downloader: close output: %w", err)
	}

	if verify {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(actual, info.Checksum) {
			return 0, &HashMismatchError{File: info.File, Expected: info.Checksum, Actual: actual}
		}
	}

	if err := os.Rename(tmp.Name(), out); err != nil {
		return 0, fmt.Errorf("downloader: move output into place: %w", err)
	}
	return written, nil
}

func (m *Manager) copyPart(ctx context.Context, dst io.Writer, dir string, id, index int) (int64, error) {
	r, err := m.opts.Storage.NewPartReader(ctx, dir, id, index)
	if err != nil {
		return 0, fmt.Errorf("downloader: open part %d: %w", index, err)
	}
	defer r.Close()

	n, err := io.Copy(dst, r)
	if err != nil {
		return n, fmt.Errorf("downloader: copy part %d: %w", index, err)
	}
	return n, nil
}

// reportProgress publishes the byte counter every progress interval until
// the returned stop function is called.
func (m *Manager) reportProgress(id int, downloaded *atomic.Int64, total int64) (stop func()) {
	ticker := m.opts.Clock.Ticker(m.opts.ProgressInterval)
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		defer ticker.Stop()

		last := downloaded.Load()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}

			now := downloaded.Load()
			bps := int64(float64(now-last) / m.opts.ProgressInterval.Seconds())
			last = now

			var eta time.Duration
			if total > 0 && bps > 0 {
				eta = time.Duration(float64(total-now) / float64(bps) * float64(time.Second))
			}

			d, err := m.opts.Updater.UpdateProgress(id, now, total)
			if err != nil {
				if !errors.Is(err, database.ErrClosed) {
					m.logger.Debug("record progress", zap.Int("id", id), zap.Error(err))
				}
				continue
			}
			m.opts.Listener.OnProgress(d, eta, bps)
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
