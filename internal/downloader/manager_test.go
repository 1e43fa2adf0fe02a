package downloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/ligustah/fetchkit/internal/database"
	fkhttp "github.com/ligustah/fetchkit/internal/http"
	"github.com/ligustah/fetchkit/internal/listener"
	"github.com/ligustah/fetchkit/internal/network"
	"github.com/ligustah/fetchkit/internal/storage"
	"github.com/ligustah/fetchkit/internal/testutils"
)

type event struct {
	kind string
	d    database.DownloadInfo
	err  error
}

type harness struct {
	mgr     *Manager
	db      *database.BadgerManager
	store   *storage.BlobResolver
	outDir  string
	online  *atomic.Bool
	settled chan event
	events  chan event
}

func newHarness(t *testing.T, modify func(*Options)) *harness {
	t.Helper()

	db, err := database.NewBadgerManager(database.Options{Namespace: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		db:      db,
		store:   storage.NewBlobResolver(memblob.OpenBucket(nil), "test"),
		outDir:  t.TempDir(),
		online:  &atomic.Bool{},
		settled: make(chan event, 16),
		events:  make(chan event, 256),
	}
	h.online.Store(true)

	settle := func(kind string) func(database.DownloadInfo) {
		return func(d database.DownloadInfo) { h.settled <- event{kind: kind, d: d} }
	}
	note := func(kind string) func(database.DownloadInfo) {
		return func(d database.DownloadInfo) {
			select {
			case h.events <- event{kind: kind, d: d}:
			default:
			}
		}
	}

	monitor := network.NewMonitor(network.Options{
		Prober: network.ProberFunc(func(context.Context) network.Status {
			return network.Status{Connected: h.online.Load()}
		}),
	})

	opts := Options{
		Namespace:        "test",
		ConcurrentLimit:  2,
		ProgressInterval: 10 * time.Millisecond,
		SegmentSize:      16 * 1024,
		OutputDir:        h.outDir,
		HTTP:             fkhttp.Options{RetryAttempts: 0, RetryBackoff: time.Millisecond},
		Coordinator:      NewCoordinator("test", nil),
		Updater:          NewInfoUpdater(db),
		Network:          monitor,
		Storage:          h.store,
		Listener: &listener.Funcs{
			Added:     note("added"),
			Queued:    func(d database.DownloadInfo) { note("queued")(d); settle("queued")(d) },
			Started:   note("started"),
			Completed: settle("completed"),
			Cancelled: settle("cancelled"),
			Paused:    settle("paused"),
			Removed:   settle("removed"),
			Deleted:   settle("deleted"),
			Resumed:   note("resumed"),
			Error: func(d database.DownloadInfo, err error) {
				h.settled <- event{kind: "error", d: d, err: err}
			},
		},
	}
	if modify != nil {
		modify(&opts)
	}

	h.mgr, err = NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(func() { h.mgr.Close() })
	return h
}

func (h *harness) insert(t *testing.T, url, file string) database.DownloadInfo {
	t.Helper()
	d := database.NewDownload("test", url, file)
	require.NoError(t, h.db.Insert(d))
	return d
}

func (h *harness) wait(t *testing.T) event {
	t.Helper()
	select {
	case ev := <-h.settled:
		return ev
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for download to settle")
		return event{}
	}
}

func TestDownloadRanged(t *testing.T) {
	data := testutils.GenerateTestData(100 * 1024)
	server := testutils.StartTestHTTPServer(t, []testutils.TestFile{{Name: "a.bin", Data: data}})
	h := newHarness(t, nil)

	d := h.insert(t, server.FileURL("a.bin"), "a.bin")
	require.True(t, h.mgr.Start(d))

	ev := h.wait(t)
	require.Equal(t, "completed", ev.kind, "error: %v", ev.err)
	assert.Equal(t, database.StatusCompleted, ev.d.Status)
	assert.EqualValues(t, len(data), ev.d.Downloaded)
	assert.EqualValues(t, len(data), ev.d.Total)

	got, err := os.ReadFile(filepath.Join(h.outDir, "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// 100KiB in 16KiB segments.
	assert.Len(t, server.Ranges(), 7)

	dir := h.store.DirectoryForRequest(storage.Request{ID: d.ID, Parallel: true})
	_, err = h.store.PartSize(context.Background(), dir, d.ID, 0)
	assert.ErrorIs(t, err, storage.ErrPartNotFound, "temp parts should be deleted")

	h.mgr.Wait()
	assert.False(t, h.mgr.Contains(d.ID))
	assert.Equal(t, 0, h.mgr.ActiveCount())
}

func TestDownloadSequential(t *testing.T) {
	data := testutils.GenerateTestData(40 * 1024)
	server := testutils.StartTestHTTPServer(t, []testutils.TestFile{{Name: "a.bin", Data: data}}, testutils.WithoutRanges())
	h := newHarness(t, nil)

	d := h.insert(t, server.FileURL("a.bin"), "nested/a.bin")
	require.True(t, h.mgr.Start(d))

	ev := h.wait(t)
	require.Equal(t, "completed", ev.kind, "error: %v", ev.err)

	got, err := os.ReadFile(filepath.Join(h.outDir, "nested", "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, 1, server.Gets())
	assert.Empty(t, server.Ranges())
}

func TestDownloadResumesStoredParts(t *testing.T) {
	data := testutils.GenerateTestData(64 * 1024)
	server := testutils.StartTestHTTPServer(t, []testutils.TestFile{{Name: "a.bin", Data: data}})
	h := newHarness(t, nil)

	d := h.insert(t, server.FileURL("a.bin"), "a.bin")

	// Segment 0 is already on storage from an earlier attempt.
	ctx := context.Background()
	dir := h.store.DirectoryForRequest(storage.Request{ID: d.ID, Parallel: true})
	w, err := h.store.NewPartWriter(ctx, dir, d.ID, 0)
	require.NoError(t, err)
	_, err = w.Write(data[:16*1024])
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.True(t, h.mgr.Start(d))
	ev := h.wait(t)
	require.Equal(t, "completed", ev.kind, "error: %v", ev.err)

	assert.NotContains(t, server.Ranges(), "bytes=0-16383")
	assert.Len(t, server.Ranges(), 3)

	got, err := os.ReadFile(filepath.Join(h.outDir, "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestHashChecking(t *testing.T) {
	data := testutils.GenerateTestData(20 * 1024)
	server := testutils.StartTestHTTPServer(t, []testutils.TestFile{{Name: "a.bin", Data: data}})
	h := newHarness(t, func(o *Options) { o.HashChecking = true })

	good := database.NewDownload("test", server.FileURL("a.bin"), "good.bin")
	good.Checksum = testutils.Checksum(data)
	require.NoError(t, h.db.Insert(good))
	require.True(t, h.mgr.Start(good))
	ev := h.wait(t)
	require.Equal(t, "completed", ev.kind, "error: %v", ev.err)

	bad := database.NewDownload("test", server.FileURL("a.bin"), "bad.bin")
	bad.Checksum = testutils.Checksum([]byte("something else"))
	require.NoError(t, h.db.Insert(bad))
	require.True(t, h.mgr.Start(bad))
	ev = h.wait(t)
	require.Equal(t, "error", ev.kind)

	var mismatch *HashMismatchError
	require.ErrorAs(t, ev.err, &mismatch)
	assert.Equal(t, bad.Checksum, mismatch.Expected)
	assert.Equal(t, testutils.Checksum(data), mismatch.Actual)
	assert.Equal(t, database.StatusFailed, ev.d.Status)

	_, err := os.Stat(filepath.Join(h.outDir, "bad.bin"))
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadFailure(t *testing.T) {
	server := testutils.StartTestHTTPServer(t, nil)
	h := newHarness(t, nil)

	d := h.insert(t, server.FileURL("missing.bin"), "missing.bin")
	require.True(t, h.mgr.Start(d))

	ev := h.wait(t)
	require.Equal(t, "error", ev.kind)
	assert.ErrorIs(t, ev.err, fkhttp.ErrNotFound)

	stored, err := h.db.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)
}

func TestRequeueWhenOffline(t *testing.T) {
	server := testutils.StartTestHTTPServer(t, nil)
	url := server.FileURL("a.bin")
	server.Close()

	h := newHarness(t, func(o *Options) { o.RetryOnNetworkGain = true })
	h.online.Store(false)

	d := h.insert(t, url, "a.bin")
	require.True(t, h.mgr.Start(d))

	ev := h.wait(t)
	require.Equal(t, "queued", ev.kind)
	assert.Equal(t, database.StatusQueued, ev.d.Status)
	assert.Empty(t, ev.d.Error)
}

func TestConcurrencyLimit(t *testing.T) {
	gate := make(chan struct{})
	data := testutils.GenerateTestData(1024)
	server := testutils.StartTestHTTPServer(t, []testutils.TestFile{
		{Name: "a.bin", Data: data},
		{Name: "b.bin", Data: data},
	}, testutils.WithGate(gate))
	h := newHarness(t, func(o *Options) { o.ConcurrentLimit = 1 })

	a := h.insert(t, server.FileURL("a.bin"), "a.bin")
	b := h.insert(t, server.FileURL("b.bin"), "b.bin")

	require.True(t, h.mgr.Start(a))
	assert.False(t, h.mgr.Start(a), "already running")
	assert.False(t, h.mgr.Start(b), "no free slot")
	assert.False(t, h.mgr.CanAccommodate())
	assert.True(t, h.mgr.Contains(a.ID))
	assert.Equal(t, 1, h.mgr.ActiveCount())

	close(gate)
	require.Equal(t, "completed", h.wait(t).kind)
	h.mgr.Wait()

	assert.True(t, h.mgr.CanAccommodate())
	require.True(t, h.mgr.Start(b))
	require.Equal(t, "completed", h.wait(t).kind)
}

func TestCancelAndPause(t *testing.T) {
	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	server := testutils.StartTestHTTPServer(t, []testutils.TestFile{
		{Name: "a.bin", Data: testutils.GenerateTestData(1024)},
		{Name: "b.bin", Data: testutils.GenerateTestData(1024)},
	}, testutils.WithGate(gate))
	h := newHarness(t, nil)

	a := h.insert(t, server.FileURL("a.bin"), "a.bin")
	b := h.insert(t, server.FileURL("b.bin"), "b.bin")
	require.True(t, h.mgr.Start(a))
	require.True(t, h.mgr.Start(b))

	assert.True(t, h.mgr.Cancel(a.ID))
	ev := h.wait(t)
	assert.Equal(t, "cancelled", ev.kind)
	assert.Equal(t, a.ID, ev.d.ID)

	assert.True(t, h.mgr.Pause(b.ID))
	ev = h.wait(t)
	assert.Equal(t, "paused", ev.kind)
	assert.Equal(t, database.StatusPaused, ev.d.Status)

	h.mgr.Wait()
	assert.False(t, h.mgr.Cancel(a.ID), "nothing left to cancel")

	require.NoError(t, h.mgr.Resume(b.ID))
	stored, err := h.db.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusQueued, stored.Status)

	assert.Error(t, h.mgr.Resume(b.ID), "queued downloads cannot be resumed")
}

func TestEnqueueRemoveDelete(t *testing.T) {
	data := testutils.GenerateTestData(1024)
	server := testutils.StartTestHTTPServer(t, []testutils.TestFile{{Name: "a.bin", Data: data}})
	h := newHarness(t, nil)

	d := database.NewDownload("", server.FileURL("a.bin"), "a.bin")
	require.NoError(t, h.mgr.Enqueue(d))
	assert.Equal(t, "queued", h.wait(t).kind)

	stored, err := h.db.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, "test", stored.Namespace)

	err = h.mgr.Enqueue(d)
	assert.ErrorIs(t, err, database.ErrExists)

	require.True(t, h.mgr.Start(stored))
	require.Equal(t, "completed", h.wait(t).kind)
	h.mgr.Wait()

	require.NoError(t, h.mgr.Delete(context.Background(), d.ID))
	assert.Equal(t, "deleted", h.wait(t).kind)
	_, err = os.Stat(filepath.Join(h.outDir, "a.bin"))
	assert.True(t, os.IsNotExist(err))
	_, err = h.db.Get(d.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	err = h.mgr.Remove(context.Background(), d.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestRemoveRunning(t *testing.T) {
	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	server := testutils.StartTestHTTPServer(t, []testutils.TestFile{{Name: "a.bin", Data: testutils.GenerateTestData(1024)}}, testutils.WithGate(gate))
	h := newHarness(t, nil)

	d := h.insert(t, server.FileURL("a.bin"), "a.bin")
	require.True(t, h.mgr.Start(d))

	require.NoError(t, h.mgr.Remove(context.Background(), d.ID))
	ev := h.wait(t)
	assert.Equal(t, "removed", ev.kind)
	assert.Equal(t, database.StatusRemoved, ev.d.Status)
	assert.False(t, h.mgr.Contains(d.ID))

	_, err := h.db.Get(d.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestCloseRequeuesRunning(t *testing.T) {
	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	server := testutils.StartTestHTTPServer(t, []testutils.TestFile{{Name: "a.bin", Data: testutils.GenerateTestData(1024)}}, testutils.WithGate(gate))
	h := newHarness(t, nil)

	d := h.insert(t, server.FileURL("a.bin"), "a.bin")
	require.True(t, h.mgr.Start(d))

	require.NoError(t, h.mgr.Close())
	require.NoError(t, h.mgr.Close())

	stored, err := h.db.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusQueued, stored.Status)

	assert.False(t, h.mgr.Start(d))
	assert.False(t, h.mgr.CanAccommodate())
	assert.ErrorIs(t, h.mgr.Enqueue(database.NewDownload("test", "http://x", "x")), ErrClosed)
}

func TestNewManagerRequiresCollaborators(t *testing.T) {
	_, err := NewManager(Options{})
	assert.Error(t, err)
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name   string
		total  int64
		size   int64
		ranged bool
		want   []segment
	}{
		{"sequential", 100, 10, false, []segment{{0, 0, -1}}},
		{"single ranged", 10, 10, true, []segment{{0, 0, 9}}},
		{"even", 20, 10, true, []segment{{0, 0, 9}, {1, 10, 19}}},
		{"remainder", 25, 10, true, []segment{{0, 0, 9}, {1, 10, 19}, {2, 20, 24}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, plan(tt.total, tt.size, tt.ranged))
		})
	}
}

func TestRequeueMissingFiles(t *testing.T) {
	db, err := database.NewBadgerManager(database.Options{Namespace: "test"})
	require.NoError(t, err)
	defer db.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "present.bin"), []byte("x"), 0o644))

	present := database.NewDownload("test", "http://host/present", "present.bin")
	present.Status = database.StatusCompleted
	missing := database.NewDownload("test", "http://host/missing", "missing.bin")
	missing.Status = database.StatusCompleted
	missing.Downloaded, missing.Total = 10, 10
	require.NoError(t, db.Insert(present))
	require.NoError(t, db.Insert(missing))

	n, err := RequeueMissingFiles(db, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := db.Get(missing.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusQueued, got.Status)
	assert.EqualValues(t, 0, got.Downloaded)
	assert.EqualValues(t, -1, got.Total)

	got, err = db.Get(present.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusCompleted, got.Status)
}

func TestCoordinator(t *testing.T) {
	c := NewCoordinator("test", nil)

	a, ctxA := newJob(context.Background(), database.DownloadInfo{ID: 1})
	b, ctxB := newJob(context.Background(), database.DownloadInfo{ID: 2})
	dup, _ := newJob(context.Background(), database.DownloadInfo{ID: 1})

	assert.True(t, c.Add(a))
	assert.True(t, c.Add(b))
	assert.False(t, c.Add(dup))
	assert.Equal(t, []int{1, 2}, c.IDs())

	c.Remove(dup)
	assert.True(t, c.Contains(1), "removing a stale job keeps the registered one")

	c.InterruptAll(ErrCancelled)
	assert.True(t, errors.Is(context.Cause(ctxA), ErrCancelled))
	assert.Equal(t, 2, c.Len())

	c.ClearAll()
	assert.Equal(t, 0, c.Len())
	// The first cause wins.
	assert.True(t, errors.Is(context.Cause(ctxB), ErrCancelled))
}
