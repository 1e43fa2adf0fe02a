package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *BadgerManager {
	t.Helper()
	m, err := NewBadgerManager(Options{Namespace: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestInsertGetUpdate(t *testing.T) {
	m := newTestManager(t)

	d := NewDownload("test", "https://example.com/a.bin", "a.bin")
	require.NoError(t, m.Insert(d))
	assert.ErrorIs(t, m.Insert(d), ErrExists)

	got, err := m.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.URL, got.URL)
	assert.Equal(t, StatusQueued, got.Status)

	got.Status = StatusDownloading
	got.Downloaded = 42
	require.NoError(t, m.Update(got))

	got, err = m.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDownloading, got.Status)
	assert.EqualValues(t, 42, got.Downloaded)

	missing := NewDownload("test", "https://example.com/missing", "missing")
	assert.ErrorIs(t, m.Update(missing), ErrNotFound)
	_, err = m.Get(missing.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueries(t *testing.T) {
	m := newTestManager(t)

	base := time.Now()
	records := []DownloadInfo{
		{ID: 1, URL: "u1", Status: StatusQueued, Priority: PriorityNormal, Group: 7, Created: base},
		{ID: 2, URL: "u2", Status: StatusQueued, Priority: PriorityHigh, Created: base.Add(time.Second)},
		{ID: 3, URL: "u3", Status: StatusCompleted, Group: 7, Created: base},
		{ID: 4, URL: "u4", Status: StatusQueued, Priority: PriorityNormal, Created: base.Add(-time.Second)},
	}
	for _, d := range records {
		require.NoError(t, m.Insert(d))
	}

	all, err := m.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 4)

	group, err := m.GetByGroup(7)
	require.NoError(t, err)
	assert.Len(t, group, 2)

	done, err := m.GetByStatus(StatusCompleted, StatusFailed)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, 3, done[0].ID)

	pending, err := m.GetPendingByPriority()
	require.NoError(t, err)
	ids := make([]int, 0, len(pending))
	for _, d := range pending {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []int{2, 4, 1}, ids)
}

func TestDeleteCallsDelegate(t *testing.T) {
	m := newTestManager(t)

	d := NewDownload("test", "https://example.com/a.bin", "a.bin")
	require.NoError(t, m.Insert(d))

	var deleted []int
	m.SetDelegate(DelegateFunc(func(ctx context.Context, d DownloadInfo) error {
		deleted = append(deleted, d.ID)
		return nil
	}))

	require.NoError(t, m.Delete(context.Background(), d.ID))
	assert.Equal(t, []int{d.ID}, deleted)

	_, err := m.Get(d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(context.Background(), d.ID), ErrNotFound)
}

func TestDeleteDelegateError(t *testing.T) {
	m := newTestManager(t)

	d := NewDownload("test", "https://example.com/a.bin", "a.bin")
	require.NoError(t, m.Insert(d))

	boom := errors.New("boom")
	m.SetDelegate(DelegateFunc(func(context.Context, DownloadInfo) error { return boom }))

	err := m.Delete(context.Background(), d.ID)
	assert.ErrorIs(t, err, boom)
}

func TestSanitizeOnOpen(t *testing.T) {
	dir := t.TempDir()

	m, err := NewBadgerManager(Options{Namespace: "persist", Dir: dir})
	require.NoError(t, err)

	d := NewDownload("persist", "https://example.com/a.bin", "a.bin")
	d.Status = StatusDownloading
	require.NoError(t, m.Insert(d))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "second close is a no-op")

	m, err = NewBadgerManager(Options{Namespace: "persist", Dir: dir})
	require.NoError(t, err)
	defer m.Close()

	got, err := m.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
}

func TestClosedManager(t *testing.T) {
	m, err := NewBadgerManager(Options{Namespace: "closed"})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	assert.True(t, m.IsClosed())
	assert.ErrorIs(t, m.Insert(DownloadInfo{ID: 1}), ErrClosed)
	_, err = m.GetAll()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNamespaceRequired(t *testing.T) {
	_, err := NewBadgerManager(Options{})
	assert.Error(t, err)
}

func TestDownloadHelpers(t *testing.T) {
	assert.Equal(t, ID("u", "f"), ID("u", "f"))
	assert.NotEqual(t, ID("u", "f"), ID("u", "g"))
	assert.GreaterOrEqual(t, ID("u", "f"), 0)

	d := DownloadInfo{Total: -1}
	assert.Equal(t, -1, d.Progress())
	d = DownloadInfo{Total: 200, Downloaded: 50}
	assert.Equal(t, 25, d.Progress())

	assert.Equal(t, "queued", StatusQueued.String())
	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusPaused.Terminal())
}
