package database

import (
	"context"
	"errors"
)

// Common errors.
var (
	ErrNotFound = errors.New("database: download not found")
	ErrExists   = errors.New("database: download already exists")
	ErrClosed   = errors.New("database: manager is closed")
)

// Delegate is called back by a Manager for work that lives outside the database.
type Delegate interface {
	// DeleteTempFilesForDownload removes any temporary data kept for d.
	DeleteTempFilesForDownload(ctx context.Context, d DownloadInfo) error
}

// DelegateFunc adapts a function to the Delegate interface.
type DelegateFunc func(ctx context.Context, d DownloadInfo) error

// DeleteTempFilesForDownload calls f.
func (f DelegateFunc) DeleteTempFilesForDownload(ctx context.Context, d DownloadInfo) error {
	return f(ctx, d)
}

// Manager persists download records for one namespace.
type Manager interface {
	// Insert stores a new record. It fails with ErrExists if the id is taken.
	Insert(d DownloadInfo) error

	// Update overwrites an existing record. It fails with ErrNotFound otherwise.
	Update(d DownloadInfo) error

	// Delete removes the record and asks the delegate to drop its temporary files.
	Delete(ctx context.Context, id int) error

	Get(id int) (DownloadInfo, error)
	GetAll() ([]DownloadInfo, error)
	GetByStatus(statuses ...Status) ([]DownloadInfo, error)
	GetByGroup(group int) ([]DownloadInfo, error)

	// GetPendingByPriority returns queued records, highest priority first and
	// oldest first within a priority.
	GetPendingByPriority() ([]DownloadInfo, error)

	// Sanitize resets records left in flight by an earlier process to queued.
	Sanitize() (int, error)

	SetDelegate(d Delegate)
	Delegate() Delegate

	Close() error
	IsClosed() bool
}
