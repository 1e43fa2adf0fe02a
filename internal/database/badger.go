package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const keyPrefix = "dl/"

// Options configures a BadgerManager.
type Options struct {
	// Namespace scopes the database; it is also the directory name under Dir.
	Namespace string

	// Dir is the parent directory of the namespace database.
	// Empty keeps the database in memory.
	Dir string

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Logger receives badger's own log output at debug level and above.
	// Default: zap.NewNop()
	Logger *zap.Logger
}

// BadgerManager is a Manager backed by BadgerDB.
type BadgerManager struct {
	db        *badger.DB
	namespace string
	logger    *zap.Logger
	closed    atomic.Bool

	mu       sync.RWMutex
	delegate Delegate
}

// NewBadgerManager opens (or creates) the database for opts.Namespace and
// resets records interrupted by a previous process back to queued.
func NewBadgerManager(opts Options) (*BadgerManager, error) {
	if opts.Namespace == "" {
		return nil, errors.New("database: namespace is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.Named("database").With(zap.String("namespace", opts.Namespace))

	var bopts badger.Options
	if opts.Dir == "" {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dir := filepath.Join(opts.Dir, opts.Namespace)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("database: create dir: %w", err)
		}
		bopts = badger.DefaultOptions(dir)
	}
	// Download records are small; keep the footprint of one namespace low.
	bopts = bopts.
		WithMemTableSize(8 << 20).
		WithNumMemtables(2).
		WithBlockCacheSize(8 << 20).
		WithValueLogFileSize(64 << 20).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(&badgerLogger{logger.Sugar()}).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}

	m := &BadgerManager{
		db:        db,
		namespace: opts.Namespace,
		logger:    logger,
	}

	n, err := m.Sanitize()
	if err != nil {
		db.Close()
		return nil, err
	}
	if n > 0 {
		logger.Info("requeued interrupted downloads", zap.Int("count", n))
	}

	return m, nil
}

func recordKey(id int) []byte {
	return []byte(keyPrefix + strconv.Itoa(id))
}

// Insert implements Manager.
func (m *BadgerManager) Insert(d DownloadInfo) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if d.Namespace == "" {
		d.Namespace = m.namespace
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("database: marshal: %w", err)
	}

	return m.db.Update(func(txn *badger.Txn) error {
		key := recordKey(d.ID)
		if _, err := txn.Get(key); err == nil {
			return ErrExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

// Update implements Manager.
func (m *BadgerManager) Update(d DownloadInfo) error {
	if m.closed.Load() {
		return ErrClosed
	}
	d.Updated = time.Now()
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("database: marshal: %w", err)
	}

	return m.db.Update(func(txn *badger.Txn) error {
		key := recordKey(d.ID)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Set(key, data)
	})
}

// Delete implements Manager.
func (m *BadgerManager) Delete(ctx context.Context, id int) error {
	d, err := m.Get(id)
	if err != nil {
		return err
	}

	if err := m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(id))
	}); err != nil {
		return fmt.Errorf("database: delete %d: %w", id, err)
	}

	if delegate := m.Delegate(); delegate != nil {
		if err := delegate.DeleteTempFilesForDownload(ctx, d); err != nil {
			return fmt.Errorf("database: delete temp files for %d: %w", id, err)
		}
	}
	return nil
}

// Get implements Manager.
func (m *BadgerManager) Get(id int) (DownloadInfo, error) {
	if m.closed.Load() {
		return DownloadInfo{}, ErrClosed
	}

	var d DownloadInfo
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &d)
		})
	})
	return d, err
}

// GetAll implements Manager.
func (m *BadgerManager) GetAll() ([]DownloadInfo, error) {
	return m.scan(func(DownloadInfo) bool { return true })
}

// GetByStatus implements Manager.
func (m *BadgerManager) GetByStatus(statuses ...Status) ([]DownloadInfo, error) {
	return m.scan(func(d DownloadInfo) bool {
		for _, s := range statuses {
			if d.Status == s {
				return true
			}
		}
		return false
	})
}

// GetByGroup implements Manager.
func (m *BadgerManager) GetByGroup(group int) ([]DownloadInfo, error) {
	return m.scan(func(d DownloadInfo) bool { return d.Group == group })
}

// GetPendingByPriority implements Manager.
func (m *BadgerManager) GetPendingByPriority() ([]DownloadInfo, error) {
	pending, err := m.GetByStatus(StatusQueued)
	if err != nil {
		return nil, err
	}
	SortByPriority(pending)
	return pending, nil
}

// SortByPriority orders downloads highest priority first, oldest first within a priority.
func SortByPriority(downloads []DownloadInfo) {
	sort.SliceStable(downloads, func(i, j int) bool {
		if downloads[i].Priority != downloads[j].Priority {
			return downloads[i].Priority > downloads[j].Priority
		}
		return downloads[i].Created.Before(downloads[j].Created)
	})
}

// Sanitize implements Manager.
func (m *BadgerManager) Sanitize() (int, error) {
	inflight, err := m.GetByStatus(StatusDownloading)
	if err != nil {
		return 0, err
	}
	for _, d := range inflight {
		d.Status = StatusQueued
		if err := m.Update(d); err != nil {
			return 0, fmt.Errorf("database: sanitize %d: %w", d.ID, err)
		}
	}
	return len(inflight), nil
}

func (m *BadgerManager) scan(keep func(DownloadInfo) bool) ([]DownloadInfo, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	var out []DownloadInfo
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var d DownloadInfo
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &d)
			}); err != nil {
				return err
			}
			if keep(d) {
				out = append(out, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("database: scan: %w", err)
	}
	return out, nil
}

// SetDelegate implements Manager.
func (m *BadgerManager) SetDelegate(d Delegate) {
	m.mu.Lock()
	m.delegate = d
	m.mu.Unlock()
}

// Delegate implements Manager.
func (m *BadgerManager) Delegate() Delegate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.delegate
}

// Close flushes and closes the underlying database. Calling Close twice is a no-op.
func (m *BadgerManager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.SetDelegate(nil)
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("database: close: %w", err)
	}
	return nil
}

// IsClosed implements Manager.
func (m *BadgerManager) IsClosed() bool {
	return m.closed.Load()
}

// badgerLogger routes badger's printf-style logging into zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.s.Infof(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }
