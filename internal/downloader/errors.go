package downloader

import (
	"errors"
	"fmt"
)

// Interruption causes. A running download observes them through
// context.Cause and settles its record accordingly.
var (
	ErrCancelled   = errors.New("downloader: download cancelled")
	ErrPaused      = errors.New("downloader: download paused")
	ErrRemoved     = errors.New("downloader: download removed")
	ErrInterrupted = errors.New("downloader: download interrupted")
)

// ErrClosed is returned by a Manager after Close.
var ErrClosed = errors.New("downloader: manager is closed")

// HashMismatchError is returned when the assembled file does not match the
// checksum stored on the record.
type HashMismatchError struct {
	File     string
	Expected string
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("downloader: checksum mismatch for %s: expected %s, got %s", e.File, e.Expected, e.Actual)
}

// SegmentError reports the failure of one ranged segment.
type SegmentError struct {
	Index int
	Err   error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("downloader: segment %d: %v", e.Index, e.Err)
}

func (e *SegmentError) Unwrap() error { return e.Err }
