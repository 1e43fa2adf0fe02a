package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/ligustah/fetchkit/internal/database"
	"github.com/ligustah/fetchkit/internal/fetch"
	"github.com/ligustah/fetchkit/internal/progress"
)

// headerFlags collects repeated -header "Key: Value" flags.
type headerFlags map[string]string

func (h headerFlags) String() string {
	parts := make([]string, 0, len(h))
	for k, v := range h {
		parts = append(parts, k+": "+v)
	}
	return strings.Join(parts, ", ")
}

func (h headerFlags) Set(s string) error {
	k, v, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("header %q is not in Key: Value form", s)
	}
	h[strings.TrimSpace(k)] = strings.TrimSpace(v)
	return nil
}

func runDownload(args []string) int {
	fs := flag.NewFlagSet("download", flag.ExitOnError)

	var common commonFlags
	common.register(fs)
	file := fs.String("file", "", "Output file name (single URL only; default: last path element)")
	checksum := fs.String("checksum", "", "Expected hex SHA-256 of the file (single URL only)")
	concurrency := fs.Int("concurrency", 0, "Maximum concurrent downloads (default from config)")
	segmentSize := fs.String("segment-size", "", "Size of ranged segments, e.g. 8MiB (default from config)")
	priority := fs.Int("priority", 0, "Priority: -1 low, 0 normal, 1 high")
	group := fs.Int("group", 0, "Group id shared by the queued downloads")
	network := fs.String("network", "", "Allowed network: all, unmetered, global_off")
	verify := fs.Bool("verify", false, "Verify checksums of finished files")
	headers := headerFlags{}
	fs.Var(headers, "header", "Extra request header \"Key: Value\" (repeatable)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: fetchkit download [options] URL...

Queue the given URLs in a namespace and run the queue until every one of
them completed, failed or was paused. Interrupted downloads resume from
their stored segments when run again with the same database and temp bucket.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	urls := fs.Args()
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one URL is required")
		fs.Usage()
		return ExitInvalidArgs
	}
	if len(urls) > 1 && (*file != "" || *checksum != "") {
		fmt.Fprintln(os.Stderr, "Error: -file and -checksum need exactly one URL")
		return ExitInvalidArgs
	}

	var netType database.NetworkType
	if *network != "" {
		var err error
		if netType, err = database.ParseNetworkType(*network); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
	}

	s, code := common.open()
	if s == nil {
		return code
	}
	defer s.close()

	if *concurrency > 0 {
		s.cfg.ConcurrentLimit = *concurrency
	}
	if *segmentSize != "" {
		n, err := progress.ParseBytes(*segmentSize)
		if err != nil || n <= 0 {
			fmt.Fprintf(os.Stderr, "Error: invalid -segment-size %q\n", *segmentSize)
			return ExitInvalidArgs
		}
		s.cfg.SegmentSize = n
	}
	if *verify {
		s.cfg.HashChecking = true
	}

	downloads := make([]database.DownloadInfo, 0, len(urls))
	for _, raw := range urls {
		name := *file
		if name == "" {
			var err error
			if name, err = fileNameFor(raw); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return ExitInvalidArgs
			}
		}
		d := database.NewDownload(s.cfg.Namespace, raw, name)
		d.Checksum = *checksum
		d.Priority = database.Priority(*priority)
		d.Group = *group
		d.NetworkType = netType
		if len(headers) > 0 {
			d.Headers = headers
		}
		downloads = append(downloads, d)
	}

	ctx, cancel := signalContext()
	defer cancel()

	var failed int
	err := s.with(true, func(h *fetch.Handle) error {
		ids := make([]int, 0, len(downloads))
		for _, d := range downloads {
			queued, err := queue(h, d)
			if err != nil {
				return err
			}
			if queued {
				ids = append(ids, d.ID)
			}
		}
		var err error
		failed, err = waitSettled(ctx, h, ids)
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("download", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "[fetchkit] Interrupted, run again to resume")
	}
	fmt.Fprintf(os.Stderr, "[fetchkit] %d completed, %d failed\n", s.reporter.Completed(), s.reporter.Failed())
	return exitFor(err, failed)
}

// queue enqueues d, or brings an existing record with the same id back into
// the queue. It reports false for records that already completed.
func queue(h *fetch.Handle, d database.DownloadInfo) (bool, error) {
	err := h.Manager().Enqueue(d)
	if !errors.Is(err, database.ErrExists) {
		return err == nil, err
	}

	existing, err := h.Database().Get(d.ID)
	if err != nil {
		return false, err
	}
	switch existing.Status {
	case database.StatusCompleted:
		fmt.Fprintf(os.Stderr, "[fetchkit] Already downloaded: %s\n", existing.File)
		return false, nil
	case database.StatusPaused, database.StatusFailed, database.StatusCancelled:
		return true, h.Manager().Resume(d.ID)
	}
	return true, nil
}

// fileNameFor derives an output file name from the last path element of raw.
func fileNameFor(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", fmt.Errorf("cannot derive a file name from %q, use -file", raw)
	}
	return name, nil
}
