package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/ligustah/fetchkit/internal/database"
	"github.com/ligustah/fetchkit/internal/fetch"
)

func runResume(args []string) int {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)

	var common commonFlags
	common.register(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: fetchkit resume [options] [ID...]

Re-queue the given downloads, or every paused, failed and cancelled one when
no ID is given, then run the queue until they settle.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	ids, err := parseIDs(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	s, code := common.open()
	if s == nil {
		return code
	}
	defer s.close()

	ctx, cancel := signalContext()
	defer cancel()

	var failed int
	err = s.with(true, func(h *fetch.Handle) error {
		if len(ids) == 0 {
			records, err := h.Downloads().GetByStatus(
				database.StatusPaused, database.StatusFailed, database.StatusCancelled, database.StatusQueued)
			if err != nil {
				return err
			}
			for _, d := range records {
				ids = append(ids, d.ID)
			}
		}
		for _, id := range ids {
			d, err := h.Database().Get(id)
			if err != nil {
				return err
			}
			if d.Status == database.StatusQueued {
				continue
			}
			if err := h.Manager().Resume(id); err != nil {
				return err
			}
		}
		var err error
		failed, err = waitSettled(ctx, h, ids)
		return err
	})
	if errors.Is(err, database.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitNotFound
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exitFor(err, failed)
}

func parseIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, a := range args {
		id, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid download id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
