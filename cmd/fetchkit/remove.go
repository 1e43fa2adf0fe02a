package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/ligustah/fetchkit/internal/database"
	"github.com/ligustah/fetchkit/internal/fetch"
)

func runRemove(args []string) int {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)

	var common commonFlags
	common.register(fs)
	deleteFiles := fs.Bool("delete", false, "Also delete the finished output files")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: fetchkit remove [options] ID...

Remove download records and their temporary parts. With -delete the output
files are removed as well.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	ids, err := parseIDs(fs.Args())
	if err != nil || len(ids) == 0 {
		if err == nil {
			err = errors.New("at least one download id is required")
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	s, code := common.open()
	if s == nil {
		return code
	}
	defer s.close()

	ctx := context.Background()
	err = s.with(false, func(h *fetch.Handle) error {
		for _, id := range ids {
			drop := h.Manager().Remove
			if *deleteFiles {
				drop = h.Manager().Delete
			}
			if err := drop(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, database.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitNotFound
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exitFor(err, 0)
}
