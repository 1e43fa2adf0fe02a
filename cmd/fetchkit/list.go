package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ligustah/fetchkit/internal/database"
	"github.com/ligustah/fetchkit/internal/fetch"
	"github.com/ligustah/fetchkit/internal/progress"
)

func runList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)

	var common commonFlags
	common.register(fs)
	status := fs.String("status", "", "Only show records with this status")
	group := fs.Int("group", 0, "Only show records of this group")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: fetchkit list [options]

List the download records of a namespace without starting any downloads.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	s, code := common.open()
	if s == nil {
		return code
	}
	defer s.close()

	err := s.with(false, func(h *fetch.Handle) error {
		var (
			records []database.DownloadInfo
			err     error
		)
		if *group != 0 {
			records, err = h.Downloads().GetByGroup(*group)
		} else {
			records, err = h.Downloads().GetAll()
		}
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tSIZE\tFILE\tURL")
		for _, d := range records {
			if *status != "" && d.Status.String() != *status {
				continue
			}
			pct := "-"
			if p := d.Progress(); p >= 0 {
				pct = fmt.Sprintf("%d%%", p)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
				d.ID, d.Status, pct, progress.FormatBytes(d.Total), d.File, d.URL)
		}
		return tw.Flush()
	})
	return exitFor(err, 0)
}
