package downloader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ligustah/fetchkit/internal/database"
)

// RequeueMissingFiles puts completed downloads whose output file no longer
// exists back into the queue. It returns the number of records changed.
func RequeueMissingFiles(db database.Manager, outputDir string) (int, error) {
	completed, err := db.GetByStatus(database.StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("downloader: list completed: %w", err)
	}

	n := 0
	for _, d := range completed {
		path := d.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(outputDir, path)
		}
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			continue
		}

		d.Status = database.StatusQueued
		d.Downloaded = 0
		d.Total = -1
		d.Error = ""
		if err := db.Update(d); err != nil {
			return n, fmt.Errorf("downloader: requeue %d: %w", d.ID, err)
		}
		n++
	}
	return n, nil
}
