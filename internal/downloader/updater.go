package downloader

import (
	"github.com/ligustah/fetchkit/internal/database"
)

// InfoUpdater writes download state changes to the database.
type InfoUpdater struct {
	db database.Manager
}

// NewInfoUpdater returns an updater over db.
func NewInfoUpdater(db database.Manager) *InfoUpdater {
	return &InfoUpdater{db: db}
}

// Get returns the stored record for id.
func (u *InfoUpdater) Get(id int) (database.DownloadInfo, error) {
	return u.db.Get(id)
}

// Update stores d.
func (u *InfoUpdater) Update(d database.DownloadInfo) error {
	return u.db.Update(d)
}

// UpdateProgress stores the byte counters of id and returns the new record.
func (u *InfoUpdater) UpdateProgress(id int, downloaded, total int64) (database.DownloadInfo, error) {
	d, err := u.db.Get(id)
	if err != nil {
		return d, err
	}
	d.Downloaded = downloaded
	d.Total = total
	return d, u.db.Update(d)
}

// SetStatus moves id to status, recording cause as the error text, and
// returns the new record.
func (u *InfoUpdater) SetStatus(id int, status database.Status, cause error) (database.DownloadInfo, error) {
	d, err := u.db.Get(id)
	if err != nil {
		return d, err
	}
	d.Status = status
	d.Error = ""
	if cause != nil {
		d.Error = cause.Error()
	}
	return d, u.db.Update(d)
}
