// Package provider exposes read-side views over a namespace's download records.
package provider

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ligustah/fetchkit/internal/database"
)

// DownloadProvider reads download records from the database manager.
type DownloadProvider struct {
	db database.Manager
}

// NewDownloadProvider returns a provider reading from db.
func NewDownloadProvider(db database.Manager) *DownloadProvider {
	return &DownloadProvider{db: db}
}

// Get returns the record for id.
func (p *DownloadProvider) Get(id int) (database.DownloadInfo, error) {
	return p.db.Get(id)
}

// GetAll returns every record.
func (p *DownloadProvider) GetAll() ([]database.DownloadInfo, error) {
	return p.db.GetAll()
}

// GetByGroup returns every record in group.
func (p *DownloadProvider) GetByGroup(group int) ([]database.DownloadInfo, error) {
	return p.db.GetByGroup(group)
}

// GetByStatus returns every record in one of statuses.
func (p *DownloadProvider) GetByStatus(statuses ...database.Status) ([]database.DownloadInfo, error) {
	return p.db.GetByStatus(statuses...)
}

// GetPendingByPriority returns queued records in start order.
func (p *DownloadProvider) GetPendingByPriority() ([]database.DownloadInfo, error) {
	return p.db.GetPendingByPriority()
}

// Reason describes why a group snapshot changed.
type Reason string

const (
	ReasonAdded     Reason = "added"
	ReasonQueued    Reason = "queued"
	ReasonStarted   Reason = "started"
	ReasonProgress  Reason = "progress"
	ReasonCompleted Reason = "completed"
	ReasonError     Reason = "error"
	ReasonPaused    Reason = "paused"
	ReasonResumed   Reason = "resumed"
	ReasonCancelled Reason = "cancelled"
	ReasonRemoved   Reason = "removed"
	ReasonDeleted   Reason = "deleted"
)

// Group is a snapshot of the downloads sharing a group id.
type Group struct {
	ID        int
	Namespace string
	Downloads []database.DownloadInfo
	Reason    Reason
}

// Progress returns the aggregate completion percentage of the group, or -1
// if any download has an unknown size.
func (g *Group) Progress() int {
	var done, total int64
	for _, d := range g.Downloads {
		if d.Total <= 0 {
			return -1
		}
		done += d.Downloaded
		total += d.Total
	}
	if total == 0 {
		return 0
	}
	return int(done * 100 / total)
}

// Completed reports whether every download of the group completed.
func (g *Group) Completed() bool {
	for _, d := range g.Downloads {
		if d.Status != database.StatusCompleted {
			return false
		}
	}
	return len(g.Downloads) > 0
}

func (g *Group) clone() *Group {
	c := *g
	c.Downloads = append([]database.DownloadInfo(nil), g.Downloads...)
	return &c
}

// DefaultGroupCacheSize is the number of group snapshots kept in memory.
const DefaultGroupCacheSize = 128

// GroupInfoProvider caches group snapshots built from the download provider.
type GroupInfoProvider struct {
	namespace string
	downloads *DownloadProvider

	mu    sync.Mutex
	cache *lru.Cache[int, *Group]
}

// NewGroupInfoProvider returns a provider caching up to size groups.
func NewGroupInfoProvider(namespace string, downloads *DownloadProvider, size int) (*GroupInfoProvider, error) {
	if size <= 0 {
		size = DefaultGroupCacheSize
	}
	cache, err := lru.New[int, *Group](size)
	if err != nil {
		return nil, err
	}
	return &GroupInfoProvider{
		namespace: namespace,
		downloads: downloads,
		cache:     cache,
	}, nil
}

// GetGroup returns the snapshot for id, loading it on a cache miss.
func (p *GroupInfoProvider) GetGroup(id int, reason Reason) (*Group, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if g, ok := p.cache.Get(id); ok {
		return g.clone(), nil
	}
	g, err := p.loadLocked(id, reason)
	if err != nil {
		return nil, err
	}
	return g.clone(), nil
}

// Update replaces d inside its cached group snapshot, loading the group if
// it is not cached, and returns the new snapshot.
func (p *GroupInfoProvider) Update(d database.DownloadInfo, reason Reason) (*Group, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, ok := p.cache.Get(d.Group)
	if !ok {
		return p.loadWithLocked(d, reason)
	}

	replaced := false
	for i := range g.Downloads {
		if g.Downloads[i].ID == d.ID {
			g.Downloads[i] = d
			replaced = true
			break
		}
	}
	if !replaced {
		g.Downloads = append(g.Downloads, d)
	}
	if reason == ReasonDeleted || reason == ReasonRemoved {
		g.Downloads = removeID(g.Downloads, d.ID)
	}
	g.Reason = reason
	return g.clone(), nil
}

// Cached reports whether group id is in the cache.
func (p *GroupInfoProvider) Cached(id int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Contains(id)
}

// Clear drops every cached snapshot.
func (p *GroupInfoProvider) Clear() {
	p.mu.Lock()
	p.cache.Purge()
	p.mu.Unlock()
}

func (p *GroupInfoProvider) loadLocked(id int, reason Reason) (*Group, error) {
	downloads, err := p.downloads.GetByGroup(id)
	if err != nil {
		return nil, err
	}
	g := &Group{ID: id, Namespace: p.namespace, Downloads: downloads, Reason: reason}
	p.cache.Add(id, g)
	return g, nil
}

// loadWithLocked loads d's group and overlays d, which may be newer than the
// stored record.
func (p *GroupInfoProvider) loadWithLocked(d database.DownloadInfo, reason Reason) (*Group, error) {
	g, err := p.loadLocked(d.Group, reason)
	if err != nil {
		return nil, err
	}
	g.Downloads = removeID(g.Downloads, d.ID)
	if reason != ReasonDeleted && reason != ReasonRemoved {
		g.Downloads = append(g.Downloads, d)
	}
	return g.clone(), nil
}

func removeID(downloads []database.DownloadInfo, id int) []database.DownloadInfo {
	out := downloads[:0]
	for _, d := range downloads {
		if d.ID != id {
			out = append(out, d)
		}
	}
	return out
}
