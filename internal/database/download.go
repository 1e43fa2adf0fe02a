package database

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Status is the lifecycle state of a download record.
type Status int

const (
	StatusNone Status = iota
	StatusQueued
	StatusDownloading
	StatusPaused
	StatusCompleted
	StatusCancelled
	StatusFailed
	StatusRemoved
	StatusDeleted
	StatusAdded
)

var statusNames = map[Status]string{
	StatusNone:        "none",
	StatusQueued:      "queued",
	StatusDownloading: "downloading",
	StatusPaused:      "paused",
	StatusCompleted:   "completed",
	StatusCancelled:   "cancelled",
	StatusFailed:      "failed",
	StatusRemoved:     "removed",
	StatusDeleted:     "deleted",
	StatusAdded:       "added",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transfer will happen for the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed, StatusRemoved, StatusDeleted:
		return true
	}
	return false
}

// Priority orders queued downloads. Higher runs first.
type Priority int

const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

// NetworkType restricts which networks a download may run on.
type NetworkType int

const (
	// NetworkGlobalOff defers to the scheduler's global setting.
	NetworkGlobalOff NetworkType = iota - 1
	// NetworkAll allows any connected network.
	NetworkAll
	// NetworkUnmetered allows only unmetered networks.
	NetworkUnmetered
)

func (n NetworkType) String() string {
	switch n {
	case NetworkGlobalOff:
		return "global_off"
	case NetworkAll:
		return "all"
	case NetworkUnmetered:
		return "unmetered"
	}
	return "unknown"
}

// ParseNetworkType parses the String form of a NetworkType.
func ParseNetworkType(s string) (NetworkType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "global_off":
		return NetworkGlobalOff, nil
	case "all", "":
		return NetworkAll, nil
	case "unmetered", "wifi":
		return NetworkUnmetered, nil
	}
	return NetworkAll, fmt.Errorf("database: unknown network type %q", s)
}

// DownloadInfo is the persisted record of a single download.
type DownloadInfo struct {
	ID          int               `json:"id"`
	Namespace   string            `json:"namespace"`
	URL         string            `json:"url"`
	File        string            `json:"file"`
	Group       int               `json:"group"`
	Priority    Priority          `json:"priority"`
	Status      Status            `json:"status"`
	Downloaded  int64             `json:"downloaded"`
	Total       int64             `json:"total"`
	Error       string            `json:"error,omitempty"`
	Checksum    string            `json:"checksum,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	NetworkType NetworkType       `json:"network_type"`
	Created     time.Time         `json:"created"`
	Updated     time.Time         `json:"updated"`
}

// Progress returns the completion percentage, or -1 if the total is unknown.
func (d *DownloadInfo) Progress() int {
	if d.Total <= 0 {
		return -1
	}
	if d.Downloaded >= d.Total {
		return 100
	}
	return int(d.Downloaded * 100 / d.Total)
}

// ID derives the stable identifier of a download from its source and destination.
func ID(url, file string) int {
	h := fnv.New32a()
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write([]byte(file))
	return int(h.Sum32() & 0x7fffffff)
}

// NewDownload returns a queued record for url stored at file.
func NewDownload(namespace, url, file string) DownloadInfo {
	now := time.Now()
	return DownloadInfo{
		ID:        ID(url, file),
		Namespace: namespace,
		URL:       url,
		File:      file,
		Status:    StatusQueued,
		Total:     -1,
		Created:   now,
		Updated:   now,
	}
}
