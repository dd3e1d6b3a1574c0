package model

import "time"

// EventType names an externally meaningful watcher transition.
type EventType string

const (
	EventFileAdded     EventType = "file_added"
	EventFileChanged   EventType = "file_changed"
	EventFileRemoved   EventType = "file_removed"
	EventPathNotFound  EventType = "path_not_found"
	EventWatcherFailed EventType = "watcher_failed"
	EventCriticalFound EventType = "critical_entries_found"
)

// Event is the unit of fan-out to live subscribers. Delivery is best-effort.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Context   string      `json:"context"` // usually "userId/aliasName"
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// WatchStatus is the lifecycle state of one watched directory.
type WatchStatus string

const (
	WatchUnwatched WatchStatus = "UNWATCHED"
	WatchStarting  WatchStatus = "STARTING"
	WatchReady     WatchStatus = "READY"
	WatchRetrying  WatchStatus = "RETRYING"
	WatchFailed    WatchStatus = "FAILED"
)
