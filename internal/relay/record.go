package relay

import "time"

// Record is the outcome of one download, as stored in history and
// published to event subscribers.
type Record struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	MediaKind   string    `json:"media_kind"`
	Quality     string    `json:"quality"`
	Sink        string    `json:"sink"`
	State       string    `json:"state"`
	Category    string    `json:"category,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Bytes       int64     `json:"bytes"`
	ExitCode    int       `json:"exit_code"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Recorder persists download outcomes.
// This interface is implemented by store.SQLiteStore.
type Recorder interface {
	SaveRecord(rec *Record) error
}

// EventType names a job lifecycle event
type EventType string

const (
	EventStarted   EventType = "started"
	EventSucceeded EventType = "succeeded"
	EventFailed    EventType = "failed"
)

// Event is a job lifecycle notification
type Event struct {
	Type   EventType `json:"type"`
	Record *Record   `json:"record"`
}

// Notifier receives job events. Implementations must not block.
type Notifier interface {
	Notify(ev Event)
}
