package sync

import "time"

// Event is a progress or outcome notice emitted by the orchestrator.
type Event struct {
	Stage   string
	Current int64
	Total   int64
	Message string
	Done    bool
	Err     error
	At      time.Time
}

// Reporter receives run events.
type Reporter interface {
	Report(Event)
}
