package jobs

import "github.com/cokepoppy/my-quant-sub002/pkg/types"

// EventType discriminates job event payloads.
type EventType string

const (
	EventProgress EventType = "progress"
	EventLog      EventType = "log"
	EventStatus   EventType = "status"
)

// Event is a job lifecycle notification delivered to listeners.
type Event struct {
	Type  EventType `json:"type"`
	JobID string    `json:"jobId"`

	// Progress events.
	Progress float64 `json:"progress,omitempty"`
	Step     string  `json:"step,omitempty"`

	// Log events.
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`

	// Status events carry a snapshot of the job.
	Job *types.Job `json:"job,omitempty"`
}

// Listener receives job events. Calls are made from the manager's dispatch
// goroutine, one event at a time; a slow listener delays other listeners but
// never the backtest loops, which drop events when the queue is full.
type Listener interface {
	OnJobEvent(ev Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ev Event)

func (f ListenerFunc) OnJobEvent(ev Event) { f(ev) }
