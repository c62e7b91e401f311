package transport

import "time"

type EventType string

const (
	EventConnOpened EventType = "conn_opened"
	EventConnClosed EventType = "conn_closed"
	EventResponse   EventType = "response"
	EventFailure    EventType = "failure"
)

// Event describes something that happened on a connection. Reason is set
// for failures and for connections closed by an error.
type Event struct {
	Type    EventType
	Time    time.Time
	ConnID  int64
	Remote  string
	Method  string
	Path    string
	Service string
	Status  int
	Reason  string
}

// Observer receives events from connection goroutines. Observe must not
// block.
type Observer interface {
	Observe(ev Event)
}

type nopObserver struct{}

func (nopObserver) Observe(Event) {}
