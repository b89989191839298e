package status

import "fmt"

// ClientStatus is the broker connection state.
type ClientStatus int

// Connection states.
const (
	Waiting ClientStatus = iota
	Connecting
	Connected
	Inhibited
)

// String returns the status name.
func (s ClientStatus) String() string {
	switch s {
	case Waiting:
		return "WAITING"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Inhibited:
		return "INHIBITED"
	default:
		return fmt.Sprintf("ClientStatus(%d)", int(s))
	}
}

// QueueStatus is the derived state shown on the status indicator.
type QueueStatus int

// Queue states.
const (
	QueueNone QueueStatus = iota
	QueueInhibited
	QueueDisconnected
	QueuePublishing
	QueueQueuing
	QueueClearing
)

// QueueStatuses returns every QueueStatus value.
func QueueStatuses() []QueueStatus {
	return []QueueStatus{QueueNone, QueueInhibited, QueueDisconnected, QueuePublishing, QueueQueuing, QueueClearing}
}

// String returns the status name.
func (q QueueStatus) String() string {
	switch q {
	case QueueNone:
		return "NONE"
	case QueueInhibited:
		return "INHIBITED"
	case QueueDisconnected:
		return "DISCONNECTED"
	case QueuePublishing:
		return "PUBLISHING"
	case QueueQueuing:
		return "QUEUING"
	case QueueClearing:
		return "CLEARING"
	default:
		return fmt.Sprintf("QueueStatus(%d)", int(q))
	}
}

// Colour is one indicator lamp state.
type Colour string

// Lamp colours.
const (
	Off   Colour = "0"
	Red   Colour = "R"
	Amber Colour = "A"
	Green Colour = "G"
)

// Colours is the two-lamp indicator state.
type Colours struct {
	Colour0 Colour `json:"colour0"`
	Colour1 Colour `json:"colour1"`
}

// Colours returns the indicator state for q.
func (q QueueStatus) Colours() Colours {
	switch q {
	case QueueNone:
		return Colours{Off, Red}
	case QueueInhibited:
		return Colours{Off, Green}
	case QueueDisconnected:
		return Colours{Off, Amber}
	case QueuePublishing:
		return Colours{Green, Green}
	case QueueQueuing:
		return Colours{Red, Amber}
	case QueueClearing:
		return Colours{Green, Amber}
	default:
		return Colours{Off, Red}
	}
}

// Derive maps the engine state to a QueueStatus.
//
// queueLength is the number of envelopes read but not yet published; a
// negative value means no report has been made yet.
func Derive(client ClientStatus, queueLength int, publishSuccess bool) QueueStatus {
	switch {
	case queueLength < 0:
		return QueueNone
	case client == Inhibited:
		return QueueInhibited
	case client != Connected:
		return QueueDisconnected
	case !publishSuccess:
		return QueueQueuing
	case queueLength > 1:
		return QueueClearing
	default:
		return QueuePublishing
	}
}
