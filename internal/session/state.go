package session

// State of one link.
//
//	Connecting -> Connected -> Disconnected -> Reconnecting -> Connected
//	                                        \-> Errored (retries exhausted)
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateReconnecting
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// severity orders states for the session-wide summary.
func (s State) severity() int {
	switch s {
	case StateConnected:
		return 0
	case StateIdle:
		return 1
	case StateConnecting:
		return 2
	case StateDisconnected:
		return 3
	case StateReconnecting:
		return 4
	case StateErrored:
		return 5
	default:
		return 6
	}
}

// Channel names one of the two links of a session.
type Channel string

const (
	ChannelUpdates Channel = "updates"
	ChannelEvents  Channel = "events"
)
