package session

// State is the synchronization status a session exposes to the UI.
//
// Transitions: connecting → cached once the local cache finished loading (or
// the load timed out), connecting|cached → synced when the transport reports
// the merge handshake complete, synced|cached → disconnected on transport
// loss when no cache exists, disconnected → cached when one does. The
// effective value additionally folds in host connectivity: an offline host
// always reads as disconnected regardless of the last transport event.
type State int

const (
	StateConnecting State = iota
	StateCached
	StateSynced
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateCached:
		return "cached"
	case StateSynced:
		return "synced"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}
