package realtime

// Status represents the connection state of a Client
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// StatusHandler receives connection state transitions. err is non-nil when
// the transition was caused by a failure: a transient drop for
// StatusConnecting (reconnect in progress), a terminal condition for
// StatusDisconnected (auth rejection or exhausted retries)
type StatusHandler func(status Status, err error)
