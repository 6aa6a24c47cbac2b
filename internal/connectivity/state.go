package connectivity

import "time"

// State is the phase of one connection layer.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
	StateDisabled
)

// String returns the upper-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateFailed:
		return "FAILED"
	case StateDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// action is the side effect a transition asks its controller to perform.
type action uint8

const (
	actNone      action = iota
	actConnected        // attempt succeeded: reset retries, stamp connect time
	actTimedOut         // attempt not confirmed within timeout: classify and count failure
	actLost             // established connection dropped: classify and count failure
	actRetry            // backoff elapsed: count reconnect and issue a new attempt
	actExhausted        // retry budget spent
	actRearm            // cool-down elapsed: reset retries
)

// transition is the result of one step of a layer.
type transition struct {
	next   State
	action action
}

// layer is the timing state shared by the link and session controllers.
type layer struct {
	state       State
	retries     int
	attemptAt   time.Time
	connectedAt time.Time
	retryDelay  time.Duration

	timeout    time.Duration
	maxRetries int
	cooldown   time.Duration

	notify func(from, to State, err ErrorCode)
}

// step computes the next transition for l given whether the underlying
// connection is currently up. It never mutates l.
func step(l layer, now time.Time, up bool) transition {
	switch l.state {
	case StateConnecting:
		if up {
			return transition{StateConnected, actConnected}
		}
		if now.Sub(l.attemptAt) > l.timeout {
			return transition{StateReconnecting, actTimedOut}
		}

	case StateConnected:
		if !up {
			return transition{StateReconnecting, actLost}
		}

	case StateReconnecting:
		if now.Sub(l.attemptAt) >= l.retryDelay {
			if l.retries < l.maxRetries {
				return transition{StateConnecting, actRetry}
			}
			return transition{StateFailed, actExhausted}
		}

	case StateFailed:
		if now.Sub(l.attemptAt) > l.cooldown {
			return transition{StateReconnecting, actRearm}
		}
	}

	return transition{l.state, actNone}
}

// set moves the layer to next and notifies on change. A repeated state is
// not reported.
func (l *layer) set(next State, err ErrorCode) {
	if l.state == next {
		return
	}
	from := l.state
	l.state = next
	if l.notify != nil {
		l.notify(from, next, err)
	}
}

// busy reports whether a connect request should be refused because an
// attempt is already in progress.
func (l *layer) busy() bool {
	return l.state == StateConnecting || l.state == StateReconnecting
}

// connected reports whether the layer is in StateConnected.
func (l *layer) connected() bool {
	return l.state == StateConnected
}

// since returns the connect time while connected, zero otherwise.
func (l *layer) since() time.Time {
	if l.state != StateConnected {
		return time.Time{}
	}
	return l.connectedAt
}

// clear forgets retry bookkeeping.
func (l *layer) clear() {
	l.retries = 0
	l.attemptAt = time.Time{}
	l.connectedAt = time.Time{}
	l.retryDelay = 0
}
