package connectivity

// LinkStatus is the association status reported by a LinkDriver.
type LinkStatus int

const (
	// LinkIdle means no association is in progress.
	LinkIdle LinkStatus = iota
	// LinkAssociating means an attempt is in progress.
	LinkAssociating
	// LinkUp means the link is associated and usable.
	LinkUp
	// LinkNoNetwork means the configured network was not found.
	LinkNoNetwork
	// LinkRejected means the access point refused the attempt.
	LinkRejected
	// LinkLost means an established association dropped.
	LinkLost
	// LinkDown means the interface is disconnected.
	LinkDown
)

// String returns a lower-case status name.
func (s LinkStatus) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkAssociating:
		return "associating"
	case LinkUp:
		return "up"
	case LinkNoNetwork:
		return "no_network"
	case LinkRejected:
		return "rejected"
	case LinkLost:
		return "lost"
	case LinkDown:
		return "down"
	default:
		return "unknown"
	}
}

// LinkDriver controls the wireless association.
//
// Begin must not block for the duration of the association: it issues the
// attempt and returns. Progress is observed through Status on later ticks.
type LinkDriver interface {
	Begin(ssid, password string) error
	Status() LinkStatus
	RSSI() int
	Disconnect() error
}

// Message is an inbound message received by a SessionTransport.
type Message struct {
	Topic   string
	Payload []byte
}

// SessionTransport owns the broker session.
//
// Connect issues an attempt and returns without waiting for the broker.
// StatusCode reports the broker-native result of the most recent attempt
// or drop, using the PubSubClient numbering: negative values are
// transport failures, 0 is connected, 1-5 are CONNACK refusal codes.
// Poll returns messages received since the previous call.
type SessionTransport interface {
	Connect(creds Credentials) error
	IsConnected() bool
	StatusCode() int
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte) error
	Unsubscribe(topic string) error
	Poll() []Message
	Disconnect()
}

// Session status codes.
const (
	StatusConnectionTimeout = -4
	StatusConnectionLost    = -3
	StatusConnectFailed     = -2
	StatusDisconnected      = -1
	StatusConnected         = 0
	StatusBadProtocol       = 1
	StatusBadClientID       = 2
	StatusUnavailable       = 3
	StatusBadCredentials    = 4
	StatusUnauthorized      = 5
)

// classifyLink maps a driver status observed at failure time to an ErrorCode.
func classifyLink(s LinkStatus) ErrorCode {
	switch s {
	case LinkNoNetwork:
		return ErrLinkNoNetwork
	case LinkRejected:
		return ErrLinkAuthFailed
	case LinkLost, LinkDown:
		return ErrLinkConnectFailed
	default:
		return ErrTimeout
	}
}

// classifySession maps a broker status code to an ErrorCode.
func classifySession(code int) ErrorCode {
	switch code {
	case StatusConnectionTimeout:
		return ErrTimeout
	case StatusConnectionLost:
		return ErrSessionServerUnavailable
	case StatusConnectFailed:
		return ErrSessionConnectionRefused
	case StatusBadProtocol:
		return ErrSessionProtocolVersion
	case StatusBadClientID:
		return ErrSessionClientIDRejected
	case StatusUnavailable:
		return ErrSessionServerUnavailable
	case StatusBadCredentials:
		return ErrSessionBadCredentials
	case StatusUnauthorized:
		return ErrSessionNotAuthorized
	default:
		return ErrSessionConnectionRefused
	}
}
