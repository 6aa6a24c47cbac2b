package connectivity

import "errors"

// ErrorCode classifies the most recent connection failure.
type ErrorCode int

const (
	ErrNone ErrorCode = iota
	ErrLinkAuthFailed
	ErrLinkNoNetwork
	ErrLinkConnectFailed
	ErrSessionConnectionRefused
	ErrSessionProtocolVersion
	ErrSessionClientIDRejected
	ErrSessionServerUnavailable
	ErrSessionBadCredentials
	ErrSessionNotAuthorized
	ErrTimeout
	ErrMemoryAllocation
	ErrSystemOverload
)

var errorNames = [...]string{
	ErrNone:                     "NONE",
	ErrLinkAuthFailed:           "WIFI_AUTH_FAIL",
	ErrLinkNoNetwork:            "WIFI_NO_SSID_AVAIL",
	ErrLinkConnectFailed:        "WIFI_CONNECT_FAIL",
	ErrSessionConnectionRefused: "MQTT_CONNECTION_REFUSED",
	ErrSessionProtocolVersion:   "MQTT_PROTOCOL_VERSION",
	ErrSessionClientIDRejected:  "MQTT_CLIENT_ID_REJECTED",
	ErrSessionServerUnavailable: "MQTT_SERVER_UNAVAILABLE",
	ErrSessionBadCredentials:    "MQTT_BAD_CREDENTIALS",
	ErrSessionNotAuthorized:     "MQTT_NOT_AUTHORIZED",
	ErrTimeout:                  "NETWORK_TIMEOUT",
	ErrMemoryAllocation:         "MEMORY_ALLOCATION",
	ErrSystemOverload:           "SYSTEM_OVERLOAD",
}

// String returns the upper-case error name.
func (e ErrorCode) String() string {
	if e < 0 || int(e) >= len(errorNames) {
		return "UNKNOWN"
	}
	return errorNames[e]
}

// Sentinel errors returned at the API boundary.
var (
	// ErrInvalidConfig is returned by Begin when the configuration is unusable.
	ErrInvalidConfig = errors.New("connectivity: invalid configuration")

	// ErrInvalidTopic is returned for empty topics or topics containing wildcards.
	ErrInvalidTopic = errors.New("connectivity: invalid topic")

	// ErrInvalidQoS is returned for QoS levels other than 0, 1 or 2.
	ErrInvalidQoS = errors.New("connectivity: invalid QoS level")

	// ErrNotStarted is returned when Publish is called before Begin.
	ErrNotStarted = errors.New("connectivity: manager not started")
)
