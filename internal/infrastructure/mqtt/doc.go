// Package mqtt provides the broker session transport for Linkkeeper.
//
// Transport implements connectivity.SessionTransport on top of
// paho.mqtt.golang. It manages:
//   - Non-blocking connection attempts polled by the supervisor tick
//   - Mapping of CONNACK and network failures to session status codes
//   - Message publishing with bounded acknowledgement waits
//   - Topic subscriptions, restored on every connect
//   - A bounded inbound buffer drained by Poll
//   - Last Will and Testament (LWT) for offline detection
//
// # Reconnection
//
// paho's auto-reconnect is switched off. Retry timing, backoff and
// cool-down belong to the session state machine in the connectivity
// package; the transport only reports what happened.
//
// # Status codes
//
//	-4  attempt timed out
//	-3  established connection lost
//	-2  attempt failed (network)
//	-1  disconnected
//	 0  connected
//	1-5 CONNACK refusal (protocol, client id, unavailable, credentials, not authorised)
//
// # Usage
//
//	transport := mqtt.New(cfg.MQTT, cfg.Device.StatusTopic)
//	transport.SetLogger(log)
//	manager := connectivity.New(supervisorCfg, driver, transport)
//
// # Security Considerations
//
//   - TLS should be enabled for brokers outside the local network
//   - An empty username connects anonymously
package mqtt
