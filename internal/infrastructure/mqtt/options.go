package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/linkkeeper/internal/connectivity"
	"github.com/nerrad567/linkkeeper/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds an attempt when mqtt.timeout_ms is unset.
	defaultConnectTimeout = 15 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	// Kept short: publishes run inside the supervisor tick.
	defaultPublishTimeout = 2 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is used when mqtt.keepalive is unset.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho MQTT options for one connection attempt.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and credentials from the supervisor
//   - No automatic reconnection: the session state machine owns retries
//   - Attempt timeout and keepalive
//   - TLS configuration (if enabled)
//   - Clean session mode
func buildClientOptions(cfg config.MQTTConfig, creds connectivity.Credentials) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	// Broker URL
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))

	opts.SetClientID(creds.ClientID)
	if !creds.Anonymous() {
		opts.SetUsername(creds.Username)
		opts.SetPassword(creds.Password)
	}

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	// Inbound handlers only append to a buffer; ordering is not needed.
	opts.SetOrderMatters(false)

	timeout := defaultConnectTimeout
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	opts.SetConnectTimeout(timeout)

	keepAlive := defaultKeepAlive
	if cfg.KeepAlive > 0 {
		keepAlive = time.Duration(cfg.KeepAlive) * time.Second
	}
	opts.SetKeepAlive(keepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The broker publishes the will on topic if the device drops without a
// clean disconnect. QoS 1, retained.
func configureLWT(opts *pahomqtt.ClientOptions, topic, clientID string) {
	payload := StatusPayload(StatusOffline, clientID, "unexpected_disconnect", time.Now())
	opts.SetBinaryWill(topic, payload, 1, true)
}

// Device status values carried in status payloads.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// StatusPayload builds the JSON body published on the device status topic.
func StatusPayload(status, clientID, reason string, at time.Time) []byte {
	// Marshalling a struct of strings cannot fail.
	b, _ := json.Marshal(statusMessage{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
	return b
}
