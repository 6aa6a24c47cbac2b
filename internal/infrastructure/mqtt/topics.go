package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the base for all Linkkeeper topics.
const TopicPrefix = "linkkeeper"

// Topics provides builders for per-device topics:
//
//	topics := mqtt.Topics{DeviceID: "desk-01"}
//	topics.Status() // "linkkeeper/desk-01/status"
type Topics struct {
	DeviceID string
}

// Status returns the retained online/offline topic.
func (t Topics) Status() string {
	return fmt.Sprintf("%s/%s/status", TopicPrefix, t.DeviceID)
}

// Stats returns the topic diagnostics snapshots are published on.
func (t Topics) Stats() string {
	return fmt.Sprintf("%s/%s/stats", TopicPrefix, t.DeviceID)
}

// Command returns the topic the device receives commands on.
func (t Topics) Command() string {
	return fmt.Sprintf("%s/%s/command", TopicPrefix, t.DeviceID)
}

// Match reports whether topic matches the subscription filter, honouring
// the + and # wildcards.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")

	for i, f := range fs {
		if f == "#" {
			return i == len(fs)-1
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
