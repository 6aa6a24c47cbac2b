package mqtt

import (
	"fmt"
)

// Subscribe subscribes to topic. Received messages are buffered and
// returned by Poll.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "linkkeeper/+/command"
//   - # (multi-level): "linkkeeper/desk-01/#"
//
// Subscriptions are tracked and restored on every successful connect.
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (t *Transport) Subscribe(topic string, qos byte) error {
	// Validate inputs
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	client := t.connectedClient()
	if client == nil {
		return ErrNotConnected
	}

	// Track subscription for reconnection restoration
	t.subMu.Lock()
	t.subscriptions[topic] = qos
	t.subMu.Unlock()

	// Subscribe with wrapped handler (includes panic recovery)
	token := client.Subscribe(topic, qos, t.wrapHandler(t.deliver))
	if !token.WaitTimeout(defaultPublishTimeout) {
		t.forget(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		t.forget(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// Unsubscribe removes a subscription and stops receiving messages for a topic.
//
// Any messages already buffered are still returned by Poll.
func (t *Transport) Unsubscribe(topic string) error {
	// Validate inputs
	if topic == "" {
		return ErrInvalidTopic
	}

	client := t.connectedClient()
	if client == nil {
		return ErrNotConnected
	}

	t.forget(topic)

	// Unsubscribe from broker
	token := client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

func (t *Transport) forget(topic string) {
	t.subMu.Lock()
	delete(t.subscriptions, topic)
	t.subMu.Unlock()
}

// SubscriptionCount returns the number of tracked subscriptions.
func (t *Transport) SubscriptionCount() int {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	return len(t.subscriptions)
}

// HasSubscription checks if a subscription exists for the given topic.
//
// Note: This checks only the exact topic string, not pattern matching.
func (t *Transport) HasSubscription(topic string) bool {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	_, exists := t.subscriptions[topic]
	return exists
}
