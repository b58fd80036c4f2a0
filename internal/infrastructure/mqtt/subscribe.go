package mqtt

import "fmt"

// Subscribe asks the broker for messages matching topic.
//
// Matching messages are queued in the inbox and delivered by Loop to the
// handler set with SetOnMessage. Subscriptions belong to the current
// session only; after a reconnect the owner subscribes again.
//
// Parameters:
//   - topic: The topic filter (wildcards + and # allowed)
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Subscribe(topic string, qos byte) error {
	if err := ValidateTopicFilter(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	// nil callback routes deliveries through the default publish handler
	token := c.client.Subscribe(topic, qos, nil)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	c.subMu.Lock()
	c.subscriptions[topic] = qos
	c.subMu.Unlock()

	return nil
}

// SubscriptionCount returns the number of subscriptions in the current
// session. It drops to zero on every Connect and is safe from any goroutine.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}
