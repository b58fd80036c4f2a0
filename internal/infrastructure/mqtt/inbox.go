package mqtt

// enqueue copies a received publish into the inbox.
// Called on paho's goroutine; never blocks. A full inbox drops the message.
func (c *Client) enqueue(topic string, payload []byte) {
	msg := Message{
		Topic:   topic,
		Payload: append([]byte(nil), payload...),
	}

	select {
	case c.inbox <- msg:
	default:
		c.dropped.Add(1)
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT inbox full, message dropped", "topic", topic)
		}
	}
}

// Loop delivers every queued message to the handler set with SetOnMessage
// and returns how many were delivered.
//
// This is the client's I/O pump. It must be called from the owner's
// control flow; handlers run synchronously inside it. Messages received
// while Loop runs are left for the next call so one pump is bounded.
func (c *Client) Loop() int {
	pending := len(c.inbox)
	delivered := 0

	for range pending {
		var msg Message
		select {
		case msg = <-c.inbox:
		default:
			return delivered
		}

		if c.onMessage != nil {
			c.deliver(msg)
		}
		delivered++
	}

	return delivered
}

// deliver invokes the handler with panic recovery.
func (c *Client) deliver(msg Message) {
	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT handler panic recovered",
					"topic", msg.Topic,
					"panic", r,
				)
			}
		}
	}()

	c.onMessage(msg.Topic, msg.Payload)
}
