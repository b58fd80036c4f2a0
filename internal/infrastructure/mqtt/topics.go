package mqtt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxTopicLength is the MQTT limit for a UTF-8 encoded topic.
const maxTopicLength = 65535

// ValidateTopicName checks a topic used for publishing.
//
// Topic names must be non-empty UTF-8, contain no NUL and no wildcard
// characters. Serial devices pick their own topics, so every outbound
// frame passes through here before reaching the broker.
//
// Returns:
//   - error: wraps ErrInvalidTopic, or nil if the topic is publishable
func ValidateTopicName(topic string) error {
	if err := validateTopicCommon(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in topic name %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateTopicFilter checks a topic filter used for subscribing.
//
// Wildcards are allowed only as whole levels: + anywhere, # only as the
// final level.
//
// Example:
//
//	mqtt.ValidateTopicFilter("rf/+/config") // ok
//	mqtt.ValidateTopicFilter("rf/#/config") // ErrInvalidTopic
func ValidateTopicFilter(filter string) error {
	if err := validateTopicCommon(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") {
			if level != "#" || i != len(levels)-1 {
				return fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidTopic, filter)
			}
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: '+' must occupy a whole level in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}

func validateTopicCommon(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("%w: topic exceeds %d bytes", ErrInvalidTopic, maxTopicLength)
	}
	if !utf8.ValidString(topic) {
		return fmt.Errorf("%w: topic is not valid UTF-8", ErrInvalidTopic)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic contains NUL", ErrInvalidTopic)
	}
	return nil
}
