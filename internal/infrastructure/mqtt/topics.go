package mqtt

import (
	"fmt"
	"strings"
)

// MQTT topic wildcards.
const (
	wildcardSingle = "+"
	wildcardMulti  = "#"
)

// ValidatePublishTopic checks a topic used for publishing.
// Publish topics must be non-empty and must not contain wildcards.
func ValidatePublishTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, wildcardSingle+wildcardMulti) {
		return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateFilter checks a subscription filter.
//
// Wildcards must occupy a whole level, and # may only be the last level:
//   - "south-coast-science/+/device/#" is valid
//   - "south-coast-science/dev+" and "a/#/b" are not
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if level == wildcardSingle || level == wildcardMulti {
			if level == wildcardMulti && i != len(levels)-1 {
				return fmt.Errorf("%w: %q must be the last level in %q", ErrInvalidTopic, wildcardMulti, filter)
			}
			continue
		}
		if strings.ContainsAny(level, wildcardSingle+wildcardMulti) {
			return fmt.Errorf("%w: wildcard inside level %q of %q", ErrInvalidTopic, level, filter)
		}
	}
	return nil
}

// MatchTopic reports whether topic matches the subscription filter.
//
// Example:
//
//	MatchTopic("orgs/+/device/#", "orgs/x/device/scs-1/control") // true
func MatchTopic(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")

	for i, level := range f {
		if level == wildcardMulti {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != wildcardSingle && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
