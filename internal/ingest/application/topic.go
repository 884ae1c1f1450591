package application

import (
	"fmt"
	"strings"
)

// Topic identifies the tenant and device a message belongs to.
type Topic struct {
	TenantSlug string
	DeviceKey  string
	Suffix     string
}

// TopicParser splits topics of the form {root}/{tenant_slug}/{device_key}/{suffix}.
type TopicParser struct {
	root   []string
	suffix string
}

// NewTopicParser constructs a parser. An empty suffix accepts any final segment.
func NewTopicParser(root, suffix string) TopicParser {
	root = strings.Trim(strings.TrimSpace(root), "/")
	var parts []string
	if root != "" {
		parts = strings.Split(root, "/")
	}
	return TopicParser{root: parts, suffix: strings.TrimSpace(suffix)}
}

// Parse splits topic. Every segment must be non-empty and free of wildcards.
func (p TopicParser) Parse(topic string) (Topic, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != len(p.root)+3 {
		return Topic{}, fmt.Errorf("%w: %q has %d segments", ErrMalformedTopic, topic, len(parts))
	}
	for i, segment := range p.root {
		if parts[i] != segment {
			return Topic{}, fmt.Errorf("%w: %q does not start with %q", ErrMalformedTopic, topic, strings.Join(p.root, "/"))
		}
	}
	rest := parts[len(p.root):]
	for _, segment := range rest {
		if segment == "" || strings.ContainsAny(segment, "+#") {
			return Topic{}, fmt.Errorf("%w: %q has an empty or wildcard segment", ErrMalformedTopic, topic)
		}
	}
	if p.suffix != "" && rest[2] != p.suffix {
		return Topic{}, fmt.Errorf("%w: %q does not end with %q", ErrMalformedTopic, topic, p.suffix)
	}
	return Topic{TenantSlug: rest[0], DeviceKey: rest[1], Suffix: rest[2]}, nil
}

// Build formats a topic for tenant and device with the configured suffix.
func (p TopicParser) Build(tenantSlug, deviceKey string) string {
	suffix := p.suffix
	if suffix == "" {
		suffix = "telemetry"
	}
	parts := append(append([]string(nil), p.root...), tenantSlug, deviceKey, suffix)
	return strings.Join(parts, "/")
}

// Filter returns the subscription filter matching every tenant and device.
func (p TopicParser) Filter() string {
	suffix := p.suffix
	if suffix == "" {
		suffix = "+"
	}
	parts := append(append([]string(nil), p.root...), "+", "+", suffix)
	return strings.Join(parts, "/")
}

// ShardKey returns tenant/device for well-formed topics and the topic itself otherwise.
func (p TopicParser) ShardKey(topic string) string {
	parsed, err := p.Parse(topic)
	if err != nil {
		return topic
	}
	return parsed.TenantSlug + "/" + parsed.DeviceKey
}
