package application

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicParser(t *testing.T) {
	parser := NewTopicParser("factory", "telemetry")

	topic, err := parser.Parse("factory/vpc/M01/telemetry")
	require.NoError(t, err)
	assert.Equal(t, Topic{TenantSlug: "vpc", DeviceKey: "M01", Suffix: "telemetry"}, topic)

	for _, bad := range []string{
		"",
		"factory/vpc/M01",
		"factory/vpc/M01/telemetry/extra",
		"plant/vpc/M01/telemetry",
		"factory//M01/telemetry",
		"factory/vpc/+/telemetry",
		"factory/vpc/M01/status",
	} {
		_, err := parser.Parse(bad)
		assert.True(t, errors.Is(err, ErrMalformedTopic), bad)
	}

	assert.Equal(t, "factory/+/+/telemetry", parser.Filter())
	assert.Equal(t, "factory/vpc/M01/telemetry", parser.Build("vpc", "M01"))
	assert.Equal(t, "vpc/M01", parser.ShardKey("factory/vpc/M01/telemetry"))
	assert.Equal(t, "junk", parser.ShardKey("junk"))
}

func TestTopicParserNestedRootAnySuffix(t *testing.T) {
	parser := NewTopicParser("/site/a/", "")

	topic, err := parser.Parse("site/a/acme/P7/metrics")
	require.NoError(t, err)
	assert.Equal(t, "acme", topic.TenantSlug)
	assert.Equal(t, "P7", topic.DeviceKey)
	assert.Equal(t, "site/a/+/+/+", parser.Filter())
	assert.Equal(t, "site/a/acme/P7/telemetry", parser.Build("acme", "P7"))

	bare := NewTopicParser("", "")
	topic, err = bare.Parse("acme/P7/up")
	require.NoError(t, err)
	assert.Equal(t, "up", topic.Suffix)
}
