package kafka

import (
	"testing"

	"github.com/jmehdipour/sms-forwarder/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConsumerRequiresTopicAndGroup(t *testing.T) {
	_, err := NewConsumer(config.KafkaConfig{Topic: "sms.inbound", GroupID: "g"})
	assert.Error(t, err)

	_, err = NewConsumer(config.KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, GroupID: "g"})
	assert.Error(t, err)

	c, err := NewConsumer(config.KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "sms.inbound", GroupID: "g"})
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}
