//go:build integration

package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/require"

	"github.com/miles-six/hub-monorepo/pkg/kafka/testutils"
)

func TestRevocationPublisher_Integration(t *testing.T) {
	log := testutils.NewTestLogger(t)
	brokers := testutils.StartKafka(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg := PublisherConfig{
		BootstrapServers:  brokers,
		Topic:             "hub-revocations-it",
		ClientID:          "revoker-it",
		NumPartitions:     2,
		ReplicationFactor: 1,
		PublishTimeout:    10 * time.Second,
	}
	require.NoError(t, cfg.Validate())

	admin, err := kafka.NewAdminClient(cfg.ConfigMap())
	require.NoError(t, err)
	defer admin.Close()

	require.NoError(t, EnsureTopic(ctx, admin, cfg.TopicConfig(), log))
	// second call finds the topic and leaves it alone
	require.NoError(t, EnsureTopic(ctx, admin, cfg.TopicConfig(), log))

	producer, err := NewProducer(ctx, cfg.ConfigMap(), log)
	require.NoError(t, err)
	defer producer.Close(cfg.FlushTimeout)

	pub := NewRevocationPublisher(producer, cfg.Topic, cfg.PublishTimeout)
	rev := testRevocation()
	require.NoError(t, pub.PublishRevocation(ctx, rev))

	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"group.id":          "revoker-it",
		"auto.offset.reset": "earliest",
	})
	require.NoError(t, err)
	defer consumer.Close()
	require.NoError(t, consumer.Subscribe(cfg.Topic, nil))

	msg, err := consumer.ReadMessage(30 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "1234", string(msg.Key))

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	require.Equal(t, rev.HashHex, body["hash"])
}
