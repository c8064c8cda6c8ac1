package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const metadataTimeout = 10 * time.Second

// TopicConfig describes a topic to create or verify.
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
}

// Validate checks the topic configuration.
func (tc TopicConfig) Validate() error {
	if tc.Name == "" {
		return errors.New("topic name cannot be empty")
	}
	if tc.NumPartitions <= 0 {
		return fmt.Errorf("number of partitions must be > 0, got %d", tc.NumPartitions)
	}
	if tc.ReplicationFactor <= 0 {
		return fmt.Errorf("replication factor must be > 0, got %d", tc.ReplicationFactor)
	}
	return nil
}

// EnsureTopic creates the topic when missing and grows its partition count
// when it has fewer partitions than configured. A topic with more partitions
// or a different replication factor is left untouched and logged.
func EnsureTopic(ctx context.Context, admin *kafka.AdminClient, cfg TopicConfig, log *zap.SugaredLogger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid topic config: %w", err)
	}

	meta, err := admin.GetMetadata(&cfg.Name, false, int(metadataTimeout.Milliseconds()))
	if err != nil {
		return fmt.Errorf("failed to get metadata for topic %q: %w", cfg.Name, err)
	}

	topic, ok := meta.Topics[cfg.Name]
	if !ok || topic.Error.Code() == kafka.ErrUnknownTopicOrPart {
		return createTopic(ctx, admin, cfg, log)
	}
	if topic.Error.Code() != kafka.ErrNoError {
		return fmt.Errorf("topic %q has error: %w", cfg.Name, topic.Error)
	}

	partitions := len(topic.Partitions)
	if partitions > 0 && len(topic.Partitions[0].Replicas) != cfg.ReplicationFactor {
		log.Warnw("topic replication factor differs from config",
			"topic", cfg.Name,
			"current", len(topic.Partitions[0].Replicas),
			"desired", cfg.ReplicationFactor,
		)
	}

	switch {
	case partitions < cfg.NumPartitions:
		results, err := admin.CreatePartitions(ctx, []kafka.PartitionsSpecification{
			{Topic: cfg.Name, IncreaseTo: cfg.NumPartitions},
		})
		if err != nil {
			return fmt.Errorf("failed to increase partitions for topic %q: %w", cfg.Name, err)
		}
		for _, r := range results {
			if r.Error.Code() != kafka.ErrNoError {
				return fmt.Errorf("failed to increase partitions for topic %q: %w", r.Topic, r.Error)
			}
		}
		log.Infow("increased topic partitions", "topic", cfg.Name, "from", partitions, "to", cfg.NumPartitions)
	case partitions > cfg.NumPartitions:
		log.Warnw("topic has more partitions than configured, keeping them",
			"topic", cfg.Name,
			"current", partitions,
			"desired", cfg.NumPartitions,
		)
	}
	return nil
}

func createTopic(ctx context.Context, admin *kafka.AdminClient, cfg TopicConfig, log *zap.SugaredLogger) error {
	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             cfg.Name,
		NumPartitions:     cfg.NumPartitions,
		ReplicationFactor: cfg.ReplicationFactor,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topic %q: %w", cfg.Name, err)
	}
	for _, r := range results {
		switch r.Error.Code() {
		case kafka.ErrNoError:
			log.Infow("created topic", "topic", r.Topic, "partitions", cfg.NumPartitions)
		case kafka.ErrTopicAlreadyExists:
			log.Infow("topic already exists", "topic", r.Topic)
		default:
			return fmt.Errorf("failed to create topic %q: %w", r.Topic, r.Error)
		}
	}
	return nil
}
