package kafka

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// PublisherConfig configures revocation publishing. An empty BootstrapServers
// disables it.
type PublisherConfig struct {
	BootstrapServers  string        `env:"KAFKA_BOOTSTRAP_SERVERS"`
	Topic             string        `env:"KAFKA_REVOCATIONS_TOPIC"     envDefault:"hub-revocations"`
	ClientID          string        `env:"KAFKA_CLIENT_ID"             envDefault:"hub-revoker"`
	NumPartitions     int           `env:"KAFKA_TOPIC_PARTITIONS"      envDefault:"3"`
	ReplicationFactor int           `env:"KAFKA_TOPIC_REPLICATION"     envDefault:"1"`
	PublishTimeout    time.Duration `env:"KAFKA_PUBLISH_TIMEOUT"       envDefault:"5s"`
	FlushTimeout      time.Duration `env:"KAFKA_FLUSH_TIMEOUT"         envDefault:"15s"`
	EnableLogs        bool          `env:"KAFKA_ENABLE_LOGS"           envDefault:"false"`
	SASLUsername      string        `env:"KAFKA_SASL_USERNAME"`
	SASLPassword      string        `env:"KAFKA_SASL_PASSWORD"`
}

// LoadPublisherConfig parses PublisherConfig from the environment.
func LoadPublisherConfig() (PublisherConfig, error) {
	var cfg PublisherConfig
	if err := env.Parse(&cfg); err != nil {
		return PublisherConfig{}, fmt.Errorf("failed to parse kafka config: %w", err)
	}
	return cfg, nil
}

// Enabled reports whether brokers are configured.
func (c PublisherConfig) Enabled() bool {
	return strings.TrimSpace(c.BootstrapServers) != ""
}

// Validate checks the configuration for errors. A disabled config is always valid.
func (c PublisherConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if err := c.TopicConfig().Validate(); err != nil {
		return err
	}
	if c.PublishTimeout <= 0 {
		return errors.New("kafka publish timeout must be greater than 0")
	}
	if (c.SASLUsername == "") != (c.SASLPassword == "") {
		return errors.New("kafka sasl username and password must be set together")
	}
	return nil
}

// TopicConfig returns the revocations topic settings.
func (c PublisherConfig) TopicConfig() TopicConfig {
	return TopicConfig{
		Name:              c.Topic,
		NumPartitions:     c.NumPartitions,
		ReplicationFactor: c.ReplicationFactor,
	}
}

// ConfigMap returns the librdkafka configuration for producer and admin clients.
func (c PublisherConfig) ConfigMap() *kafka.ConfigMap {
	cm := &kafka.ConfigMap{
		"bootstrap.servers":      c.BootstrapServers,
		"client.id":              c.ClientID,
		"acks":                   "all",
		"enable.idempotence":     true,
		"go.logs.channel.enable": c.EnableLogs,
	}
	if c.SASLUsername != "" {
		_ = cm.SetKey("security.protocol", "SASL_SSL")
		_ = cm.SetKey("sasl.mechanisms", "PLAIN")
		_ = cm.SetKey("sasl.username", c.SASLUsername)
		_ = cm.SetKey("sasl.password", c.SASLPassword)
	}
	return cm
}
