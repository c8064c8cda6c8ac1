package main

import (
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/miles-six/hub-monorepo/pkg/checkpointer"
	"github.com/miles-six/hub-monorepo/pkg/clickhouse"
	"github.com/miles-six/hub-monorepo/pkg/kafka"
	"github.com/miles-six/hub-monorepo/pkg/oracle"
	"github.com/miles-six/hub-monorepo/pkg/oracle/ens"
	"github.com/miles-six/hub-monorepo/pkg/reconciler"
	"github.com/miles-six/hub-monorepo/pkg/scheduler"
	"github.com/miles-six/hub-monorepo/pkg/validator"
)

// ErrInvalidConfig is returned for configuration that cannot start the service.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the revoker application
type Config struct {
	// Application settings
	Verbose    bool
	Schedule   string
	RunOnStart bool
	InMemory   bool

	Reconciler reconciler.Config
	Validator  validator.Config
	Oracle     oracle.Config

	// Storage settings
	ClickHouse         clickhouse.Config
	NodeStateTable     string
	MessagesTable      string
	OnChainEventsTable string

	// External services
	Kafka kafka.PublisherConfig
	ENS   ens.Config

	// Metrics settings
	MetricsHost   string
	MetricsPort   int
	Network       string
	Environment   string
	Region        string
	CloudProvider string
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// Validate reports every configuration error, each wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	add := func(field string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, field, err))
		}
	}

	add("schedule", scheduler.ValidateSchedule(c.Schedule))
	add("reconciler", c.Reconciler.Validate())
	add("validator", c.Validator.Validate())
	if c.Oracle.LookupTimeout <= 0 {
		add("lookup-timeout", errors.New("must be greater than 0"))
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		add("metrics-port", fmt.Errorf("must be between 1 and 65535, got %d", c.MetricsPort))
	}
	if !c.InMemory {
		if len(c.ClickHouse.Hosts) == 0 {
			add("clickhouse", errors.New("at least one host is required"))
		}
		for name, table := range map[string]string{
			"node-state-table":     c.NodeStateTable,
			"messages-table":       c.MessagesTable,
			"onchain-events-table": c.OnChainEventsTable,
		} {
			if table == "" {
				add(name, errors.New("must not be empty"))
			}
		}
	}
	add("kafka", c.Kafka.Validate())
	if c.ENS.Enabled() {
		add("ens", c.ENS.Validate())
	}
	return errors.Join(errs...)
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. An empty path does nothing.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// buildConfig builds a Config from CLI context flags and the environment
func buildConfig(c *cli.Context) (*Config, error) {
	if err := loadEnvFile(c.String("env-file")); err != nil {
		return nil, err
	}

	chCfg, err := clickhouse.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	kafkaCfg, err := kafka.LoadPublisherConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	ensCfg, err := ens.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &Config{
		Verbose:    c.Bool("verbose"),
		Schedule:   c.String("schedule"),
		RunOnStart: c.Bool("run-on-start"),
		InMemory:   c.Bool("in-memory"),
		Reconciler: reconciler.Config{
			PageSize:       c.Int("page-size"),
			MaxFidsPerPass: uint32(c.Uint("max-fids-per-pass")),
			Checkpoint: checkpointer.Config{
				WriteTimeout: c.Duration("checkpoint-write-timeout"),
				MaxRetries:   c.Int("checkpoint-max-retries"),
				RetryBackoff: c.Duration("checkpoint-retry-backoff"),
			},
		},
		Validator: validator.Config{
			MessageConcurrency: c.Int64("message-concurrency"),
			DryRun:             c.Bool("dry-run"),
		},
		Oracle:             oracle.Config{LookupTimeout: c.Duration("lookup-timeout")},
		ClickHouse:         chCfg,
		NodeStateTable:     c.String("node-state-table"),
		MessagesTable:      c.String("messages-table"),
		OnChainEventsTable: c.String("onchain-events-table"),
		Kafka:              kafkaCfg,
		ENS:                ensCfg,
		MetricsHost:        c.String("metrics-host"),
		MetricsPort:        c.Int("metrics-port"),
		Network:            c.String("network"),
		Environment:        c.String("environment"),
		Region:             c.String("region"),
		CloudProvider:      c.String("cloud-provider"),
	}, nil
}
