package main

import (
	"time"

	"github.com/urfave/cli/v2"
)

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
		},
		&cli.StringFlag{
			Name:    "env-file",
			Usage:   "Load environment variables from this file before reading configuration",
			EnvVars: []string{"ENV_FILE"},
		},
		&cli.StringFlag{
			Name:    "node-state-table",
			Usage:   "ClickHouse table holding node state (checkpoint)",
			EnvVars: []string{"NODE_STATE_TABLE"},
			Value:   "node_state",
		},
	}
}

// runFlags returns all CLI flags for the run command. ClickHouse, Kafka and
// ENS settings are read from CLICKHOUSE_*, KAFKA_* and ENS_* variables.
func runFlags() []cli.Flag {
	return append(commonFlags(),
		// Scheduling
		&cli.StringFlag{
			Name:    "schedule",
			Aliases: []string{"s"},
			Usage:   "Cron schedule for passes; six fields start with seconds",
			EnvVars: []string{"REVOKER_SCHEDULE"},
			Value:   "0 */10 * * * *",
		},
		&cli.BoolFlag{
			Name:    "run-on-start",
			Usage:   "Run a pass immediately at startup",
			EnvVars: []string{"REVOKER_RUN_ON_START"},
			Value:   true,
		},
		&cli.IntFlag{
			Name:    "page-size",
			Usage:   "Fids read from the event index per query",
			EnvVars: []string{"REVOKER_PAGE_SIZE"},
			Value:   500,
		},
		&cli.UintFlag{
			Name:    "max-fids-per-pass",
			Usage:   "Fids checked successfully before a pass yields and resumes on the next trigger (0 = unlimited)",
			EnvVars: []string{"REVOKER_MAX_FIDS_PER_PASS"},
		},
		// Validation
		&cli.Int64Flag{
			Name:    "message-concurrency",
			Usage:   "Messages of one fid evaluated in parallel",
			EnvVars: []string{"REVOKER_MESSAGE_CONCURRENCY"},
			Value:   4,
		},
		&cli.BoolFlag{
			Name:    "dry-run",
			Usage:   "Log messages that would be revoked without deleting them",
			EnvVars: []string{"REVOKER_DRY_RUN"},
		},
		&cli.DurationFlag{
			Name:    "lookup-timeout",
			Usage:   "Timeout of a single username ownership lookup",
			EnvVars: []string{"REVOKER_LOOKUP_TIMEOUT"},
			Value:   5 * time.Second,
		},
		&cli.BoolFlag{
			Name:    "in-memory",
			Usage:   "Use empty in-memory stores instead of ClickHouse (local smoke runs)",
			EnvVars: []string{"REVOKER_IN_MEMORY"},
		},
		// Storage
		&cli.StringFlag{
			Name:    "messages-table",
			Usage:   "ClickHouse table holding hub messages",
			EnvVars: []string{"MESSAGES_TABLE"},
			Value:   "messages",
		},
		&cli.StringFlag{
			Name:    "onchain-events-table",
			Usage:   "ClickHouse table holding on-chain events",
			EnvVars: []string{"ONCHAIN_EVENTS_TABLE"},
			Value:   "onchain_events",
		},
		&cli.DurationFlag{
			Name:    "checkpoint-write-timeout",
			Usage:   "Timeout of a single checkpoint write",
			EnvVars: []string{"CHECKPOINT_WRITE_TIMEOUT"},
			Value:   time.Second,
		},
		&cli.IntFlag{
			Name:    "checkpoint-max-retries",
			Usage:   "Retries of a failed checkpoint write",
			EnvVars: []string{"CHECKPOINT_MAX_RETRIES"},
			Value:   3,
		},
		&cli.DurationFlag{
			Name:    "checkpoint-retry-backoff",
			Usage:   "Delay between checkpoint write retries",
			EnvVars: []string{"CHECKPOINT_RETRY_BACKOFF"},
			Value:   300 * time.Millisecond,
		},
		// Metrics
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "Host for Prometheus metrics server (empty for all interfaces)",
			EnvVars: []string{"METRICS_HOST"},
			Value:   "",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Aliases: []string{"m"},
			Usage:   "Port for Prometheus metrics server",
			EnvVars: []string{"METRICS_PORT"},
			Value:   9090,
		},
		&cli.StringFlag{
			Name:    "network",
			Usage:   "Hub network label for metrics (e.g., mainnet, testnet)",
			EnvVars: []string{"NETWORK"},
			Value:   "mainnet",
		},
		&cli.StringFlag{
			Name:    "environment",
			Usage:   "Deployment environment for metrics labels (e.g., 'production', 'staging')",
			EnvVars: []string{"ENVIRONMENT"},
		},
		&cli.StringFlag{
			Name:    "region",
			Usage:   "Cloud region for metrics labels (e.g., 'us-east-1')",
			EnvVars: []string{"REGION"},
		},
		&cli.StringFlag{
			Name:    "cloud-provider",
			Usage:   "Cloud provider for metrics labels (e.g., 'aws', 'oci', 'gcp')",
			EnvVars: []string{"CLOUD_PROVIDER"},
		},
	)
}

func nodeStateFlags() []cli.Flag {
	return commonFlags()
}
