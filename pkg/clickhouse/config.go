package clickhouse

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the configuration for a ClickHouse client.
// In ClickHouse, data is processed by blocks, which are sets of column parts.
// The max_block_size setting indicates the recommended maximum number of rows to include in a single block when loading data from tables.
// see here: https://clickhouse.com/docs/operations/settings/settings
type Config struct {
	Hosts                []string `env:"CLICKHOUSE_HOSTS" envSeparator:"," envDefault:"localhost:9000"`
	Cluster              string   `env:"CLICKHOUSE_CLUSTER" envDefault:"default"`
	Database             string   `env:"CLICKHOUSE_DATABASE" envDefault:"default"`
	Username             string   `env:"CLICKHOUSE_USERNAME" envDefault:"default"`
	Password             string   `env:"CLICKHOUSE_PASSWORD" envDefault:""`
	Debug                bool     `env:"CLICKHOUSE_DEBUG" envDefault:"false"`
	InsecureSkipVerify   bool     `env:"CLICKHOUSE_INSECURE_SKIP_VERIFY" envDefault:"true"`
	MaxExecutionTime     int      `env:"CLICKHOUSE_MAX_EXECUTION_TIME" envDefault:"60"` // seconds
	DialTimeout          int      `env:"CLICKHOUSE_DIAL_TIMEOUT" envDefault:"30"`       // seconds
	MaxOpenConns         int      `env:"CLICKHOUSE_MAX_OPEN_CONNS" envDefault:"5"`
	MaxIdleConns         int      `env:"CLICKHOUSE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime      int      `env:"CLICKHOUSE_CONN_MAX_LIFETIME" envDefault:"10"` // minutes
	BlockBufferSize      uint8    `env:"CLICKHOUSE_BLOCK_BUFFER_SIZE" envDefault:"10"`
	MaxBlockSize         int      `env:"CLICKHOUSE_MAX_BLOCK_SIZE" envDefault:"1000"`          // recommended maximum number of rows in a single block
	MaxCompressionBuffer int      `env:"CLICKHOUSE_MAX_COMPRESSION_BUFFER" envDefault:"10240"` // bytes
	ClientName           string   `env:"CLICKHOUSE_CLIENT_NAME" envDefault:"hub-revoker"`      // client name for ClickHouse ClientInfo
	ClientVersion        string   `env:"CLICKHOUSE_CLIENT_VERSION" envDefault:"1.0"`           // client version for ClickHouse ClientInfo
	UseHTTP              bool     `env:"CLICKHOUSE_USE_HTTP" envDefault:"false"`
}

// Load loads ClickHouse configuration from environment variables
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse clickhouse config: %w", err)
	}
	return cfg, nil
}
