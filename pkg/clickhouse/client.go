package clickhouse

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Client wraps the ClickHouse connection
type Client interface {
	// Conn returns the underlying ClickHouse connection
	Conn() driver.Conn
	// Ping checks the connection to ClickHouse
	Ping(ctx context.Context) error
	// Close closes the connection
	Close() error
}

// ClickHouse setting keys
const (
	maxExecutionTime = "max_execution_time"
	maxBlockSize     = "max_block_size"
	// Lightweight deletes are applied synchronously so a deleted message never
	// reappears in a subsequent enumeration.
	lightweightDeletesSync = "lightweight_deletes_sync"
)

// Connection timeout for initial ping during client creation
const (
	defaultPingTimeout = 10 * time.Second
)

type client struct {
	conn   driver.Conn
	logger *zap.SugaredLogger
}

// New creates a new ClickHouse client with the provided configuration
func New(cfg Config, sugar *zap.SugaredLogger) (Client, error) {
	protocol := clickhouse.Native
	if cfg.UseHTTP {
		protocol = clickhouse.HTTP
	}

	opts := &clickhouse.Options{
		Addr:     cfg.Hosts,
		Protocol: protocol,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			maxExecutionTime:       cfg.MaxExecutionTime,
			maxBlockSize:           cfg.MaxBlockSize,
			lightweightDeletesSync: 2,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:          time.Duration(cfg.DialTimeout) * time.Second,
		MaxOpenConns:         cfg.MaxOpenConns,
		MaxIdleConns:         cfg.MaxIdleConns,
		ConnMaxLifetime:      time.Duration(cfg.ConnMaxLifetime) * time.Minute,
		ConnOpenStrategy:     clickhouse.ConnOpenInOrder,
		BlockBufferSize:      cfg.BlockBufferSize,
		MaxCompressionBuffer: cfg.MaxCompressionBuffer,
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: cfg.ClientName, Version: cfg.ClientVersion},
			},
		},
	}
	if cfg.InsecureSkipVerify {
		opts.TLS = &tls.Config{
			//nolint:gosec // InsecureSkipVerify is configurable via environment variable for development/testing
			InsecureSkipVerify: true,
		}
	}

	if cfg.Debug && sugar != nil {
		opts.Debugf = func(format string, v ...interface{}) {
			sugar.Debugf(format, v...)
		}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	// Test the connection. if this fails, the service should not start
	// as ClickHouse holds the node state.
	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		if sugar != nil {
			var exception *clickhouse.Exception
			if errors.As(err, &exception) {
				sugar.Errorw("failed to ping ClickHouse", "code", exception.Code, "error", exception.Message)
			} else {
				sugar.Errorw("failed to ping ClickHouse", "error", err)
			}
		}
		_ = conn.Close()
		return nil, err
	}

	return &client{conn: conn, logger: sugar}, nil
}

func (c *client) Conn() driver.Conn {
	return c.conn
}

func (c *client) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *client) Close() error {
	return c.conn.Close()
}
