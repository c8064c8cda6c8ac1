package nodestate

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miles-six/hub-monorepo/pkg/checkpointer"
	"github.com/miles-six/hub-monorepo/pkg/clickhouse"
)

// Repository persists node-wide state rows in ClickHouse. It implements
// checkpointer.Checkpointer for the validate-or-revoke checkpoint and adds
// operator-only operations.
type Repository interface {
	checkpointer.Checkpointer
	// DeleteState removes every version of the checkpoint row. The next pass
	// starts a fresh sweep from fid 0 with an empty watermark.
	DeleteState(ctx context.Context) error
}

var _ Repository = (*repository)(nil)

//go:embed queries/create-table.sql
var createTableQuery string

//go:embed queries/write-state.sql
var writeStateQuery string

//go:embed queries/read-state.sql
var readStateQuery string

//go:embed queries/delete-state.sql
var deleteStateQuery string

type repository struct {
	client    clickhouse.Client
	cluster   string
	database  string
	tableName string
	key       string
	now       func() time.Time
}

// NewRepository creates the repository and ensures the node_state table exists.
// An empty cluster creates a plain (non replicated) table.
func NewRepository(
	ctx context.Context,
	client clickhouse.Client,
	cluster, database, tableName string,
) (Repository, error) {
	repo := &repository{
		client:    client,
		cluster:   cluster,
		database:  database,
		tableName: tableName,
		key:       checkpointer.NodeStateKey,
		now:       time.Now,
	}
	if err := repo.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to create node state table: %w", err)
	}
	return repo, nil
}

func (r *repository) onCluster() string {
	if r.cluster == "" {
		return ""
	}
	return " ON CLUSTER " + r.cluster
}

// Initialize ensures the node_state table exists in ClickHouse.
// Schema:
//   - key: String (primary key, one row per node-state singleton)
//   - last_fid: UInt64
//   - last_run_timestamp: UInt32 (farcaster seconds)
//   - sweep_start_timestamp: UInt32 (farcaster seconds)
//   - updated_at: DateTime64(9) (used by ReplacingMergeTree for deduplication)
func (r *repository) Initialize(ctx context.Context) error {
	query := fmt.Sprintf(createTableQuery, r.database, r.tableName, r.onCluster())
	if err := r.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create node state table: %w", err)
	}
	return nil
}

// Write inserts a new version of the checkpoint row. A single-row insert is
// atomic, so readers see either the previous or the new version.
func (r *repository) Write(ctx context.Context, cp checkpointer.Checkpoint) error {
	query := fmt.Sprintf(writeStateQuery, r.database, r.tableName)
	err := r.client.Conn().Exec(ctx, strings.TrimSpace(query),
		r.key, cp.LastFid, cp.LastRunTimestamp, cp.SweepStartTimestamp, r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write node state: %w", err)
	}
	return nil
}

// Read returns the newest checkpoint version, or the zero checkpoint if none
// was ever written.
func (r *repository) Read(ctx context.Context) (checkpointer.Checkpoint, error) {
	var cp checkpointer.Checkpoint
	query := fmt.Sprintf(readStateQuery, r.database, r.tableName)
	err := r.client.Conn().
		QueryRow(ctx, strings.TrimSpace(query), r.key).
		Scan(&cp.LastFid, &cp.LastRunTimestamp, &cp.SweepStartTimestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return checkpointer.Checkpoint{}, nil
		}
		return checkpointer.Checkpoint{}, fmt.Errorf("failed to read node state: %w", err)
	}
	return cp, nil
}

func (r *repository) DeleteState(ctx context.Context) error {
	query := fmt.Sprintf(deleteStateQuery, r.database, r.tableName, r.onCluster())
	if err := r.client.Conn().Exec(ctx, strings.TrimSpace(query), r.key); err != nil {
		return fmt.Errorf("failed to delete node state: %w", err)
	}
	return nil
}
