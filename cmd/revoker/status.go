package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/miles-six/hub-monorepo/pkg/checkpointer"
	"github.com/miles-six/hub-monorepo/pkg/clickhouse"
	"github.com/miles-six/hub-monorepo/pkg/data/clickhouse/nodestate"
	"github.com/miles-six/hub-monorepo/pkg/types"
	"github.com/miles-six/hub-monorepo/pkg/utils"
)

const nodeStateTimeout = 30 * time.Second

// checkpointView is the printed form of a checkpoint.
type checkpointView struct {
	checkpointer.Checkpoint
	LastRunTime   string `json:"lastRunTime,omitempty"`
	SweepStarted  string `json:"sweepStarted,omitempty"`
	SweepProgress bool   `json:"sweepInProgress"`
}

func newCheckpointView(cp checkpointer.Checkpoint) checkpointView {
	v := checkpointView{Checkpoint: cp, SweepProgress: cp.SweepStartTimestamp != 0}
	if cp.LastRunTimestamp != 0 {
		v.LastRunTime = types.FromFarcasterTime(cp.LastRunTimestamp).Format(time.RFC3339)
	}
	if cp.SweepStartTimestamp != 0 {
		v.SweepStarted = types.FromFarcasterTime(cp.SweepStartTimestamp).Format(time.RFC3339)
	}
	return v
}

func openNodeState(ctx context.Context, c *cli.Context) (nodestate.Repository, func(), error) {
	if err := loadEnvFile(c.String("env-file")); err != nil {
		return nil, nil, err
	}
	sugar, err := utils.NewSugaredLogger(c.Bool("verbose"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	chCfg, err := clickhouse.Load()
	if err != nil {
		return nil, nil, err
	}
	chClient, err := clickhouse.New(chCfg, sugar)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create ClickHouse client: %w", err)
	}
	cleanup := func() {
		chClient.Close()       //nolint:errcheck // best-effort close on exit
		sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors
	}

	repo, err := nodestate.NewRepository(ctx, chClient, chCfg.Cluster, chCfg.Database, c.String("node-state-table"))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to create node state repository: %w", err)
	}
	return repo, cleanup, nil
}

func status(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(c.Context, nodeStateTimeout)
	defer cancel()

	repo, cleanup, err := openNodeState(ctx, c)
	if err != nil {
		return err
	}
	defer cleanup()

	cp, err := repo.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(newCheckpointView(cp))
}

func resetCheckpoint(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(c.Context, nodeStateTimeout)
	defer cancel()

	repo, cleanup, err := openNodeState(ctx, c)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := repo.DeleteState(ctx); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	fmt.Fprintln(os.Stdout, "checkpoint deleted; the next pass starts a fresh sweep")
	return nil
}
