package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/miles-six/hub-monorepo/internal/repository/inmemory"
	"github.com/miles-six/hub-monorepo/pkg/checkpointer"
	"github.com/miles-six/hub-monorepo/pkg/clickhouse"
	"github.com/miles-six/hub-monorepo/pkg/data/clickhouse/messages"
	"github.com/miles-six/hub-monorepo/pkg/data/clickhouse/nodestate"
	"github.com/miles-six/hub-monorepo/pkg/data/clickhouse/onchain"
	"github.com/miles-six/hub-monorepo/pkg/kafka"
	"github.com/miles-six/hub-monorepo/pkg/metrics"
	"github.com/miles-six/hub-monorepo/pkg/oracle"
	"github.com/miles-six/hub-monorepo/pkg/oracle/ens"
	"github.com/miles-six/hub-monorepo/pkg/reconciler"
	"github.com/miles-six/hub-monorepo/pkg/scheduler"
	"github.com/miles-six/hub-monorepo/pkg/utils"
	"github.com/miles-six/hub-monorepo/pkg/validator"

	confluentKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const (
	jobName         = "validate-or-revoke"
	shutdownTimeout = 5 * time.Second
)

// stores bundles the storage the reconciler reads and writes.
type stores struct {
	messages     validator.MessageStore
	proofs       validator.UsernameProofIndex
	events       oracle.EventIndex
	checkpointer checkpointer.Checkpointer
	close        func()
}

// publishing bundles the revocation publisher and its lifecycle.
type publishing struct {
	publisher validator.RevocationPublisher
	errs      <-chan error
	close     func()
}

func run(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	if err := cfg.Validate(); err != nil {
		return err
	}

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"schedule", cfg.Schedule,
		"runOnStart", cfg.RunOnStart,
		"inMemory", cfg.InMemory,
		"pageSize", cfg.Reconciler.PageSize,
		"maxFidsPerPass", cfg.Reconciler.MaxFidsPerPass,
		"messageConcurrency", cfg.Validator.MessageConcurrency,
		"dryRun", cfg.Validator.DryRun,
		"lookupTimeout", cfg.Oracle.LookupTimeout,
		"clickhouseHosts", cfg.ClickHouse.Hosts,
		"clickhouseDatabase", cfg.ClickHouse.Database,
		"nodeStateTable", cfg.NodeStateTable,
		"messagesTable", cfg.MessagesTable,
		"onchainEventsTable", cfg.OnChainEventsTable,
		"kafkaEnabled", cfg.Kafka.Enabled(),
		"kafkaTopic", cfg.Kafka.Topic,
		"ensEnabled", cfg.ENS.Enabled(),
		"metricsHost", cfg.MetricsHost,
		"metricsPort", cfg.MetricsPort,
		"network", cfg.Network,
		"environment", cfg.Environment,
		"region", cfg.Region,
		"cloudProvider", cfg.CloudProvider,
	)

	// Initialize Prometheus metrics with labels for multi-instance filtering
	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, metrics.Labels{
		Network:       cfg.Network,
		Environment:   cfg.Environment,
		Region:        cfg.Region,
		CloudProvider: cfg.CloudProvider,
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, sugar)
	if err != nil {
		return err
	}
	defer st.close()

	var resolver oracle.NameResolver
	if cfg.ENS.Enabled() {
		r, closeENS, err := ens.Dial(ctx, cfg.ENS, sugar, m)
		if err != nil {
			return fmt.Errorf("failed to create ens resolver: %w", err)
		}
		defer closeENS()
		resolver = r
		sugar.Info("ENS resolver connected")
	} else {
		sugar.Warn("ENS_RPC_URL not set, ens username proofs are always deferred")
	}

	o, err := oracle.New(sugar, st.events, resolver, cfg.Oracle, m)
	if err != nil {
		return fmt.Errorf("failed to create oracle: %w", err)
	}

	pub, err := newPublishing(ctx, cfg.Kafka, sugar)
	if err != nil {
		return err
	}
	defer pub.close()

	v, err := validator.New(sugar, o, st.messages, st.proofs, pub.publisher, cfg.Validator, m)
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}

	rec, err := reconciler.New(sugar, st.events, v, st.checkpointer, cfg.Reconciler, m)
	if err != nil {
		return fmt.Errorf("failed to create reconciler: %w", err)
	}

	// Start metrics server
	metricsServer := metrics.NewServer(cfg.MetricsAddr(), registry, func(ctx context.Context) (any, error) {
		return rec.Checkpoint(ctx)
	})
	metricsErrCh := metricsServer.Start()
	if cfg.MetricsHost == "" {
		sugar.Infof("metrics server listening on http://0.0.0.0:%d/metrics", cfg.MetricsPort)
	} else {
		sugar.Infof("metrics server listening on http://%s/metrics", cfg.MetricsAddr())
	}

	g, gctx := errgroup.WithContext(ctx)

	cron := scheduler.NewCron(sugar)
	if err := cron.Schedule(gctx, cfg.Schedule, jobName, rec.Run); err != nil {
		return err
	}

	if cfg.RunOnStart {
		g.Go(func() error {
			if err := rec.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				sugar.Errorw("initial pass failed", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return cron.Run(gctx)
	})

	// Metrics server and producer error monitoring goroutine
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-metricsErrCh:
			if err != nil {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		case err, ok := <-pub.errs:
			if ok && err != nil {
				return fmt.Errorf("kafka producer error: %w", err)
			}
			return nil
		}
	})

	// Wait for first error or completion from any goroutine
	err = g.Wait()

	// Gracefully shutdown metrics server
	sugar.Info("shutting down metrics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
		sugar.Warnw("metrics server shutdown error", "error", shutdownErr)
	}

	sugar.Info("shutdown complete")
	return err
}

func openStores(ctx context.Context, cfg *Config, sugar *zap.SugaredLogger) (*stores, error) {
	if cfg.InMemory {
		sugar.Warn("using empty in-memory stores, nothing is persisted")
		msgs := inmemory.NewMessageStore()
		return &stores{
			messages:     msgs,
			proofs:       msgs,
			events:       inmemory.NewEventIndex(),
			checkpointer: checkpointer.NewMemoryCheckpointer(),
			close:        func() {},
		}, nil
	}

	chClient, err := clickhouse.New(cfg.ClickHouse, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to create ClickHouse client: %w", err)
	}
	sugar.Info("ClickHouse client created successfully")

	closeClient := func() {
		if err := chClient.Close(); err != nil {
			sugar.Warnw("failed to close ClickHouse client", "error", err)
		}
	}

	nodeState, err := nodestate.NewRepository(ctx, chClient, cfg.ClickHouse.Cluster, cfg.ClickHouse.Database, cfg.NodeStateTable)
	if err != nil {
		closeClient()
		return nil, fmt.Errorf("failed to create node state repository: %w", err)
	}
	sugar.Infow("node state table ready", "tableName", cfg.NodeStateTable)

	msgs, err := messages.NewRepository(ctx, chClient, cfg.ClickHouse.Cluster, cfg.ClickHouse.Database, cfg.MessagesTable)
	if err != nil {
		closeClient()
		return nil, fmt.Errorf("failed to create messages repository: %w", err)
	}
	sugar.Infow("messages table ready", "tableName", cfg.MessagesTable)

	events, err := onchain.NewRepository(ctx, chClient, cfg.ClickHouse.Cluster, cfg.ClickHouse.Database, cfg.OnChainEventsTable)
	if err != nil {
		closeClient()
		return nil, fmt.Errorf("failed to create onchain events repository: %w", err)
	}
	sugar.Infow("onchain events table ready", "tableName", cfg.OnChainEventsTable)

	return &stores{
		messages:     msgs,
		proofs:       msgs,
		events:       events,
		checkpointer: nodeState,
		close:        closeClient,
	}, nil
}

func newPublishing(ctx context.Context, cfg kafka.PublisherConfig, sugar *zap.SugaredLogger) (*publishing, error) {
	if !cfg.Enabled() {
		sugar.Info("KAFKA_BOOTSTRAP_SERVERS not set, revocations are not published")
		return &publishing{publisher: kafka.NopPublisher{}, close: func() {}}, nil
	}

	adminClient, err := confluentKafka.NewAdminClient(cfg.ConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka admin client: %w", err)
	}
	defer adminClient.Close()

	if err := kafka.EnsureTopic(ctx, adminClient, cfg.TopicConfig(), sugar); err != nil {
		return nil, fmt.Errorf("failed to ensure kafka topic exists: %w", err)
	}

	producer, err := kafka.NewProducer(ctx, cfg.ConfigMap(), sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &publishing{
		publisher: kafka.NewRevocationPublisher(producer, cfg.Topic, cfg.PublishTimeout),
		errs:      producer.Errors(),
		close:     func() { producer.Close(cfg.FlushTimeout) },
	}, nil
}
