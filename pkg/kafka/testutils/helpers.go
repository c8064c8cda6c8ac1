package testutils

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	testKafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// NewTestLogger creates a test logger that writes to testing.T
func NewTestLogger(t *testing.T) *zap.SugaredLogger {
	return zaptest.NewLogger(t).Sugar()
}

// StartKafka runs a single-node broker for the duration of the test and
// returns its bootstrap servers.
func StartKafka(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testKafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		testKafka.WithClusterID("revoker-test"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate kafka container: %s", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}
