package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/miles-six/hub-monorepo/pkg/types"
)

type recordProducer interface {
	Produce(ctx context.Context, rec Record) error
}

// RevocationPublisher publishes revoked messages as JSON records keyed by fid,
// so the revocations of one fid stay ordered within a partition.
type RevocationPublisher struct {
	producer recordProducer
	topic    string
	timeout  time.Duration
}

// NewRevocationPublisher creates a publisher writing to topic through p.
func NewRevocationPublisher(p recordProducer, topic string, timeout time.Duration) *RevocationPublisher {
	return &RevocationPublisher{producer: p, topic: topic, timeout: timeout}
}

// PublishRevocation produces r and waits for its delivery.
func (p *RevocationPublisher) PublishRevocation(ctx context.Context, r types.Revocation) error {
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal revocation: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.producer.Produce(ctx, Record{
		Topic: p.topic,
		Key:   []byte(strconv.FormatUint(r.Fid, 10)),
		Value: value,
		Headers: map[string]string{
			"reason": string(r.Reason),
			"type":   r.TypeName,
		},
	})
}

// NopPublisher discards revocations.
type NopPublisher struct{}

func (NopPublisher) PublishRevocation(context.Context, types.Revocation) error { return nil }
