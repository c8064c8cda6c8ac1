package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// Record is a single message to produce.
type Record struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Producer produces records synchronously: Produce returns once the broker
// acknowledged the record or delivery failed.
//
// A background goroutine drains producer events and librdkafka logs. Close
// must be called to stop it and flush in-flight records.
type Producer struct {
	producer *kafka.Producer
	log      *zap.SugaredLogger
	errCh    chan error
	closedCh chan struct{}
	done     chan struct{}
	once     sync.Once
}

const queueFullRetryDelay = 500 * time.Millisecond

// NewProducer creates a Producer from conf. ctx bounds the lifetime of the
// background event loop.
func NewProducer(ctx context.Context, conf *kafka.ConfigMap, log *zap.SugaredLogger) (*Producer, error) {
	p, err := kafka.NewProducer(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	logsEnabled, err := conf.Get("go.logs.channel.enable", false)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to get go.logs.channel.enable: %w", err)
	}

	q := &Producer{
		producer: p,
		log:      log,
		errCh:    make(chan error, 1),
		closedCh: make(chan struct{}),
		done:     make(chan struct{}),
	}

	var logs chan kafka.LogEvent
	if enabled, _ := logsEnabled.(bool); enabled {
		logs = p.Logs()
	}
	go q.loop(ctx, logs)

	return q, nil
}

// Produce sends rec and waits for its delivery report. When ctx ends first,
// ctx.Err() is returned and the record may still be delivered later.
func (q *Producer) Produce(ctx context.Context, rec Record) error {
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &rec.Topic,
			Partition: kafka.PartitionAny,
		},
		Key:   rec.Key,
		Value: rec.Value,
	}
	for k, v := range rec.Headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	deliveryCh := make(chan kafka.Event, 1)
	if err := q.enqueue(ctx, msg, deliveryCh); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-deliveryCh:
		return deliveryResult(ev)
	}
}

func (q *Producer) enqueue(ctx context.Context, msg *kafka.Message, deliveryCh chan kafka.Event) error {
	for {
		err := q.producer.Produce(msg, deliveryCh)
		if err == nil {
			return nil
		}

		var kafkaErr kafka.Error
		if !errors.As(err, &kafkaErr) || kafkaErr.Code() != kafka.ErrQueueFull {
			return fmt.Errorf("failed to produce to %s: %w", *msg.TopicPartition.Topic, err)
		}

		q.log.Warnw("producer queue full, retrying", "delay", queueFullRetryDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(queueFullRetryDelay):
		}
	}
}

func deliveryResult(ev kafka.Event) error {
	m, ok := ev.(*kafka.Message)
	if !ok {
		return fmt.Errorf("unexpected delivery event: %T", ev)
	}
	if err := m.TopicPartition.Error; err != nil {
		return fmt.Errorf("delivery failed: %w", err)
	}
	return nil
}

// Errors returns a channel receiving at most one fatal producer error. It is
// closed by Close. After a fatal error the producer must be recreated.
func (q *Producer) Errors() <-chan error {
	return q.errCh
}

// Close stops the event loop, flushes pending records for up to timeout and
// releases the producer. Subsequent calls do nothing.
func (q *Producer) Close(timeout time.Duration) {
	q.once.Do(func() {
		close(q.closedCh)
		<-q.done

		if pending := q.producer.Flush(int(timeout.Milliseconds())); pending > 0 {
			q.log.Warnw("kafka flush incomplete, pending records dropped", "pending", pending)
		}
		q.producer.Close()
		close(q.errCh)
		q.log.Info("kafka producer closed")
	})
}

func (q *Producer) loop(ctx context.Context, logs chan kafka.LogEvent) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closedCh:
			return
		case l, ok := <-logs:
			if !ok {
				logs = nil
				continue
			}
			q.log.Debugw("librdkafka", "level", l.Level, "tag", l.Tag, "message", l.Message)
		case ev, ok := <-q.producer.Events():
			if !ok {
				q.fail(errors.New("kafka producer event channel closed"))
				return
			}
			if q.handleEvent(ev) {
				return
			}
		}
	}
}

// handleEvent reports whether ev is fatal.
func (q *Producer) handleEvent(ev kafka.Event) bool {
	switch e := ev.(type) {
	case kafka.Error:
		if e.IsFatal() || e.Code() == kafka.ErrAllBrokersDown {
			q.fail(fmt.Errorf("fatal kafka error %#x: %w", e.Code(), e))
			return true
		}
		q.log.Warnw("kafka error", "code", e.Code(), "error", e)
	case *kafka.Message:
		// delivery reports go to the per-record channel; this is a stray one
		if e.TopicPartition.Error != nil {
			q.log.Errorw("stray delivery failure", "partition", e.TopicPartition.String())
		}
	case kafka.Stats:
		q.log.Debugw("kafka stats", "stats", e.String())
	default:
		q.log.Debugw("ignoring kafka event", "event", e.String())
	}
	return false
}

func (q *Producer) fail(err error) {
	select {
	case q.errCh <- err:
	default:
		q.log.Warnw("dropping kafka error, one already pending", "error", err)
	}
}
