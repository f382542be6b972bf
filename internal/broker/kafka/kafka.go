// Package kafka is the alternate broker.Source implementation, backed by
// github.com/IBM/sarama's consumer-group API. Kafka has no native
// cumulative-ack primitive; the adapter emulates one by tagging each
// delivery with a monotonic sequence number and, on AckUpTo, marking every
// buffered message up to that sequence as consumed before committing the
// consumer group's offsets in one round trip.
package kafka

import (
	"context"
	"sync"

	"github.com/IBM/sarama"

	"github.com/cyberstudio/batchmq/internal/broker"
	"github.com/cyberstudio/batchmq/pkg/errors"
)

// Config configures the connection to a Kafka cluster.
type Config struct {
	Brokers []string
	Group   string
	Version sarama.KafkaVersion
}

// Source connects to Kafka and opens consumer groups on it.
type Source struct {
	cfg    Config
	client sarama.Client
}

// New creates a Kafka source. Connect must be called before Open.
func New(cfg Config) *Source {
	return &Source{cfg: cfg}
}

func (s *Source) Connect(ctx context.Context) error {
	saramaCfg := sarama.NewConfig()
	if s.cfg.Version.String() != "0.0.0" {
		saramaCfg.Version = s.cfg.Version
	}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(s.cfg.Brokers, saramaCfg)
	if err != nil {
		return errors.Unavailable("kafka: client init failed", err)
	}
	s.client = client
	return nil
}

func (s *Source) Open(ctx context.Context, topic string, prefetch int) (broker.Queue, error) {
	if s.client == nil {
		return nil, errors.Unavailable("kafka: not connected", nil)
	}

	group, err := sarama.NewConsumerGroupFromClient(s.cfg.Group, s.client)
	if err != nil {
		return nil, errors.Unavailable("kafka: consumer group init failed", err)
	}

	q := &queue{
		group:      group,
		topic:      topic,
		deliveries: make(chan broker.Delivery, prefetch),
		errs:       make(chan error, 1),
		pending:    make(map[uint64]pendingMsg),
	}

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.wg.Add(1)
	go q.run(ctx)

	go func() {
		for err := range group.Errors() {
			select {
			case q.errs <- errors.Unavailable("kafka: consumer group error", err):
			default:
			}
		}
	}()

	return q, nil
}

func (s *Source) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

type pendingMsg struct {
	session sarama.ConsumerGroupSession
	message *sarama.ConsumerMessage
}

type queue struct {
	group      sarama.ConsumerGroup
	topic      string
	deliveries chan broker.Delivery
	errs       chan error
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	pending map[uint64]pendingMsg
	nextTag uint64
}

func (q *queue) run(ctx context.Context) {
	defer q.wg.Done()
	defer close(q.deliveries)
	for {
		if err := q.group.Consume(ctx, []string{q.topic}, q); err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case q.errs <- broker.ErrConnectionLost:
			default:
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Setup and Cleanup implement sarama.ConsumerGroupHandler.
func (q *queue) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (q *queue) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim implements sarama.ConsumerGroupHandler.
func (q *queue) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		q.mu.Lock()
		q.nextTag++
		tag := q.nextTag
		q.pending[tag] = pendingMsg{session: session, message: msg}
		q.mu.Unlock()

		select {
		case q.deliveries <- broker.Delivery{BodyValue: msg.Value, RoutingKeyValue: q.topic, Tag: tag}:
		case <-session.Context().Done():
			return nil
		}
	}
	return nil
}

func (q *queue) Deliveries() <-chan broker.Delivery { return q.deliveries }
func (q *queue) Errors() <-chan error                { return q.errs }

func (q *queue) AckUpTo(ctx context.Context, tag uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var lastSession sarama.ConsumerGroupSession
	for t := uint64(1); t <= tag; t++ {
		pm, ok := q.pending[t]
		if !ok {
			continue
		}
		pm.session.MarkMessage(pm.message, "")
		lastSession = pm.session
		delete(q.pending, t)
	}
	if lastSession != nil {
		lastSession.Commit()
	}
	return nil
}

func (q *queue) Close() error {
	if q.cancel != nil {
		q.cancel()
	}
	err := q.group.Close()
	q.wg.Wait()
	if err != nil {
		return errors.Internal("kafka: consumer group close failed", err)
	}
	return nil
}
