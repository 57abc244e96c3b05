// Package intake executes ledger commands read from a Kafka topic.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"foodledger/internal/command"
	"foodledger/internal/ledger"
	"foodledger/internal/metrics"
	"foodledger/internal/model"
)

// Config selects the brokers and topics. An empty ResultsTopic disables result publishing.
type Config struct {
	Bootstrap    string
	GroupID      string
	Topic        string
	ResultsTopic string
	Poll         time.Duration
}

type messageReader interface {
	ReadMessage(timeout time.Duration) (*ck.Message, error)
	CommitMessage(m *ck.Message) ([]ck.TopicPartition, error)
}

type resultProducer interface {
	Produce(msg *ck.Message, deliveryChan chan ck.Event) error
}

type Consumer struct {
	reader       messageReader
	producer     resultProducer
	resultsTopic string
	poll         time.Duration
	ledger       *ledger.Ledger
	metrics      *metrics.Registry
	logger       *zap.Logger
	closers      []func()
}

// NewConsumer subscribes to cfg.Topic with manual offset commits.
func NewConsumer(cfg Config, l *ledger.Ledger, m *metrics.Registry, logger *zap.Logger) (*Consumer, error) {
	c, err := ck.NewConsumer(&ck.ConfigMap{
		"bootstrap.servers":  cfg.Bootstrap,
		"group.id":           cfg.GroupID,
		"enable.auto.commit": false,
		"isolation.level":    "read_committed",
		"auto.offset.reset":  "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("consumer: %w", err)
	}
	if err := c.SubscribeTopics([]string{cfg.Topic}, nil); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Topic, err)
	}

	var p *ck.Producer
	if cfg.ResultsTopic != "" {
		p, err = ck.NewProducer(&ck.ConfigMap{
			"bootstrap.servers":  cfg.Bootstrap,
			"enable.idempotence": true,
			"acks":               "all",
		})
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("producer: %w", err)
		}
	}

	out := newConsumer(c, nil, cfg, l, m, logger)
	out.closers = append(out.closers, func() { _ = c.Close() })
	if p != nil {
		out.producer = p
		// Delivery reports arrive on per-message channels; only client-level
		// events reach Events(). It is closed by p.Close.
		go func() {
			for ev := range p.Events() {
				if kerr, ok := ev.(ck.Error); ok {
					out.logger.Warn("intake producer error", zap.Error(kerr))
				}
			}
		}()
		out.closers = append(out.closers, func() {
			p.Flush(5000)
			p.Close()
		})
	}
	return out, nil
}

// NewConsumerWith builds a consumer over injected reader and producer (tests).
func NewConsumerWith(r messageReader, p resultProducer, cfg Config, l *ledger.Ledger, m *metrics.Registry, logger *zap.Logger) *Consumer {
	return newConsumer(r, p, cfg, l, m, logger)
}

func newConsumer(r messageReader, p resultProducer, cfg Config, l *ledger.Ledger, m *metrics.Registry, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	poll := cfg.Poll
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	return &Consumer{
		reader:       r,
		producer:     p,
		resultsTopic: cfg.ResultsTopic,
		poll:         poll,
		ledger:       l,
		metrics:      m,
		logger:       logger,
	}
}

func (c *Consumer) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Run consumes until ctx is cancelled. It returns an error when a command fails for
// a reason other than a ledger rejection; that message is left uncommitted.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		msg, err := c.reader.ReadMessage(c.poll)
		if err != nil {
			var kerr ck.Error
			if errors.As(err, &kerr) {
				if kerr.Code() == ck.ErrTimedOut {
					continue
				}
				if kerr.IsFatal() {
					return fmt.Errorf("read: %w", err)
				}
			}
			c.logger.Warn("intake read failed", zap.Error(err))
			continue
		}
		if err := c.handle(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg *ck.Message) error {
	fields := []zap.Field{zap.String("key", string(msg.Key)), zap.Stringer("partition", msg.TopicPartition)}

	cmd, err := command.Decode(msg.Value)
	if err != nil {
		c.count("invalid")
		c.logger.Warn("intake dropped malformed command", append(fields, zap.Error(err))...)
		return c.commit(ctx, msg, command.Result{Code: model.ErrorCode(err), Message: err.Error()})
	}

	res, err := command.Execute(ctx, c.ledger, cmd)
	switch {
	case err == nil:
		c.count("ok")
	case model.IsRejection(err):
		c.count("rejected")
		c.logger.Info("intake command rejected", append(fields, zap.String("op", string(cmd.Op)), zap.String("code", res.Code), zap.Error(err))...)
	default:
		c.count("failed")
		return fmt.Errorf("execute %s: %w", cmd.Op, err)
	}
	return c.commit(ctx, msg, res)
}

// commit publishes res, waits for its delivery report and then commits the
// offset. A result that is not delivered leaves the offset uncommitted.
func (c *Consumer) commit(ctx context.Context, msg *ck.Message, res command.Result) error {
	if c.producer != nil {
		if err := c.publish(ctx, msg.Key, res); err != nil {
			c.count("undelivered")
			return err
		}
	}
	if _, err := c.reader.CommitMessage(msg); err != nil {
		return fmt.Errorf("commit offset: %w", err)
	}
	return nil
}

func (c *Consumer) publish(ctx context.Context, key []byte, res command.Result) error {
	val, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	topic := c.resultsTopic
	delivery := make(chan ck.Event, 1)
	if err := c.producer.Produce(&ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &topic, Partition: ck.PartitionAny},
		Key:            key,
		Value:          val,
	}, delivery); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	select {
	case ev := <-delivery:
		m, ok := ev.(*ck.Message)
		if !ok {
			return fmt.Errorf("publish result: unexpected delivery event %v", ev)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("publish result: %w", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish result: %w", ctx.Err())
	}
}

func (c *Consumer) count(result string) {
	if c.metrics != nil {
		c.metrics.IntakeMessages.WithLabelValues(result).Inc()
	}
}
