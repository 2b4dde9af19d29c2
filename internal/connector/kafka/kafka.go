// Package kafka consumes JSON transactions from a Kafka topic.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/crimson-sun/fraudlens/internal/connector"
	"github.com/crimson-sun/fraudlens/internal/model"
)

const (
	provider = "kafka"

	defaultTopic   = "transactions"
	defaultGroupID = "fraudlens"
	defaultIdle    = 5 * time.Second

	pollTimeoutMS  = 100
	minCommitCount = 20
)

func init() {
	connector.Register(provider, func() connector.Connector {
		return &Connector{}
	})
}

// Connector implements connector.Connector for a Kafka consumer group.
// cfg.Endpoint is the bootstrap broker list. Extra keys: "topic",
// "group_id", "offset_reset" (earliest|latest).
type Connector struct{}

// consumerConfig builds the librdkafka settings. Offsets are committed
// manually after messages are handed off.
func consumerConfig(cfg connector.ConnectorConfig) (*kafka.ConfigMap, []string, error) {
	if cfg.Endpoint == "" {
		return nil, nil, fmt.Errorf("kafka connector: no brokers configured")
	}
	topic := extra(cfg, "topic", defaultTopic)
	cm := &kafka.ConfigMap{
		"bootstrap.servers":  cfg.Endpoint,
		"group.id":           extra(cfg, "group_id", defaultGroupID),
		"auto.offset.reset":  extra(cfg, "offset_reset", "earliest"),
		"enable.auto.commit": false,
	}
	return cm, strings.Split(topic, ","), nil
}

func extra(cfg connector.ConnectorConfig, key, fallback string) string {
	if v := cfg.Extra[key]; v != "" {
		return v
	}
	return fallback
}

func subscribe(cfg connector.ConnectorConfig) (*kafka.Consumer, error) {
	cm, topics, err := consumerConfig(cfg)
	if err != nil {
		return nil, err
	}
	c, err := kafka.NewConsumer(cm)
	if err != nil {
		return nil, fmt.Errorf("kafka connector: %w", err)
	}
	if err := c.SubscribeTopics(topics, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("kafka connector: subscribe %v: %w", topics, err)
	}
	slog.Info("kafka consumer subscribed", "brokers", cfg.Endpoint, "topics", topics)
	return c, nil
}

// consumer wraps the poll loop shared by Stream and Query.
type consumer struct {
	c       *kafka.Consumer
	pending int // messages since last commit
}

// next polls once. Returns ok=false when nothing usable arrived. Offsets of
// messages returned by earlier calls are committed first.
func (cs *consumer) next() (model.Transaction, bool) {
	if cs.pending >= minCommitCount {
		cs.commit()
	}
	ev := cs.c.Poll(pollTimeoutMS)
	if ev == nil {
		return model.Transaction{}, false
	}

	switch e := ev.(type) {
	case *kafka.Message:
		cs.pending++
		txn, err := connector.DecodeTransaction(e.Value)
		if err != nil {
			connector.Malformed(provider, e.TopicPartition.String(), err)
			return model.Transaction{}, false
		}
		return txn, true
	case kafka.Error:
		slog.Error("kafka consumer error", "code", e.Code(), "error", e)
	case kafka.PartitionEOF:
		slog.Debug("kafka partition EOF", "partition", e.String())
	default:
		slog.Debug("kafka event ignored", "event", e.String())
	}
	return model.Transaction{}, false
}

func (cs *consumer) commit() {
	if cs.pending == 0 {
		return
	}
	if _, err := cs.c.Commit(); err != nil {
		// "No offset stored" is routine when nothing new was consumed.
		if kerr, ok := err.(kafka.Error); !ok || kerr.Code() != kafka.ErrNoOffset {
			slog.Warn("kafka commit failed", "error", err)
		}
	}
	cs.pending = 0
}

func (cs *consumer) close() {
	cs.commit()
	if err := cs.c.Close(); err != nil {
		slog.Warn("kafka consumer close failed", "error", err)
	}
}

// Stream consumes until ctx is done, then commits and closes the consumer.
func (c *Connector) Stream(ctx context.Context, cfg connector.ConnectorConfig) (<-chan model.Transaction, error) {
	kc, err := subscribe(cfg)
	if err != nil {
		return nil, err
	}

	ch := make(chan model.Transaction, 256)
	go func() {
		cs := &consumer{c: kc}
		defer close(ch)
		defer cs.close()
		for ctx.Err() == nil {
			txn, ok := cs.next()
			if !ok {
				continue
			}
			select {
			case ch <- txn:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Query drains up to params.Limit messages, or until none arrives for
// params.Idle (default 5s).
func (c *Connector) Query(ctx context.Context, cfg connector.ConnectorConfig, params connector.QueryParams) ([]model.Transaction, error) {
	kc, err := subscribe(cfg)
	if err != nil {
		return nil, err
	}
	cs := &consumer{c: kc}
	defer cs.close()

	idle := params.Idle
	if idle <= 0 {
		idle = defaultIdle
	}

	var out []model.Transaction
	last := time.Now()
	for ctx.Err() == nil && time.Since(last) < idle {
		txn, ok := cs.next()
		if !ok {
			continue
		}
		last = time.Now()
		out = append(out, txn)
		if params.Limit > 0 && len(out) >= params.Limit {
			break
		}
	}
	return out, ctx.Err()
}
