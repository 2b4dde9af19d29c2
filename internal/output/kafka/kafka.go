// Package kafka publishes scored transactions to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/crimson-sun/fraudlens/internal/metrics"
	"github.com/crimson-sun/fraudlens/internal/model"
	"github.com/crimson-sun/fraudlens/internal/output"
)

const (
	defaultTopic   = "fraud_scores"
	flushTimeoutMS = 10_000
)

// producer is the subset of *kafka.Producer the output uses.
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// Output produces one message per result, keyed by transaction id so all
// scores of a transaction land on the same partition.
type Output struct {
	p         producer
	topic     string
	verbosity output.Verbosity
	done      chan struct{}
	closeOnce sync.Once
}

// New connects a producer to brokers and publishes to topic.
func New(brokers, topic string, verbosity output.Verbosity) (*Output, error) {
	if brokers == "" {
		return nil, fmt.Errorf("kafka output: no brokers configured")
	}
	p, err := kafka.NewProducer(producerConfig(brokers))
	if err != nil {
		return nil, fmt.Errorf("kafka output: %w", err)
	}
	return newOutput(p, topic, verbosity), nil
}

func producerConfig(brokers string) *kafka.ConfigMap {
	return &kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "all",
		"linger.ms":         5,
	}
}

func newOutput(p producer, topic string, verbosity output.Verbosity) *Output {
	if topic == "" {
		topic = defaultTopic
	}
	o := &Output{
		p:         p,
		topic:     topic,
		verbosity: verbosity,
		done:      make(chan struct{}),
	}
	go o.deliveries()
	return o
}

// deliveries drains delivery reports; failures are counted and logged.
func (o *Output) deliveries() {
	defer close(o.done)
	for ev := range o.p.Events() {
		switch e := ev.(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				metrics.OutputErrorsTotal.WithLabelValues("kafka").Inc()
				slog.Warn("kafka delivery failed",
					"topic", o.topic, "key", string(e.Key), "error", e.TopicPartition.Error)
			}
		case kafka.Error:
			slog.Error("kafka producer error", "code", e.Code(), "error", e)
		}
	}
}

// Write enqueues the result. Delivery is asynchronous.
func (o *Output) Write(_ context.Context, result model.ScoredTransaction) error {
	value, err := json.Marshal(output.FormatResult(result, o.verbosity))
	if err != nil {
		return fmt.Errorf("kafka output: marshal: %w", err)
	}
	err = o.p.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &o.topic, Partition: kafka.PartitionAny},
		Key:            []byte(result.TransactionID),
		Value:          value,
	}, nil)
	if err != nil {
		return fmt.Errorf("kafka output: produce %s: %w", result.TransactionID, err)
	}
	return nil
}

// Close flushes outstanding messages and closes the producer.
func (o *Output) Close() error {
	var err error
	o.closeOnce.Do(func() {
		if left := o.p.Flush(flushTimeoutMS); left > 0 {
			err = fmt.Errorf("kafka output: %d messages not delivered", left)
		}
		o.p.Close()
		<-o.done
	})
	return err
}

func (o *Output) Name() string { return "kafka" }
