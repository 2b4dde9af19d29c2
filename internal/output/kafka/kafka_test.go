package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/fraudlens/internal/metrics"
	"github.com/crimson-sun/fraudlens/internal/model"
	"github.com/crimson-sun/fraudlens/internal/output"
)

// fakeProducer records produced messages and echoes them as delivery
// reports, optionally failing them.
type fakeProducer struct {
	mu         sync.Mutex
	msgs       []*kafka.Message
	events     chan kafka.Event
	produceErr error
	deliverErr error
	unflushed  int
	closed     bool
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{events: make(chan kafka.Event, 16)}
}

func (f *fakeProducer) Produce(msg *kafka.Message, _ chan kafka.Event) error {
	if f.produceErr != nil {
		return f.produceErr
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()

	report := *msg
	report.TopicPartition.Error = f.deliverErr
	f.events <- &report
	return nil
}

func (f *fakeProducer) Events() chan kafka.Event { return f.events }
func (f *fakeProducer) Flush(int) int            { return f.unflushed }

func (f *fakeProducer) Close() {
	f.closed = true
	close(f.events)
}

func testResult() model.ScoredTransaction {
	return model.ScoredTransaction{
		TransactionID:    "TXN_406",
		IsFraud:          true,
		FraudProbability: 0.93,
		RiskLevel:        model.RiskHigh,
		ModelScores:      &model.ModelScores{IsolationForest: 0.88, XGBoost: 0.95, Ensemble: 0.93},
		Timestamp:        time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC),
		Amount:           0,
	}
}

func TestWriteKeysByTransactionID(t *testing.T) {
	fp := newFakeProducer()
	out := newOutput(fp, "scores", output.Standard)

	require.NoError(t, out.Write(context.Background(), testResult()))
	require.NoError(t, out.Close())

	require.Len(t, fp.msgs, 1)
	msg := fp.msgs[0]
	assert.Equal(t, "TXN_406", string(msg.Key))
	assert.Equal(t, "scores", *msg.TopicPartition.Topic)
	assert.Equal(t, kafka.PartitionAny, msg.TopicPartition.Partition)

	var got model.ScoredTransaction
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, model.RiskHigh, got.RiskLevel)
	require.NotNil(t, got.ModelScores)
	assert.True(t, fp.closed)
}

func TestDefaultTopicAndMinimal(t *testing.T) {
	fp := newFakeProducer()
	out := newOutput(fp, "", output.Minimal)
	require.NoError(t, out.Write(context.Background(), testResult()))
	require.NoError(t, out.Close())

	assert.Equal(t, "fraud_scores", *fp.msgs[0].TopicPartition.Topic)
	var m map[string]any
	require.NoError(t, json.Unmarshal(fp.msgs[0].Value, &m))
	assert.NotContains(t, m, "model_scores")
}

func TestProduceErrorReturned(t *testing.T) {
	fp := newFakeProducer()
	fp.produceErr = errors.New("queue full")
	out := newOutput(fp, "scores", output.Standard)
	defer out.Close()

	err := out.Write(context.Background(), testResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TXN_406")
}

func TestDeliveryFailureCounted(t *testing.T) {
	before := testutil.ToFloat64(metrics.OutputErrorsTotal.WithLabelValues("kafka"))

	fp := newFakeProducer()
	fp.deliverErr = kafka.NewError(kafka.ErrMsgTimedOut, "timed out", false)
	out := newOutput(fp, "scores", output.Standard)
	require.NoError(t, out.Write(context.Background(), testResult()))
	require.NoError(t, out.Close()) // waits for the delivery goroutine

	after := testutil.ToFloat64(metrics.OutputErrorsTotal.WithLabelValues("kafka"))
	assert.Equal(t, 1.0, after-before)
}

func TestCloseReportsUndelivered(t *testing.T) {
	fp := newFakeProducer()
	fp.unflushed = 3
	out := newOutput(fp, "scores", output.Standard)

	err := out.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 messages")

	// Idempotent.
	assert.NoError(t, out.Close())
}

func TestProducerConfig(t *testing.T) {
	cm := producerConfig("b1:9092")
	v, err := cm.Get("bootstrap.servers", nil)
	require.NoError(t, err)
	assert.Equal(t, "b1:9092", v)
	v, _ = cm.Get("acks", nil)
	assert.Equal(t, "all", v)
}

func TestNewRequiresBrokers(t *testing.T) {
	_, err := New("", "scores", output.Standard)
	assert.Error(t, err)
}
