package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/crimson-sun/fraudlens/internal/metrics"
	"github.com/crimson-sun/fraudlens/internal/model"
	"github.com/crimson-sun/fraudlens/internal/output"
)

func testResult(id string) model.ScoredTransaction {
	return model.ScoredTransaction{
		TransactionID:    id,
		IsFraud:          true,
		FraudProbability: 0.9,
		RiskLevel:        model.RiskHigh,
		ModelScores:      &model.ModelScores{IsolationForest: 0.8, XGBoost: 0.95, Ensemble: 0.9},
		Timestamp:        time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC),
		Amount:           2500,
	}
}

// recorder collects every batch POSTed to it.
type recorder struct {
	mu       sync.Mutex
	received [][]model.ScoredTransaction
}

func (rec *recorder) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var batch []model.ScoredTransaction
	json.Unmarshal(body, &batch)
	rec.mu.Lock()
	rec.received = append(rec.received, batch)
	rec.mu.Unlock()
	w.WriteHeader(200)
}

func (rec *recorder) batches() [][]model.ScoredTransaction {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([][]model.ScoredTransaction(nil), rec.received...)
}

func TestBatchFlushAtBatchSize(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	out := New(srv.URL, WithBatchSize(3), WithFlushInterval(10*time.Second))

	for i := 0; i < 3; i++ {
		if err := out.Write(context.Background(), testResult("TXN_1")); err != nil {
			t.Fatalf("Write error: %v", err)
		}
	}

	got := rec.batches()
	if len(got) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(got))
	}
	if len(got[0]) != 3 {
		t.Errorf("batch size = %d, want 3", len(got[0]))
	}
}

func TestTimerFlushBeforeBatchSize(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	out := New(srv.URL, WithBatchSize(100), WithFlushInterval(100*time.Millisecond))

	out.Write(context.Background(), testResult("TXN_2"))

	// Wait for the timer to fire.
	time.Sleep(300 * time.Millisecond)

	got := rec.batches()
	if len(got) != 1 {
		t.Fatalf("expected 1 timer-triggered batch, got %d", len(got))
	}
	if len(got[0]) != 1 {
		t.Errorf("batch size = %d, want 1", len(got[0]))
	}
}

func TestRetryOn5xx(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n <= 2 {
			w.WriteHeader(500)
			return
		}
		w.WriteHeader(200)
	}))
	defer srv.Close()

	before := testutil.ToFloat64(metrics.WebhookDeliveriesTotal.WithLabelValues("http_500"))

	out := New(srv.URL, WithBatchSize(1), WithRetryDelay(10*time.Millisecond))
	if err := out.Write(context.Background(), testResult("TXN_3")); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
	after := testutil.ToFloat64(metrics.WebhookDeliveriesTotal.WithLabelValues("http_500"))
	if after-before != 2 {
		t.Errorf("http_500 deliveries delta = %v, want 2", after-before)
	}
}

func TestNoRetryOn4xx(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(400)
	}))
	defer srv.Close()

	out := New(srv.URL, WithBatchSize(1))
	err := out.Write(context.Background(), testResult("TXN_4"))

	if err == nil {
		t.Error("expected error for 400 response")
	}
	if attempts.Load() != 1 {
		t.Errorf("expected exactly 1 attempt for 4xx, got %d", attempts.Load())
	}
}

func TestCustomHeadersAndToken(t *testing.T) {
	var gotCustom, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCustom = r.Header.Get("X-Custom-Auth")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(200)
	}))
	defer srv.Close()

	out := New(srv.URL,
		WithBatchSize(1),
		WithHeaders(map[string]string{"X-Custom-Auth": "secret123"}),
		WithToken("tok"),
	)

	out.Write(context.Background(), testResult("TXN_5"))

	if gotCustom != "secret123" {
		t.Errorf("custom header = %q, want secret123", gotCustom)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
}

func TestMinimalVerbosityStripsScores(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	out := New(srv.URL, WithBatchSize(1), WithVerbosity(output.Minimal))
	out.Write(context.Background(), testResult("TXN_6"))

	var batch []map[string]any
	if err := json.Unmarshal(body, &batch); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("batch size = %d, want 1", len(batch))
	}
	if _, ok := batch[0]["model_scores"]; ok {
		t.Error("model_scores should be omitted at Minimal")
	}
}

func TestTimerFlushErrorCallbackInvoked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
	}))
	defer srv.Close()

	var errCount atomic.Int64
	out := New(srv.URL,
		WithBatchSize(100),
		WithFlushInterval(50*time.Millisecond),
		WithOnError(func(err error) { errCount.Add(1) }),
	)

	out.Write(context.Background(), testResult("TXN_7"))

	// Wait for timer-triggered flush + HTTP round-trip.
	time.Sleep(300 * time.Millisecond)

	if errCount.Load() != 1 {
		t.Errorf("expected error callback called 1 time, got %d", errCount.Load())
	}

	out.Close()
}

func TestCloseFlushesRemaining(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	out := New(srv.URL, WithBatchSize(100), WithFlushInterval(10*time.Second))

	out.Write(context.Background(), testResult("TXN_8"))
	out.Write(context.Background(), testResult("TXN_9"))

	if err := out.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	got := rec.batches()
	if len(got) != 1 {
		t.Fatalf("expected 1 batch on Close, got %d", len(got))
	}
	if len(got[0]) != 2 {
		t.Errorf("batch size = %d, want 2", len(got[0]))
	}
	if got[0][1].TransactionID != "TXN_9" {
		t.Errorf("order not preserved: %+v", got[0])
	}
}
