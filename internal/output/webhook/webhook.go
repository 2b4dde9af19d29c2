// Package webhook POSTs batches of scored transactions to an HTTP endpoint.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crimson-sun/fraudlens/internal/connector/httpclient"
	"github.com/crimson-sun/fraudlens/internal/metrics"
	"github.com/crimson-sun/fraudlens/internal/model"
	"github.com/crimson-sun/fraudlens/internal/output"
)

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 5 * time.Second
	defaultTimeout       = 10 * time.Second
)

// Option configures a webhook Output.
type Option func(*Output)

// WithHeaders sets custom HTTP headers sent with every POST.
func WithHeaders(h map[string]string) Option {
	return func(o *Output) { o.headers = h }
}

// WithToken sends "Authorization: Bearer <token>" with every POST.
func WithToken(token string) Option {
	return func(o *Output) { o.token = token }
}

// WithBatchSize sets the number of results accumulated before a flush. Default: 50.
func WithBatchSize(n int) Option {
	return func(o *Output) { o.batchSize = n }
}

// WithFlushInterval sets the maximum time between flushes. Default: 5s.
func WithFlushInterval(d time.Duration) Option {
	return func(o *Output) { o.flushInterval = d }
}

// WithTimeout sets the per-request HTTP timeout. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(o *Output) { o.timeout = d }
}

// WithRetryDelay sets the first backoff delay for 5xx retries. Default: 1s.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Output) { o.retryDelay = d }
}

// WithVerbosity sets the result formatting. Default: Standard.
func WithVerbosity(v output.Verbosity) Option {
	return func(o *Output) { o.verbosity = v }
}

// WithOnError sets a callback invoked when a timer-triggered flush fails.
// Default: logs a warning via slog.
func WithOnError(f func(error)) Option {
	return func(o *Output) { o.errFunc = f }
}

// Output POSTs batched scored transactions to an HTTP endpoint as a JSON
// array. Results accumulate in an internal buffer and are flushed when
// batchSize is reached or flushInterval elapses. 5xx and 429 responses are
// retried by the underlying httpclient.
type Output struct {
	client        *httpclient.Client
	url           string
	token         string
	headers       map[string]string
	timeout       time.Duration
	retryDelay    time.Duration
	verbosity     output.Verbosity
	batchSize     int
	flushInterval time.Duration
	errFunc       func(error)
	mu            sync.Mutex
	pending       []model.ScoredTransaction
	timer         *time.Timer
}

// New creates a webhook output targeting the given URL.
func New(url string, opts ...Option) *Output {
	o := &Output{
		url:           url,
		timeout:       defaultTimeout,
		retryDelay:    time.Second,
		verbosity:     output.Standard,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		errFunc:       func(err error) { slog.Warn("webhook flush error", "error", err) },
	}
	for _, opt := range opts {
		opt(o)
	}
	o.client = httpclient.New(url, o.token,
		httpclient.WithTimeout(o.timeout),
		httpclient.WithHeaders(o.headers),
		httpclient.WithBaseDelay(o.retryDelay),
		httpclient.WithAttemptHook(recordAttempt),
	)
	return o
}

func recordAttempt(status int, err error) {
	switch {
	case err == nil:
		metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
	case status == 0:
		metrics.WebhookDeliveriesTotal.WithLabelValues("transport_error").Inc()
	default:
		metrics.WebhookDeliveriesTotal.WithLabelValues(fmt.Sprintf("http_%d", status)).Inc()
	}
}

// Write appends a result to the batch. When batchSize is reached, the batch
// is flushed immediately. A timer is started on the first result to ensure
// the batch flushes even if batchSize is never reached.
func (o *Output) Write(ctx context.Context, result model.ScoredTransaction) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.pending = append(o.pending, output.FormatResult(result, o.verbosity))

	if len(o.pending) >= o.batchSize {
		return o.flushLocked(ctx)
	}

	// Start timer on first result in a new batch.
	if len(o.pending) == 1 {
		o.timer = time.AfterFunc(o.flushInterval, func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if err := o.flushLocked(context.Background()); err != nil {
				o.errFunc(err)
			}
		})
	}
	return nil
}

// Close flushes any remaining results and stops the timer.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	if len(o.pending) > 0 {
		return o.flushLocked(context.Background())
	}
	return nil
}

// flushLocked sends the pending batch. Caller must hold o.mu.
func (o *Output) flushLocked(ctx context.Context) error {
	if len(o.pending) == 0 {
		return nil
	}
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}

	batch := o.pending
	o.pending = nil

	if err := o.client.PostJSON(ctx, "", batch); err != nil {
		return fmt.Errorf("webhook: %d results to %s: %w", len(batch), o.url, err)
	}
	return nil
}

func (o *Output) Name() string { return "webhook" }
