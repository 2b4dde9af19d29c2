// Package pipeline connects a transaction source to the scoring engine and
// the result sinks.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/crimson-sun/fraudlens/internal/connector"
	"github.com/crimson-sun/fraudlens/internal/engine/dedup"
	"github.com/crimson-sun/fraudlens/internal/metrics"
	"github.com/crimson-sun/fraudlens/internal/model"
	"github.com/crimson-sun/fraudlens/internal/output"
)

const (
	defaultWindow  = 200 * time.Millisecond
	defaultMaxSize = 256
)

// Scorer scores a batch of transactions. *engine.Engine implements it.
type Scorer interface {
	PredictBatch(ctx context.Context, txns []model.Transaction) model.BatchResult
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDedup drops transactions the deduplicator has already seen.
func WithDedup(d *dedup.Deduplicator) Option {
	return func(p *Pipeline) { p.dedup = d }
}

// WithBuffer sets the micro-batch window and maximum batch size used by
// Stream. A maxSize of 0 means batches are bounded by the window only.
func WithBuffer(window time.Duration, maxSize int) Option {
	return func(p *Pipeline) {
		if window > 0 {
			p.window = window
		}
		if maxSize >= 0 {
			p.maxSize = maxSize
		}
	}
}

// Pipeline connects a connector, scorer, and output into a processing pipeline.
type Pipeline struct {
	connector connector.Connector
	scorer    Scorer
	output    output.Output
	dedup     *dedup.Deduplicator
	window    time.Duration
	maxSize   int

	scored       atomic.Int64
	failed       atomic.Int64
	duplicates   atomic.Int64
	outputErrors atomic.Int64
}

// New creates a Pipeline from the given components.
func New(conn connector.Connector, sc Scorer, out output.Output, opts ...Option) *Pipeline {
	p := &Pipeline{
		connector: conn,
		scorer:    sc,
		output:    out,
		window:    defaultWindow,
		maxSize:   defaultMaxSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stream consumes the connector in micro-batches until the source closes
// or ctx is cancelled, and returns ctx.Err(). Pending transactions are
// scored before returning in both cases.
func (p *Pipeline) Stream(ctx context.Context, cfg connector.ConnectorConfig) error {
	ch, err := p.connector.Stream(ctx, cfg)
	if err != nil {
		return fmt.Errorf("pipeline stream: %w", err)
	}

	buf := newStreamBuffer(p.window, p.maxSize)
	for {
		select {
		case <-ctx.Done():
			// Score what was already accepted even though the source is gone.
			p.process(context.WithoutCancel(ctx), buf.drain())
			return ctx.Err()
		case <-buf.flushCh():
			p.process(ctx, buf.drain())
		case txn, ok := <-ch:
			if !ok {
				p.process(context.WithoutCancel(ctx), buf.drain())
				return ctx.Err()
			}
			if buf.add(txn) {
				p.process(ctx, buf.drain())
			}
		}
	}
}

// Query scores one batch fetched from the connector, writes the results to
// the output and returns the aggregate.
func (p *Pipeline) Query(ctx context.Context, cfg connector.ConnectorConfig, params connector.QueryParams) (model.BatchResult, error) {
	txns, err := p.connector.Query(ctx, cfg, params)
	if err != nil {
		return model.BatchResult{}, fmt.Errorf("pipeline query: %w", err)
	}
	return p.process(ctx, txns), nil
}

// process dedups, scores and writes one batch. Failures of individual
// transactions or writes are logged and counted, never returned.
func (p *Pipeline) process(ctx context.Context, txns []model.Transaction) model.BatchResult {
	if len(txns) == 0 {
		return model.BatchResult{}
	}

	if p.dedup != nil {
		kept, dropped, err := p.dedup.Filter(ctx, txns)
		if err != nil {
			slog.Warn("dedup store unavailable, passing transactions through", "error", err)
		}
		if dropped > 0 {
			p.duplicates.Add(int64(dropped))
			metrics.DuplicatesDroppedTotal.Add(float64(dropped))
			slog.Debug("dropped duplicate transactions", "count", dropped)
		}
		txns = kept
		if len(txns) == 0 {
			return model.BatchResult{}
		}
	}

	res := p.scorer.PredictBatch(ctx, txns)
	for _, ie := range res.Errors {
		p.failed.Add(1)
		slog.Warn("skipping transaction", "index", ie.Index, "transaction_id", ie.TransactionID, "error", ie.Error)
	}

	for _, r := range res.Results {
		if err := p.output.Write(ctx, r); err != nil {
			p.outputErrors.Add(1)
			slog.Warn("output write failed", "transaction_id", r.TransactionID, "error", err)
		}
	}
	p.scored.Add(int64(len(res.Results)))
	return res
}

// Close shuts down the output and logs the session totals.
func (p *Pipeline) Close() error {
	slog.Info("pipeline closed",
		"scored", p.scored.Load(),
		"failed", p.failed.Load(),
		"duplicates", p.duplicates.Load(),
		"output_errors", p.outputErrors.Load(),
	)
	return p.output.Close()
}
