// Package httpsource pulls transactions from an HTTP endpoint that returns a
// JSON array of transactions.
package httpsource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/crimson-sun/fraudlens/internal/connector"
	"github.com/crimson-sun/fraudlens/internal/connector/httpclient"
	"github.com/crimson-sun/fraudlens/internal/model"
)

const (
	provider            = "http"
	defaultPollInterval = 5 * time.Second
)

func init() {
	connector.Register(provider, func() connector.Connector {
		return &Connector{}
	})
}

// Connector polls cfg.Endpoint. Extra keys: "token" (Bearer auth),
// "poll_interval" (Go duration, default 5s).
type Connector struct{}

func newClient(cfg connector.ConnectorConfig) (*httpclient.Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("http connector: no endpoint configured")
	}
	return httpclient.New(cfg.Endpoint, cfg.Extra["token"]), nil
}

// fetch GETs one page. The endpoint may honour "limit".
func fetch(ctx context.Context, c *httpclient.Client, limit int) ([]model.Transaction, error) {
	var q url.Values
	if limit > 0 {
		q = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	var raw []json.RawMessage
	if err := c.GetJSON(ctx, "", q, &raw); err != nil {
		return nil, fmt.Errorf("http connector: %w", err)
	}
	out := make([]model.Transaction, 0, len(raw))
	for i, r := range raw {
		txn, err := connector.DecodeTransaction(r)
		if err != nil {
			connector.Malformed(provider, "index "+strconv.Itoa(i), err)
			continue
		}
		out = append(out, txn)
	}
	return out, nil
}

// Query fetches one page, truncated to params.Limit.
func (c *Connector) Query(ctx context.Context, cfg connector.ConnectorConfig, params connector.QueryParams) ([]model.Transaction, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	txns, err := fetch(ctx, client, params.Limit)
	if err != nil {
		return nil, err
	}
	if params.Limit > 0 && len(txns) > params.Limit {
		txns = txns[:params.Limit]
	}
	return txns, nil
}

// Stream polls until ctx is done. Fetch errors are logged and retried on the
// next tick. Deduplicating repeated pages is left to the pipeline.
func (c *Connector) Stream(ctx context.Context, cfg connector.ConnectorConfig) (<-chan model.Transaction, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	interval := defaultPollInterval
	if v := cfg.Extra["poll_interval"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("http connector: invalid poll_interval %q", v)
		}
		interval = d
	}

	ch := make(chan model.Transaction, 64)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			txns, err := fetch(ctx, client, 0)
			if err != nil && ctx.Err() == nil {
				slog.Warn("http connector poll failed", "endpoint", cfg.Endpoint, "error", err)
			}
			for _, txn := range txns {
				select {
				case ch <- txn:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch, nil
}
