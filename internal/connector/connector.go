package connector

import (
	"context"
	"time"

	"github.com/crimson-sun/fraudlens/internal/model"
)

// Connector defines the interface all transaction source connectors must implement.
type Connector interface {
	// Stream opens a long-lived source and sends transactions as they arrive.
	// The channel is closed when the source is exhausted or ctx is done.
	Stream(ctx context.Context, cfg ConnectorConfig) (<-chan model.Transaction, error)

	// Query fetches a bounded batch of transactions.
	Query(ctx context.Context, cfg ConnectorConfig, params QueryParams) ([]model.Transaction, error)
}

// ConnectorConfig holds provider-specific connection settings.
type ConnectorConfig struct {
	Provider string
	Endpoint string // broker list or file path, depending on provider
	Extra    map[string]string
}

// QueryParams bounds a one-shot query.
type QueryParams struct {
	Limit int           // 0 means no limit
	Idle  time.Duration // stop once no message arrived for this long (stream-backed sources)
}
