// Package output defines the sinks scored transactions are written to.
package output

import (
	"context"

	"github.com/crimson-sun/fraudlens/internal/model"
)

// Output defines the interface for scored transaction destinations.
type Output interface {
	Write(ctx context.Context, result model.ScoredTransaction) error
	Close() error
}

// Named is implemented by outputs that report a sink name for metrics
// and logs.
type Named interface {
	Name() string
}

// NameOf returns the sink name of o, or "unknown".
func NameOf(o Output) string {
	if n, ok := o.(Named); ok {
		return n.Name()
	}
	return "unknown"
}
