package connector

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/crimson-sun/fraudlens/internal/metrics"
	"github.com/crimson-sun/fraudlens/internal/model"
)

// DecodeTransaction parses one JSON transaction message. Missing fields fail
// with *model.MissingFieldError.
func DecodeTransaction(data []byte) (model.Transaction, error) {
	var txn model.Transaction
	if err := json.Unmarshal(data, &txn); err != nil {
		return model.Transaction{}, fmt.Errorf("decode transaction: %w", err)
	}
	return txn, nil
}

// Malformed logs and counts a message that could not be decoded. Sources
// skip such messages rather than stopping.
func Malformed(provider, where string, err error) {
	metrics.MalformedMessagesTotal.WithLabelValues(provider).Inc()
	slog.Warn("skipping malformed transaction", "connector", provider, "at", where, "error", err)
}
