// Package file reads transactions from an NDJSON file or a JSON array file.
package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/crimson-sun/fraudlens/internal/connector"
	"github.com/crimson-sun/fraudlens/internal/model"
)

const provider = "file"

// maxLine bounds one NDJSON record.
const maxLine = 1 << 20

func init() {
	connector.Register(provider, func() connector.Connector {
		return &Connector{}
	})
}

// Connector implements connector.Connector over a local file. cfg.Endpoint
// is the path; "-" reads stdin.
type Connector struct{}

// Stream emits every decodable transaction and closes the channel at EOF.
func (c *Connector) Stream(ctx context.Context, cfg connector.ConnectorConfig) (<-chan model.Transaction, error) {
	r, closeFn, err := open(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	ch := make(chan model.Transaction, 64)
	go func() {
		defer close(ch)
		defer closeFn()
		err := read(r, func(txn model.Transaction) bool {
			select {
			case ch <- txn:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err != nil {
			slog.Error("file connector stopped", "path", cfg.Endpoint, "error", err)
		}
	}()
	return ch, nil
}

// Query reads up to params.Limit transactions (all when Limit is 0).
func (c *Connector) Query(ctx context.Context, cfg connector.ConnectorConfig, params connector.QueryParams) ([]model.Transaction, error) {
	r, closeFn, err := open(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var out []model.Transaction
	err = read(r, func(txn model.Transaction) bool {
		out = append(out, txn)
		return ctx.Err() == nil && (params.Limit == 0 || len(out) < params.Limit)
	})
	if err != nil {
		return out, err
	}
	return out, ctx.Err()
}

func open(path string) (io.Reader, func() error, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("file connector: no path configured")
	}
	if path == "-" {
		return os.Stdin, func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("file connector: %w", err)
	}
	return f, f.Close, nil
}

// read detects the format from the first non-space byte and calls emit for
// each transaction until emit returns false. Undecodable records are
// reported and skipped.
func read(r io.Reader, emit func(model.Transaction) bool) error {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("file connector: %w", err)
	}
	if first == '[' {
		return readArray(br, emit)
	}
	return readLines(br, emit)
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

func readLines(r io.Reader, emit func(model.Transaction) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	line := 0
	for sc.Scan() {
		line++
		data := bytes.TrimSpace(sc.Bytes())
		if len(data) == 0 {
			continue
		}
		txn, err := connector.DecodeTransaction(data)
		if err != nil {
			connector.Malformed(provider, "line "+strconv.Itoa(line), err)
			continue
		}
		if !emit(txn) {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("file connector: line %d: %w", line+1, err)
	}
	return nil
}

func readArray(r io.Reader, emit func(model.Transaction) bool) error {
	var items []json.RawMessage
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return fmt.Errorf("file connector: decode array: %w", err)
	}
	for i, raw := range items {
		txn, err := connector.DecodeTransaction(raw)
		if err != nil {
			connector.Malformed(provider, "index "+strconv.Itoa(i), err)
			continue
		}
		if !emit(txn) {
			return nil
		}
	}
	return nil
}
