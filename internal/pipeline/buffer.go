package pipeline

import (
	"sync"
	"time"

	"github.com/crimson-sun/fraudlens/internal/model"
)

// streamBuffer accumulates transactions into micro-batches. A batch is due
// when the window timer fires or maxSize is reached.
type streamBuffer struct {
	window  time.Duration
	maxSize int // 0 means unlimited

	mu      sync.Mutex
	pending []model.Transaction
	timer   *time.Timer
}

func newStreamBuffer(window time.Duration, maxSize int) *streamBuffer {
	return &streamBuffer{
		window:  window,
		maxSize: maxSize,
	}
}

// add appends a transaction to the buffer. If this is the first one, starts
// the flush timer. Returns true if the buffer is full and needs flushing.
func (b *streamBuffer) add(txn model.Transaction) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, txn)
	if len(b.pending) == 1 {
		b.timer = time.NewTimer(b.window)
	}
	return b.maxSize > 0 && len(b.pending) >= b.maxSize
}

// flushCh returns the timer's channel, or nil if no timer is active.
func (b *streamBuffer) flushCh() <-chan time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer == nil {
		return nil
	}
	return b.timer.C
}

// drain returns and clears the pending batch, stopping the timer.
func (b *streamBuffer) drain() []model.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	txns := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return txns
}

func (b *streamBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
