package source

import (
	"context"
	"errors"
	"sync"

	"friendwatch/internal/presence"
)

var ErrFeedClosed = errors.New("source: feed closed")

// Feed is an ordered in-process channel of batches. Push blocks while the
// buffer is full, so batches are never reordered or dropped.
type Feed struct {
	mu     sync.RWMutex
	ch     chan presence.Batch
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

func NewFeed(buffer int) *Feed {
	if buffer < 0 {
		buffer = 0
	}
	return &Feed{ch: make(chan presence.Batch, buffer), done: make(chan struct{})}
}

// C is the channel presence.Engine.Run drains.
func (f *Feed) C() <-chan presence.Batch { return f.ch }

func (f *Feed) Push(ctx context.Context, b presence.Batch) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrFeedClosed
	}
	select {
	case f.ch <- b:
		return nil
	case <-f.done:
		return ErrFeedClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the feed. Batches already pushed are still delivered; a Push
// blocked on a full buffer returns ErrFeedClosed.
func (f *Feed) Close() {
	// Wake blocked pushers before taking the write lock they hold shared.
	f.closeOnce.Do(func() { close(f.done) })
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
}

// Len is the number of buffered batches.
func (f *Feed) Len() int { return len(f.ch) }
