package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

const (
	busBuffer  = 64
	historyCap = 500
)

// Bus is an in-process SignalBus with a bounded per-channel history. Slow
// subscribers miss messages rather than block publishers.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]map[chan []byte]struct{}
	history map[string][][]byte
}

var (
	_ domain.SignalBus    = (*Bus)(nil)
	_ domain.EventHistory = (*Bus)(nil)
)

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string]map[chan []byte]struct{}),
		history: make(map[string][][]byte),
	}
}

func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	msg := append([]byte(nil), payload...)

	b.mu.Lock()
	defer b.mu.Unlock()

	h := append(b.history[channel], msg)
	if len(h) > historyCap {
		h = h[len(h)-historyCap:]
	}
	b.history[channel] = h

	for ch := range b.subs[channel] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel fed until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, busBuffer)

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// Recent returns up to count payloads, newest first.
func (b *Bus) Recent(_ context.Context, channel string, count int) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.history[channel]
	if count <= 0 || count > len(h) {
		count = len(h)
	}
	out := make([][]byte, 0, count)
	for i := len(h) - 1; i >= len(h)-count; i-- {
		out = append(out, h[i])
	}
	return out, nil
}
