// Package bus provides an in-process SignalBus for deployments that run
// without Redis.
package bus

import (
	"context"
	"sync"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
)

// LocalBus is a process-local publish/subscribe fanout. Slow subscribers
// drop messages rather than block publishers.
type LocalBus struct {
	mu   sync.RWMutex
	subs map[string][]chan []byte
}

// NewLocalBus creates an empty LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string][]chan []byte)}
}

// Publish delivers payload to every subscriber of channel.
func (b *LocalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel. The
// subscription ends and the channel closes when ctx is cancelled.
func (b *LocalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*LocalBus)(nil)
