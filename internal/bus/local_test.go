package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1, err := b.Subscribe(ctx, "positions")
	require.NoError(t, err)
	ch2, err := b.Subscribe(ctx, "positions")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "positions", []byte(`{"event":"position_created"}`)))

	assert.JSONEq(t, `{"event":"position_created"}`, string(recv(t, ch1)))
	assert.JSONEq(t, `{"event":"position_created"}`, string(recv(t, ch2)))
}

func TestChannelsAreIsolated(t *testing.T) {
	b := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	positions, err := b.Subscribe(ctx, "positions")
	require.NoError(t, err)
	custody, err := b.Subscribe(ctx, "custody")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "custody", []byte("x")))

	assert.Equal(t, []byte("x"), recv(t, custody))
	select {
	case msg := <-positions:
		t.Fatalf("unexpected message on positions channel: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriptionEndsOnCancel(t *testing.T) {
	b := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx, "positions")
	require.NoError(t, err)
	cancel()

	// The channel closes once the cleanup goroutine runs.
	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("channel never closed after cancel")
		}
	}
}

func TestPublishWithoutSubscribersIsANoop(t *testing.T) {
	b := NewLocalBus()
	assert.NoError(t, b.Publish(context.Background(), "positions", []byte("x")))
}
