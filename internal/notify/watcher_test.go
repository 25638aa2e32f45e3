package notify

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eden-finance/nigerian-money-market/internal/bus"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) Send(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n.Title+": "+n.Body)
	return nil
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestWatcherForwardsBusEvents(t *testing.T) {
	b := bus.NewLocalBus()
	sender := &recordingSender{}
	notifier := NewNotifier([]Sender{sender}, nil, slog.Default())
	w := NewWatcher(b, notifier, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the subscriptions a moment to register.
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Publish(ctx, "positions",
		[]byte(`{"event":"position_created","position_id":1,"investor":"0xabc","amount":"2000"}`)))
	require.NoError(t, b.Publish(ctx, "custody",
		[]byte(`{"event":"custody_executed","tx_id":"0xdead","tx_type":"collect","position_id":1,"signatures":2}`)))

	waitFor(t, func() bool { return len(sender.snapshot()) == 2 })
	sent := sender.snapshot()
	assert.Contains(t, sent[0], "Position created")
	assert.Contains(t, sent[1], "Custody transaction executed")
	assert.Contains(t, sent[1], "collect")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestWatcherAppliesEventFilter(t *testing.T) {
	b := bus.NewLocalBus()
	sender := &recordingSender{}
	notifier := NewNotifier([]Sender{sender}, []string{"custody_executed"}, slog.Default())
	w := NewWatcher(b, notifier, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Publish(ctx, "positions", []byte(`{"event":"position_created","position_id":1}`)))
	require.NoError(t, b.Publish(ctx, "custody", []byte(`{"event":"custody_executed","tx_id":"0xdead","signatures":2}`)))

	waitFor(t, func() bool { return len(sender.snapshot()) == 1 })
	assert.Contains(t, sender.snapshot()[0], "Custody transaction executed")
}

func TestWatcherIgnoresMalformedPayloads(t *testing.T) {
	b := bus.NewLocalBus()
	sender := &recordingSender{}
	notifier := NewNotifier([]Sender{sender}, nil, slog.Default())
	w := NewWatcher(b, notifier, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Publish(ctx, "positions", []byte(`{not json`)))
	require.NoError(t, b.Publish(ctx, "positions", []byte(`{"event":"position_withdrawn","position_id":1,"payout":"2019"}`)))

	waitFor(t, func() bool { return len(sender.snapshot()) == 1 })
	assert.Contains(t, sender.snapshot()[0], "Position withdrawn")
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	bad := &failingSender{}
	good := &recordingSender{}
	notifier := NewNotifier([]Sender{bad, good}, nil, slog.Default())

	err := notifier.NotifyAll(context.Background(), Notification{Event: "error", Title: "t", Body: "m"})
	assert.Error(t, err)
	// The failing sender does not block delivery to the healthy one.
	assert.Len(t, good.snapshot(), 1)
}

type failingSender struct{}

func (failingSender) Send(context.Context, Notification) error {
	return assert.AnError
}

func (failingSender) Name() string { return "failing" }

func TestFormatEventSeverity(t *testing.T) {
	created := formatEvent("position_created", map[string]any{"position_id": 1})
	assert.Equal(t, SeverityInfo, created.Severity)

	executed := formatEvent("custody_executed", map[string]any{"tx_id": "0xdead", "tx_type": "collect"})
	assert.Equal(t, SeverityAlert, executed.Severity)
	assert.Contains(t, executed.Body, "collect")

	rotated := formatEvent("multisig_rotated", map[string]any{"nonce": 2, "threshold": 2, "signer_count": 3})
	assert.Equal(t, SeverityAlert, rotated.Severity)

	unknown := formatEvent("something_else", map[string]any{"k": "v"})
	assert.Equal(t, SeverityInfo, unknown.Severity)
	assert.Equal(t, "something_else", unknown.Title)
}
