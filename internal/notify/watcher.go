package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
)

// Watcher subscribes to the lifecycle event channels and forwards selected
// events to the notifier. It runs until its context is cancelled.
type Watcher struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewWatcher creates a Watcher bridging bus events into notifications.
func NewWatcher(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Watcher {
	return &Watcher{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_watcher")),
	}
}

// Run consumes the position and custody channels until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	positions, err := w.bus.Subscribe(ctx, "positions")
	if err != nil {
		return fmt.Errorf("notify: subscribe positions: %w", err)
	}
	custody, err := w.bus.Subscribe(ctx, "custody")
	if err != nil {
		return fmt.Errorf("notify: subscribe custody: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-positions:
			if !ok {
				return nil
			}
			w.handle(ctx, payload)
		case payload, ok := <-custody:
			if !ok {
				return nil
			}
			w.handle(ctx, payload)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, payload []byte) {
	var detail map[string]any
	if err := json.Unmarshal(payload, &detail); err != nil {
		w.logger.WarnContext(ctx, "malformed event payload",
			slog.String("error", err.Error()),
		)
		return
	}
	event, _ := detail["event"].(string)

	n := formatEvent(event, detail)
	if err := w.notifier.Notify(ctx, n); err != nil {
		w.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// formatEvent renders a lifecycle event into a chat-ready notification.
// Events that move pooled funds out through custody or change the signer set
// are alerts; the rest are informational.
func formatEvent(event string, detail map[string]any) Notification {
	n := Notification{Event: event, Severity: SeverityInfo}
	switch event {
	case "position_created":
		n.Title = "Position created"
		n.Body = fmt.Sprintf("Position %v for %v, amount %v", detail["position_id"], detail["investor"], detail["amount"])
	case "position_withdrawn":
		n.Title = "Position withdrawn"
		n.Body = fmt.Sprintf("Position %v paid out %v", detail["position_id"], detail["payout"])
	case "custody_proposed":
		n.Title = "Custody transaction proposed"
		n.Body = fmt.Sprintf("Tx %v (%v) for position %v, %v signature(s)", detail["tx_id"], detail["tx_type"], detail["position_id"], detail["signatures"])
	case "custody_executed":
		n.Severity = SeverityAlert
		n.Title = "Custody transaction executed"
		n.Body = fmt.Sprintf("Tx %v (%v) for position %v, %v signature(s)", detail["tx_id"], detail["tx_type"], detail["position_id"], detail["signatures"])
	case "multisig_rotated":
		n.Severity = SeverityAlert
		n.Title = "Signer set rotated"
		n.Body = fmt.Sprintf("Nonce %v, threshold %v, %v signers", detail["nonce"], detail["threshold"], detail["signer_count"])
	default:
		n.Title = event
		n.Body = fmt.Sprintf("%v", detail)
	}
	return n
}
