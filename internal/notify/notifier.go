// Package notify bridges money market lifecycle events into operator chat
// channels. The watcher renders bus events into notifications; the notifier
// fans them out to every configured sender, filtered by event type so
// operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Severity classifies a notification for channel-level presentation. Fund
// movements through custody and signer-set changes are alerts; ordinary
// position lifecycle events are informational.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityAlert
)

// Notification is one rendered lifecycle event ready for chat delivery.
type Notification struct {
	Event    string
	Severity Severity
	Title    string
	Body     string
}

// Sender is the interface each chat channel implements.
type Sender interface {
	Send(ctx context.Context, n Notification) error
	// Name returns a short identifier for the channel (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify forwards
// only events whose type is in the allowed set; NotifyAll bypasses the
// filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only
// events listed in events pass the Notify filter; an empty list allows all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers n to all senders if its event type passes the filter.
func (n *Notifier) Notify(ctx context.Context, note Notification) error {
	if len(n.events) > 0 && !n.events[note.Event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", note.Event),
		)
		return nil
	}
	return n.dispatch(ctx, note)
}

// NotifyAll delivers n to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, note Notification) error {
	return n.dispatch(ctx, note)
}

// dispatch sends to every sender. Failures are collected into one combined
// error so a broken channel never blocks delivery to the healthy ones.
func (n *Notifier) dispatch(ctx context.Context, note Notification) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, note); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", note.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", note.Title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
