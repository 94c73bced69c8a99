// Package notify fans viewer notifications out to chat channels such as
// Telegram and Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/metrics"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier delivers to every sender. Events not in the allow list are
// dropped by Notify; an empty list allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders, filtered to events.
func NewNotifier(senders []Sender, events []string, m *metrics.Metrics, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		metrics: m,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends title/message if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// Deliver formats a viewer notification and sends it under its kind
// ("filled" or "updated"). It matches reconcile.DeliverFunc.
func (n *Notifier) Deliver(ctx context.Context, viewer common.Address, item domain.Notification) error {
	title, message := Format(viewer, item)
	return n.Notify(ctx, string(item.Kind), title, message)
}

// Format renders a notification as a chat title and body.
func Format(viewer common.Address, item domain.Notification) (string, string) {
	var title string
	switch {
	case item.Kind == domain.NotificationUpdated:
		title = fmt.Sprintf("Order #%s updated", item.OrderID)
	case item.Role == "maker":
		title = fmt.Sprintf("Order #%s was filled", item.OrderID)
	default:
		title = fmt.Sprintf("You filled order #%s", item.OrderID)
	}
	message := fmt.Sprintf("Wallet %s\nTx %s\n%s",
		shortAddr(viewer), item.TxRef, item.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	return title, message
}

func shortAddr(a common.Address) string {
	h := a.Hex()
	return h[:6] + "…" + h[len(h)-4:]
}

// dispatch tries every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		n.metrics.NotificationDelivered()
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d of %d senders failed: %w", len(errs), len(n.senders), errors.Join(errs...))
	}
	return nil
}
