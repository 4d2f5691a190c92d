// Package notify sends settlement milestones to operators over Telegram and
// Discord. Events can be filtered by kind.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// Sender delivers one formatted message over a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier implements domain.Notifier by fanning each event out to every
// sender. A failing sender does not stop delivery to the others.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list lets every kind
// through.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify formats ev and sends it unless its kind is filtered out.
func (n *Notifier) Notify(ctx context.Context, ev domain.SettlementEvent) error {
	if len(n.events) > 0 && !n.events[ev.Kind] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", ev.Kind))
		return nil
	}
	title, message := Format(ev)
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Format renders ev as a title and a plain-text body.
func Format(ev domain.SettlementEvent) (title, message string) {
	switch ev.Kind {
	case domain.EventAuctionWon:
		title = "Auction won"
	case domain.EventAuthorizationRequired:
		title = "Wallet authorization required"
	case domain.EventSettlementFailed:
		title = "Settlement failed"
	case domain.EventSettlementComplete:
		title = "Settlement complete"
	default:
		title = ev.Kind
	}

	var b strings.Builder
	fmt.Fprintf(&b, "auction: %s\n", ev.AuctionID)
	if ev.WinnerID != "" {
		fmt.Fprintf(&b, "winner: %s\n", ev.WinnerID)
	}
	if !ev.Amount.IsZero() {
		fmt.Fprintf(&b, "amount: %s\n", ev.Amount.String())
	}
	if ev.Stage != "" {
		fmt.Fprintf(&b, "stage: %s\n", ev.Stage)
	}
	if ev.Detail != "" {
		fmt.Fprintf(&b, "detail: %s\n", ev.Detail)
	}
	return title, strings.TrimRight(b.String(), "\n")
}

var _ domain.Notifier = (*Notifier)(nil)
