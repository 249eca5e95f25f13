// Package notify forwards selected audit events to operator chat channels.
// A Notifier is a domain.EventSink; every configured Sender receives each
// event that passes the type filter.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender in logs, e.g. "telegram".
	Name() string
}

// Notifier dispatches events to Senders. Only event types in the allowed set
// are forwarded; an empty set allows every type.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders and the given event types.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Publish implements domain.EventSink.
func (n *Notifier) Publish(ctx context.Context, ev domain.Event) error {
	if len(n.events) > 0 && !n.events[ev.Type] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", string(ev.Type)))
		return nil
	}
	title, message := Format(ev)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a free-form notification to every sender.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender even when some fail, and joins the
// failures.
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

var titles = map[domain.EventType]string{
	domain.EventOracleInitialized:         "Oracle engine initialized",
	domain.EventOracleRegistered:          "Oracle registered",
	domain.EventMarketRegistered:          "Market registered",
	domain.EventAttestationSubmitted:      "Attestation submitted",
	domain.EventAdminSignerAdded:          "Admin signer added",
	domain.EventRequiredSignaturesUpdated: "Override quorum changed",
	domain.EventOverrideCooldownUpdated:   "Override cooldown changed",
	domain.EventEmergencyOverride:         "EMERGENCY OVERRIDE",
}

// Format renders ev as a title and a "key: value" body sorted by key.
func Format(ev domain.Event) (title, message string) {
	title, ok := titles[ev.Type]
	if !ok {
		title = string(ev.Type)
	}

	keys := make([]string, 0, len(ev.Attributes))
	for k := range ev.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, ev.Attributes[k])
	}
	if !ev.Timestamp.IsZero() {
		fmt.Fprintf(&b, "at: %s\n", ev.Timestamp.UTC().Format("2006-01-02 15:04:05Z"))
	}
	return title, strings.TrimSuffix(b.String(), "\n")
}

var _ domain.EventSink = (*Notifier)(nil)
