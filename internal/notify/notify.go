// Package notify turns reconciliation events into human-readable messages
// and pushes them to the notification transport. Delivery is best effort:
// a failed send is logged and never blocks later events or the store
// commit, because losing price history is worse than losing a message.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/deltaguita/market-tracker/internal/products"
)

// Message is the transport payload: HTML text plus an optional image.
type Message struct {
	Text     string
	PhotoURL string
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Labels carries the currency presentation for messages, e.g. "¥"/"NT$".
type Labels struct {
	SourceSymbol    string
	ConvertedSymbol string
}

// Notifier formats and dispatches event batches.
type Notifier struct {
	sender Sender
	labels Labels
	log    *zap.Logger
}

func New(sender Sender, labels Labels, log *zap.Logger) *Notifier {
	return &Notifier{sender: sender, labels: labels, log: log}
}

// NotifyAll sends every event, in order, continuing past failures.
// Returns how many deliveries succeeded and how many failed.
func (n *Notifier) NotifyAll(ctx context.Context, events []products.Event) (sent, failed int) {
	for _, ev := range events {
		msg := FormatEvent(ev, n.labels)
		if err := n.send(ctx, msg); err != nil {
			failed++
			n.log.Warn("notification delivery failed",
				zap.String("kind", string(ev.Kind)),
				zap.String("product_id", ev.Product.ID),
				zap.Error(err))
			continue
		}
		sent++
	}
	return sent, failed
}

func (n *Notifier) send(ctx context.Context, msg Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(func() error {
		return n.sender.Send(ctx, msg)
	}, backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx))
}

// FormatEvent renders one event as a Telegram-style HTML message.
func FormatEvent(ev products.Event, labels Labels) Message {
	var b strings.Builder
	switch ev.Kind {
	case products.EventPriceDrop:
		if ev.DroppedIntoBudget {
			b.WriteString("<b>Price dropped into budget</b>\n\n")
		} else {
			b.WriteString("<b>Price drop</b>\n\n")
		}
	default:
		if ev.WithinBudget {
			b.WriteString("<b>New listing within budget</b>\n\n")
		} else {
			b.WriteString("<b>New listing</b>\n\n")
		}
	}

	b.WriteString("<b>" + html.EscapeString(ev.Product.Title) + "</b>\n")
	if ev.QueryName != "" {
		b.WriteString("Search: " + html.EscapeString(ev.QueryName) + "\n")
	}

	if ev.Kind == products.EventPriceDrop {
		b.WriteString(fmt.Sprintf("%s<s>%s</s> -> %s  (down %s, %.1f%%)\n",
			labels.SourceSymbol, formatAmount(ev.OldLowestSource),
			labels.SourceSymbol+formatAmount(ev.Product.PriceSource),
			labels.SourceSymbol+formatAmount(ev.DropAmount),
			ev.DropPercent))
	} else {
		b.WriteString(labels.SourceSymbol + formatAmount(ev.Product.PriceSource) + "\n")
	}
	if ev.Product.PriceConverted != nil {
		b.WriteString(labels.ConvertedSymbol + formatAmount(*ev.Product.PriceConverted) + "\n")
	}
	if ev.Product.ProductURL != "" {
		b.WriteString(`<a href="` + ev.Product.ProductURL + `">View listing</a>`)
	}

	return Message{Text: strings.TrimRight(b.String(), "\n"), PhotoURL: ev.Product.ImageURL}
}

// formatAmount renders 1234567 as "1,234,567".
func formatAmount(v int64) string {
	s := fmt.Sprint(v)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ",")
	if neg {
		out = "-" + out
	}
	return out
}
