package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/deltaguita/market-tracker/internal/products"
)

var labels = Labels{SourceSymbol: "¥", ConvertedSymbol: "NT$"}

func ptr(v int64) *int64 { return &v }

func TestFormatNewListing(t *testing.T) {
	conv := ptr(int64(4023))
	msg := FormatEvent(products.Event{
		Kind:      products.EventNew,
		QueryName: "gundam-mg-kits",
		Product: products.Observation{
			ID:             "m1",
			Title:          "MG <Gundam> Ver.Ka",
			PriceSource:    19050,
			PriceConverted: conv,
			ImageURL:       "https://img.test/m1.jpg",
			ProductURL:     "https://market.test/products/m1",
			ObservedAt:     time.Now(),
		},
	}, labels)

	for _, want := range []string{
		"<b>New listing</b>",
		"MG &lt;Gundam&gt; Ver.Ka", // HTML-escaped title
		"¥19,050",
		"NT$4,023",
		`<a href="https://market.test/products/m1">`,
	} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("message missing %q:\n%s", want, msg.Text)
		}
	}
	if msg.PhotoURL != "https://img.test/m1.jpg" {
		t.Errorf("photo = %q", msg.PhotoURL)
	}
}

func TestFormatNewListingWithinBudget(t *testing.T) {
	msg := FormatEvent(products.Event{
		Kind:         products.EventNew,
		WithinBudget: true,
		Product:      products.Observation{Title: "x", PriceSource: 100},
	}, labels)
	if !strings.Contains(msg.Text, "within budget") {
		t.Errorf("budget headline missing:\n%s", msg.Text)
	}
}

func TestFormatPriceDrop(t *testing.T) {
	msg := FormatEvent(products.Event{
		Kind: products.EventPriceDrop,
		Product: products.Observation{
			Title:       "PS5 Controller",
			PriceSource: 800,
		},
		OldLowestSource: 1000,
		DropAmount:      200,
		DropPercent:     20,
	}, labels)

	for _, want := range []string{
		"<b>Price drop</b>",
		"<s>1,000</s>",
		"¥800",
		"down ¥200",
		"20.0%",
	} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("message missing %q:\n%s", want, msg.Text)
		}
	}
}

func TestFormatPriceDropIntoBudget(t *testing.T) {
	msg := FormatEvent(products.Event{
		Kind:              products.EventPriceDrop,
		DroppedIntoBudget: true,
		Product:           products.Observation{Title: "x", PriceSource: 100},
		OldLowestSource:   200,
		DropAmount:        100,
		DropPercent:       50,
	}, labels)
	if !strings.Contains(msg.Text, "dropped into budget") {
		t.Errorf("budget headline missing:\n%s", msg.Text)
	}
}

func TestFormatAmount(t *testing.T) {
	cases := map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		29737:    "29,737",
		1234567:  "1,234,567",
		-1234567: "-1,234,567",
	}
	for in, want := range cases {
		if got := formatAmount(in); got != want {
			t.Errorf("formatAmount(%d) = %q, want %q", in, got, want)
		}
	}
}

type flakySender struct {
	failures int
	sent     []Message
}

func (f *flakySender) Send(_ context.Context, msg Message) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("transport down")
	}
	f.sent = append(f.sent, msg)
	return nil
}

// A delivery failure must not block later events.
func TestNotifyAllContinuesPastFailures(t *testing.T) {
	sender := &flakySender{failures: 3} // exhausts the retries for the first event
	n := New(sender, labels, zap.NewNop())

	events := []products.Event{
		{Kind: products.EventNew, Product: products.Observation{ID: "a", Title: "a", PriceSource: 1}},
		{Kind: products.EventNew, Product: products.Observation{ID: "b", Title: "b", PriceSource: 2}},
	}
	sent, failed := n.NotifyAll(context.Background(), events)

	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	if sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}
	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0].Text, "b") {
		t.Errorf("second event should still have been delivered, got %+v", sender.sent)
	}
}
