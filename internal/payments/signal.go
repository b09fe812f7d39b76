package payments

import (
	"encoding/json"
	"strings"

	"github.com/stripe/stripe-go/v76"
)

// EventKind classifies an inbound payment notification. It is the only place
// raw processor event types are interpreted.
type EventKind int

const (
	KindOther EventKind = iota
	KindCheckoutPaid
	KindAsyncCheckoutPaid
	KindIntentSucceeded
)

func (k EventKind) String() string {
	switch k {
	case KindCheckoutPaid:
		return "checkout_paid"
	case KindAsyncCheckoutPaid:
		return "async_checkout_paid"
	case KindIntentSucceeded:
		return "intent_succeeded"
	default:
		return "other"
	}
}

const (
	eventCheckoutCompleted     = "checkout.session.completed"
	eventCheckoutAsyncSucceded = "checkout.session.async_payment_succeeded"
	eventIntentSucceeded       = "payment_intent.succeeded"
)

// RawEvent is a verified processor event with its data object left encoded.
type RawEvent struct {
	ID     string
	Type   string
	Object json.RawMessage
}

// Signal is the canonical form of one payment notification. Empty strings mean
// the field was absent upstream.
type Signal struct {
	Kind             EventKind
	EventID          string
	OrderID          string
	PaymentReference string
	PayerEmail       string
	OneTimePayment   bool
}

// Normalize maps a raw event to a Signal. ok is false when the event should be
// acknowledged and otherwise ignored: unknown types, checkout sessions that are
// not one-time payments or not paid, and undecodable objects. Missing optional
// fields never cause ok to be false.
func Normalize(ev RawEvent) (Signal, bool) {
	switch strings.TrimSpace(ev.Type) {
	case eventCheckoutCompleted:
		return normalizeCheckout(ev, KindCheckoutPaid)
	case eventCheckoutAsyncSucceded:
		return normalizeCheckout(ev, KindAsyncCheckoutPaid)
	case eventIntentSucceeded:
		return normalizeIntent(ev)
	default:
		return Signal{Kind: KindOther, EventID: ev.ID}, false
	}
}

func normalizeCheckout(ev RawEvent, kind EventKind) (Signal, bool) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(ev.Object, &sess); err != nil {
		return Signal{Kind: kind, EventID: ev.ID}, false
	}
	if sess.Mode != stripe.CheckoutSessionModePayment {
		return Signal{Kind: kind, EventID: ev.ID}, false
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return Signal{Kind: kind, EventID: ev.ID}, false
	}

	sig := Signal{
		Kind:           kind,
		EventID:        ev.ID,
		OneTimePayment: true,
	}
	sig.OrderID = strings.TrimSpace(sess.Metadata["order_id"])
	if sig.OrderID == "" {
		sig.OrderID = strings.TrimSpace(sess.ClientReferenceID)
	}
	if sess.PaymentIntent != nil {
		sig.PaymentReference = strings.TrimSpace(sess.PaymentIntent.ID)
	}
	if sess.CustomerDetails != nil {
		sig.PayerEmail = strings.TrimSpace(sess.CustomerDetails.Email)
	}
	if sig.PayerEmail == "" {
		sig.PayerEmail = strings.TrimSpace(sess.CustomerEmail)
	}
	return sig, true
}

// Intents carry no client reference; the order id comes from their own
// metadata only and is often missing.
func normalizeIntent(ev RawEvent) (Signal, bool) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Object, &pi); err != nil {
		return Signal{Kind: KindIntentSucceeded, EventID: ev.ID}, false
	}
	return Signal{
		Kind:             KindIntentSucceeded,
		EventID:          ev.ID,
		OrderID:          strings.TrimSpace(pi.Metadata["order_id"]),
		PaymentReference: strings.TrimSpace(pi.ID),
		PayerEmail:       strings.TrimSpace(pi.ReceiptEmail),
		OneTimePayment:   true,
	}, true
}
