package payments

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrVerification marks a delivery that must be rejected without touching any
// order: missing or bad signature, stale timestamp, or a malformed envelope.
var ErrVerification = errors.New("payment event verification failed")

// Verifier authenticates a raw webhook delivery.
type Verifier interface {
	Verify(payload []byte, signatureHeader string) (RawEvent, error)
}

const envelopeSchemaURL = "https://myshop.local/schemas/payment-event.schema.json"

const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "type", "data"],
  "properties": {
    "id":   {"type": "string", "minLength": 1},
    "type": {"type": "string", "minLength": 1},
    "data": {
      "type": "object",
      "required": ["object"],
      "properties": {"object": {"type": "object"}}
    }
  }
}`

type StripeVerifier struct {
	secret    string
	tolerance time.Duration
	envelope  *jsonschema.Schema
}

// NewStripeVerifier builds a verifier for one webhook signing secret. A zero
// tolerance uses the processor library's default.
func NewStripeVerifier(secret string, tolerance time.Duration) (*StripeVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("missing webhook signing secret")
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(envelopeSchemaURL, strings.NewReader(envelopeSchema)); err != nil {
		return nil, fmt.Errorf("envelope schema load failed: %w", err)
	}
	compiled, err := c.Compile(envelopeSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("envelope schema compile failed: %w", err)
	}
	return &StripeVerifier{secret: secret, tolerance: tolerance, envelope: compiled}, nil
}

func (v *StripeVerifier) Verify(payload []byte, signatureHeader string) (RawEvent, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return RawEvent{}, fmt.Errorf("%w: missing signature header", ErrVerification)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return RawEvent{}, fmt.Errorf("%w: %w", ErrVerification, err)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return RawEvent{}, fmt.Errorf("%w: decode envelope: %w", ErrVerification, err)
	}
	if err := v.envelope.Validate(doc); err != nil {
		return RawEvent{}, fmt.Errorf("%w: envelope: %w", ErrVerification, err)
	}

	out := RawEvent{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data != nil {
		out.Object = ev.Data.Raw
	}
	return out, nil
}
