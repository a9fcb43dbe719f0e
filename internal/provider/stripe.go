package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v81"

	"github.com/mmeshcher/escrow-reconciliation/internal/model"
)

// Ключи metadata PaymentIntent, в которых checkout сохраняет ссылку на эскроу.
const (
	stripeMetaEscrowReference = "escrowReference"
	stripeMetaEscrowID        = "escrowId"
	stripeMetaCustomerName    = "customerName"
)

// StripeParser разбирает вебхуки Stripe.
type StripeParser struct{}

// NewStripeParser создаёт парсер вебхуков Stripe.
func NewStripeParser() *StripeParser {
	return &StripeParser{}
}

// Name возвращает имя провайдера.
func (p *StripeParser) Name() string {
	return NameStripe
}

// Parse разбирает событие Stripe. Подпись к этому моменту уже проверена.
func (p *StripeParser) Parse(_ context.Context, body []byte) (*model.PaymentEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if event.ID == "" {
		return nil, fmt.Errorf("%w: event id is required", ErrMalformedPayload)
	}

	evt := &model.PaymentEvent{
		Provider: NameStripe,
		EventID:  event.ID,
		Type:     string(event.Type),
		Kind:     model.EventKindOther,
	}

	if event.Type != stripe.EventTypePaymentIntentSucceeded {
		return evt, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: missing event data", ErrMalformedPayload)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}

	evt.Kind = model.EventKindPaymentCompleted
	evt.PaymentID = pi.ID
	evt.Amount = int64Ptr(amount)
	evt.Currency = strings.ToUpper(string(pi.Currency))
	evt.Description = pi.Description
	evt.PaymentMethod = "card"
	if len(pi.PaymentMethodTypes) > 0 {
		evt.PaymentMethod = pi.PaymentMethodTypes[0]
	}

	if ref := pi.Metadata[stripeMetaEscrowReference]; ref != "" {
		evt.MerchantRef = ref
	} else {
		evt.MerchantRef = pi.Metadata[stripeMetaEscrowID]
	}
	evt.CounterpartyName = pi.Metadata[stripeMetaCustomerName]

	return evt, nil
}
