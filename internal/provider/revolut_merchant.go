package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mmeshcher/escrow-reconciliation/internal/model"
)

const revolutOrderCompleted = "ORDER_COMPLETED"

// RevolutMerchantParser разбирает вебхуки Revolut Merchant API.
type RevolutMerchantParser struct{}

// NewRevolutMerchantParser создаёт парсер вебхуков Revolut Merchant.
func NewRevolutMerchantParser() *RevolutMerchantParser {
	return &RevolutMerchantParser{}
}

// Name возвращает имя провайдера.
func (p *RevolutMerchantParser) Name() string {
	return NameRevolutMerchant
}

type merchantAmount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

type merchantEvent struct {
	Event               string          `json:"event"`
	OrderID             string          `json:"order_id"`
	MerchantOrderExtRef string          `json:"merchant_order_ext_ref"`
	OrderAmount         *merchantAmount `json:"order_amount,omitempty"`
	CustomerName        string          `json:"customer_name"`
}

// Parse разбирает тело вебхука Revolut Merchant.
func (p *RevolutMerchantParser) Parse(_ context.Context, body []byte) (*model.PaymentEvent, error) {
	var me merchantEvent
	if err := json.Unmarshal(body, &me); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if me.Event == "" || me.OrderID == "" {
		return nil, fmt.Errorf("%w: event and order_id are required", ErrMalformedPayload)
	}

	evt := &model.PaymentEvent{
		Provider:         NameRevolutMerchant,
		EventID:          "order:" + me.OrderID + ":" + me.Event,
		Type:             me.Event,
		Kind:             model.EventKindOther,
		PaymentID:        me.OrderID,
		MerchantRef:      strings.TrimSpace(me.MerchantOrderExtRef),
		CounterpartyName: me.CustomerName,
		PaymentMethod:    "card",
	}

	if me.OrderAmount != nil {
		evt.Amount = int64Ptr(me.OrderAmount.Value)
		evt.Currency = strings.ToUpper(me.OrderAmount.Currency)
	}

	if me.Event == revolutOrderCompleted {
		evt.Kind = model.EventKindPaymentCompleted
	}

	return evt, nil
}
