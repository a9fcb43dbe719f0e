// Package provider приводит вебхуки платёжных провайдеров к каноническому событию.
package provider

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/escrow-reconciliation/internal/model"
)

// Имена провайдеров, под которыми события попадают в журнал доставок.
const (
	NameRevolut         = "revolut"
	NameRevolutMerchant = "revolut_merchant"
	NameStripe          = "stripe"
)

// ErrMalformedPayload возвращается, если тело вебхука не удалось разобрать.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// Parser приводит проверенное тело вебхука к каноническому событию.
// Нерелевантные события возвращаются с Kind = EventKindOther.
type Parser interface {
	Name() string
	Parse(ctx context.Context, body []byte) (*model.PaymentEvent, error)
}

var hundred = decimal.NewFromInt(100)

// minorUnits переводит сумму в основных единицах валюты в минимальные (центы).
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func int64Ptr(v int64) *int64 {
	return &v
}
