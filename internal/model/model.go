// Package model содержит доменные сущности сервиса сверки эскроу-платежей.
package model

import "time"

// EscrowStatus описывает этап жизненного цикла эскроу.
type EscrowStatus string

const (
	EscrowStatusAwaitingPayment EscrowStatus = "AWAITING_PAYMENT"
	EscrowStatusHeld            EscrowStatus = "HELD"
	EscrowStatusReleased        EscrowStatus = "RELEASED"
	EscrowStatusRefunded        EscrowStatus = "REFUNDED"
)

// Rank возвращает порядковый номер статуса. Статус эскроу может только расти.
func (s EscrowStatus) Rank() int {
	switch s {
	case EscrowStatusAwaitingPayment:
		return 0
	case EscrowStatusHeld:
		return 1
	case EscrowStatusReleased, EscrowStatusRefunded:
		return 2
	default:
		return -1
	}
}

// IsPaid сообщает, получены ли средства по эскроу.
func (s EscrowStatus) IsPaid() bool {
	return s.Rank() >= EscrowStatusHeld.Rank()
}

// Escrow описывает ожидаемые или полученные средства по сделке.
type Escrow struct {
	ID                  string
	Reference           string
	ExpectedAmount      int64
	Currency            string
	Status              EscrowStatus
	PaymentMethod       string
	PaymentID           string
	DraftID             string
	MaterializedOrderID string
	ReceivedAmount      *int64
	CounterpartyName    string
	CreatedAt           time.Time
	PaidAt              *time.Time
	UpdatedAt           time.Time
}

// LineItem описывает позицию черновика или заказа.
type LineItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Total       int64  `json:"total"`
}

// DraftTransaction содержит предварительное содержимое будущего заказа.
type DraftTransaction struct {
	ID                 string
	CustomerID         string
	ProviderCompanyID  string
	Title              string
	LineItems          []LineItem
	TotalAmount        int64
	Currency           string
	ScheduledFrom      *time.Time
	ScheduledTo        *time.Time
	ConvertedToOrderID string
	CreatedAt          time.Time
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPaymentReceived OrderStatus = "payment_received"
)

// Order описывает оплаченный заказ, созданный из черновика.
type Order struct {
	ID                string
	DraftID           string
	EscrowID          string
	PaymentID         string
	Provider          string
	Status            OrderStatus
	CustomerID        string
	ProviderCompanyID string
	Title             string
	LineItems         []LineItem
	TotalAmount       int64
	AmountPaid        int64
	Currency          string
	ScheduledFrom     *time.Time
	ScheduledTo       *time.Time
	PaidAt            time.Time
	ClearingEndsAt    time.Time
	CreatedAt         time.Time
}

// MaterializeResult описывает результат превращения черновика в заказ.
type MaterializeResult struct {
	OrderID       string
	AlreadyExists bool
}

// Company содержит контактные данные компании-исполнителя.
type Company struct {
	ID    string
	Name  string
	Email string
}

// PaymentReceipt содержит данные о поступившем платеже для перевода эскроу в HELD.
type PaymentReceipt struct {
	PaymentID        string
	PaymentMethod    string
	ReceivedAmount   *int64
	CounterpartyName string
	PaidAt           time.Time
}

// OrderSeed содержит поля заказа, которые не берутся из черновика.
type OrderSeed struct {
	OrderID        string
	EscrowID       string
	PaymentID      string
	Provider       string
	AmountPaid     int64
	PaidAt         time.Time
	ClearingEndsAt time.Time
}

// NewOrderFromDraft строит заказ из снимка черновика. Позиции копируются, поэтому
// последующие изменения черновика не затрагивают заказ.
func NewOrderFromDraft(d DraftTransaction, seed OrderSeed) Order {
	items := make([]LineItem, len(d.LineItems))
	copy(items, d.LineItems)

	return Order{
		ID:                seed.OrderID,
		DraftID:           d.ID,
		EscrowID:          seed.EscrowID,
		PaymentID:         seed.PaymentID,
		Provider:          seed.Provider,
		Status:            OrderStatusPaymentReceived,
		CustomerID:        d.CustomerID,
		ProviderCompanyID: d.ProviderCompanyID,
		Title:             d.Title,
		LineItems:         items,
		TotalAmount:       d.TotalAmount,
		AmountPaid:        seed.AmountPaid,
		Currency:          d.Currency,
		ScheduledFrom:     copyTime(d.ScheduledFrom),
		ScheduledTo:       copyTime(d.ScheduledTo),
		PaidAt:            seed.PaidAt,
		ClearingEndsAt:    seed.ClearingEndsAt,
		CreatedAt:         seed.PaidAt,
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
