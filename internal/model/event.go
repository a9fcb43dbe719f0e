package model

import "time"

// EventKind описывает тип канонического платёжного события.
type EventKind string

const (
	EventKindPaymentCompleted EventKind = "payment_completed"
	EventKindOther            EventKind = "other"
)

// PaymentEvent описывает каноническое событие, к которому приводятся вебхуки всех провайдеров.
type PaymentEvent struct {
	Provider         string
	EventID          string
	Type             string
	Kind             EventKind
	PaymentID        string
	Amount           *int64
	Currency         string
	MerchantRef      string
	Description      string
	CounterpartyName string
	PaymentMethod    string
}

// Outcome описывает итог обработки события.
type Outcome string

const (
	OutcomeProcessed      Outcome = "processed"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeNoReference    Outcome = "no_reference"
	OutcomeEscrowNotFound Outcome = "escrow_not_found"
	OutcomeAlreadyHeld    Outcome = "already_held"
)

// Delivery описывает запись журнала обработанных вебхуков.
type Delivery struct {
	Provider    string
	EventID     string
	EventType   string
	Outcome     Outcome
	EscrowID    string
	OrderID     string
	ProcessedAt time.Time
}

// NotificationType описывает тип уведомления.
type NotificationType string

const (
	NotificationEscrowPaid   NotificationType = "escrow_paid"
	NotificationOrderCreated NotificationType = "order_created"
)

// RecipientKind описывает тип получателя уведомления.
type RecipientKind string

const (
	RecipientUser    RecipientKind = "user"
	RecipientCompany RecipientKind = "company"
)

// Notification описывает уведомление для внутреннего канала.
type Notification struct {
	RecipientID   string
	RecipientKind RecipientKind
	Type          NotificationType
	Payload       map[string]any
}
