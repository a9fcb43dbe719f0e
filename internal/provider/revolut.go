package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mmeshcher/escrow-reconciliation/internal/model"
	"github.com/mmeshcher/escrow-reconciliation/internal/revolut"
)

const (
	revolutTransactionCreated      = "TransactionCreated"
	revolutTransactionStateChanged = "TransactionStateChanged"
	revolutStateCompleted          = "completed"
)

// TransactionFetcher загружает транзакцию Revolut по идентификатору.
type TransactionFetcher interface {
	GetTransaction(ctx context.Context, id string) (*revolut.Transaction, error)
}

// RevolutParser разбирает вебхуки Revolut Business.
type RevolutParser struct {
	fetcher TransactionFetcher
}

// NewRevolutParser создаёт парсер. fetcher может быть nil: тогда события смены
// статуса без тела транзакции не дополняются данными из API.
func NewRevolutParser(fetcher TransactionFetcher) *RevolutParser {
	return &RevolutParser{fetcher: fetcher}
}

// Name возвращает имя провайдера.
func (p *RevolutParser) Name() string {
	return NameRevolut
}

type revolutEnvelope struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type revolutStateChange struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id"`
	OldState  string `json:"old_state"`
	NewState  string `json:"new_state"`
}

// Parse разбирает тело вебхука Revolut Business.
func (p *RevolutParser) Parse(ctx context.Context, body []byte) (*model.PaymentEvent, error) {
	var env revolutEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch env.Event {
	case revolutTransactionCreated:
		var tx revolut.Transaction
		if err := json.Unmarshal(env.Data, &tx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		evt := FromRevolutTransaction(tx)
		evt.Type = env.Event
		return &evt, nil

	case revolutTransactionStateChanged:
		var change revolutStateChange
		if err := json.Unmarshal(env.Data, &change); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}

		evt := model.PaymentEvent{
			Provider:  NameRevolut,
			EventID:   revolutEventID(change.ID, change.NewState),
			Type:      env.Event,
			Kind:      model.EventKindOther,
			PaymentID: change.ID,
		}
		if change.NewState != revolutStateCompleted {
			return &evt, nil
		}

		if p.fetcher == nil {
			// Без API нет ни суммы, ни назначения платежа: событие дойдёт до сверки
			// и завершится как no_reference.
			evt.Kind = model.EventKindPaymentCompleted
			return &evt, nil
		}

		tx, err := p.fetcher.GetTransaction(ctx, change.ID)
		if err != nil {
			return nil, fmt.Errorf("fetch revolut transaction %s: %w", change.ID, err)
		}
		full := FromRevolutTransaction(*tx)
		full.EventID = evt.EventID
		full.Type = env.Event
		return &full, nil

	default:
		return &model.PaymentEvent{
			Provider: NameRevolut,
			EventID:  env.Event + ":" + env.Timestamp,
			Type:     env.Event,
			Kind:     model.EventKindOther,
		}, nil
	}
}

// FromRevolutTransaction строит каноническое событие из транзакции Revolut Business.
// Одна и та же транзакция в одном и том же статусе всегда получает один EventID,
// поэтому вебхук и периодическая синхронизация дедуплицируются.
func FromRevolutTransaction(tx revolut.Transaction) model.PaymentEvent {
	evt := model.PaymentEvent{
		Provider:      NameRevolut,
		EventID:       revolutEventID(tx.ID, tx.State),
		Type:          revolutTransactionCreated,
		Kind:          model.EventKindOther,
		PaymentID:     tx.ID,
		PaymentMethod: "bank_transfer",
		Description:   tx.Reference,
	}

	leg, ok := tx.CreditLeg()
	if !ok {
		return evt
	}

	evt.Amount = int64Ptr(minorUnits(leg.Amount))
	evt.Currency = strings.ToUpper(leg.Currency)
	evt.Description = strings.TrimSpace(tx.Reference + " " + leg.Description)
	if leg.Counterparty != nil {
		evt.CounterpartyName = leg.Counterparty.Name
	}

	if tx.State == revolutStateCompleted {
		evt.Kind = model.EventKindPaymentCompleted
	}
	return evt
}

func revolutEventID(txID, state string) string {
	return "transaction:" + txID + ":" + state
}
