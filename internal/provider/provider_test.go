package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/escrow-reconciliation/internal/model"
	"github.com/mmeshcher/escrow-reconciliation/internal/revolut"
	"github.com/shopspring/decimal"
)

type stubFetcher struct {
	tx  *revolut.Transaction
	err error
	ids []string
}

func (s *stubFetcher) GetTransaction(ctx context.Context, id string) (*revolut.Transaction, error) {
	s.ids = append(s.ids, id)
	return s.tx, s.err
}

const revolutCreatedCompleted = `{
  "event": "TransactionCreated",
  "timestamp": "2025-03-01T10:00:00Z",
  "data": {
    "id": "tx-1",
    "type": "topup",
    "state": "completed",
    "reference": "Payment for ESC-12345678 thanks",
    "legs": [
      {"leg_id": "leg-1", "amount": 49.99, "currency": "eur", "description": "From Erika Musterfrau",
       "counterparty": {"id": "cp-1", "name": "Erika Musterfrau"}}
    ]
  }
}`

func TestRevolutParser_TransactionCreatedCompleted(t *testing.T) {
	p := NewRevolutParser(nil)

	evt, err := p.Parse(context.Background(), []byte(revolutCreatedCompleted))
	require.NoError(t, err)

	assert.Equal(t, NameRevolut, evt.Provider)
	assert.Equal(t, "transaction:tx-1:completed", evt.EventID)
	assert.Equal(t, model.EventKindPaymentCompleted, evt.Kind)
	assert.Equal(t, "tx-1", evt.PaymentID)
	require.NotNil(t, evt.Amount)
	assert.Equal(t, int64(4999), *evt.Amount)
	assert.Equal(t, "EUR", evt.Currency)
	assert.Equal(t, "Erika Musterfrau", evt.CounterpartyName)
	assert.Contains(t, evt.Description, "ESC-12345678")
}

func TestRevolutParser_PendingIsNotCompleted(t *testing.T) {
	body := `{"event":"TransactionCreated","data":{"id":"tx-2","type":"topup","state":"pending","legs":[{"amount":10,"currency":"EUR"}]}}`

	evt, err := NewRevolutParser(nil).Parse(context.Background(), []byte(body))
	require.NoError(t, err)
	assert.Equal(t, model.EventKindOther, evt.Kind)
	assert.Equal(t, "transaction:tx-2:pending", evt.EventID)
}

func TestRevolutParser_DebitIsNotCompletedPayment(t *testing.T) {
	body := `{"event":"TransactionCreated","data":{"id":"tx-3","type":"transfer","state":"completed","legs":[{"amount":-10,"currency":"EUR"}]}}`

	evt, err := NewRevolutParser(nil).Parse(context.Background(), []byte(body))
	require.NoError(t, err)
	assert.Equal(t, model.EventKindOther, evt.Kind)
	assert.Nil(t, evt.Amount)
}

func TestRevolutParser_StateChangedFetchesTransaction(t *testing.T) {
	fetcher := &stubFetcher{tx: &revolut.Transaction{
		ID:        "tx-4",
		Type:      "topup",
		State:     "completed",
		Reference: "ESC-00000001",
		Legs:      []revolut.Leg{{Amount: decimal.RequireFromString("12.5"), Currency: "EUR"}},
	}}
	body := `{"event":"TransactionStateChanged","data":{"id":"tx-4","old_state":"pending","new_state":"completed"}}`

	evt, err := NewRevolutParser(fetcher).Parse(context.Background(), []byte(body))
	require.NoError(t, err)

	assert.Equal(t, []string{"tx-4"}, fetcher.ids)
	assert.Equal(t, "transaction:tx-4:completed", evt.EventID)
	assert.Equal(t, "TransactionStateChanged", evt.Type)
	assert.Equal(t, model.EventKindPaymentCompleted, evt.Kind)
	require.NotNil(t, evt.Amount)
	assert.Equal(t, int64(1250), *evt.Amount)
}

func TestRevolutParser_StateChangedFetchError(t *testing.T) {
	fetcher := &stubFetcher{err: revolut.ErrTransactionNotFound}
	body := `{"event":"TransactionStateChanged","data":{"id":"tx-5","new_state":"completed"}}`

	_, err := NewRevolutParser(fetcher).Parse(context.Background(), []byte(body))
	require.ErrorIs(t, err, revolut.ErrTransactionNotFound)
}

func TestRevolutParser_StateChangedWithoutFetcher(t *testing.T) {
	body := `{"event":"TransactionStateChanged","data":{"id":"tx-6","new_state":"completed"}}`

	evt, err := NewRevolutParser(nil).Parse(context.Background(), []byte(body))
	require.NoError(t, err)
	assert.Equal(t, model.EventKindPaymentCompleted, evt.Kind)
	assert.Nil(t, evt.Amount)
	assert.Empty(t, evt.Description)
}

func TestRevolutParser_Malformed(t *testing.T) {
	_, err := NewRevolutParser(nil).Parse(context.Background(), []byte(`{not json`))
	require.True(t, errors.Is(err, ErrMalformedPayload))
}

func TestRevolutMerchantParser(t *testing.T) {
	p := NewRevolutMerchantParser()

	body := `{"event":"ORDER_COMPLETED","order_id":"rev-ord-1","merchant_order_ext_ref":"ESC-e1ref","order_amount":{"value":5000,"currency":"eur"}}`
	evt, err := p.Parse(context.Background(), []byte(body))
	require.NoError(t, err)

	assert.Equal(t, "order:rev-ord-1:ORDER_COMPLETED", evt.EventID)
	assert.Equal(t, model.EventKindPaymentCompleted, evt.Kind)
	assert.Equal(t, "ESC-e1ref", evt.MerchantRef)
	require.NotNil(t, evt.Amount)
	assert.Equal(t, int64(5000), *evt.Amount)
	assert.Equal(t, "EUR", evt.Currency)

	evt, err = p.Parse(context.Background(), []byte(`{"event":"ORDER_AUTHORISED","order_id":"rev-ord-1"}`))
	require.NoError(t, err)
	assert.Equal(t, model.EventKindOther, evt.Kind)
	assert.Nil(t, evt.Amount)

	_, err = p.Parse(context.Background(), []byte(`{"event":"ORDER_COMPLETED"}`))
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestStripeParser(t *testing.T) {
	p := NewStripeParser()

	body := `{
	  "id": "evt_1",
	  "object": "event",
	  "type": "payment_intent.succeeded",
	  "data": {"object": {
	    "id": "pi_1",
	    "object": "payment_intent",
	    "amount": 5000,
	    "amount_received": 4990,
	    "currency": "eur",
	    "payment_method_types": ["card"],
	    "metadata": {"escrowReference": "ESC-e1ref", "customerName": "Max"}
	  }}
	}`

	evt, err := p.Parse(context.Background(), []byte(body))
	require.NoError(t, err)

	assert.Equal(t, "evt_1", evt.EventID)
	assert.Equal(t, model.EventKindPaymentCompleted, evt.Kind)
	assert.Equal(t, "pi_1", evt.PaymentID)
	require.NotNil(t, evt.Amount)
	assert.Equal(t, int64(4990), *evt.Amount)
	assert.Equal(t, "EUR", evt.Currency)
	assert.Equal(t, "ESC-e1ref", evt.MerchantRef)
	assert.Equal(t, "Max", evt.CounterpartyName)
	assert.Equal(t, "card", evt.PaymentMethod)
}

func TestStripeParser_OtherEvent(t *testing.T) {
	evt, err := NewStripeParser().Parse(context.Background(),
		[]byte(`{"id":"evt_2","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`))
	require.NoError(t, err)
	assert.Equal(t, model.EventKindOther, evt.Kind)
	assert.Equal(t, "evt_2", evt.EventID)
}

func TestStripeParser_FallsBackToEscrowID(t *testing.T) {
	body := `{"id":"evt_3","type":"payment_intent.succeeded","data":{"object":{"id":"pi_3","amount":100,"currency":"eur","metadata":{"escrowId":"e-42"}}}}`

	evt, err := NewStripeParser().Parse(context.Background(), []byte(body))
	require.NoError(t, err)
	assert.Equal(t, "e-42", evt.MerchantRef)
	assert.Equal(t, int64(100), *evt.Amount)
}
