package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/escrow-reconciliation/internal/model"
)

// GetDelivery возвращает запись журнала доставок для события провайдера.
func (r *PostgresRepository) GetDelivery(ctx context.Context, provider, eventID string) (*model.Delivery, error) {
	var (
		d       model.Delivery
		outcome string
	)
	err := r.queryRow(ctx,
		`SELECT provider, event_id, event_type, outcome, COALESCE(escrow_id, ''), COALESCE(order_id, ''), processed_at
		 FROM webhook_deliveries
		 WHERE provider = $1 AND event_id = $2`,
		provider, eventID,
	).Scan(&d.Provider, &d.EventID, &d.EventType, &outcome, &d.EscrowID, &d.OrderID, &d.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	d.Outcome = model.Outcome(outcome)
	return &d, nil
}

// RecordDelivery записывает итог обработки события. Запись не изменяется: повторная
// вставка той же пары (provider, event_id) игнорируется.
func (r *PostgresRepository) RecordDelivery(ctx context.Context, d model.Delivery) error {
	_, err := r.exec(ctx,
		`INSERT INTO webhook_deliveries (provider, event_id, event_type, outcome, escrow_id, order_id, processed_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)
		 ON CONFLICT (provider, event_id) DO NOTHING`,
		d.Provider, d.EventID, d.EventType, string(d.Outcome), d.EscrowID, d.OrderID, d.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}
