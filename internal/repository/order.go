package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/escrow-reconciliation/internal/model"
)

// GetDraft возвращает черновик сделки по идентификатору.
func (r *PostgresRepository) GetDraft(ctx context.Context, id string) (*model.DraftTransaction, error) {
	return r.getDraft(ctx, id, false)
}

func (r *PostgresRepository) getDraft(ctx context.Context, id string, forUpdate bool) (*model.DraftTransaction, error) {
	query := `SELECT id, customer_id, provider_company_id, title, line_items, total_amount, currency,
		scheduled_from, scheduled_to, COALESCE(converted_to_order_id, ''), created_at
		FROM draft_transactions
		WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		d     model.DraftTransaction
		items []byte
	)
	err := r.queryRow(ctx, query, id).Scan(
		&d.ID, &d.CustomerID, &d.ProviderCompanyID, &d.Title, &items, &d.TotalAmount, &d.Currency,
		&d.ScheduledFrom, &d.ScheduledTo, &d.ConvertedToOrderID, &d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDraftNotFound
		}
		return nil, fmt.Errorf("get draft: %w", err)
	}

	if err := json.Unmarshal(items, &d.LineItems); err != nil {
		return nil, fmt.Errorf("decode draft line items: %w", err)
	}

	return &d, nil
}

// MaterializeOrder атомарно создаёт заказ из черновика и помечает черновик как
// использованный. Если черновик уже превращён в заказ, возвращает его идентификатор
// с AlreadyExists и ничего не пишет. Строка черновика блокируется на время транзакции,
// поэтому параллельные вызовы для одного черновика видят один и тот же заказ.
func (r *PostgresRepository) MaterializeOrder(ctx context.Context, draftID string, seed model.OrderSeed) (model.MaterializeResult, error) {
	var res model.MaterializeResult

	err := r.withRetry(ctx, func() error {
		res = model.MaterializeResult{}
		return r.withTx(ctx, func(ctx context.Context) error {
			draft, err := r.getDraft(ctx, draftID, true)
			if err != nil {
				return err
			}

			if draft.ConvertedToOrderID != "" {
				res = model.MaterializeResult{OrderID: draft.ConvertedToOrderID, AlreadyExists: true}
				return nil
			}

			order := model.NewOrderFromDraft(*draft, seed)
			if err := r.insertOrder(ctx, order); err != nil {
				return err
			}

			tag, err := r.exec(ctx,
				`UPDATE draft_transactions
				 SET converted_to_order_id = $2
				 WHERE id = $1 AND converted_to_order_id IS NULL`,
				draftID, order.ID,
			)
			if err != nil {
				return fmt.Errorf("mark draft converted: %w", err)
			}
			if tag.RowsAffected() != 1 {
				return fmt.Errorf("mark draft converted: draft %s changed concurrently", draftID)
			}

			res = model.MaterializeResult{OrderID: order.ID}
			return nil
		})
	})
	if err == nil {
		return res, nil
	}

	if !isUniqueViolation(err) {
		return model.MaterializeResult{}, fmt.Errorf("materialize order: %w", err)
	}

	// Заказ для этого черновика или эскроу уже создан другой транзакцией.
	existing, lookupErr := r.findOrderID(ctx, draftID, seed.EscrowID)
	if lookupErr != nil {
		return model.MaterializeResult{}, fmt.Errorf("materialize order: %w", lookupErr)
	}
	return model.MaterializeResult{OrderID: existing, AlreadyExists: true}, nil
}

func (r *PostgresRepository) insertOrder(ctx context.Context, o model.Order) error {
	items, err := json.Marshal(o.LineItems)
	if err != nil {
		return fmt.Errorf("encode order line items: %w", err)
	}

	_, err = r.exec(ctx,
		`INSERT INTO orders (id, draft_id, escrow_id, payment_id, provider, status, customer_id,
			provider_company_id, title, line_items, total_amount, amount_paid, currency,
			scheduled_from, scheduled_to, paid_at, clearing_ends_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		o.ID, o.DraftID, o.EscrowID, o.PaymentID, o.Provider, string(o.Status), o.CustomerID,
		o.ProviderCompanyID, o.Title, items, o.TotalAmount, o.AmountPaid, o.Currency,
		o.ScheduledFrom, o.ScheduledTo, o.PaidAt, o.ClearingEndsAt, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *PostgresRepository) findOrderID(ctx context.Context, draftID, escrowID string) (string, error) {
	var id string
	err := r.queryRow(ctx,
		`SELECT id FROM orders WHERE draft_id = $1 OR escrow_id = $2 ORDER BY created_at LIMIT 1`,
		draftID, escrowID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("select existing order: %w", err)
	}
	return id, nil
}
