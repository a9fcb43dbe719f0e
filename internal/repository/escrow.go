package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/escrow-reconciliation/internal/model"
)

const escrowColumns = `id, COALESCE(reference, ''), expected_amount, currency, status, payment_method,
	payment_id, COALESCE(draft_id, ''), COALESCE(materialized_order_id, ''), received_amount,
	counterparty_name, created_at, paid_at, updated_at`

func scanEscrow(row pgx.Row) (model.Escrow, error) {
	var (
		e      model.Escrow
		status string
	)
	err := row.Scan(&e.ID, &e.Reference, &e.ExpectedAmount, &e.Currency, &status, &e.PaymentMethod,
		&e.PaymentID, &e.DraftID, &e.MaterializedOrderID, &e.ReceivedAmount,
		&e.CounterpartyName, &e.CreatedAt, &e.PaidAt, &e.UpdatedAt)
	if err != nil {
		return model.Escrow{}, err
	}
	e.Status = model.EscrowStatus(status)
	return e, nil
}

// FindEscrowsByReference возвращает все эскроу с указанной ссылкой в порядке создания.
// Больше одной записи означает дублирование ссылки; выбор делает вызывающая сторона.
func (r *PostgresRepository) FindEscrowsByReference(ctx context.Context, reference string) ([]model.Escrow, error) {
	rows, err := r.query(ctx,
		`SELECT `+escrowColumns+`
		 FROM escrows
		 WHERE reference = $1
		 ORDER BY created_at, id`,
		reference,
	)
	if err != nil {
		return nil, fmt.Errorf("select escrows by reference: %w", err)
	}
	defer rows.Close()

	var res []model.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escrow: %w", err)
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetEscrowByID возвращает эскроу по идентификатору.
func (r *PostgresRepository) GetEscrowByID(ctx context.Context, id string) (*model.Escrow, error) {
	e, err := scanEscrow(r.queryRow(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEscrowNotFound
		}
		return nil, fmt.Errorf("get escrow: %w", err)
	}
	return &e, nil
}

// MarkPaid переводит эскроу из AWAITING_PAYMENT в HELD. Повторный вызов для уже
// оплаченного эскроу ничего не меняет и возвращает false без ошибки.
func (r *PostgresRepository) MarkPaid(ctx context.Context, escrowID string, receipt model.PaymentReceipt) (bool, error) {
	tag, err := r.exec(ctx,
		`UPDATE escrows
		 SET status = $2,
		     payment_id = $3,
		     payment_method = CASE WHEN $4 = '' THEN payment_method ELSE $4 END,
		     received_amount = $5,
		     counterparty_name = $6,
		     paid_at = $7,
		     updated_at = NOW()
		 WHERE id = $1 AND status = $8`,
		escrowID,
		string(model.EscrowStatusHeld),
		receipt.PaymentID,
		receipt.PaymentMethod,
		receipt.ReceivedAmount,
		receipt.CounterpartyName,
		receipt.PaidAt,
		string(model.EscrowStatusAwaitingPayment),
	)
	if err != nil {
		return false, fmt.Errorf("mark escrow paid: %w", err)
	}

	if tag.RowsAffected() == 1 {
		return true, nil
	}

	if _, err := r.GetEscrowByID(ctx, escrowID); err != nil {
		return false, err
	}
	return false, nil
}

// LinkOrder сохраняет ссылку на заказ, если она ещё не установлена. Повторная привязка
// того же заказа допустима, попытка привязать другой заказ возвращает ErrOrderLinkConflict.
func (r *PostgresRepository) LinkOrder(ctx context.Context, escrowID, orderID string) error {
	tag, err := r.exec(ctx,
		`UPDATE escrows
		 SET materialized_order_id = $2, updated_at = NOW()
		 WHERE id = $1 AND (materialized_order_id IS NULL OR materialized_order_id = $2)`,
		escrowID, orderID,
	)
	if err != nil {
		return fmt.Errorf("link order: %w", err)
	}

	if tag.RowsAffected() == 1 {
		return nil
	}

	e, err := r.GetEscrowByID(ctx, escrowID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: escrow %s has order %s, got %s", ErrOrderLinkConflict, escrowID, e.MaterializedOrderID, orderID)
}
