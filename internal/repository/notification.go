package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/escrow-reconciliation/internal/model"
)

// InsertNotification сохраняет уведомление во внутренний канал.
func (r *PostgresRepository) InsertNotification(ctx context.Context, n model.Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("encode notification payload: %w", err)
	}

	_, err = r.exec(ctx,
		`INSERT INTO notifications (recipient_id, recipient_kind, type, payload) VALUES ($1, $2, $3, $4)`,
		n.RecipientID, string(n.RecipientKind), string(n.Type), payload,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetCompany возвращает контактные данные компании.
func (r *PostgresRepository) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	var c model.Company
	err := r.queryRow(ctx, `SELECT id, name, email FROM companies WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCompanyNotFound
		}
		return nil, fmt.Errorf("get company: %w", err)
	}
	return &c, nil
}
