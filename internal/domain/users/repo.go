package users

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

const userColumns = `id, shop_id, telegram_id, username, first_name, last_name, role, notify, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.ShopID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName,
		&u.Role, &u.Notify, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByTelegramID — сотрудник магазина; (nil, nil), если это обычный клиент.
func (r *Repo) GetByTelegramID(ctx context.Context, shopID uuid.UUID, tgID int64) (*User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM shop_users WHERE shop_id = $1 AND telegram_id = $2
	`, shopID, tgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// UpsertFromTelegram Upsert по Telegram-профилю. Если сотрудник уже owner — не понижаем роль.
func (r *Repo) UpsertFromTelegram(ctx context.Context, shopID uuid.UUID, tg Telegram, role Role) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, `
		INSERT INTO shop_users (shop_id, telegram_id, username, first_name, last_name, role)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (shop_id, telegram_id)
		DO UPDATE SET
			username   = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name  = EXCLUDED.last_name,
			role       = CASE WHEN shop_users.role = 'owner' THEN shop_users.role ELSE EXCLUDED.role END,
			updated_at = now()
		RETURNING `+userColumns,
		shopID, tg.ID, tg.Username, tg.FirstName, tg.LastName, role))
}

// ListNotified — кому из сотрудников слать уведомления о заявках.
func (r *Repo) ListNotified(ctx context.Context, shopID uuid.UUID) ([]User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM shop_users
		WHERE shop_id = $1 AND notify
		ORDER BY id
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}
