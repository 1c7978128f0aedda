package shops

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

const shopColumns = `id, slug, name, telegram_token,
	collect_phone, collect_name, offer_appointment, escalation_enabled,
	bot_personality, greeting_text, currency, max_extraction_retries, active, created_at`

func scanShop(row pgx.Row) (*Shop, error) {
	var s Shop
	st := &s.Settings
	if err := row.Scan(&s.ID, &s.Slug, &s.Name, &s.TelegramToken,
		&st.CollectPhone, &st.CollectName, &st.OfferAppointment, &st.EscalationEnabled,
		&st.BotPersonality, &st.GreetingText, &st.Currency, &st.MaxExtractionRetries,
		&s.Active, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*Shop, error) {
	return scanShop(r.pool.QueryRow(ctx, `SELECT `+shopColumns+` FROM shops WHERE id = $1`, id))
}

func (r *Repo) GetBySlug(ctx context.Context, slug string) (*Shop, error) {
	return scanShop(r.pool.QueryRow(ctx, `SELECT `+shopColumns+` FROM shops WHERE slug = $1`, slug))
}

// ListActive — магазины с токеном бота, для запуска поллеров.
func (r *Repo) ListActive(ctx context.Context) ([]Shop, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+shopColumns+`
		FROM shops
		WHERE active AND telegram_token <> ''
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Shop
	for rows.Next() {
		s, err := scanShop(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Create регистрирует магазин; slug уникален.
func (r *Repo) Create(ctx context.Context, s Shop) (*Shop, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	st := s.Settings
	return scanShop(r.pool.QueryRow(ctx, `
		INSERT INTO shops (id, slug, name, telegram_token,
			collect_phone, collect_name, offer_appointment, escalation_enabled,
			bot_personality, greeting_text, currency, max_extraction_retries, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,true)
		RETURNING `+shopColumns,
		s.ID, s.Slug, s.Name, s.TelegramToken,
		st.CollectPhone, st.CollectName, st.OfferAppointment, st.EscalationEnabled,
		st.BotPersonality, st.GreetingText, st.Currency, st.MaxExtractionRetries))
}
