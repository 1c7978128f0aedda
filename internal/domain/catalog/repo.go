package catalog

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

/* Categories */

func (r *Repo) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT slug, name, sort_order, active
		FROM device_categories
		WHERE active
		ORDER BY sort_order, slug
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.Slug, &c.Name, &c.SortOrder, &c.Active); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

/* Repair types */

func (r *Repo) RepairTypes(ctx context.Context, category string) ([]RepairType, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT slug, device_category, name, synonyms, sort_order, active, created_at
		FROM repair_types
		WHERE lower(device_category) = lower($1) AND active
		ORDER BY sort_order, slug
	`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RepairType
	for rows.Next() {
		var t RepairType
		if err := rows.Scan(&t.Slug, &t.DeviceCategory, &t.Name, &t.Synonyms, &t.SortOrder, &t.Active, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
