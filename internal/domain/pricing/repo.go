package pricing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Spok95/repair-bot/internal/infra/db"
)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

var _ RuleStore = (*Repo)(nil)

const ruleColumns = `id, shop_id, device_category, brand, model_pattern, repair_type,
	price_min, price_max, tier, tier_description, warranty_months, priority, active, notes, created_at`

// порядок специфичности совпадает с PriceRule.Specificity
const specificitySQL = `(CASE WHEN btrim(coalesce(brand, '')) <> '' THEN 2 ELSE 0 END
	+ CASE WHEN btrim(coalesce(model_pattern, ''), '% ') <> '' THEN 1 ELSE 0 END)`

func (r *Repo) RulesFor(ctx context.Context, tenantID uuid.UUID, deviceCategory string) ([]PriceRule, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shops WHERE id = $1)`, tenantID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUnknownTenant
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM price_rules
		WHERE shop_id = $1 AND lower(device_category) = lower($2) AND active
		ORDER BY priority DESC, `+specificitySQL+` DESC, created_at, id
	`, tenantID, deviceCategory)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

// ListAll — все правила магазина, включая неактивные (для выгрузки в Excel).
func (r *Repo) ListAll(ctx context.Context, tenantID uuid.UUID) ([]PriceRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM price_rules
		WHERE shop_id = $1
		ORDER BY device_category, repair_type, priority DESC, `+specificitySQL+` DESC, created_at, id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

// UpsertRules сохраняет пачку правил одной транзакцией. Невалидное правило отменяет всю пачку.
func (r *Repo) UpsertRules(ctx context.Context, rules []PriceRule) error {
	for i, rule := range rules {
		if err := ValidateRule(rule); err != nil {
			return fmt.Errorf("rule #%d: %w", i+1, err)
		}
	}
	return db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, rule := range rules {
			_, err := tx.Exec(ctx, `
				INSERT INTO price_rules (id, shop_id, device_category, brand, model_pattern, repair_type,
					price_min, price_max, tier, tier_description, warranty_months, priority, active, notes)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
				ON CONFLICT (id) DO UPDATE SET
				  device_category=$3, brand=$4, model_pattern=$5, repair_type=$6,
				  price_min=$7, price_max=$8, tier=$9, tier_description=$10,
				  warranty_months=$11, priority=$12, active=$13, notes=$14, updated_at=now()
				WHERE price_rules.shop_id = $2
			`, rule.ID, rule.TenantID, rule.DeviceCategory, db.NullString(rule.Brand), db.NullString(rule.ModelPattern),
				rule.RepairType, rule.PriceMin, rule.PriceMax, rule.Tier, rule.TierDescription,
				rule.WarrantyMonths, rule.Priority, rule.Active, rule.Notes)
			if err != nil {
				return fmt.Errorf("upsert rule %s: %w", rule.ID, err)
			}
		}
		return nil
	})
}

// Deactivate — мягкое отключение, правило остаётся для истории лидов.
func (r *Repo) Deactivate(ctx context.Context, tenantID, ruleID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE price_rules SET active = false, updated_at = now()
		WHERE id = $1 AND shop_id = $2
	`, ruleID, tenantID)
	return err
}

func collectRules(rows pgx.Rows) ([]PriceRule, error) {
	defer rows.Close()
	var out []PriceRule
	for rows.Next() {
		var (
			p            PriceRule
			brand, model *string
		)
		if err := rows.Scan(&p.ID, &p.TenantID, &p.DeviceCategory, &brand, &model, &p.RepairType,
			&p.PriceMin, &p.PriceMax, &p.Tier, &p.TierDescription, &p.WarrantyMonths, &p.Priority,
			&p.Active, &p.Notes, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Brand = db.FromNull(brand)
		p.ModelPattern = db.FromNull(model)
		out = append(out, p)
	}
	return out, rows.Err()
}
