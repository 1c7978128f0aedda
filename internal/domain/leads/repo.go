package leads

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Spok95/repair-bot/internal/dialog"
	"github.com/Spok95/repair-bot/internal/domain/pricing"
	"github.com/Spok95/repair-bot/internal/infra/db"
)

type Repo struct{ q db.Querier }

func NewRepo(q db.Querier) *Repo { return &Repo{q: q} }

const leadColumns = `id, shop_id, conversation_id, channel, customer_name, customer_phone, customer_contact,
	device_category, device_brand, device_model, device_full_name, repair_type, problem_summary, urgency,
	has_previous_repair, price_min, price_max, price_confidence, matched_rule_id, price_tier, warranty_months,
	preferred_time, stage, escalation_reason, status, master_notes, created_at, updated_at`

// Upsert — один лид на разговор. status и master_notes задаются только при вставке,
// дальше ими владеют операторы. inserted=true, если лид создан этим вызовом.
func (r *Repo) Upsert(ctx context.Context, l *Lead) (inserted bool, err error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Status == "" {
		l.Status = StatusNew
	}
	req, est := l.Request, l.Estimate

	row := r.q.QueryRow(ctx, `
		INSERT INTO leads (id, shop_id, conversation_id, channel, customer_name, customer_phone, customer_contact,
			device_category, device_brand, device_model, device_full_name, repair_type, problem_summary, urgency,
			has_previous_repair, price_min, price_max, price_confidence, matched_rule_id, price_tier, warranty_months,
			preferred_time, stage, escalation_reason, status, master_notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
		ON CONFLICT (conversation_id) DO UPDATE SET
			customer_name = EXCLUDED.customer_name,
			customer_phone = EXCLUDED.customer_phone,
			customer_contact = EXCLUDED.customer_contact,
			device_category = EXCLUDED.device_category,
			device_brand = EXCLUDED.device_brand,
			device_model = EXCLUDED.device_model,
			device_full_name = EXCLUDED.device_full_name,
			repair_type = EXCLUDED.repair_type,
			problem_summary = EXCLUDED.problem_summary,
			urgency = EXCLUDED.urgency,
			has_previous_repair = EXCLUDED.has_previous_repair,
			price_min = EXCLUDED.price_min,
			price_max = EXCLUDED.price_max,
			price_confidence = EXCLUDED.price_confidence,
			matched_rule_id = EXCLUDED.matched_rule_id,
			price_tier = EXCLUDED.price_tier,
			warranty_months = EXCLUDED.warranty_months,
			preferred_time = EXCLUDED.preferred_time,
			stage = EXCLUDED.stage,
			escalation_reason = EXCLUDED.escalation_reason,
			updated_at = now()
		RETURNING id, status, master_notes, created_at, updated_at, (xmax = 0) AS inserted
	`, l.ID, l.ShopID, l.ConversationID, string(l.Channel), l.CustomerName, l.CustomerPhone, l.CustomerContact,
		req.DeviceCategory, req.DeviceBrand, req.DeviceModel, l.DeviceFullName, req.RepairType, l.ProblemSummary, req.Urgency,
		req.HasPreviousRepair, est.PriceMin, est.PriceMax, string(est.Confidence), est.MatchedRuleID,
		est.Tier, est.WarrantyMonths, l.PreferredTime, string(l.Stage), l.EscalationReason,
		string(l.Status), l.MasterNotes)

	err = row.Scan(&l.ID, &l.Status, &l.MasterNotes, &l.CreatedAt, &l.UpdatedAt, &inserted)
	return inserted, err
}

func scanLead(row pgx.Row) (*Lead, error) {
	var (
		l        Lead
		priceMin decimal.NullDecimal
		priceMax decimal.NullDecimal
		conf     string
		stage    string
	)
	err := row.Scan(&l.ID, &l.ShopID, &l.ConversationID, &l.Channel, &l.CustomerName, &l.CustomerPhone, &l.CustomerContact,
		&l.Request.DeviceCategory, &l.Request.DeviceBrand, &l.Request.DeviceModel, &l.DeviceFullName,
		&l.Request.RepairType, &l.ProblemSummary, &l.Request.Urgency,
		&l.Request.HasPreviousRepair, &priceMin, &priceMax, &conf, &l.Estimate.MatchedRuleID,
		&l.Estimate.Tier, &l.Estimate.WarrantyMonths,
		&l.PreferredTime, &stage, &l.EscalationReason, &l.Status, &l.MasterNotes, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	l.Estimate.PriceMin, l.Estimate.PriceMax = priceMin, priceMax
	l.Estimate.Confidence = pricing.Confidence(conf)
	l.Stage = dialog.Step(stage)
	return &l, nil
}

// ListByShop — последние лиды магазина; пустой status = все.
func (r *Repo) ListByShop(ctx context.Context, shopID uuid.UUID, status Status, limit int) ([]Lead, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE shop_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, shopID, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// SetStatus — действие оператора. Пустые notes не затирают прежние.
func (r *Repo) SetStatus(ctx context.Context, shopID, id uuid.UUID, status Status, notes string) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE leads SET status = $3, master_notes = COALESCE(NULLIF($4, ''), master_notes), updated_at = now()
		WHERE id = $1 AND shop_id = $2
	`, id, shopID, string(status), notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
