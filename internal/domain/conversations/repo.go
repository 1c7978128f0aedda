package conversations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Spok95/repair-bot/internal/dialog"
	"github.com/Spok95/repair-bot/internal/domain/pricing"
	"github.com/Spok95/repair-bot/internal/infra/db"
)

// Repo работает и с пулом, и внутри транзакции.
type Repo struct{ q db.Querier }

func NewRepo(q db.Querier) *Repo { return &Repo{q: q} }

const conversationColumns = `id, shop_id, channel, external_user_id, external_chat_id, status, current_step,
	device_category, device_brand, device_model, repair_type, urgency, has_previous_repair,
	problem_description, customer_name, customer_phone, preferred_time,
	price_min, price_max, price_confidence, matched_rule_id, price_tier, warranty_months,
	escalation_reason, dialog_meta, messages_count, started_at, last_message_at, completed_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var (
		c          Conversation
		step       string
		conf       *string
		ruleID     *uuid.UUID
		tier       *string
		warranty   *int
		priceMin   decimal.NullDecimal
		priceMax   decimal.NullDecimal
		rawMeta    []byte
		brand      *string
		model      *string
		urgency    *string
		problem    *string
		custName   *string
		custPhone  *string
		prefTime   *string
		reason     *string
		repairType *string
		category   *string
	)
	f := &c.State.Facts
	err := row.Scan(&c.ID, &c.ShopID, &c.Channel, &c.ExternalUserID, &c.ExternalChatID, &c.Status, &step,
		&category, &brand, &model, &repairType, &urgency, &f.Request.HasPreviousRepair,
		&problem, &custName, &custPhone, &prefTime,
		&priceMin, &priceMax, &conf, &ruleID, &tier, &warranty,
		&reason, &rawMeta, &c.MessagesCount, &c.StartedAt, &c.LastMessageAt, &c.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if c.State.Step, err = dialog.ParseStep(step); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", c.ID, err)
	}
	f.Request.DeviceCategory = db.FromNull(category)
	f.Request.DeviceBrand = db.FromNull(brand)
	f.Request.DeviceModel = db.FromNull(model)
	f.Request.RepairType = db.FromNull(repairType)
	f.Request.Urgency = db.FromNull(urgency)
	f.ProblemDescription = db.FromNull(problem)
	f.CustomerName = db.FromNull(custName)
	f.CustomerPhone = db.FromNull(custPhone)
	f.PreferredTime = db.FromNull(prefTime)
	c.State.EscalationReason = db.FromNull(reason)

	// оценка хранится как есть, на момент хода, в котором была получена
	if conf != nil {
		est := pricing.EstimationResult{
			PriceMin:      priceMin,
			PriceMax:      priceMax,
			Confidence:    pricing.Confidence(*conf),
			MatchedRuleID: ruleID,
			Tier:          db.FromNull(tier),
		}
		if warranty != nil {
			est.WarrantyMonths = *warranty
		}
		c.State.Estimate = &est
	}

	if err := decodeMeta(rawMeta, &c.State); err != nil {
		return nil, fmt.Errorf("conversation %s meta: %w", c.ID, err)
	}
	return &c, nil
}

func (r *Repo) Get(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	return scanConversation(r.q.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
}

// FindActive — текущий незавершённый разговор пары.
func (r *Repo) FindActive(ctx context.Context, key Key) (*Conversation, error) {
	return scanConversation(r.q.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE shop_id = $1 AND channel = $2 AND external_user_id = $3 AND status = 'active'
	`, key.ShopID, string(key.Channel), key.ExternalUserID))
}

// Create вставляет разговор; если активный для пары уже есть — возвращает его.
func (r *Repo) Create(ctx context.Context, c *Conversation) (*Conversation, error) {
	meta, err := encodeMeta(c.State)
	if err != nil {
		return nil, err
	}
	row := r.q.QueryRow(ctx, `
		INSERT INTO conversations (id, shop_id, channel, external_user_id, external_chat_id,
			status, current_step, dialog_meta, started_at, last_message_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
		ON CONFLICT (shop_id, channel, external_user_id) WHERE status = 'active' DO NOTHING
		RETURNING `+conversationColumns,
		c.ID, c.ShopID, string(c.Channel), c.ExternalUserID, c.ExternalChatID,
		string(c.Status), string(c.State.Step), meta, c.StartedAt)

	created, err := scanConversation(row)
	if errors.Is(err, ErrNotFound) {
		return r.FindActive(ctx, c.Key())
	}
	return created, err
}

// Update сохраняет состояние диалога. Счётчик сообщений ведёт AppendMessage.
func (r *Repo) Update(ctx context.Context, c *Conversation) error {
	meta, err := encodeMeta(c.State)
	if err != nil {
		return err
	}
	f := c.State.Facts

	var (
		priceMin, priceMax decimal.NullDecimal
		conf, tier         *string
		ruleID             *uuid.UUID
		warranty           *int
	)
	if est := c.State.Estimate; est != nil {
		priceMin, priceMax = est.PriceMin, est.PriceMax
		s := string(est.Confidence)
		conf = &s
		ruleID = est.MatchedRuleID
		tier = db.NullString(est.Tier)
		w := est.WarrantyMonths
		warranty = &w
	}

	tag, err := r.q.Exec(ctx, `
		UPDATE conversations SET
			status = $2, current_step = $3,
			device_category = $4, device_brand = $5, device_model = $6, repair_type = $7,
			urgency = $8, has_previous_repair = $9, problem_description = $10,
			customer_name = $11, customer_phone = $12, preferred_time = $13,
			price_min = $14, price_max = $15, price_confidence = $16, matched_rule_id = $17,
			price_tier = $18, warranty_months = $19, escalation_reason = $20,
			dialog_meta = $21, external_chat_id = $22, completed_at = $23
		WHERE id = $1
	`, c.ID, string(c.Status), string(c.State.Step),
		db.NullString(f.Request.DeviceCategory), db.NullString(f.Request.DeviceBrand),
		db.NullString(f.Request.DeviceModel), db.NullString(f.Request.RepairType),
		db.NullString(f.Request.Urgency), f.Request.HasPreviousRepair, db.NullString(f.ProblemDescription),
		db.NullString(f.CustomerName), db.NullString(f.CustomerPhone), db.NullString(f.PreferredTime),
		priceMin, priceMax, conf, ruleID, tier, warranty, db.NullString(c.State.EscalationReason),
		meta, c.ExternalChatID, c.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage пишет сообщение и двигает счётчик/время последнего сообщения разговора.
func (r *Repo) AppendMessage(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	tag, err := r.q.Exec(ctx, `
		WITH m AS (
			INSERT INTO messages (id, conversation_id, role, text, step, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING conversation_id, created_at
		)
		UPDATE conversations c
		SET messages_count = c.messages_count + 1, last_message_at = m.created_at
		FROM m WHERE c.id = m.conversation_id
	`, m.ID, m.ConversationID, string(m.Role), m.Text, string(m.Step), m.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, conversation_id, role, text, step, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at, id
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m    Message
			step string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Text, &step, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Step = dialog.Step(step)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListStale — активные разговоры без сообщений с момента before.
func (r *Repo) ListStale(ctx context.Context, before time.Time, limit int) ([]Conversation, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE status = 'active' AND last_message_at < $1
		ORDER BY last_message_at
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
