// Package memstore — хранилище в памяти для режима storage=memory и тестов.
// Повторяет семантику postgres-репозиториев.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Spok95/repair-bot/internal/dialog"
	"github.com/Spok95/repair-bot/internal/domain/catalog"
	"github.com/Spok95/repair-bot/internal/domain/conversations"
	"github.com/Spok95/repair-bot/internal/domain/leads"
	"github.com/Spok95/repair-bot/internal/domain/pricing"
	"github.com/Spok95/repair-bot/internal/domain/shops"
	"github.com/Spok95/repair-bot/internal/domain/users"
)

type Store struct {
	mu         sync.Mutex
	shops      map[uuid.UUID]shops.Shop
	rules      map[uuid.UUID]pricing.PriceRule
	categories []catalog.Category
	types      []catalog.RepairType
	convs      map[uuid.UUID]*conversations.Conversation
	messages   map[uuid.UUID][]conversations.Message
	leads      map[uuid.UUID]*leads.Lead // по conversation_id
	staff      []*users.User
}

func New() *Store {
	return &Store{
		shops:    map[uuid.UUID]shops.Shop{},
		rules:    map[uuid.UUID]pricing.PriceRule{},
		convs:    map[uuid.UUID]*conversations.Conversation{},
		messages: map[uuid.UUID][]conversations.Message{},
		leads:    map[uuid.UUID]*leads.Lead{},
	}
}

/* Shops */

func (s *Store) AddShop(sh shops.Shop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh.CreatedAt.IsZero() {
		sh.CreatedAt = time.Now()
	}
	s.shops[sh.ID] = sh
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*shops.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shops[id]
	if !ok {
		return nil, shops.ErrNotFound
	}
	return &sh, nil
}

func (s *Store) ListActive(_ context.Context) ([]shops.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []shops.Shop
	for _, sh := range s.shops {
		if sh.Active && sh.TelegramToken != "" {
			out = append(out, sh)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

/* Price rules */

// UpsertRules валидирует все правила до записи: ошибка — ничего не сохранено.
func (s *Store) UpsertRules(_ context.Context, rules []pricing.PriceRule) error {
	for _, r := range rules {
		if err := pricing.ValidateRule(r); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rules {
		if old, ok := s.rules[r.ID]; ok {
			if old.TenantID != r.TenantID {
				continue
			}
			r.CreatedAt = old.CreatedAt
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
		s.rules[r.ID] = r
	}
	return nil
}

// AddRules кладёт правила как есть, без валидации — так в базе могут
// оказаться испорченные строки.
func (s *Store) AddRules(rules ...pricing.PriceRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rules {
		s.rules[r.ID] = r
	}
}

func (s *Store) RulesFor(_ context.Context, tenantID uuid.UUID, deviceCategory string) ([]pricing.PriceRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shops[tenantID]; !ok {
		return nil, pricing.ErrUnknownTenant
	}
	var out []pricing.PriceRule
	for _, r := range s.rules {
		if r.TenantID == tenantID && r.Active && strings.EqualFold(r.DeviceCategory, deviceCategory) {
			out = append(out, r)
		}
	}
	pricing.SortRules(out)
	return out, nil
}

func (s *Store) ListAll(_ context.Context, tenantID uuid.UUID) ([]pricing.PriceRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pricing.PriceRule
	for _, r := range s.rules {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceCategory != out[j].DeviceCategory {
			return out[i].DeviceCategory < out[j].DeviceCategory
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

/* Catalog */

func (s *Store) SetCatalog(cats []catalog.Category, types []catalog.RepairType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = slices.Clone(cats)
	s.types = slices.Clone(types)
}

func (s *Store) ListCategories(_ context.Context) ([]catalog.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.Category
	for _, c := range s.categories {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) RepairTypes(_ context.Context, category string) ([]catalog.RepairType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.RepairType
	for _, t := range s.types {
		if t.Active && strings.EqualFold(t.DeviceCategory, category) {
			out = append(out, t)
		}
	}
	return out, nil
}

/* Conversations */

func (s *Store) FindActive(_ context.Context, key conversations.Key) (*conversations.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		if c.Status == conversations.StatusActive && c.Key() == key {
			return clone(c), nil
		}
	}
	return nil, conversations.ErrNotFound
}

// CreateConversation: не больше одного активного разговора на пару.
func (s *Store) CreateConversation(ctx context.Context, c *conversations.Conversation) (*conversations.Conversation, error) {
	if existing, err := s.FindActive(ctx, c.Key()); err == nil {
		return existing, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[c.ID] = clone(c)
	return clone(c), nil
}

func (s *Store) Conversation(_ context.Context, id uuid.UUID) (*conversations.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, conversations.ErrNotFound
	}
	return clone(c), nil
}

func (s *Store) AppendMessage(_ context.Context, m *conversations.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(m)
}

func (s *Store) appendLocked(m *conversations.Message) error {
	c, ok := s.convs[m.ConversationID]
	if !ok {
		return conversations.ErrNotFound
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], *m)
	c.MessagesCount++
	c.LastMessageAt = m.CreatedAt
	return nil
}

// CommitTurn атомарно: состояние разговора, сообщения хода и лид.
func (s *Store) CommitTurn(_ context.Context, c *conversations.Conversation, msgs []*conversations.Message, lead *leads.Lead) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.convs[c.ID]
	if !ok {
		return false, conversations.ErrNotFound
	}
	next := clone(c)
	next.MessagesCount, next.LastMessageAt = stored.MessagesCount, stored.LastMessageAt
	s.convs[c.ID] = next

	for _, m := range msgs {
		if err := s.appendLocked(m); err != nil {
			return false, err
		}
	}
	if lead == nil {
		return false, nil
	}

	now := time.Now()
	if old, ok := s.leads[lead.ConversationID]; ok {
		lead.ID, lead.Status, lead.MasterNotes, lead.CreatedAt = old.ID, old.Status, old.MasterNotes, old.CreatedAt
		lead.UpdatedAt = now
		l := *lead
		s.leads[lead.ConversationID] = &l
		return false, nil
	}
	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	if lead.Status == "" {
		lead.Status = leads.StatusNew
	}
	lead.CreatedAt, lead.UpdatedAt = now, now
	l := *lead
	s.leads[lead.ConversationID] = &l
	return true, nil
}

func (s *Store) ListStale(_ context.Context, before time.Time, limit int) ([]conversations.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []conversations.Conversation
	for _, c := range s.convs {
		if c.Status == conversations.StatusActive && c.LastMessageAt.Before(before) {
			out = append(out, *clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.Before(out[j].LastMessageAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Messages(_ context.Context, conversationID uuid.UUID) ([]conversations.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages[conversationID]), nil
}

/* Leads */

func (s *Store) LeadByConversation(_ context.Context, conversationID uuid.UUID) (*leads.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[conversationID]
	if !ok {
		return nil, leads.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

// ListByShop — последние лиды магазина; пустой status = все.
func (s *Store) ListByShop(_ context.Context, shopID uuid.UUID, status leads.Status, limit int) ([]leads.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []leads.Lead
	for _, l := range s.leads {
		if l.ShopID == shopID && (status == "" || l.Status == status) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SetStatus(_ context.Context, shopID, id uuid.UUID, status leads.Status, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.ID == id && l.ShopID == shopID {
			l.Status = status
			if notes != "" {
				l.MasterNotes = notes
			}
			l.UpdatedAt = time.Now()
			return nil
		}
	}
	return leads.ErrNotFound
}

/* Staff */

func (s *Store) GetByTelegramID(_ context.Context, shopID uuid.UUID, tgID int64) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.staff {
		if u.ShopID == shopID && u.TelegramID == tgID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// UpsertFromTelegram: owner не понижается.
func (s *Store) UpsertFromTelegram(_ context.Context, shopID uuid.UUID, tg users.Telegram, role users.Role) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, u := range s.staff {
		if u.ShopID == shopID && u.TelegramID == tg.ID {
			u.Username, u.FirstName, u.LastName = tg.Username, tg.FirstName, tg.LastName
			if u.Role != users.RoleOwner {
				u.Role = role
			}
			u.UpdatedAt = now
			cp := *u
			return &cp, nil
		}
	}
	u := &users.User{
		ID:         int64(len(s.staff) + 1),
		ShopID:     shopID,
		TelegramID: tg.ID,
		Username:   tg.Username,
		FirstName:  tg.FirstName,
		LastName:   tg.LastName,
		Role:       role,
		Notify:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.staff = append(s.staff, u)
	cp := *u
	return &cp, nil
}

func (s *Store) ListNotified(_ context.Context, shopID uuid.UUID) ([]users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []users.User
	for _, u := range s.staff {
		if u.ShopID == shopID && u.Notify {
			out = append(out, *u)
		}
	}
	return out, nil
}

// clone — копия без общих map/slice, чтобы вызывающий не менял хранилище.
func clone(c *conversations.Conversation) *conversations.Conversation {
	cp := *c
	cp.State.Confidence = maps.Clone(c.State.Confidence)
	if cp.State.Confidence == nil {
		cp.State.Confidence = map[dialog.Field]float64{}
	}
	cp.State.Skipped = slices.Clone(c.State.Skipped)
	cp.State.LastPrompt.Actions = slices.Clone(c.State.LastPrompt.Actions)
	if c.State.Estimate != nil {
		est := *c.State.Estimate
		cp.State.Estimate = &est
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
