package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/repair-bot/internal/dialog"
	"github.com/Spok95/repair-bot/internal/domain/conversations"
	"github.com/Spok95/repair-bot/internal/domain/leads"
	"github.com/Spok95/repair-bot/internal/domain/pricing"
	"github.com/Spok95/repair-bot/internal/domain/shops"
	"github.com/Spok95/repair-bot/internal/domain/users"
)

func newShop(s *Store) uuid.UUID {
	id := uuid.New()
	s.AddShop(shops.Shop{ID: id, Slug: "fixpro-moscow", Name: "FixPro", Active: true, Settings: shops.DefaultSettings()})
	return id
}

func TestRulesFor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	shop := newShop(s)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rule := func(brand string, prio int, active bool, at time.Time) pricing.PriceRule {
		return pricing.PriceRule{
			ID: uuid.New(), TenantID: shop, DeviceCategory: "smartphone", Brand: brand,
			RepairType: "screen_replacement", PriceMin: decimal.NewFromInt(1000), PriceMax: decimal.NewFromInt(2000),
			Priority: prio, Active: active, CreatedAt: at,
		}
	}
	fallback := rule("", 0, true, base)
	branded := rule("Apple", 0, true, base.Add(time.Hour))
	urgent := rule("", 5, true, base.Add(2*time.Hour))
	inactive := rule("Apple", 9, false, base)
	s.AddRules(fallback, branded, urgent, inactive)

	got, err := s.RulesFor(ctx, shop, "SMARTPHONE")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []uuid.UUID{urgent.ID, branded.ID, fallback.ID}, []uuid.UUID{got[0].ID, got[1].ID, got[2].ID})

	_, err = s.RulesFor(ctx, uuid.New(), "smartphone")
	require.ErrorIs(t, err, pricing.ErrUnknownTenant)
}

func TestUpsertRules_RejectsInvalid(t *testing.T) {
	t.Parallel()
	s := New()
	shop := newShop(s)

	bad := pricing.PriceRule{
		ID: uuid.New(), TenantID: shop, DeviceCategory: "smartphone", RepairType: "battery",
		PriceMin: decimal.NewFromInt(5000), PriceMax: decimal.NewFromInt(100), Active: true,
	}
	require.ErrorIs(t, s.UpsertRules(context.Background(), []pricing.PriceRule{bad}), pricing.ErrInvalidRule)

	all, err := s.ListAll(context.Background(), shop)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestConversations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	key := conversations.Key{ShopID: newShop(s), Channel: conversations.ChannelTelegram, ExternalUserID: "1"}

	_, err := s.FindActive(ctx, key)
	require.ErrorIs(t, err, conversations.ErrNotFound)

	c, err := s.CreateConversation(ctx, conversations.New(key, "1", time.Now()))
	require.NoError(t, err)
	again, err := s.CreateConversation(ctx, conversations.New(key, "1", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)

	// изменения копии не попадают в хранилище
	c.State.Confidence[dialog.FieldBrand] = 1
	stored, err := s.Conversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.State.Confidence)

	require.NoError(t, s.AppendMessage(ctx, &conversations.Message{ConversationID: c.ID, Role: conversations.RoleUser, Text: "привет"}))
	stored, err = s.Conversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.MessagesCount)
}

func TestCommitTurn_LeadUpsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	key := conversations.Key{ShopID: newShop(s), Channel: conversations.ChannelTelegram, ExternalUserID: "1"}
	c, err := s.CreateConversation(ctx, conversations.New(key, "1", time.Now()))
	require.NoError(t, err)

	st := c.State
	st.Step = dialog.StepAwaitingDecision
	c.Apply(st, time.Now())
	l := leads.Snapshot(c, dialog.StepQuoted)
	reply := &conversations.Message{ConversationID: c.ID, Role: conversations.RoleAssistant, Text: "цена"}

	inserted, err := s.CommitTurn(ctx, c, []*conversations.Message{reply}, &l)
	require.NoError(t, err)
	assert.True(t, inserted)
	first, err := s.LeadByConversation(ctx, c.ID)
	require.NoError(t, err)

	st.Step = dialog.StepCompleted
	c.Apply(st, time.Now())
	l2 := leads.Snapshot(c, dialog.StepCompleted)
	inserted, err = s.CommitTurn(ctx, c, nil, &l2)
	require.NoError(t, err)
	assert.False(t, inserted)

	second, err := s.LeadByConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, dialog.StepCompleted, second.Stage)

	all, err := s.ListByShop(ctx, key.ShopID, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	msgs, err := s.Messages(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestLeadStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	key := conversations.Key{ShopID: newShop(s), Channel: conversations.ChannelTelegram, ExternalUserID: "2"}
	c, err := s.CreateConversation(ctx, conversations.New(key, "2", time.Now()))
	require.NoError(t, err)
	l := leads.Snapshot(c, dialog.StepEscalated)
	_, err = s.CommitTurn(ctx, c, nil, &l)
	require.NoError(t, err)

	require.NoError(t, s.SetStatus(ctx, key.ShopID, l.ID, leads.StatusContacted, "перезвонить вечером"))
	require.NoError(t, s.SetStatus(ctx, key.ShopID, l.ID, leads.StatusWon, ""))
	require.ErrorIs(t, s.SetStatus(ctx, uuid.New(), l.ID, leads.StatusLost, ""), leads.ErrNotFound)

	won, err := s.ListByShop(ctx, key.ShopID, leads.StatusWon, 10)
	require.NoError(t, err)
	require.Len(t, won, 1)
	assert.Equal(t, "перезвонить вечером", won[0].MasterNotes)

	none, err := s.ListByShop(ctx, key.ShopID, leads.StatusNew, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStaff(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	shop := newShop(s)

	u, err := s.GetByTelegramID(ctx, shop, 42)
	require.NoError(t, err)
	assert.Nil(t, u)

	_, err = s.UpsertFromTelegram(ctx, shop, users.Telegram{ID: 42, FirstName: "Иван"}, users.RoleOwner)
	require.NoError(t, err)
	u, err = s.UpsertFromTelegram(ctx, shop, users.Telegram{ID: 42, FirstName: "Иван"}, users.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, users.RoleOwner, u.Role)
	assert.True(t, u.CanManagePrices())

	notified, err := s.ListNotified(ctx, shop)
	require.NoError(t, err)
	assert.Len(t, notified, 1)
}
