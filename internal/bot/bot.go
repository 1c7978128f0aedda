package bot

import (
	"context"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Spok95/repair-bot/internal/dialog"
	"github.com/Spok95/repair-bot/internal/domain/conversations"
	"github.com/Spok95/repair-bot/internal/domain/leads"
	"github.com/Spok95/repair-bot/internal/domain/pricing"
	"github.com/Spok95/repair-bot/internal/domain/shops"
	"github.com/Spok95/repair-bot/internal/domain/users"
	"github.com/Spok95/repair-bot/internal/orchestrator"
)

// Turns — ходы разговора с клиентом.
type Turns interface {
	HandleText(ctx context.Context, in orchestrator.Inbound) (orchestrator.Outbound, error)
	HandleAction(ctx context.Context, in orchestrator.Inbound, field dialog.Field, value string) (orchestrator.Outbound, error)
	Restart(ctx context.Context, in orchestrator.Inbound) (orchestrator.Outbound, error)
}

type Staff interface {
	GetByTelegramID(ctx context.Context, shopID uuid.UUID, tgID int64) (*users.User, error)
	UpsertFromTelegram(ctx context.Context, shopID uuid.UUID, tg users.Telegram, role users.Role) (*users.User, error)
	ListNotified(ctx context.Context, shopID uuid.UUID) ([]users.User, error)
}

type Rules interface {
	ListAll(ctx context.Context, tenantID uuid.UUID) ([]pricing.PriceRule, error)
	UpsertRules(ctx context.Context, rules []pricing.PriceRule) error
}

type Leads interface {
	ListByShop(ctx context.Context, shopID uuid.UUID, status leads.Status, limit int) ([]leads.Lead, error)
	SetStatus(ctx context.Context, shopID, id uuid.UUID, status leads.Status, notes string) error
}

// sender — часть BotAPI, через которую уходят сообщения.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Deps struct {
	Turns Turns
	Staff Staff
	Rules Rules
	Leads Leads
	Log   *slog.Logger
}

// Bot — telegram-бот одного магазина.
type Bot struct {
	api     *tgbotapi.BotAPI
	out     sender
	shop    shops.Shop
	log     *slog.Logger
	turns   Turns
	staff   Staff
	rules   Rules
	leads   Leads
	limiter *rate.Limiter
	fetch   func(fileID string) ([]byte, error)
}

func New(api *tgbotapi.BotAPI, shop shops.Shop, sendRPS float64, d Deps) *Bot {
	b := newBot(api, shop, sendRPS, d)
	b.api = api
	b.fetch = b.downloadTelegramFile
	return b
}

func newBot(out sender, shop shops.Shop, sendRPS float64, d Deps) *Bot {
	if sendRPS <= 0 {
		sendRPS = 25
	}
	return &Bot{
		out:     out,
		shop:    shop,
		log:     d.Log.With("shop", shop.Slug),
		turns:   d.Turns,
		staff:   d.Staff,
		rules:   d.Rules,
		leads:   d.Leads,
		limiter: rate.NewLimiter(rate.Limit(sendRPS), 1),
	}
}

func (b *Bot) Shop() shops.Shop { return b.shop }

func (b *Bot) Run(ctx context.Context, timeoutSec int) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSec
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.log.Info("telegram bot started", "username", b.api.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd := <-updates:
			b.handleUpdate(ctx, upd)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.Message != nil:
		b.onMessage(ctx, upd.Message)
	case upd.CallbackQuery != nil:
		b.onCallback(ctx, upd.CallbackQuery)
	}
}

func (b *Bot) inbound(from *tgbotapi.User, chatID int64, text string) orchestrator.Inbound {
	return orchestrator.Inbound{
		ShopID:         b.shop.ID,
		Channel:        conversations.ChannelTelegram,
		ExternalUserID: strconv.FormatInt(from.ID, 10),
		ExternalChatID: strconv.FormatInt(chatID, 10),
		Text:           text,
	}
}

// reply отправляет ответ хода. Пустой ответ не отправляется.
func (b *Bot) reply(ctx context.Context, chatID int64, out orchestrator.Outbound) {
	if out.Empty() {
		return
	}
	m := tgbotapi.NewMessage(chatID, out.Text)
	if len(out.Actions) > 0 {
		m.ReplyMarkup = actionsKeyboard(out.Actions)
	}
	b.send(ctx, m)
}
