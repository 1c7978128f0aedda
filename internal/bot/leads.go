package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/Spok95/repair-bot/internal/dialog"
	"github.com/Spok95/repair-bot/internal/domain/leads"
	"github.com/Spok95/repair-bot/internal/infra/events"
)

const leadsPageSize = 20

var statusLabels = map[leads.Status]string{
	leads.StatusNew:       "новая",
	leads.StatusViewed:    "просмотрена",
	leads.StatusContacted: "связались",
	leads.StatusWon:       "принят в ремонт",
	leads.StatusLost:      "отказ",
}

// showLeads — последние заявки магазина. Показанные новые заявки помечаются просмотренными.
func (b *Bot) showLeads(ctx context.Context, chatID int64, status leads.Status) {
	list, err := b.leads.ListByShop(ctx, b.shop.ID, status, leadsPageSize)
	if err != nil {
		b.log.Error("list leads", "status", status, "err", err)
		b.sendText(ctx, chatID, "Ошибка загрузки заявок")
		return
	}
	if len(list) == 0 {
		b.sendText(ctx, chatID, "Заявок нет.")
		return
	}

	for _, l := range list {
		m := tgbotapi.NewMessage(chatID, leadCard(l.Event(), "", b.shop.Settings.Currency))
		if l.Status != leads.StatusWon && l.Status != leads.StatusLost {
			m.ReplyMarkup = leadKeyboard(l.ID)
		}
		b.send(ctx, m)

		if l.Status == leads.StatusNew {
			if err := b.leads.SetStatus(ctx, b.shop.ID, l.ID, leads.StatusViewed, ""); err != nil {
				b.log.Warn("mark lead viewed", "lead_id", l.ID, "err", err)
			}
		}
	}
}

func (b *Bot) onLeadAction(ctx context.Context, cb *tgbotapi.CallbackQuery, id uuid.UUID, status leads.Status) {
	u, err := b.staff.GetByTelegramID(ctx, b.shop.ID, cb.From.ID)
	if err != nil || u == nil {
		_ = b.answerCallback(cb, textForbidden, true)
		return
	}

	err = b.leads.SetStatus(ctx, b.shop.ID, id, status, "")
	switch {
	case errors.Is(err, leads.ErrNotFound):
		_ = b.answerCallback(cb, "Заявка не найдена", true)
		return
	case err != nil:
		b.log.Error("set lead status", "lead_id", id, "status", status, "err", err)
		_ = b.answerCallback(cb, "Ошибка, попробуйте ещё раз", true)
		return
	}

	b.log.Info("lead status changed", "lead_id", id, "status", status, "tg_id", cb.From.ID)
	_ = b.answerCallback(cb, "Статус: "+statusLabels[status], false)
	if status == leads.StatusWon || status == leads.StatusLost {
		b.clearMarkup(ctx, cb.Message.Chat.ID, cb.Message.MessageID)
	}
}

// notifyLead рассылает карточку заявки сотрудникам с включёнными уведомлениями.
func (b *Bot) notifyLead(ctx context.Context, key string, ev leads.Event) error {
	staff, err := b.staff.ListNotified(ctx, b.shop.ID)
	if err != nil {
		return fmt.Errorf("list notified staff: %w", err)
	}
	id, err := uuid.Parse(ev.LeadID)
	if err != nil {
		return fmt.Errorf("lead id: %w", err)
	}

	header := "🆕 Новая заявка"
	if key == leads.EventUpdated {
		header = "✏️ Заявка обновлена"
	}
	text := leadCard(ev, header, b.shop.Settings.Currency)
	for _, u := range staff {
		m := tgbotapi.NewMessage(u.TelegramID, text)
		m.ReplyMarkup = leadKeyboard(id)
		b.send(ctx, m)
	}
	return nil
}

func leadCard(ev leads.Event, header, currency string) string {
	var sb strings.Builder
	if header != "" {
		sb.WriteString(header + "\n")
	}

	device := ev.DeviceFullName
	if device == "" {
		device = ev.DeviceCategory
	}
	if device != "" {
		fmt.Fprintf(&sb, "Устройство: %s\n", device)
	}
	if ev.RepairType != "" {
		fmt.Fprintf(&sb, "Ремонт: %s\n", ev.RepairType)
	}
	if ev.ProblemSummary != "" && ev.ProblemSummary != ev.RepairType {
		fmt.Fprintf(&sb, "Проблема: %s\n", ev.ProblemSummary)
	}
	if ev.PriceMin.Valid && ev.PriceMax.Valid {
		fmt.Fprintf(&sb, "Оценка: %s (%s)\n", dialog.FormatRange(ev.PriceMin.Decimal, ev.PriceMax.Decimal, currency), ev.Confidence)
	} else {
		sb.WriteString("Оценка: после диагностики\n")
	}
	if ev.Urgency != "" && ev.Urgency != "normal" {
		fmt.Fprintf(&sb, "Срочность: %s\n", ev.Urgency)
	}

	var contact []string
	for _, s := range []string{ev.CustomerName, ev.CustomerPhone, ev.CustomerContact} {
		if s != "" {
			contact = append(contact, s)
		}
	}
	fmt.Fprintf(&sb, "Клиент: %s\n", strings.Join(contact, ", "))
	if ev.PreferredTime != "" {
		fmt.Fprintf(&sb, "Удобное время: %s\n", ev.PreferredTime)
	}
	if ev.EscalationReason != "" {
		fmt.Fprintf(&sb, "Передана мастеру: %s\n", ev.EscalationReason)
	}
	fmt.Fprintf(&sb, "Статус: %s", statusLabels[leads.Status(ev.Status)])
	return sb.String()
}

/*** NOTIFIER ***/

// Notifier — получатель событий о лидах: пересылает их сотрудникам в бот
// нужного магазина. Магазины без бота пропускаются.
type Notifier struct {
	mu   sync.RWMutex
	bots map[uuid.UUID]*Bot
}

func NewNotifier() *Notifier {
	return &Notifier{bots: map[uuid.UUID]*Bot{}}
}

func (n *Notifier) Register(b *Bot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bots[b.shop.ID] = b
}

func (n *Notifier) Publish(ctx context.Context, key string, env events.Envelope) error {
	ev, ok := env.Data.(leads.Event)
	if !ok {
		return nil
	}
	shopID, err := uuid.Parse(ev.ShopID)
	if err != nil {
		return fmt.Errorf("shop id %q: %w", ev.ShopID, err)
	}

	n.mu.RLock()
	b := n.bots[shopID]
	n.mu.RUnlock()
	if b == nil {
		return nil
	}
	return b.notifyLead(ctx, key, ev)
}

func (n *Notifier) Close() error { return nil }

