package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/repair-bot/internal/domain/leads"
	"github.com/Spok95/repair-bot/internal/domain/users"
)

const (
	btnNewLeads    = "Новые заявки"
	btnAllLeads    = "Все заявки"
	btnExportRules = "Выгрузить прайс"

	textServiceError = "Извините, что-то пошло не так. Напишите, пожалуйста, ещё раз чуть позже."
	textHelp         = "Опишите, что случилось с устройством, — подскажу ориентировочную стоимость ремонта.\n/new — начать заново"
	textForbidden    = "Доступ запрещён."
	textStaffHelp    = "Команды сотрудника:\n/leads — новые заявки\n/new — проверить диалог как клиент\n" +
		"/rules — выгрузить прайс (владелец)\n/addstaff <telegram id> — добавить менеджера (владелец)\n" +
		"Чтобы обновить прайс, владелец отправляет заполненный .xlsx файлом."
)

func (b *Bot) onMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	u, err := b.staff.GetByTelegramID(ctx, b.shop.ID, msg.From.ID)
	if err != nil {
		b.log.Error("staff lookup", "tg_id", msg.From.ID, "err", err)
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg, u)
		return
	}
	if u != nil && b.handleStaffMessage(ctx, msg, u) {
		return
	}
	if msg.Text == "" {
		b.sendText(ctx, msg.Chat.ID, textHelp)
		return
	}

	out, err := b.turns.HandleText(ctx, b.inbound(msg.From, msg.Chat.ID, msg.Text))
	if err != nil {
		b.log.Error("handle text", "tg_id", msg.From.ID, "err", err)
		b.sendText(ctx, msg.Chat.ID, textServiceError)
		return
	}
	b.reply(ctx, msg.Chat.ID, out)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, u *users.User) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start":
		if u != nil {
			u = b.refreshStaff(ctx, msg.From, u)
			m := tgbotapi.NewMessage(chatID, "Здравствуйте! Заявки клиентов будут приходить сюда.\n\n"+textStaffHelp)
			m.ReplyMarkup = staffReplyKeyboard(u.CanManagePrices())
			b.send(ctx, m)
			return
		}
		b.restart(ctx, msg)

	case "new":
		b.restart(ctx, msg)

	case "help":
		if u != nil {
			b.sendText(ctx, chatID, textStaffHelp)
			return
		}
		b.sendText(ctx, chatID, textHelp)

	case "leads":
		if u == nil {
			b.sendText(ctx, chatID, textForbidden)
			return
		}
		b.showLeads(ctx, chatID, leads.StatusNew)

	case "rules":
		if !u.CanManagePrices() {
			b.sendText(ctx, chatID, textForbidden)
			return
		}
		b.exportRules(ctx, chatID)

	case "addstaff":
		if !u.CanManagePrices() {
			b.sendText(ctx, chatID, textForbidden)
			return
		}
		b.addStaff(ctx, chatID, strings.TrimSpace(msg.CommandArguments()))

	default:
		b.sendText(ctx, chatID, "Не знаю такую команду. Наберите /help")
	}
}

func (b *Bot) restart(ctx context.Context, msg *tgbotapi.Message) {
	out, err := b.turns.Restart(ctx, b.inbound(msg.From, msg.Chat.ID, msg.Text))
	if err != nil {
		b.log.Error("restart", "tg_id", msg.From.ID, "err", err)
		b.sendText(ctx, msg.Chat.ID, textServiceError)
		return
	}
	b.reply(ctx, msg.Chat.ID, out)
}

// handleStaffMessage — кнопки панели и загрузка прайса. false — сообщение для диалога.
func (b *Bot) handleStaffMessage(ctx context.Context, msg *tgbotapi.Message, u *users.User) bool {
	chatID := msg.Chat.ID
	switch {
	case msg.Text == btnNewLeads:
		b.showLeads(ctx, chatID, leads.StatusNew)
	case msg.Text == btnAllLeads:
		b.showLeads(ctx, chatID, "")
	case msg.Text == btnExportRules && u.CanManagePrices():
		b.exportRules(ctx, chatID)
	case msg.Document != nil:
		if !u.CanManagePrices() {
			b.sendText(ctx, chatID, textForbidden)
			return true
		}
		if !strings.HasSuffix(strings.ToLower(msg.Document.FileName), ".xlsx") {
			b.sendText(ctx, chatID, "Пожалуйста, отправьте прайс в формате .xlsx (его можно выгрузить командой /rules).")
			return true
		}
		data, err := b.fetch(msg.Document.FileID)
		if err != nil {
			b.sendText(ctx, chatID, "Не удалось скачать файл из Telegram: "+err.Error())
			return true
		}
		b.importRules(ctx, chatID, data)
	default:
		return false
	}
	return true
}

func (b *Bot) onCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.From == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	if id, status, ok := parseLeadAction(cb.Data); ok {
		b.onLeadAction(ctx, cb, id, status)
		return
	}

	field, value, ok := parseAction(cb.Data)
	if !ok {
		_ = b.answerCallback(cb, "Кнопка устарела", false)
		return
	}
	_ = b.answerCallback(cb, "", false)
	b.clearMarkup(ctx, chatID, cb.Message.MessageID)

	out, err := b.turns.HandleAction(ctx, b.inbound(cb.From, chatID, buttonLabel(cb)), field, value)
	if err != nil {
		b.log.Error("handle action", "tg_id", cb.From.ID, "data", cb.Data, "err", err)
		b.sendText(ctx, chatID, textServiceError)
		return
	}
	b.reply(ctx, chatID, out)
}

// buttonLabel — подпись нажатой кнопки: она пишется в историю как реплика клиента.
func buttonLabel(cb *tgbotapi.CallbackQuery) string {
	if kb := cb.Message.ReplyMarkup; kb != nil {
		for _, row := range kb.InlineKeyboard {
			for _, btn := range row {
				if btn.CallbackData != nil && *btn.CallbackData == cb.Data {
					return btn.Text
				}
			}
		}
	}
	return cb.Data
}
