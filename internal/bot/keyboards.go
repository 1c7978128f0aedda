package bot

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/Spok95/repair-bot/internal/dialog"
	"github.com/Spok95/repair-bot/internal/domain/leads"
)

const (
	actionPrefix = "a:"
	leadPrefix   = "lead:"
	perRow       = 2
)

// actionsKeyboard — кнопки подсказок диалога, по две в ряд.
// callback_data: a:<field>=<value>, в лимит Telegram в 64 байта укладываются slug'и.
func actionsKeyboard(actions []dialog.Action) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, a := range actions {
		data := actionPrefix + string(a.Field) + "=" + a.Value
		if len(data) > 64 {
			continue
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(a.Label, data))
		if len(row) == perRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func parseAction(data string) (dialog.Field, string, bool) {
	rest, ok := strings.CutPrefix(data, actionPrefix)
	if !ok {
		return "", "", false
	}
	field, value, ok := strings.Cut(rest, "=")
	if !ok || field == "" {
		return "", "", false
	}
	return dialog.Field(field), value, true
}

// leadKeyboard — кнопки оператора под уведомлением о заявке.
func leadKeyboard(id uuid.UUID) tgbotapi.InlineKeyboardMarkup {
	btn := func(label string, st leads.Status) tgbotapi.InlineKeyboardButton {
		return tgbotapi.NewInlineKeyboardButtonData(label, leadPrefix+id.String()+":"+string(st))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(btn("📞 Связался", leads.StatusContacted)),
		tgbotapi.NewInlineKeyboardRow(btn("✅ Принят в ремонт", leads.StatusWon), btn("✖️ Отказ", leads.StatusLost)),
	)
}

func parseLeadAction(data string) (uuid.UUID, leads.Status, bool) {
	rest, ok := strings.CutPrefix(data, leadPrefix)
	if !ok {
		return uuid.Nil, "", false
	}
	idStr, st, ok := strings.Cut(rest, ":")
	if !ok {
		return uuid.Nil, "", false
	}
	id, err := uuid.Parse(idStr)
	if err != nil || !leads.Status(st).Valid() {
		return uuid.Nil, "", false
	}
	return id, leads.Status(st), true
}

// staffReplyKeyboard Нижняя панель для сотрудников
func staffReplyKeyboard(owner bool) tgbotapi.ReplyKeyboardMarkup {
	rows := [][]tgbotapi.KeyboardButton{
		{tgbotapi.NewKeyboardButton(btnNewLeads), tgbotapi.NewKeyboardButton(btnAllLeads)},
	}
	if owner {
		rows = append(rows, []tgbotapi.KeyboardButton{tgbotapi.NewKeyboardButton(btnExportRules)})
	}
	return tgbotapi.ReplyKeyboardMarkup{ResizeKeyboard: true, Keyboard: rows}
}
