package bot

import (
	"context"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/repair-bot/internal/domain/users"
)

// addStaff — владелец добавляет менеджера по Telegram ID; профиль подтянется при /start.
func (b *Bot) addStaff(ctx context.Context, chatID int64, arg string) {
	tgID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || tgID <= 0 {
		b.sendText(ctx, chatID, "Укажите Telegram ID сотрудника: /addstaff 123456789")
		return
	}
	if _, err := b.staff.UpsertFromTelegram(ctx, b.shop.ID, users.Telegram{ID: tgID}, users.RoleManager); err != nil {
		b.log.Error("add staff", "tg_id", tgID, "err", err)
		b.sendText(ctx, chatID, "Не удалось добавить сотрудника.")
		return
	}
	b.sendText(ctx, chatID, "Сотрудник добавлен. Пусть напишет боту /start.")
}

// refreshStaff обновляет имя и username сотрудника, роль не меняется.
func (b *Bot) refreshStaff(ctx context.Context, from *tgbotapi.User, u *users.User) *users.User {
	fresh, err := b.staff.UpsertFromTelegram(ctx, b.shop.ID, users.Telegram{
		ID:        from.ID,
		Username:  from.UserName,
		FirstName: from.FirstName,
		LastName:  from.LastName,
	}, u.Role)
	if err != nil {
		b.log.Warn("refresh staff profile", "tg_id", from.ID, "err", err)
		return u
	}
	return fresh
}
