package bot

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/repair-bot/internal/domain/pricing"
)

const maxRowErrors = 10

// exportRules выгружает все правила магазина в Excel.
func (b *Bot) exportRules(ctx context.Context, chatID int64) {
	rules, err := b.rules.ListAll(ctx, b.shop.ID)
	if err != nil {
		b.log.Error("list rules", "err", err)
		b.sendText(ctx, chatID, "Ошибка загрузки прайса")
		return
	}

	var buf bytes.Buffer
	if err := pricing.ExportXLSX(&buf, rules); err != nil {
		b.log.Error("export rules", "err", err)
		b.sendText(ctx, chatID, "Ошибка формирования файла")
		return
	}

	fileName := fmt.Sprintf("price_rules_%s_%s.xlsx", b.shop.Slug, time.Now().Format("20060102_150405"))
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  fileName,
		Bytes: buf.Bytes(),
	})
	doc.Caption = fmt.Sprintf(
		"Прайс «%s»: %d правил.\nИзмените цены или добавьте строки с пустым id и отправьте файл обратно в этот чат.",
		b.shop.Name, len(rules),
	)
	b.send(ctx, doc)
}

// importRules загружает правила из Excel. Строки с ошибками пропускаются,
// остальные сохраняются.
func (b *Bot) importRules(ctx context.Context, chatID int64, data []byte) {
	rules, rowErrs, err := pricing.ImportXLSX(bytes.NewReader(data), b.shop.ID)
	if err != nil {
		b.sendText(ctx, chatID, "Не удалось прочитать файл: "+err.Error())
		return
	}

	if len(rules) > 0 {
		if err := b.rules.UpsertRules(ctx, rules); err != nil {
			b.log.Error("upsert rules", "count", len(rules), "err", err)
			b.sendText(ctx, chatID, "Ошибка сохранения прайса: "+err.Error())
			return
		}
	}
	b.log.Info("rules imported", "loaded", len(rules), "rejected", len(rowErrs))
	b.sendText(ctx, chatID, importReport(len(rules), rowErrs))
}

func importReport(loaded int, rowErrs []pricing.RowError) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Загружено правил: %d.", loaded)
	if len(rowErrs) == 0 {
		return sb.String()
	}

	fmt.Fprintf(&sb, "\nПропущено строк с ошибками: %d.", len(rowErrs))
	for i, e := range rowErrs {
		if i == maxRowErrors {
			fmt.Fprintf(&sb, "\n… и ещё %d", len(rowErrs)-maxRowErrors)
			break
		}
		fmt.Fprintf(&sb, "\n• строка %d: %v", e.Row, e.Err)
	}
	return sb.String()
}
