package extract

import (
	"fmt"
	"strings"

	"github.com/Spok95/repair-bot/internal/dialog"
)

const systemPrompt = `Ты разбираешь сообщения клиентов сервиса по ремонту техники.
Верни только JSON без пояснений:
{"fields": {...}, "confidence": 0..1, "correction": true|false}

Допустимые поля (указывай только те, что есть в сообщении):
- device_category: smartphone | tablet | laptop | smartwatch | console
- device_brand, device_model: как назвал клиент; "skip", если клиент не знает
- repair_type: slug вида ремонта, если понятен (screen_replacement, battery_replacement, charging_port, water_damage, diagnostics)
- problem_description: описание проблемы своими словами клиента
- customer_name, customer_phone, preferred_time
- urgency: normal | urgent
- has_previous_repair: да | нет
- decision: accept | reject | reject_price | negotiate (только в ответ на названную цену)
- intent: human, если клиент просит живого человека

correction=true, если клиент исправляет то, что говорил раньше.`

func userPrompt(text string, st dialog.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Шаг диалога: %s\n", st.Step)
	if known := knownFacts(st); known != "" {
		fmt.Fprintf(&b, "Уже известно: %s\n", known)
	}
	if st.LastPrompt.Text != "" {
		fmt.Fprintf(&b, "Последний вопрос бота: %s\n", st.LastPrompt.Text)
	}
	fmt.Fprintf(&b, "Сообщение клиента: %s", text)
	return b.String()
}

func knownFacts(st dialog.State) string {
	var parts []string
	for _, f := range []dialog.Field{
		dialog.FieldCategory, dialog.FieldBrand, dialog.FieldModel, dialog.FieldRepairType,
		dialog.FieldProblem, dialog.FieldName, dialog.FieldPhone,
	} {
		if v := st.Value(f); v != "" {
			parts = append(parts, string(f)+"="+v)
		}
	}
	return strings.Join(parts, ", ")
}
