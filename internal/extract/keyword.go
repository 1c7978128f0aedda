package extract

import (
	"context"
	"strings"
	"unicode"

	"github.com/Spok95/repair-bot/internal/dialog"
)

const keywordConfidence = 0.6

// Keyword — экстрактор без LLM: текст кладётся в поле, о котором бот
// спрашивает на текущем шаге. Используется, когда ключ API не задан.
type Keyword struct{}

type categoryWord struct {
	word string
	slug string
}

var (
	categoryWords = []categoryWord{
		{"телефон", "smartphone"},
		{"смартфон", "smartphone"},
		{"айфон", "smartphone"},
		{"iphone", "smartphone"},
		{"планшет", "tablet"},
		{"ipad", "tablet"},
		{"айпад", "tablet"},
		{"ноутбук", "laptop"},
		{"ноут", "laptop"},
		{"макбук", "laptop"},
		{"macbook", "laptop"},
		{"часы", "smartwatch"},
		{"приставк", "console"},
		{"консол", "console"},
		{"playstation", "console"},
		{"xbox", "console"},
	}
	humanWords = []string{"оператор", "живой человек", "позовите мастера", "соедините"}
)

func (Keyword) Extract(_ context.Context, text string, st dialog.State) (dialog.Extraction, error) {
	ext := dialog.Extraction{Fields: map[dialog.Field]string{}, Confidence: keywordConfidence}
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)
	if text == "" {
		return ext, nil
	}
	for _, w := range humanWords {
		if strings.Contains(lower, w) {
			ext.Fields[dialog.FieldIntent] = dialog.IntentHuman
			return ext, nil
		}
	}

	switch st.Step {
	case dialog.StepGreeting, dialog.StepCollectingDevice:
		r := st.Facts.Request
		switch {
		case r.DeviceCategory == "":
			// без совпадения поле не заполняем: бот спросит категорию с кнопками
			if c, ok := category(lower); ok {
				ext.Fields[dialog.FieldCategory] = c
			}
		case r.DeviceBrand == "" && !st.IsSkipped(dialog.FieldBrand):
			ext.Fields[dialog.FieldBrand] = text
		default:
			ext.Fields[dialog.FieldModel] = text
		}
	case dialog.StepCollectingProblem:
		ext.Fields[dialog.FieldProblem] = text
	case dialog.StepCollectingContact:
		if digits(text) >= 10 {
			ext.Fields[dialog.FieldPhone] = text
		} else if st.Facts.CustomerName == "" {
			ext.Fields[dialog.FieldName] = text
		}
	case dialog.StepAwaitingDecision:
		if d, ok := decision(lower); ok {
			ext.Fields[dialog.FieldDecision] = d
		}
	}
	return ext, nil
}

// category — устройство, названное в тексте первым.
func category(lower string) (string, bool) {
	slug, at := "", -1
	for _, cw := range categoryWords {
		i := strings.Index(lower, cw.word)
		if i >= 0 && (at < 0 || i < at) {
			slug, at = cw.slug, i
		}
	}
	return slug, at >= 0
}

func decision(lower string) (string, bool) {
	switch {
	case strings.Contains(lower, "дорого"):
		return dialog.DecisionRejectPrice, true
	case strings.Contains(lower, "обсуд"), strings.Contains(lower, "мастер"):
		return dialog.DecisionNegotiate, true
	case strings.Contains(lower, "не актуальн"), strings.HasPrefix(lower, "нет"):
		return dialog.DecisionReject, true
	case strings.HasPrefix(lower, "да"), strings.Contains(lower, "подходит"), strings.Contains(lower, "запиш"):
		return dialog.DecisionAccept, true
	}
	return "", false
}

func digits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
