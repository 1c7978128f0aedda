package dialog

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	textGreeting         = "Здравствуйте! Я помогу рассчитать стоимость ремонта."
	textGreetingFriendly = "Привет! Помогу быстро прикинуть стоимость ремонта."

	textAskCategory     = "Какое устройство нужно отремонтировать?"
	textAskBrand        = "Какой производитель устройства? Например, Apple, Samsung или Xiaomi."
	textAskModel        = "Уточните модель, например «iPhone 13». Если не знаете, нажмите «Не знаю»."
	textAskProblem      = "Что случилось с устройством? Опишите проблему своими словами или выберите из списка."
	textAskProblemAgain = "Не удалось точно определить вид ремонта. Выберите вариант из списка или опишите проблему подробнее."
	textAskName         = "Как к вам обращаться?"
	textAskPhone        = "Оставьте, пожалуйста, номер телефона для связи."

	textAfterDiagnostics = "Точную стоимость назовём после диагностики."
	textNoPrice          = "Стоимость назовём после диагностики: мастер осмотрит устройство и сообщит точную цену."
	textAskDecision      = "Вас устраивает такой вариант?"
	textAskAppointment   = "Записать вас на диагностику?"
	textDecisionUnclear  = "Не совсем понял ответ."

	textFarewell = "Хорошо! Если передумаете, просто напишите нам."

	textEscalateLow     = "Чтобы не ошибиться с ценой, передаю заявку мастеру. Он свяжется с вами и назовёт стоимость."
	textEscalateHuman   = "Передаю диалог мастеру, он скоро ответит."
	textEscalatePrice   = "Понимаю. Передам мастеру, он свяжется с вами и обсудит стоимость."
	textEscalateTimeout = "Не получилось разобрать ответ. Передаю заявку мастеру, он свяжется с вами."
	textEscalateError   = "Извините, сейчас не получается рассчитать стоимость. Мастер свяжется с вами."

	maxActions = 8
)

func EscalationText(reason string) string {
	switch reason {
	case ReasonLowConfidence:
		return textEscalateLow
	case ReasonHumanRequest:
		return textEscalateHuman
	case ReasonPriceRejected, ReasonNegotiate:
		return textEscalatePrice
	case ReasonTimeout:
		return textEscalateTimeout
	}
	return textEscalateError
}

func (m *Machine) greeting() string {
	if m.cfg.Greeting != "" {
		return m.cfg.Greeting
	}
	if m.cfg.Personality == "friendly" {
		return textGreetingFriendly
	}
	return textGreeting
}

// ask формирует вопрос по первому незаполненному полю.
func (m *Machine) ask(ctx context.Context, st State, f Field) (Prompt, error) {
	switch f {
	case FieldCategory:
		p := Prompt{Text: textAskCategory}
		if m.cat == nil {
			return p, nil
		}
		cats, err := m.cat.ListCategories(ctx)
		if err != nil {
			return Prompt{}, fmt.Errorf("list categories: %w", err)
		}
		for _, c := range cats {
			p.Actions = append(p.Actions, Action{Label: c.Name, Field: FieldCategory, Value: c.Slug})
		}
		return p, nil

	case FieldBrand:
		return Prompt{Text: textAskBrand, Actions: []Action{skipAction(FieldBrand)}}, nil

	case FieldModel:
		return Prompt{Text: textAskModel, Actions: []Action{skipAction(FieldModel)}}, nil

	case FieldRepairType:
		p := Prompt{Text: textAskProblem}
		if st.Facts.ProblemDescription != "" {
			p.Text = textAskProblemAgain
		}
		if m.cat == nil {
			return p, nil
		}
		types, err := m.cat.RepairTypes(ctx, st.Facts.Request.DeviceCategory)
		if err != nil {
			return Prompt{}, fmt.Errorf("repair types: %w", err)
		}
		for _, rt := range types {
			if len(p.Actions) == maxActions {
				break
			}
			p.Actions = append(p.Actions, Action{Label: rt.Name, Field: FieldRepairType, Value: rt.Slug})
		}
		return p, nil

	case FieldName:
		return Prompt{Text: textAskName}, nil

	case FieldPhone:
		return Prompt{Text: textAskPhone}, nil
	}
	return Prompt{}, fmt.Errorf("no question for field %q", f)
}

func skipAction(f Field) Action {
	return Action{Label: "Не знаю", Field: f, Value: SkipValue}
}

func (m *Machine) decisionActions() []Action {
	accept := "Подходит"
	if m.cfg.OfferAppointment {
		accept = "Записаться"
	}
	return []Action{
		{Label: accept, Field: FieldDecision, Value: DecisionAccept},
		{Label: "Дорого", Field: FieldDecision, Value: DecisionRejectPrice},
		{Label: "Обсудить с мастером", Field: FieldDecision, Value: DecisionNegotiate},
		{Label: "Не актуально", Field: FieldDecision, Value: DecisionReject},
	}
}

// quote — предложение цены. Без цены (оценка none при выключенной эскалации) — «после диагностики».
func (m *Machine) quote(st State) Prompt {
	var b strings.Builder
	est := st.Estimate
	if est != nil && est.HasPrice() {
		b.WriteString("Ориентировочная стоимость ремонта")
		if name := st.Facts.Request.DeviceFullName(); name != "" {
			fmt.Fprintf(&b, " для %s", name)
		}
		fmt.Fprintf(&b, ": %s.", FormatRange(est.PriceMin.Decimal, est.PriceMax.Decimal, m.cfg.Currency))
		if est.Tier != "" {
			fmt.Fprintf(&b, "\nВариант: %s.", est.Tier)
		}
		if est.WarrantyMonths > 0 {
			fmt.Fprintf(&b, "\nГарантия: %d мес.", est.WarrantyMonths)
		}
		b.WriteString("\n" + textAfterDiagnostics)
	} else {
		b.WriteString(textNoPrice)
	}

	if m.cfg.OfferAppointment {
		b.WriteString("\n\n" + textAskAppointment)
	} else {
		b.WriteString("\n\n" + textAskDecision)
	}
	return Prompt{Text: b.String(), Actions: m.decisionActions()}
}

func (m *Machine) completed(st State) Prompt {
	var b strings.Builder
	b.WriteString("Отлично, заявка принята! Мастер свяжется с вами")
	if st.Facts.CustomerPhone != "" {
		fmt.Fprintf(&b, " по номеру %s", st.Facts.CustomerPhone)
	}
	b.WriteString(".")
	if st.Facts.PreferredTime != "" {
		fmt.Fprintf(&b, "\nУдобное время: %s.", st.Facts.PreferredTime)
	}
	return Prompt{Text: b.String()}
}

// FormatRange: «от 3 000 до 5 000 ₽», при равных границах — одно число.
func FormatRange(lo, hi decimal.Decimal, currency string) string {
	sym := currencySymbol(currency)
	if lo.Equal(hi) {
		return FormatMoney(lo) + " " + sym
	}
	return "от " + FormatMoney(lo) + " до " + FormatMoney(hi) + " " + sym
}

// FormatMoney группирует разряды неразрывным пробелом; копейки только если есть.
func FormatMoney(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if d.Equal(d.Truncate(0)) {
		s = d.StringFixed(0)
	}

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteRune('\u00a0')
		}
		b.WriteRune(r)
	}
	out := sign + b.String()
	if hasFrac {
		out += "," + frac
	}
	return out
}

func currencySymbol(code string) string {
	switch strings.ToUpper(code) {
	case "", "RUB":
		return "₽"
	case "USD":
		return "$"
	case "EUR":
		return "€"
	case "KZT":
		return "₸"
	}
	return code
}
