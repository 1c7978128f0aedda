package dialog

import (
	"strings"
)

// порядок применения полей фиксирован, чтобы результат не зависел от обхода map
var factFields = []Field{
	FieldCategory, FieldBrand, FieldModel, FieldRepairType, FieldProblem,
	FieldName, FieldPhone, FieldUrgency, FieldPreviousRepair, FieldPreferredTime,
}

func factPtr(f *Facts, field Field) *string {
	switch field {
	case FieldCategory:
		return &f.Request.DeviceCategory
	case FieldBrand:
		return &f.Request.DeviceBrand
	case FieldModel:
		return &f.Request.DeviceModel
	case FieldRepairType:
		return &f.Request.RepairType
	case FieldUrgency:
		return &f.Request.Urgency
	case FieldProblem:
		return &f.ProblemDescription
	case FieldName:
		return &f.CustomerName
	case FieldPhone:
		return &f.CustomerPhone
	case FieldPreferredTime:
		return &f.PreferredTime
	}
	return nil
}

// pricingField — поля, от которых зависит оценка.
func pricingField(f Field) bool {
	return f == FieldCategory || f == FieldBrand || f == FieldModel || f == FieldRepairType
}

func skippable(f Field) bool { return f == FieldBrand || f == FieldModel }

func isSkip(v string) bool {
	switch strings.ToLower(v) {
	case SkipValue, "не знаю", "пропустить", "-":
		return true
	}
	return false
}

// Value — текущее значение факта (пусто, если неизвестен).
func (s State) Value(f Field) string {
	if f == FieldPreviousRepair {
		if p := s.Facts.Request.HasPreviousRepair; p != nil {
			if *p {
				return "true"
			}
			return "false"
		}
		return ""
	}
	if p := factPtr(&s.Facts, f); p != nil {
		return *p
	}
	return ""
}

// merge неразрушающе вливает извлечённые поля в состояние.
// Заполненное поле перезаписывается, только если новая уверенность не ниже сохранённой
// или это явное исправление. Возвращает true, если изменилось поле, влияющее на цену.
func merge(st *State, ev Extraction) bool {
	if st.Confidence == nil {
		st.Confidence = map[Field]float64{}
	}
	conf := min(max(ev.Confidence, 0), 1)

	changed := false
	for _, field := range factFields {
		v := strings.TrimSpace(ev.Fields[field])
		if v == "" {
			continue
		}
		current := st.Value(field)

		if skippable(field) && isSkip(v) {
			if current == "" {
				st.skip(field)
			}
			continue
		}
		if current != "" && !ev.Correction && conf < st.Confidence[field] {
			continue
		}

		switch field {
		case FieldPreviousRepair:
			b, ok := parseYesNo(v)
			if !ok {
				continue
			}
			st.Facts.Request.HasPreviousRepair = &b
		case FieldPhone:
			phone, ok := normalizePhone(v)
			if !ok {
				continue
			}
			st.Facts.CustomerPhone = phone
		default:
			*factPtr(&st.Facts, field) = v
		}

		st.Confidence[field] = conf
		st.unskip(field)
		if pricingField(field) && !strings.EqualFold(current, v) {
			changed = true
		}
	}
	return changed
}

func parseYesNo(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "yes", "да", "1":
		return true, true
	case "false", "no", "нет", "0":
		return false, true
	}
	return false, false
}

// normalizePhone оставляет цифры; российский 8XXXXXXXXXX приводится к +7.
func normalizePhone(v string) (string, bool) {
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 10 || len(digits) > 15 {
		return "", false
	}
	if len(digits) == 11 && digits[0] == '8' {
		digits = "7" + digits[1:]
	}
	if len(digits) == 10 {
		digits = "7" + digits
	}
	return "+" + digits, true
}
