package pricing

// CompiledRule — правило, подготовленное к сопоставлению (нормализованные поля, скомпилированный шаблон).
type CompiledRule struct {
	Rule PriceRule

	category   string
	brand      string
	model      *modelPattern
	repairType string
}

// CompileRule проверяет правило и компилирует его. Невалидное — ErrInvalidRule.
func CompileRule(r PriceRule) (CompiledRule, error) {
	if err := ValidateRule(r); err != nil {
		return CompiledRule{}, err
	}
	p, _ := compilePattern(r.ModelPattern) // уже проверен в ValidateRule
	return CompiledRule{
		Rule:       r,
		category:   normalize(r.DeviceCategory),
		brand:      normalize(r.Brand),
		model:      p,
		repairType: normalize(r.RepairType),
	}, nil
}

type Match struct {
	Rule     PriceRule
	Strength int
}

// MatchRules возвращает подходящие под запрос правила в исходном порядке.
func MatchRules(req RepairRequest, rules []CompiledRule) []Match {
	category := normalize(req.DeviceCategory)
	brand := normalize(req.DeviceBrand)
	repairType := normalize(req.RepairType)

	var out []Match
	for _, cr := range rules {
		if cr.category != category || cr.repairType != repairType {
			continue
		}

		strength := 0
		if cr.brand != "" {
			if cr.brand != brand {
				continue
			}
			strength += 2
		}
		if cr.model != nil {
			if !cr.model.match(req.DeviceModel) {
				continue
			}
			strength++
		}
		out = append(out, Match{Rule: cr.Rule, Strength: strength})
	}
	return out
}
