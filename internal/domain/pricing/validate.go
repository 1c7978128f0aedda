package pricing

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func ruleValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateRule проверяет инварианты правила. Ошибка всегда оборачивает ErrInvalidRule.
func ValidateRule(r PriceRule) error {
	if err := ruleValidator().Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if r.PriceMin.IsNegative() {
		return fmt.Errorf("%w: price_min %s is negative", ErrInvalidRule, r.PriceMin)
	}
	if r.PriceMin.GreaterThan(r.PriceMax) {
		return fmt.Errorf("%w: price_min %s > price_max %s", ErrInvalidRule, r.PriceMin, r.PriceMax)
	}
	if _, err := compilePattern(r.ModelPattern); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return nil
}
