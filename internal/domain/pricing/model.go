package pricing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownTenant = errors.New("unknown tenant")
	ErrInvalidRule   = errors.New("invalid price rule")
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow, ConfidenceNone:
		return true
	}
	return false
}

// PriceRule правило цены магазина. Brand/ModelPattern пустые = «любой».
type PriceRule struct {
	ID              uuid.UUID       `validate:"required"`
	TenantID        uuid.UUID       `validate:"required"`
	DeviceCategory  string          `validate:"required,max=50"`
	Brand           string          `validate:"max=100"`
	ModelPattern    string          `validate:"max=200"`
	RepairType      string          `validate:"required,max=100"`
	PriceMin        decimal.Decimal `validate:"-"`
	PriceMax        decimal.Decimal `validate:"-"`
	Tier            string          `validate:"max=50"`
	TierDescription string
	WarrantyMonths  int `validate:"gte=0,lte=120"`
	Priority        int
	Active          bool
	Notes           string
	CreatedAt       time.Time
}

// Specificity 2×brand + 1×model: brand+model > brand > model > категория целиком.
func (r PriceRule) Specificity() int {
	s := 0
	if r.HasBrand() {
		s += 2
	}
	if r.HasModel() {
		s++
	}
	return s
}

func (r PriceRule) HasBrand() bool { return strings.TrimSpace(r.Brand) != "" }

// HasModel: шаблон из одних % тоже означает «любая модель».
func (r PriceRule) HasModel() bool { return strings.Trim(r.ModelPattern, wildcard+" ") != "" }

func (r PriceRule) IsFallback() bool { return !r.HasBrand() && !r.HasModel() }

// RepairRequest собирается по ходу диалога; пустое поле = ещё неизвестно.
type RepairRequest struct {
	DeviceCategory    string `json:"device_category,omitempty"`
	DeviceBrand       string `json:"device_brand,omitempty"`
	DeviceModel       string `json:"device_model,omitempty"`
	RepairType        string `json:"repair_type,omitempty"`
	Urgency           string `json:"urgency,omitempty"`
	HasPreviousRepair *bool  `json:"has_previous_repair,omitempty"`
}

// DeviceFullName — «Apple iPhone 13»; пусто, если ни бренд, ни модель не известны.
func (r RepairRequest) DeviceFullName() string {
	return strings.TrimSpace(r.DeviceBrand + " " + r.DeviceModel)
}

// EstimationResult. При ConfidenceNone цены и правило отсутствуют.
type EstimationResult struct {
	PriceMin       decimal.NullDecimal `json:"price_min"`
	PriceMax       decimal.NullDecimal `json:"price_max"`
	Confidence     Confidence          `json:"confidence"`
	MatchedRuleID  *uuid.UUID          `json:"matched_rule_id,omitempty"`
	Tier           string              `json:"tier,omitempty"`
	WarrantyMonths int                 `json:"warranty_months,omitempty"`
}

func NoEstimate() EstimationResult {
	return EstimationResult{Confidence: ConfidenceNone}
}

func (e EstimationResult) HasPrice() bool {
	return e.PriceMin.Valid && e.PriceMax.Valid
}

// RuleStore — чтение правил; запись только через админку.
type RuleStore interface {
	RulesFor(ctx context.Context, tenantID uuid.UUID, deviceCategory string) ([]PriceRule, error)
}
