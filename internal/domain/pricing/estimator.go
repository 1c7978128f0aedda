package pricing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Spok95/repair-bot/internal/infra/metrics"
)

// Estimator — чистая функция от запроса и текущего набора правил, без кэша между вызовами.
type Estimator struct {
	store RuleStore
	log   *slog.Logger
}

func NewEstimator(store RuleStore, log *slog.Logger) *Estimator {
	return &Estimator{store: store, log: log}
}

func (e *Estimator) Estimate(ctx context.Context, tenantID uuid.UUID, req RepairRequest) (EstimationResult, error) {
	if req.RepairType == "" || req.DeviceCategory == "" {
		return NoEstimate(), nil
	}

	rules, err := e.store.RulesFor(ctx, tenantID, req.DeviceCategory)
	if err != nil {
		return EstimationResult{}, fmt.Errorf("rules for tenant %s: %w", tenantID, err)
	}

	compiled := make([]CompiledRule, 0, len(rules))
	for _, r := range rules {
		cr, err := CompileRule(r)
		if err != nil {
			e.log.Warn("skip invalid price rule", "tenant_id", tenantID, "rule_id", r.ID, "err", err)
			metrics.RulesSkippedTotal.Inc()
			continue
		}
		compiled = append(compiled, cr)
	}

	res := fromMatches(MatchRules(req, compiled))
	metrics.EstimatesTotal.WithLabelValues(string(res.Confidence)).Inc()
	return res, nil
}

func fromMatches(matches []Match) EstimationResult {
	if len(matches) == 0 {
		return NoEstimate()
	}
	w := matches[0].Rule
	id := w.ID
	return EstimationResult{
		PriceMin:       decimal.NewNullDecimal(w.PriceMin),
		PriceMax:       decimal.NewNullDecimal(w.PriceMax),
		Confidence:     confidenceFor(w),
		MatchedRuleID:  &id,
		Tier:           w.Tier,
		WarrantyMonths: w.WarrantyMonths,
	}
}

func confidenceFor(r PriceRule) Confidence {
	switch {
	case r.HasBrand() && r.HasModel():
		return ConfidenceHigh
	case r.HasBrand() || r.HasModel():
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
