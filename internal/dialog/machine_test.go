package dialog

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/repair-bot/internal/domain/catalog"
	"github.com/Spok95/repair-bot/internal/domain/pricing"
)

var tenant = uuid.MustParse("6f1c2a52-4d0e-4b55-9f3a-0e7f5f6d1a01")

type ruleStore []pricing.PriceRule

func (s ruleStore) RulesFor(_ context.Context, tenantID uuid.UUID, category string) ([]pricing.PriceRule, error) {
	if tenantID != tenant {
		return nil, pricing.ErrUnknownTenant
	}
	var out []pricing.PriceRule
	for _, r := range s {
		if strings.EqualFold(r.DeviceCategory, category) {
			out = append(out, r)
		}
	}
	pricing.SortRules(out)
	return out, nil
}

type countingEstimator struct {
	inner *pricing.Estimator
	calls int
}

func (e *countingEstimator) Estimate(ctx context.Context, tenantID uuid.UUID, req pricing.RepairRequest) (pricing.EstimationResult, error) {
	e.calls++
	return e.inner.Estimate(ctx, tenantID, req)
}

type staticCatalog struct{}

func (staticCatalog) ListCategories(context.Context) ([]catalog.Category, error) {
	return []catalog.Category{{Slug: "smartphone", Name: "Смартфон"}, {Slug: "laptop", Name: "Ноутбук"}}, nil
}

func (staticCatalog) RepairTypes(_ context.Context, category string) ([]catalog.RepairType, error) {
	if category != "smartphone" {
		return nil, nil
	}
	return []catalog.RepairType{
		{Slug: "screen_replacement", DeviceCategory: "smartphone", Name: "Замена экрана", Synonyms: []string{"экран", "дисплей"}},
		{Slug: "battery_replacement", DeviceCategory: "smartphone", Name: "Замена аккумулятора", Synonyms: []string{"батарея", "не держит заряд"}},
	}, nil
}

// правила магазина fixpro-moscow
func fixProRules() ruleStore {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return ruleStore{
		{
			ID: uuid.New(), TenantID: tenant, DeviceCategory: "smartphone", Brand: "Apple", ModelPattern: "iPhone 1%",
			RepairType: "screen_replacement", PriceMin: decimal.NewFromInt(3000), PriceMax: decimal.NewFromInt(5000),
			Priority: 10, Active: true, Tier: "Оригинал", WarrantyMonths: 6, CreatedAt: created,
		},
		{
			ID: uuid.New(), TenantID: tenant, DeviceCategory: "smartphone",
			RepairType: "screen_replacement", PriceMin: decimal.NewFromInt(1500), PriceMax: decimal.NewFromInt(8000),
			Active: true, CreatedAt: created,
		},
	}
}

func newMachine(cfg Config) (*Machine, *countingEstimator) {
	est := &countingEstimator{inner: pricing.NewEstimator(fixProRules(), slog.New(slog.NewTextHandler(io.Discard, nil)))}
	return NewMachine(tenant, cfg, est, staticCatalog{}), est
}

func defaultConfig() Config {
	return Config{EscalationEnabled: true, Currency: "RUB", MaxExtractionRetries: 2}
}

func extract(conf float64, kv ...string) Extraction {
	fields := map[Field]string{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[Field(kv[i])] = kv[i+1]
	}
	return Extraction{Fields: fields, Confidence: conf}
}

func advance(t *testing.T, m *Machine, st State, ev Event) Result {
	t.Helper()
	res, err := m.Advance(context.Background(), st, ev)
	require.NoError(t, err)
	return res
}

func visited(res Result, step Step) bool {
	for _, tr := range res.Transitions {
		if tr.To == step {
			return true
		}
	}
	return false
}

// полный путь до оценки: iPhone 13, замена экрана
func quotedState(t *testing.T, m *Machine) State {
	t.Helper()
	res := advance(t, m, NewState(), extract(0.9,
		"device_category", "smartphone", "device_brand", "Apple", "device_model", "iPhone 13", "repair_type", "screen_replacement"))
	require.Equal(t, StepAwaitingDecision, res.State.Step)
	return res.State
}

func TestAdvance_FourFieldSequence(t *testing.T) {
	t.Parallel()
	m, est := newMachine(defaultConfig())

	res := advance(t, m, NewState(), extract(0.9, "device_category", "smartphone"))
	assert.Equal(t, StepCollectingDevice, res.State.Step)
	assert.Equal(t, []Transition{{From: StepGreeting, To: StepCollectingDevice}}, res.Transitions)
	assert.Contains(t, res.Prompt.Text, textGreeting)
	assert.Contains(t, res.Prompt.Text, textAskBrand)
	assert.NotContains(t, res.State.LastPrompt.Text, textGreeting)

	res = advance(t, m, res.State, extract(0.9, "device_brand", "Apple"))
	assert.Equal(t, StepCollectingDevice, res.State.Step)
	assert.Equal(t, textAskModel, res.Prompt.Text)
	assert.False(t, visited(res, StepReadyToEstimate))

	res = advance(t, m, res.State, extract(0.9, "device_model", "iPhone 13"))
	assert.Equal(t, StepCollectingProblem, res.State.Step)
	assert.Equal(t, textAskProblem, res.Prompt.Text)
	assert.Len(t, res.Prompt.Actions, 2)
	assert.False(t, visited(res, StepReadyToEstimate))
	assert.Zero(t, est.calls)

	res = advance(t, m, res.State, extract(0.9, "repair_type", "screen_replacement"))
	assert.True(t, visited(res, StepReadyToEstimate))
	assert.True(t, visited(res, StepQuoted))
	assert.True(t, res.Estimated)
	assert.Equal(t, 1, est.calls)
	assert.Equal(t, StepAwaitingDecision, res.State.Step)
}

func TestAdvance_QuoteHighConfidence(t *testing.T) {
	t.Parallel()
	m, _ := newMachine(defaultConfig())

	st := quotedState(t, m)
	require.NotNil(t, st.Estimate)
	assert.Equal(t, pricing.ConfidenceHigh, st.Estimate.Confidence)
	assert.Contains(t, st.LastPrompt.Text, "Ориентировочная стоимость ремонта для Apple iPhone 13")
	assert.Contains(t, st.LastPrompt.Text, FormatRange(decimal.NewFromInt(3000), decimal.NewFromInt(5000), "RUB"))
	assert.Contains(t, st.LastPrompt.Text, "Гарантия: 6 мес.")
	assert.Contains(t, st.LastPrompt.Text, textAfterDiagnostics)
	require.Len(t, st.LastPrompt.Actions, 4)
	assert.Equal(t, DecisionAccept, st.LastPrompt.Actions[0].Value)
}

func TestAdvance_Accept(t *testing.T) {
	t.Parallel()
	m, _ := newMachine(defaultConfig())
	st := quotedState(t, m)

	res := advance(t, m, st, extract(1, "decision", "accept"))
	assert.Equal(t, StepCompleted, res.State.Step)
	assert.NotEmpty(t, res.Prompt.Text)

	// из финального шага ничего не отправляется
	again := advance(t, m, res.State, extract(1, "device_model", "iPhone 15"))
	assert.True(t, again.Prompt.Empty())
	assert.Empty(t, again.Transitions)
	assert.Equal(t, res.State, again.State)
}

func TestAdvance_DecisionRouting(t *testing.T) {
	t.Parallel()

	cases := []struct {
		decision string
		want     Step
		reason   string
	}{
		{DecisionRejectPrice, StepEscalated, ReasonPriceRejected},
		{DecisionNegotiate, StepEscalated, ReasonNegotiate},
		{DecisionReject, StepAbandoned, ""},
		{"maybe", StepAwaitingDecision, ""},
	}
	for _, tc := range cases {
		t.Run(tc.decision, func(t *testing.T) {
			m, _ := newMachine(defaultConfig())
			st := quotedState(t, m)

			res := advance(t, m, st, extract(1, "decision", tc.decision))
			assert.Equal(t, tc.want, res.State.Step)
			assert.Equal(t, tc.reason, res.State.EscalationReason)
			assert.False(t, visited(res, StepGreeting))
			assert.NotEmpty(t, res.Prompt.Text)
		})
	}
}

func TestAdvance_UnclearDecisionReasks(t *testing.T) {
	t.Parallel()
	m, est := newMachine(defaultConfig())
	st := quotedState(t, m)

	res := advance(t, m, st, extract(0.4))
	assert.Equal(t, StepAwaitingDecision, res.State.Step)
	assert.True(t, strings.HasPrefix(res.Prompt.Text, textDecisionUnclear))
	assert.Len(t, res.Prompt.Actions, 4)
	assert.Equal(t, 1, est.calls)
}

func TestAdvance_LowConfidenceEscalates(t *testing.T) {
	t.Parallel()
	m, _ := newMachine(defaultConfig())

	res := advance(t, m, NewState(), extract(0.9,
		"device_category", "smartphone", "device_brand", "Samsung", "device_model", "S21", "repair_type", "screen_replacement"))
	assert.Equal(t, StepEscalated, res.State.Step)
	assert.Equal(t, ReasonLowConfidence, res.State.EscalationReason)
	assert.Equal(t, pricing.ConfidenceLow, res.State.Estimate.Confidence)
	assert.True(t, visited(res, StepQuoted))
	assert.Contains(t, res.Prompt.Text, textEscalateLow)
}

func TestAdvance_LowConfidenceQuotedWhenEscalationDisabled(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	cfg.EscalationEnabled = false
	m, _ := newMachine(cfg)

	res := advance(t, m, NewState(), extract(0.9,
		"device_category", "smartphone", "device_brand", "Samsung", "device_model", "S21", "repair_type", "screen_replacement"))
	assert.Equal(t, StepAwaitingDecision, res.State.Step)
	assert.Contains(t, res.Prompt.Text, FormatRange(decimal.NewFromInt(1500), decimal.NewFromInt(8000), "RUB"))

	res = advance(t, m, NewState(), extract(0.9,
		"device_category", "smartphone", "device_brand", "Samsung", "device_model", "S21", "repair_type", "battery_replacement"))
	assert.Equal(t, StepAwaitingDecision, res.State.Step)
	assert.Equal(t, pricing.ConfidenceNone, res.State.Estimate.Confidence)
	assert.Contains(t, res.Prompt.Text, textNoPrice)
}

func TestAdvance_NonDestructiveMerge(t *testing.T) {
	t.Parallel()
	m, _ := newMachine(defaultConfig())

	res := advance(t, m, NewState(), extract(0.9, "device_category", "smartphone", "device_brand", "Apple"))
	require.Equal(t, "Apple", res.State.Facts.Request.DeviceBrand)

	res = advance(t, m, res.State, extract(0.5, "device_brand", "Samsung"))
	assert.Equal(t, "Apple", res.State.Facts.Request.DeviceBrand)

	corr := extract(0.3, "device_brand", "Samsung")
	corr.Correction = true
	res = advance(t, m, res.State, corr)
	assert.Equal(t, "Samsung", res.State.Facts.Request.DeviceBrand)
	assert.InDelta(t, 0.3, res.State.Confidence[FieldBrand], 1e-9)

	res = advance(t, m, res.State, extract(0.3, "device_brand", "Xiaomi"))
	assert.Equal(t, "Xiaomi", res.State.Facts.Request.DeviceBrand)
}

func TestAdvance_EditAfterQuoteReestimates(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	cfg.EscalationEnabled = false
	m, est := newMachine(cfg)
	st := quotedState(t, m)
	require.Equal(t, 1, est.calls)

	corr := extract(0.9, "device_model", "iPhone 8")
	corr.Correction = true
	res := advance(t, m, st, corr)

	assert.Equal(t, 2, est.calls)
	assert.True(t, res.Estimated)
	assert.Equal(t, []Transition{
		{From: StepAwaitingDecision, To: StepReadyToEstimate},
		{From: StepReadyToEstimate, To: StepQuoted},
		{From: StepQuoted, To: StepAwaitingDecision},
	}, res.Transitions)
	assert.Equal(t, pricing.ConfidenceLow, res.State.Estimate.Confidence)

	// то же значение повторно — без новой оценки
	res = advance(t, m, res.State, extract(0.9, "device_model", "iPhone 8"))
	assert.Equal(t, 2, est.calls)
	assert.Equal(t, StepAwaitingDecision, res.State.Step)
}

func TestAdvance_TimeoutRetriesThenEscalates(t *testing.T) {
	t.Parallel()
	m, _ := newMachine(defaultConfig())

	res := advance(t, m, NewState(), extract(0.9, "device_category", "smartphone"))
	last := res.State.LastPrompt

	for i := 1; i <= 2; i++ {
		res = advance(t, m, res.State, ExtractionTimeout{})
		assert.Equal(t, StepCollectingDevice, res.State.Step)
		assert.Equal(t, last, res.Prompt)
		assert.Equal(t, i, res.State.Retries)
	}

	res = advance(t, m, res.State, ExtractionTimeout{})
	assert.Equal(t, StepEscalated, res.State.Step)
	assert.Equal(t, ReasonTimeout, res.State.EscalationReason)
}

func TestAdvance_ExtractionResetsRetries(t *testing.T) {
	t.Parallel()
	m, _ := newMachine(defaultConfig())

	res := advance(t, m, NewState(), ExtractionTimeout{})
	assert.Equal(t, 1, res.State.Retries)
	assert.Equal(t, StepCollectingDevice, res.State.Step)
	assert.Contains(t, res.Prompt.Text, textAskCategory)
	assert.Len(t, res.Prompt.Actions, 2)

	res = advance(t, m, res.State, extract(0.9, "device_category", "smartphone"))
	assert.Zero(t, res.State.Retries)
}

func TestAdvance_SkipBrandAndModel(t *testing.T) {
	t.Parallel()
	m, _ := newMachine(defaultConfig())

	res := advance(t, m, NewState(), extract(0.9, "device_category", "smartphone", "device_brand", "не знаю"))
	assert.Contains(t, res.Prompt.Text, textAskModel)
	assert.True(t, res.State.IsSkipped(FieldBrand))

	res = advance(t, m, res.State, extract(1, "device_model", SkipValue))
	assert.Equal(t, StepCollectingProblem, res.State.Step)

	// пропущенное поле можно заполнить позже
	res = advance(t, m, res.State, extract(0.9, "device_brand", "Apple"))
	assert.False(t, res.State.IsSkipped(FieldBrand))
	assert.Equal(t, "Apple", res.State.Facts.Request.DeviceBrand)
}

func TestAdvance_ProblemDescriptionMapped(t *testing.T) {
	t.Parallel()
	m, _ := newMachine(defaultConfig())

	res := advance(t, m, NewState(), extract(0.9,
		"device_category", "smartphone", "device_brand", "Apple", "device_model", "iPhone 13"))
	require.Equal(t, StepCollectingProblem, res.State.Step)

	res = advance(t, m, res.State, extract(0.8, "problem_description", "хочу кофе"))
	assert.Equal(t, StepCollectingProblem, res.State.Step)
	assert.Equal(t, textAskProblemAgain, res.Prompt.Text)

	corr := extract(0.8, "problem_description", "уронил, разбил экран")
	corr.Correction = true
	res = advance(t, m, res.State, corr)
	assert.Equal(t, "screen_replacement", res.State.Facts.Request.RepairType)
	assert.Equal(t, StepAwaitingDecision, res.State.Step)
}

func TestAdvance_ContactCollection(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	cfg.CollectName = true
	cfg.CollectPhone = true
	m, est := newMachine(cfg)

	res := advance(t, m, NewState(), extract(0.9,
		"device_category", "smartphone", "device_brand", "Apple", "device_model", "iPhone 13", "repair_type", "screen_replacement"))
	assert.Equal(t, StepCollectingContact, res.State.Step)
	assert.Contains(t, res.Prompt.Text, textAskName)
	assert.Zero(t, est.calls)

	res = advance(t, m, res.State, extract(0.9, "customer_name", "Ирина"))
	assert.Equal(t, textAskPhone, res.Prompt.Text)

	res = advance(t, m, res.State, extract(0.9, "customer_phone", "123"))
	assert.Equal(t, StepCollectingContact, res.State.Step)
	assert.Equal(t, textAskPhone, res.Prompt.Text)

	res = advance(t, m, res.State, extract(0.9, "customer_phone", "8 (916) 123-45-67"))
	assert.Equal(t, "+79161234567", res.State.Facts.CustomerPhone)
	assert.Equal(t, StepAwaitingDecision, res.State.Step)
	assert.Equal(t, 1, est.calls)

	res = advance(t, m, res.State, extract(1, "decision", "accept"))
	assert.Contains(t, res.Prompt.Text, "+79161234567")
}

func TestAdvance_HumanRequest(t *testing.T) {
	t.Parallel()
	m, _ := newMachine(defaultConfig())

	res := advance(t, m, NewState(), extract(0.9, "device_category", "smartphone"))
	res = advance(t, m, res.State, extract(0.9, "intent", "human", "device_brand", "Apple"))
	assert.Equal(t, StepEscalated, res.State.Step)
	assert.Equal(t, ReasonHumanRequest, res.State.EscalationReason)
	assert.Equal(t, "Apple", res.State.Facts.Request.DeviceBrand)
	assert.Equal(t, textEscalateHuman, res.Prompt.Text)
}

func TestAdvance_Abandon(t *testing.T) {
	t.Parallel()
	m, _ := newMachine(defaultConfig())

	res := advance(t, m, NewState(), extract(0.9, "device_category", "smartphone"))
	res = advance(t, m, res.State, Abandon{})
	assert.Equal(t, StepAbandoned, res.State.Step)
	assert.True(t, res.Prompt.Empty())
}

func TestAdvance_UnknownTenant(t *testing.T) {
	t.Parallel()
	est := pricing.NewEstimator(fixProRules(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	m := NewMachine(uuid.New(), defaultConfig(), est, staticCatalog{})

	_, err := m.Advance(context.Background(), NewState(), extract(0.9,
		"device_category", "smartphone", "device_brand", "Apple", "device_model", "iPhone 13", "repair_type", "screen_replacement"))
	require.ErrorIs(t, err, pricing.ErrUnknownTenant)
}

func TestAdvance_UnknownCategoryReasked(t *testing.T) {
	t.Parallel()
	m, _ := newMachine(defaultConfig())

	res := advance(t, m, NewState(), extract(0.7, "device_category", "Здравствуйте", "device_brand", "Apple"))
	assert.Equal(t, StepCollectingDevice, res.State.Step)
	assert.Empty(t, res.State.Facts.Request.DeviceCategory)
	assert.Equal(t, "Apple", res.State.Facts.Request.DeviceBrand)
	assert.Contains(t, res.Prompt.Text, textAskCategory)
	require.Len(t, res.Prompt.Actions, 2)
	assert.Equal(t, FieldCategory, res.Prompt.Actions[0].Field)

	// название из справочника приводится к slug
	res = advance(t, m, res.State, extract(0.9, "device_category", "смартфон"))
	assert.Equal(t, "smartphone", res.State.Facts.Request.DeviceCategory)
	assert.Equal(t, textAskModel, res.Prompt.Text)
}

func TestAdvance_UnknownCategoryKeepsKnownValue(t *testing.T) {
	t.Parallel()
	m, _ := newMachine(defaultConfig())

	res := advance(t, m, NewState(), extract(0.5, "device_category", "laptop"))
	ev := extract(0.9, "device_category", "тостер")
	ev.Correction = true
	res = advance(t, m, res.State, ev)
	assert.Equal(t, "laptop", res.State.Facts.Request.DeviceCategory)
	assert.Equal(t, "тостер", ev.Fields[FieldCategory])
}

func TestAdvance_CustomGreeting(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	cfg.Greeting = "Добро пожаловать в FixPro!"
	m, _ := newMachine(cfg)

	res := advance(t, m, NewState(), extract(0))
	assert.True(t, strings.HasPrefix(res.Prompt.Text, "Добро пожаловать в FixPro!"))
	assert.Contains(t, res.Prompt.Text, textAskCategory)
}

func TestEscalate(t *testing.T) {
	t.Parallel()
	m, _ := newMachine(defaultConfig())

	res := advance(t, m, NewState(), extract(0.9, "device_category", "smartphone"))
	res, err := Escalate(res.State, ReasonError)
	require.NoError(t, err)
	assert.Equal(t, StepEscalated, res.State.Step)
	assert.Equal(t, ReasonError, res.State.EscalationReason)
	assert.Equal(t, EscalationText(ReasonError), res.Prompt.Text)
	require.Len(t, res.Transitions, 1)
	assert.Equal(t, StepCollectingDevice, res.Transitions[0].From)

	again, err := Escalate(res.State, ReasonError)
	require.NoError(t, err)
	assert.True(t, again.Prompt.Empty())
}
