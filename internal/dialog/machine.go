package dialog

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/google/uuid"

	"github.com/Spok95/repair-bot/internal/domain/catalog"
	"github.com/Spok95/repair-bot/internal/domain/pricing"
)

type Estimator interface {
	Estimate(ctx context.Context, tenantID uuid.UUID, req pricing.RepairRequest) (pricing.EstimationResult, error)
}

// Catalog — справочник категорий и видов ремонта для кнопок и разбора описания проблемы.
type Catalog interface {
	ListCategories(ctx context.Context) ([]catalog.Category, error)
	RepairTypes(ctx context.Context, category string) ([]catalog.RepairType, error)
}

// Machine — чистая функция (state, event, config) -> result, всё внешнее через интерфейсы.
type Machine struct {
	tenantID uuid.UUID
	cfg      Config
	est      Estimator
	cat      Catalog
}

func NewMachine(tenantID uuid.UUID, cfg Config, est Estimator, cat Catalog) *Machine {
	return &Machine{tenantID: tenantID, cfg: cfg, est: est, cat: cat}
}

type turn struct {
	st          State
	transitions []Transition
	estimated   bool
	greeting    string
}

func (t *turn) move(to Step) error {
	if !CanTransition(t.st.Step, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.st.Step, to)
	}
	t.transitions = append(t.transitions, Transition{From: t.st.Step, To: to})
	t.st.Step = to
	return nil
}

// Advance применяет событие к состоянию. Из финального шага ничего не отправляется.
func (m *Machine) Advance(ctx context.Context, st State, ev Event) (Result, error) {
	if st.Step.Terminal() {
		return Result{State: st}, nil
	}
	if st.Confidence == nil {
		st.Confidence = map[Field]float64{}
	}

	t := &turn{st: st}
	var (
		prompt Prompt
		err    error
	)
	switch e := ev.(type) {
	case Extraction:
		prompt, err = m.onExtraction(ctx, t, e)
	case ExtractionTimeout:
		prompt, err = m.onTimeout(ctx, t)
	case Abandon:
		err = t.move(StepAbandoned)
	default:
		err = fmt.Errorf("unsupported dialog event %T", ev)
	}
	if err != nil {
		return Result{}, err
	}

	if !prompt.Empty() {
		t.st.LastPrompt = prompt
		if t.greeting != "" {
			prompt.Text = t.greeting + "\n\n" + prompt.Text
		}
	}
	return Result{State: t.st, Prompt: prompt, Transitions: t.transitions, Estimated: t.estimated}, nil
}

func (m *Machine) onExtraction(ctx context.Context, t *turn, e Extraction) (Prompt, error) {
	t.st.Retries = 0
	e, err := m.knownCategory(ctx, e)
	if err != nil {
		return Prompt{}, err
	}
	changed := merge(&t.st, e)

	if strings.EqualFold(strings.TrimSpace(e.Fields[FieldIntent]), IntentHuman) {
		return m.escalate(t, ReasonHumanRequest)
	}

	if t.st.Step == StepAwaitingDecision {
		if !changed {
			return m.decide(t, strings.ToLower(strings.TrimSpace(e.Fields[FieldDecision])))
		}
		// после правки устройства или вида ремонта — новая оценка
		if err := t.move(StepReadyToEstimate); err != nil {
			return Prompt{}, err
		}
	}
	return m.cascade(ctx, t)
}

func (m *Machine) onTimeout(ctx context.Context, t *turn) (Prompt, error) {
	t.st.Retries++
	if t.st.Retries > max(m.cfg.MaxExtractionRetries, 0) {
		return m.escalate(t, ReasonTimeout)
	}
	if !t.st.LastPrompt.Empty() {
		return t.st.LastPrompt, nil
	}
	return m.cascade(ctx, t)
}

// cascade проходит вперёд по всем шагам, требования которых уже выполнены,
// и останавливается на первом незаполненном поле.
func (m *Machine) cascade(ctx context.Context, t *turn) (Prompt, error) {
	for {
		switch t.st.Step {
		case StepGreeting:
			t.greeting = m.greeting()
			if err := t.move(StepCollectingDevice); err != nil {
				return Prompt{}, err
			}

		case StepCollectingDevice:
			if f, ok := missingDeviceField(t.st); ok {
				return m.ask(ctx, t.st, f)
			}
			if err := t.move(StepCollectingProblem); err != nil {
				return Prompt{}, err
			}

		case StepCollectingProblem:
			if t.st.Facts.Request.RepairType == "" {
				if err := m.resolveProblem(ctx, &t.st); err != nil {
					return Prompt{}, err
				}
			}
			if t.st.Facts.Request.RepairType == "" {
				return m.ask(ctx, t.st, FieldRepairType)
			}
			next := StepReadyToEstimate
			if m.cfg.collectsContact() {
				next = StepCollectingContact
			}
			if err := t.move(next); err != nil {
				return Prompt{}, err
			}

		case StepCollectingContact:
			if f, ok := m.missingContactField(t.st); ok {
				return m.ask(ctx, t.st, f)
			}
			if err := t.move(StepReadyToEstimate); err != nil {
				return Prompt{}, err
			}

		case StepReadyToEstimate:
			return m.estimate(ctx, t)

		default:
			return Prompt{}, fmt.Errorf("%w: cannot advance from %s", ErrInvalidTransition, t.st.Step)
		}
	}
}

// knownCategory приводит категорию к slug справочника (по slug или названию).
// Категории не из справочника отбрасываются, бот переспросит с кнопками.
func (m *Machine) knownCategory(ctx context.Context, e Extraction) (Extraction, error) {
	v := strings.TrimSpace(e.Fields[FieldCategory])
	if v == "" || m.cat == nil {
		return e, nil
	}
	cats, err := m.cat.ListCategories(ctx)
	if err != nil {
		return Extraction{}, fmt.Errorf("categories: %w", err)
	}
	if len(cats) == 0 {
		return e, nil
	}

	fields := maps.Clone(e.Fields)
	delete(fields, FieldCategory)
	for _, c := range cats {
		if strings.EqualFold(c.Slug, v) || strings.EqualFold(c.Name, v) {
			fields[FieldCategory] = c.Slug
			break
		}
	}
	e.Fields = fields
	return e, nil
}

func missingDeviceField(st State) (Field, bool) {
	r := st.Facts.Request
	switch {
	case r.DeviceCategory == "":
		return FieldCategory, true
	case r.DeviceBrand == "" && !st.IsSkipped(FieldBrand):
		return FieldBrand, true
	case r.DeviceModel == "" && !st.IsSkipped(FieldModel):
		return FieldModel, true
	}
	return "", false
}

func (m *Machine) missingContactField(st State) (Field, bool) {
	switch {
	case m.cfg.CollectName && st.Facts.CustomerName == "":
		return FieldName, true
	case m.cfg.CollectPhone && st.Facts.CustomerPhone == "":
		return FieldPhone, true
	}
	return "", false
}

// resolveProblem подбирает вид ремонта по свободному описанию проблемы.
func (m *Machine) resolveProblem(ctx context.Context, st *State) error {
	desc := st.Facts.ProblemDescription
	if desc == "" || m.cat == nil {
		return nil
	}
	types, err := m.cat.RepairTypes(ctx, st.Facts.Request.DeviceCategory)
	if err != nil {
		return fmt.Errorf("repair types: %w", err)
	}
	if rt, ok := catalog.Resolve(types, desc); ok {
		st.Facts.Request.RepairType = rt.Slug
		st.Confidence[FieldRepairType] = st.Confidence[FieldProblem]
	}
	return nil
}

// estimate вызывается ровно один раз на каждый вход в ready_to_estimate.
func (m *Machine) estimate(ctx context.Context, t *turn) (Prompt, error) {
	res, err := m.est.Estimate(ctx, m.tenantID, t.st.Facts.Request)
	if err != nil {
		return Prompt{}, fmt.Errorf("estimate: %w", err)
	}
	t.estimated = true
	t.st.Estimate = &res
	if err := t.move(StepQuoted); err != nil {
		return Prompt{}, err
	}

	weak := res.Confidence == pricing.ConfidenceNone || res.Confidence == pricing.ConfidenceLow
	if weak && m.cfg.EscalationEnabled {
		return m.escalate(t, ReasonLowConfidence)
	}
	if err := t.move(StepAwaitingDecision); err != nil {
		return Prompt{}, err
	}
	return m.quote(t.st), nil
}

func (m *Machine) decide(t *turn, decision string) (Prompt, error) {
	switch decision {
	case DecisionAccept:
		if err := t.move(StepCompleted); err != nil {
			return Prompt{}, err
		}
		return m.completed(t.st), nil
	case DecisionRejectPrice:
		return m.escalate(t, ReasonPriceRejected)
	case DecisionNegotiate:
		return m.escalate(t, ReasonNegotiate)
	case DecisionReject:
		if err := t.move(StepAbandoned); err != nil {
			return Prompt{}, err
		}
		return Prompt{Text: textFarewell}, nil
	}
	p := m.quote(t.st)
	p.Text = textDecisionUnclear + "\n\n" + p.Text
	return p, nil
}

func (m *Machine) escalate(t *turn, reason string) (Prompt, error) {
	if err := t.move(StepEscalated); err != nil {
		return Prompt{}, err
	}
	t.st.EscalationReason = reason
	return Prompt{Text: EscalationText(reason)}, nil
}

// Escalate переводит диалог к оператору без участия оценщика — для сбоев
// вне машины (магазин не найден, ошибка хранилища).
func Escalate(st State, reason string) (Result, error) {
	if st.Step.Terminal() {
		return Result{State: st}, nil
	}
	t := &turn{st: st}
	if err := t.move(StepEscalated); err != nil {
		return Result{}, err
	}
	t.st.EscalationReason = reason
	p := Prompt{Text: EscalationText(reason)}
	t.st.LastPrompt = p
	return Result{State: t.st, Prompt: p, Transitions: t.transitions}, nil
}
