package dialog

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid dialog transition")

type Step string

const (
	StepGreeting          Step = "greeting"
	StepCollectingDevice  Step = "collecting_device"  // категория, бренд, модель
	StepCollectingProblem Step = "collecting_problem" // вид ремонта или описание проблемы
	StepCollectingContact Step = "collecting_contact" // только если магазин собирает имя/телефон
	StepReadyToEstimate   Step = "ready_to_estimate"
	StepQuoted            Step = "quoted"
	StepAwaitingDecision  Step = "awaiting_decision"

	// Финальные
	StepCompleted Step = "completed"
	StepEscalated Step = "escalated"
	StepAbandoned Step = "abandoned"
)

var allSteps = []Step{
	StepGreeting, StepCollectingDevice, StepCollectingProblem, StepCollectingContact,
	StepReadyToEstimate, StepQuoted, StepAwaitingDecision,
	StepCompleted, StepEscalated, StepAbandoned,
}

// transitions — единственный источник допустимых переходов.
// В escalated и abandoned можно попасть из любого нефинального шага.
var transitions = map[Step][]Step{
	StepGreeting:          {StepCollectingDevice},
	StepCollectingDevice:  {StepCollectingProblem},
	StepCollectingProblem: {StepCollectingContact, StepReadyToEstimate},
	StepCollectingContact: {StepReadyToEstimate},
	StepReadyToEstimate:   {StepQuoted},
	StepQuoted:            {StepAwaitingDecision},
	StepAwaitingDecision:  {StepCompleted, StepReadyToEstimate},
}

// ParseStep — для значений из БД: неизвестный шаг это ошибка, а не новое состояние.
func ParseStep(s string) (Step, error) {
	for _, st := range allSteps {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown dialog step %q", s)
}

func (s Step) Terminal() bool {
	return s == StepCompleted || s == StepEscalated || s == StepAbandoned
}

// HandoffEligible — шаги, на которых снимается снимок лида.
func (s Step) HandoffEligible() bool {
	return s == StepQuoted || s == StepEscalated || s == StepCompleted
}

func CanTransition(from, to Step) bool {
	if from.Terminal() {
		return false
	}
	if to == StepEscalated || to == StepAbandoned {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Transition struct {
	From Step `json:"from"`
	To   Step `json:"to"`
}
