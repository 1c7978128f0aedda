package dialog

import (
	"slices"

	"github.com/Spok95/repair-bot/internal/domain/pricing"
)

// Field — имя поля в результате извлечения.
type Field string

const (
	FieldCategory       Field = "device_category"
	FieldBrand          Field = "device_brand"
	FieldModel          Field = "device_model"
	FieldRepairType     Field = "repair_type"
	FieldProblem        Field = "problem_description"
	FieldName           Field = "customer_name"
	FieldPhone          Field = "customer_phone"
	FieldUrgency        Field = "urgency"
	FieldPreviousRepair Field = "has_previous_repair"
	FieldPreferredTime  Field = "preferred_time"

	// управляющие поля, в факты не попадают
	FieldDecision Field = "decision"
	FieldIntent   Field = "intent"
)

// SkipValue — «не знаю» для бренда и модели.
const SkipValue = "skip"

const (
	DecisionAccept      = "accept"
	DecisionReject      = "reject"
	DecisionRejectPrice = "reject_price"
	DecisionNegotiate   = "negotiate"

	IntentHuman = "human"
)

// Причины эскалации, сохраняются в состоянии и в лиде.
const (
	ReasonLowConfidence = "low_confidence"
	ReasonHumanRequest  = "human_request"
	ReasonPriceRejected = "price_rejected"
	ReasonNegotiate     = "negotiate"
	ReasonTimeout       = "extraction_timeout"
	ReasonError         = "error"
)

// Facts — всё, что известно о заявке.
type Facts struct {
	Request            pricing.RepairRequest
	ProblemDescription string
	CustomerName       string
	CustomerPhone      string
	PreferredTime      string
}

// State — позиция диалога. Целиком восстанавливается из БД, в памяти ничего не держим.
type State struct {
	Step             Step
	Facts            Facts
	Confidence       map[Field]float64
	Skipped          []Field
	Retries          int
	LastPrompt       Prompt
	Estimate         *pricing.EstimationResult
	EscalationReason string
}

func NewState() State {
	return State{Step: StepGreeting, Confidence: map[Field]float64{}}
}

func (s State) IsSkipped(f Field) bool { return slices.Contains(s.Skipped, f) }

func (s *State) skip(f Field) {
	if !s.IsSkipped(f) {
		s.Skipped = append(s.Skipped, f)
	}
}

func (s *State) unskip(f Field) {
	s.Skipped = slices.DeleteFunc(s.Skipped, func(x Field) bool { return x == f })
}

type Action struct {
	Label string `json:"label"`
	Field Field  `json:"field"`
	Value string `json:"value"`
}

// Prompt — исходящее сообщение. Пустой Text = ничего не отправлять.
type Prompt struct {
	Text    string   `json:"text,omitempty"`
	Actions []Action `json:"actions,omitempty"`
}

func (p Prompt) Empty() bool { return p.Text == "" }

/* Events */

type Event interface{ isEvent() }

// Extraction — структурированный результат от LLM или нажатие кнопки.
type Extraction struct {
	Fields     map[Field]string
	Confidence float64 // 0..1
	Correction bool    // пользователь явно исправляет ранее сказанное
}

type ExtractionTimeout struct{}

type Abandon struct{}

func (Extraction) isEvent()        {}
func (ExtractionTimeout) isEvent() {}
func (Abandon) isEvent()           {}

// Config — настройки магазина, передаются явно.
type Config struct {
	CollectPhone         bool
	CollectName          bool
	OfferAppointment     bool
	EscalationEnabled    bool
	Personality          string
	Greeting             string
	Currency             string
	MaxExtractionRetries int
}

func (c Config) collectsContact() bool { return c.CollectPhone || c.CollectName }

type Result struct {
	State       State
	Prompt      Prompt
	Transitions []Transition
	Estimated   bool // оценщик вызывался на этом шаге
}
