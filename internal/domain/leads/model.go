package leads

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Spok95/repair-bot/internal/dialog"
	"github.com/Spok95/repair-bot/internal/domain/conversations"
	"github.com/Spok95/repair-bot/internal/domain/pricing"
)

var ErrNotFound = errors.New("lead not found")

// Status ведут операторы, бот выставляет только new при создании.
type Status string

const (
	StatusNew       Status = "new"
	StatusViewed    Status = "viewed"
	StatusContacted Status = "contacted"
	StatusWon       Status = "won"
	StatusLost      Status = "lost"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusViewed, StatusContacted, StatusWon, StatusLost:
		return true
	}
	return false
}

const defaultUrgency = "normal"

type Lead struct {
	ID               uuid.UUID
	ShopID           uuid.UUID
	ConversationID   uuid.UUID
	Channel          conversations.Channel
	CustomerName     string
	CustomerPhone    string
	CustomerContact  string // tg:<id> и т.п.
	Request          pricing.RepairRequest
	DeviceFullName   string
	ProblemSummary   string
	Estimate         pricing.EstimationResult
	PreferredTime    string
	Stage            dialog.Step // quoted | escalated | completed
	EscalationReason string
	Status           Status
	MasterNotes      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Snapshot — снимок разговора для лида на шаге stage.
func Snapshot(c *conversations.Conversation, stage dialog.Step) Lead {
	f := c.State.Facts
	req := f.Request
	if req.Urgency == "" {
		req.Urgency = defaultUrgency
	}

	est := pricing.NoEstimate()
	if c.State.Estimate != nil {
		est = *c.State.Estimate
	}

	summary := f.ProblemDescription
	if summary == "" {
		summary = req.RepairType
	}

	return Lead{
		ShopID:           c.ShopID,
		ConversationID:   c.ID,
		Channel:          c.Channel,
		CustomerName:     f.CustomerName,
		CustomerPhone:    f.CustomerPhone,
		CustomerContact:  Contact(c.Channel, c.ExternalUserID),
		Request:          req,
		DeviceFullName:   req.DeviceFullName(),
		ProblemSummary:   summary,
		Estimate:         est,
		PreferredTime:    f.PreferredTime,
		Stage:            stage,
		EscalationReason: c.State.EscalationReason,
		Status:           StatusNew,
	}
}

// Contact — адрес клиента в канале, по которому оператор может ответить.
func Contact(ch conversations.Channel, externalUserID string) string {
	switch ch {
	case conversations.ChannelTelegram:
		return "tg:" + externalUserID
	}
	return string(ch) + ":" + externalUserID
}
