package leads

import (
	"github.com/shopspring/decimal"
)

const (
	EventCreated = "lead.created"
	EventUpdated = "lead.updated"
)

// Event — тело события о лиде для внешних потребителей (CRM, уведомления).
type Event struct {
	LeadID           string              `json:"lead_id"`
	ShopID           string              `json:"shop_id"`
	ConversationID   string              `json:"conversation_id"`
	Channel          string              `json:"channel"`
	Stage            string              `json:"stage"`
	Status           string              `json:"status"`
	CustomerName     string              `json:"customer_name,omitempty"`
	CustomerPhone    string              `json:"customer_phone,omitempty"`
	CustomerContact  string              `json:"customer_contact"`
	DeviceCategory   string              `json:"device_category,omitempty"`
	DeviceFullName   string              `json:"device_full_name,omitempty"`
	RepairType       string              `json:"repair_type,omitempty"`
	ProblemSummary   string              `json:"problem_summary,omitempty"`
	Urgency          string              `json:"urgency"`
	PriceMin         decimal.NullDecimal `json:"price_min"`
	PriceMax         decimal.NullDecimal `json:"price_max"`
	Confidence       string              `json:"confidence"`
	PreferredTime    string              `json:"preferred_time,omitempty"`
	EscalationReason string              `json:"escalation_reason,omitempty"`
}

func (l Lead) Event() Event {
	return Event{
		LeadID:           l.ID.String(),
		ShopID:           l.ShopID.String(),
		ConversationID:   l.ConversationID.String(),
		Channel:          string(l.Channel),
		Stage:            string(l.Stage),
		Status:           string(l.Status),
		CustomerName:     l.CustomerName,
		CustomerPhone:    l.CustomerPhone,
		CustomerContact:  l.CustomerContact,
		DeviceCategory:   l.Request.DeviceCategory,
		DeviceFullName:   l.DeviceFullName,
		RepairType:       l.Request.RepairType,
		ProblemSummary:   l.ProblemSummary,
		Urgency:          l.Request.Urgency,
		PriceMin:         l.Estimate.PriceMin,
		PriceMax:         l.Estimate.PriceMax,
		Confidence:       string(l.Estimate.Confidence),
		PreferredTime:    l.PreferredTime,
		EscalationReason: l.EscalationReason,
	}
}
