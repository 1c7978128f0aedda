package conversations

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Spok95/repair-bot/internal/dialog"
)

var ErrNotFound = errors.New("conversation not found")

type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelAPI      Channel = "api" // внешний транспорт через HTTP
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
	StatusEscalated Status = "escalated"
)

// StatusFor — статус разговора по шагу диалога.
func StatusFor(step dialog.Step) Status {
	switch step {
	case dialog.StepCompleted:
		return StatusCompleted
	case dialog.StepAbandoned:
		return StatusAbandoned
	case dialog.StepEscalated:
		return StatusEscalated
	}
	return StatusActive
}

// Key — пара (магазин, канал, пользователь), по которой сериализуются ходы.
type Key struct {
	ShopID         uuid.UUID
	Channel        Channel
	ExternalUserID string
}

func (k Key) String() string {
	return k.ShopID.String() + ":" + string(k.Channel) + ":" + k.ExternalUserID
}

type Conversation struct {
	ID             uuid.UUID
	ShopID         uuid.UUID
	Channel        Channel
	ExternalUserID string
	ExternalChatID string
	Status         Status
	State          dialog.State
	MessagesCount  int
	StartedAt      time.Time
	LastMessageAt  time.Time
	CompletedAt    *time.Time
}

func New(key Key, chatID string, now time.Time) *Conversation {
	return &Conversation{
		ID:             uuid.New(),
		ShopID:         key.ShopID,
		Channel:        key.Channel,
		ExternalUserID: key.ExternalUserID,
		ExternalChatID: chatID,
		Status:         StatusActive,
		State:          dialog.NewState(),
		StartedAt:      now,
		LastMessageAt:  now,
	}
}

func (c *Conversation) Key() Key {
	return Key{ShopID: c.ShopID, Channel: c.Channel, ExternalUserID: c.ExternalUserID}
}

// Apply переносит новое состояние диалога и выставляет статус.
func (c *Conversation) Apply(st dialog.State, now time.Time) {
	c.State = st
	c.Status = StatusFor(st.Step)
	if c.Status != StatusActive && c.CompletedAt == nil {
		c.CompletedAt = &now
	}
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message неизменяем после записи.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           Role
	Text           string
	Step           dialog.Step
	CreatedAt      time.Time
}
