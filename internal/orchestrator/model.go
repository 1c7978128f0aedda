package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Spok95/repair-bot/internal/dialog"
	"github.com/Spok95/repair-bot/internal/domain/conversations"
	"github.com/Spok95/repair-bot/internal/domain/leads"
	"github.com/Spok95/repair-bot/internal/domain/shops"
)

// Inbound — сообщение клиента из любого канала.
type Inbound struct {
	ShopID         uuid.UUID
	Channel        conversations.Channel
	ExternalUserID string
	ExternalChatID string
	Text           string
}

func (in Inbound) Key() conversations.Key {
	return conversations.Key{ShopID: in.ShopID, Channel: in.Channel, ExternalUserID: in.ExternalUserID}
}

// ExtractionEvent — результат разбора сообщения внешним экстрактором.
type ExtractionEvent struct {
	ConversationID uuid.UUID         `json:"conversation_id"`
	Fields         map[string]string `json:"fields"`
	Confidence     float64           `json:"extraction_confidence"`
	Correction     bool              `json:"correction"`
}

func (e ExtractionEvent) dialogEvent() dialog.Extraction {
	fields := make(map[dialog.Field]string, len(e.Fields))
	for k, v := range e.Fields {
		fields[dialog.Field(k)] = v
	}
	return dialog.Extraction{Fields: fields, Confidence: e.Confidence, Correction: e.Correction}
}

// Outbound — ровно один ответ на входящий ход. Пустой Text — ничего не отправлять.
type Outbound struct {
	ConversationID uuid.UUID       `json:"conversation_id"`
	ChatID         string          `json:"-"`
	Text           string          `json:"text"`
	Actions        []dialog.Action `json:"suggested_actions,omitempty"`
	Step           dialog.Step     `json:"step"`
}

func (o Outbound) Empty() bool { return o.Text == "" }

// Store — хранилище разговоров. CommitTurn атомарен: состояние, сообщения хода и лид
// либо записаны вместе, либо не записаны.
type Store interface {
	FindActive(ctx context.Context, key conversations.Key) (*conversations.Conversation, error)
	CreateConversation(ctx context.Context, c *conversations.Conversation) (*conversations.Conversation, error)
	Conversation(ctx context.Context, id uuid.UUID) (*conversations.Conversation, error)
	AppendMessage(ctx context.Context, m *conversations.Message) error
	Messages(ctx context.Context, conversationID uuid.UUID) ([]conversations.Message, error)
	CommitTurn(ctx context.Context, c *conversations.Conversation, msgs []*conversations.Message, lead *leads.Lead) (inserted bool, err error)
	ListStale(ctx context.Context, before time.Time, limit int) ([]conversations.Conversation, error)
}

type ShopLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*shops.Shop, error)
}

// Extractor разбирает свободный текст клиента в поля диалога.
type Extractor interface {
	Extract(ctx context.Context, text string, st dialog.State) (dialog.Extraction, error)
}
