package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Spok95/repair-bot/internal/domain/conversations"
	"github.com/Spok95/repair-bot/internal/domain/leads"
	"github.com/Spok95/repair-bot/internal/infra/db"
)

// PGStore — Store поверх postgres.
type PGStore struct {
	pool  *pgxpool.Pool
	convs *conversations.Repo
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool, convs: conversations.NewRepo(pool)}
}

func (s *PGStore) FindActive(ctx context.Context, key conversations.Key) (*conversations.Conversation, error) {
	return s.convs.FindActive(ctx, key)
}

func (s *PGStore) CreateConversation(ctx context.Context, c *conversations.Conversation) (*conversations.Conversation, error) {
	return s.convs.Create(ctx, c)
}

func (s *PGStore) Conversation(ctx context.Context, id uuid.UUID) (*conversations.Conversation, error) {
	return s.convs.Get(ctx, id)
}

func (s *PGStore) AppendMessage(ctx context.Context, m *conversations.Message) error {
	return s.convs.AppendMessage(ctx, m)
}

func (s *PGStore) Messages(ctx context.Context, conversationID uuid.UUID) ([]conversations.Message, error) {
	return s.convs.ListMessages(ctx, conversationID)
}

func (s *PGStore) CommitTurn(ctx context.Context, c *conversations.Conversation, msgs []*conversations.Message, lead *leads.Lead) (inserted bool, err error) {
	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		convs := conversations.NewRepo(tx)
		if err := convs.Update(ctx, c); err != nil {
			return err
		}
		for _, m := range msgs {
			if err := convs.AppendMessage(ctx, m); err != nil {
				return err
			}
		}
		if lead != nil {
			var err error
			inserted, err = leads.NewRepo(tx).Upsert(ctx, lead)
			return err
		}
		return nil
	})
	return inserted, err
}

func (s *PGStore) ListStale(ctx context.Context, before time.Time, limit int) ([]conversations.Conversation, error) {
	return s.convs.ListStale(ctx, before, limit)
}
