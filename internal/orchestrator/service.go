package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Spok95/repair-bot/internal/dialog"
	"github.com/Spok95/repair-bot/internal/domain/conversations"
	"github.com/Spok95/repair-bot/internal/domain/leads"
	"github.com/Spok95/repair-bot/internal/domain/pricing"
	"github.com/Spok95/repair-bot/internal/domain/shops"
	"github.com/Spok95/repair-bot/internal/infra/events"
	"github.com/Spok95/repair-bot/internal/infra/lock"
	"github.com/Spok95/repair-bot/internal/infra/metrics"
)

const (
	defaultExtractTimeout = 15 * time.Second
	staleBatch            = 100
)

type Deps struct {
	Store          Store
	Shops          ShopLookup
	Estimator      dialog.Estimator
	Catalog        dialog.Catalog
	Extractor      Extractor
	Locker         lock.Locker
	Events         events.Publisher
	Log            *slog.Logger
	ExtractTimeout time.Duration
	MaxRetries     int // если в настройках магазина 0
}

// Service проводит ход разговора: запись сообщения, машина диалога,
// атомарная фиксация и событие о лиде. Ходы одного клиента строго по очереди.
type Service struct {
	store          Store
	shops          ShopLookup
	est            dialog.Estimator
	cat            dialog.Catalog
	extractor      Extractor
	locker         lock.Locker
	events         events.Publisher
	log            *slog.Logger
	extractTimeout time.Duration
	maxRetries     int
	now            func() time.Time
}

func New(d Deps) *Service {
	s := &Service{
		store:          d.Store,
		shops:          d.Shops,
		est:            d.Estimator,
		cat:            d.Catalog,
		extractor:      d.Extractor,
		locker:         d.Locker,
		events:         d.Events,
		log:            d.Log,
		extractTimeout: d.ExtractTimeout,
		maxRetries:     d.MaxRetries,
		now:            func() time.Time { return time.Now().UTC() },
	}
	if s.locker == nil {
		s.locker = lock.NewMemory()
	}
	if s.events == nil {
		s.events = &events.Recorder{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.extractTimeout <= 0 {
		s.extractTimeout = defaultExtractTimeout
	}
	return s
}

/* Inbound */

// RecordInbound находит или открывает активный разговор и пишет сообщение клиента.
func (s *Service) RecordInbound(ctx context.Context, in Inbound) (*conversations.Conversation, error) {
	unlock, err := s.locker.Lock(ctx, in.Key().String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	conv, msg, err := s.open(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	conv.MessagesCount++
	conv.LastMessageAt = msg.CreatedAt
	return conv, nil
}

// open находит или открывает активный разговор и готовит сообщение клиента.
// Синхронные ходы пишут сообщение вместе с переходом в CommitTurn.
func (s *Service) open(ctx context.Context, in Inbound) (*conversations.Conversation, *conversations.Message, error) {
	if err := s.checkShop(ctx, in.ShopID); err != nil {
		return nil, nil, err
	}
	key := in.Key()
	conv, err := s.store.FindActive(ctx, key)
	if errors.Is(err, conversations.ErrNotFound) {
		conv, err = s.store.CreateConversation(ctx, conversations.New(key, in.ExternalChatID, s.now()))
		if err == nil {
			s.log.Info("conversation started", "conversation_id", conv.ID, "shop_id", in.ShopID, "channel", in.Channel)
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("conversation for %s: %w", key, err)
	}
	if in.ExternalChatID != "" {
		conv.ExternalChatID = in.ExternalChatID
	}

	msg := &conversations.Message{
		ConversationID: conv.ID,
		Role:           conversations.RoleUser,
		Text:           in.Text,
		Step:           conv.State.Step,
		CreatedAt:      s.now(),
	}
	return conv, msg, nil
}

func (s *Service) checkShop(ctx context.Context, shopID uuid.UUID) error {
	sh, err := s.shops.GetByID(ctx, shopID)
	if errors.Is(err, shops.ErrNotFound) || (err == nil && !sh.Active) {
		return fmt.Errorf("%w: %s", pricing.ErrUnknownTenant, shopID)
	}
	return err
}

// HandleText — запись сообщения и разбор текста экстрактором в одном ходе.
// Не уложился в таймаут или упал — ход считается таймаутом экстракции.
func (s *Service) HandleText(ctx context.Context, in Inbound) (Outbound, error) {
	unlock, err := s.locker.Lock(ctx, in.Key().String())
	if err != nil {
		return Outbound{}, err
	}
	defer unlock()

	conv, msg, err := s.open(ctx, in)
	if errors.Is(err, pricing.ErrUnknownTenant) {
		s.log.Error("message for unknown shop", "shop_id", in.ShopID, "channel", in.Channel, "err", err)
		return Outbound{ChatID: in.ExternalChatID, Text: dialog.EscalationText(dialog.ReasonError), Step: dialog.StepEscalated}, nil
	}
	if err != nil {
		return Outbound{}, err
	}
	ext, err := s.extract(ctx, in.Text, conv.State)
	if err != nil {
		metrics.ExtractionTimeoutsTotal.Inc()
		s.log.Warn("extraction failed", "conversation_id", conv.ID, "err", err)
		return s.advance(ctx, conv, msg, dialog.ExtractionTimeout{}, "timeout")
	}
	return s.advance(ctx, conv, msg, ext, "extraction")
}

// HandleAction — нажатие кнопки: поле и значение известны без экстрактора.
func (s *Service) HandleAction(ctx context.Context, in Inbound, field dialog.Field, value string) (Outbound, error) {
	unlock, err := s.locker.Lock(ctx, in.Key().String())
	if err != nil {
		return Outbound{}, err
	}
	defer unlock()

	conv, msg, err := s.open(ctx, in)
	if err != nil {
		return Outbound{}, err
	}
	ev := dialog.Extraction{Fields: map[dialog.Field]string{field: value}, Confidence: 1}
	return s.advance(ctx, conv, msg, ev, "action")
}

// Restart закрывает активный разговор (abandoned) и начинает новый с приветствия.
func (s *Service) Restart(ctx context.Context, in Inbound) (Outbound, error) {
	unlock, err := s.locker.Lock(ctx, in.Key().String())
	if err != nil {
		return Outbound{}, err
	}
	defer unlock()

	if err := s.checkShop(ctx, in.ShopID); err != nil {
		return Outbound{}, err
	}
	active, err := s.store.FindActive(ctx, in.Key())
	switch {
	case err == nil:
		if _, err := s.advance(ctx, active, nil, dialog.Abandon{}, "abandon"); err != nil {
			return Outbound{}, err
		}
	case !errors.Is(err, conversations.ErrNotFound):
		return Outbound{}, err
	}

	conv, msg, err := s.open(ctx, in)
	if err != nil {
		return Outbound{}, err
	}
	return s.advance(ctx, conv, msg, dialog.Extraction{}, "extraction")
}

func (s *Service) extract(ctx context.Context, text string, st dialog.State) (dialog.Extraction, error) {
	if s.extractor == nil {
		return dialog.Extraction{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.extractTimeout)
	defer cancel()
	return s.extractor.Extract(ctx, text, st)
}

/* Events from outside */

// HandleExtraction применяет результат внешнего экстрактора к разговору.
func (s *Service) HandleExtraction(ctx context.Context, ev ExtractionEvent) (Outbound, error) {
	return s.locked(ctx, ev.ConversationID, func(conv *conversations.Conversation) (Outbound, error) {
		return s.advance(ctx, conv, nil, ev.dialogEvent(), "extraction")
	})
}

// HandleExtractionTimeout — экстрактор не ответил: повтор вопроса или оператор.
func (s *Service) HandleExtractionTimeout(ctx context.Context, conversationID uuid.UUID) (Outbound, error) {
	metrics.ExtractionTimeoutsTotal.Inc()
	return s.locked(ctx, conversationID, func(conv *conversations.Conversation) (Outbound, error) {
		return s.advance(ctx, conv, nil, dialog.ExtractionTimeout{}, "timeout")
	})
}

func (s *Service) Abandon(ctx context.Context, conversationID uuid.UUID) error {
	_, err := s.locked(ctx, conversationID, func(conv *conversations.Conversation) (Outbound, error) {
		return s.advance(ctx, conv, nil, dialog.Abandon{}, "abandon")
	})
	return err
}

// locked берёт блокировку по ключу разговора и перечитывает его под ней.
func (s *Service) locked(ctx context.Context, id uuid.UUID, fn func(*conversations.Conversation) (Outbound, error)) (Outbound, error) {
	conv, err := s.store.Conversation(ctx, id)
	if err != nil {
		return Outbound{}, fmt.Errorf("conversation %s: %w", id, err)
	}
	unlock, err := s.locker.Lock(ctx, conv.Key().String())
	if err != nil {
		return Outbound{}, err
	}
	defer unlock()

	if conv, err = s.store.Conversation(ctx, id); err != nil {
		return Outbound{}, fmt.Errorf("conversation %s: %w", id, err)
	}
	return fn(conv)
}

// History — сообщения разговора по порядку.
func (s *Service) History(ctx context.Context, conversationID uuid.UUID) ([]conversations.Message, error) {
	if _, err := s.store.Conversation(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, err)
	}
	return s.store.Messages(ctx, conversationID)
}

/* Turn */

// advance проводит ход. in — сообщение клиента, если его ещё нет в базе.
func (s *Service) advance(ctx context.Context, conv *conversations.Conversation, in *conversations.Message, ev dialog.Event, kind string) (Outbound, error) {
	start := time.Now()
	defer func() { metrics.TurnDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds()) }()

	var res dialog.Result
	sh, err := s.shops.GetByID(ctx, conv.ShopID)
	if err == nil {
		m := dialog.NewMachine(sh.ID, s.configFor(sh), s.est, s.cat)
		res, err = m.Advance(ctx, conv.State, ev)
	}
	if err != nil {
		// сбой вне клиента: разговор уходит оператору, клиенту — вежливый ответ
		s.log.Error("dialog turn failed",
			"conversation_id", conv.ID, "shop_id", conv.ShopID, "step", conv.State.Step,
			"unknown_shop", errors.Is(err, shops.ErrNotFound) || errors.Is(err, pricing.ErrUnknownTenant),
			"err", err)
		if res, err = dialog.Escalate(conv.State, dialog.ReasonError); err != nil {
			return Outbound{}, err
		}
	}
	return s.commit(ctx, conv, in, res)
}

func (s *Service) commit(ctx context.Context, conv *conversations.Conversation, in *conversations.Message, res dialog.Result) (Outbound, error) {
	now := s.now()
	wasActive := conv.Status == conversations.StatusActive
	conv.Apply(res.State, now)

	var msgs []*conversations.Message
	if in != nil {
		msgs = append(msgs, in)
	}
	if !res.Prompt.Empty() {
		msgs = append(msgs, &conversations.Message{
			ConversationID: conv.ID,
			Role:           conversations.RoleAssistant,
			Text:           res.Prompt.Text,
			Step:           res.State.Step,
			CreatedAt:      now,
		})
	}

	var lead *leads.Lead
	if stage, ok := handoffStage(res.Transitions); ok {
		l := leads.Snapshot(conv, stage)
		lead = &l
	}

	inserted, err := s.store.CommitTurn(ctx, conv, msgs, lead)
	if err != nil {
		return Outbound{}, fmt.Errorf("commit turn %s: %w", conv.ID, err)
	}

	if wasActive && conv.Status != conversations.StatusActive {
		metrics.ConversationsFinishedTotal.WithLabelValues(string(conv.Status)).Inc()
		s.log.Info("conversation finished", "conversation_id", conv.ID, "status", conv.Status,
			"escalation_reason", conv.State.EscalationReason)
	}
	if lead != nil {
		if inserted {
			metrics.LeadsCreatedTotal.Inc()
		}
		s.publish(ctx, lead, inserted)
	}
	return s.outbound(conv, res.Prompt), nil
}

// handoffStage — последний из шагов quoted/escalated/completed, пройденных за ход.
func handoffStage(ts []dialog.Transition) (dialog.Step, bool) {
	for i := len(ts) - 1; i >= 0; i-- {
		if ts[i].To.HandoffEligible() {
			return ts[i].To, true
		}
	}
	return "", false
}

// publish не влияет на ход: лид уже в базе, событие — уведомление.
func (s *Service) publish(ctx context.Context, l *leads.Lead, inserted bool) {
	key := leads.EventUpdated
	if inserted {
		key = leads.EventCreated
	}
	env := events.NewEnvelope(key, l.ConversationID.String(), l.Event())
	if err := s.events.Publish(ctx, key, env); err != nil {
		s.log.Error("publish lead event", "lead_id", l.ID, "key", key, "err", err)
		return
	}
	s.log.Info("lead event published", "key", key, "lead_id", l.ID, "conversation_id", l.ConversationID, "stage", l.Stage)
}

func (s *Service) outbound(conv *conversations.Conversation, p dialog.Prompt) Outbound {
	return Outbound{
		ConversationID: conv.ID,
		ChatID:         conv.ExternalChatID,
		Text:           p.Text,
		Actions:        p.Actions,
		Step:           conv.State.Step,
	}
}

func (s *Service) configFor(sh *shops.Shop) dialog.Config {
	st := sh.Settings
	retries := st.MaxExtractionRetries
	if retries <= 0 {
		retries = s.maxRetries
	}
	return dialog.Config{
		CollectPhone:         st.CollectPhone,
		CollectName:          st.CollectName,
		OfferAppointment:     st.OfferAppointment,
		EscalationEnabled:    st.EscalationEnabled,
		Personality:          st.BotPersonality,
		Greeting:             st.GreetingText,
		Currency:             st.Currency,
		MaxExtractionRetries: retries,
	}
}

/* Stale sweeper */

// AbandonStale закрывает активные разговоры без сообщений дольше idle.
func (s *Service) AbandonStale(ctx context.Context, idle time.Duration) (int, error) {
	before := s.now().Add(-idle)
	total := 0
	for {
		stale, err := s.store.ListStale(ctx, before, staleBatch)
		if err != nil {
			return total, fmt.Errorf("list stale: %w", err)
		}
		for _, c := range stale {
			if err := s.Abandon(ctx, c.ID); err != nil {
				return total, err
			}
			total++
		}
		if len(stale) < staleBatch {
			return total, nil
		}
	}
}

// RunSweeper вызывает AbandonStale раз в interval до отмены ctx.
func (s *Service) RunSweeper(ctx context.Context, interval, idle time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.AbandonStale(ctx, idle)
			if err != nil {
				s.log.Error("stale sweep", "err", err)
				continue
			}
			if n > 0 {
				s.log.Info("stale conversations abandoned", "count", n)
			}
		}
	}
}
