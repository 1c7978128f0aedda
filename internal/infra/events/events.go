package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const producer = "repair-bot"

type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Time          time.Time `json:"time"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

func NewEnvelope(typ, correlationID string, data any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			Type:          typ,
			Time:          time.Now().UTC(),
			CorrelationID: correlationID,
			Producer:      producer,
		},
		Data: data,
	}
}

type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
	Close() error
}

// AMQP публикует в topic-exchange RabbitMQ. Канал на каждую публикацию.
type AMQP struct {
	conn     *amqp.Connection
	exchange string
	log      *slog.Logger
}

func NewAMQP(url, exchange string, log *slog.Logger) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &AMQP{conn: conn, exchange: exchange, log: log}, nil
}

func (p *AMQP) Publish(ctx context.Context, key string, env Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.Time,
		AppId:         producer,
		Body:          body,
	})
	if err == nil {
		p.log.Debug("event published", "key", key, "exchange", p.exchange, "id", env.Meta.ID)
	}
	return err
}

func (p *AMQP) Close() error { return p.conn.Close() }

// Recorder хранит события в памяти: режим без брокера и тесты.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

type Recorded struct {
	Key      string
	Envelope Envelope
}

func (r *Recorder) Publish(_ context.Context, key string, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Key: key, Envelope: env})
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// ByKey — события с заданным routing key.
func (r *Recorder) ByKey(key string) []Recorded {
	var out []Recorded
	for _, e := range r.Events() {
		if e.Key == key {
			out = append(out, e)
		}
	}
	return out
}

// Multi рассылает событие всем получателям; ошибки объединяются,
// сбой одного получателя не мешает остальным.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, key string, env Envelope) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, key, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
