// Package audit provides earnings.AuditSink implementations: a RabbitMQ
// publisher for the platform activity log, a structured-log sink and a
// fan-out.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/warp/earnings-engine/earnings"
)

const DefaultExchange = "earnings.audit"

// Message is the wire form of an audit entry.
type Message struct {
	ID        string               `json:"id"`
	BookingID string               `json:"booking_id"`
	Action    string               `json:"action"`
	Actor     string               `json:"actor"`
	Reason    string               `json:"reason,omitempty"`
	Before    []MessageEarning     `json:"before"`
	After     []MessageEarning     `json:"after"`
	TaxBefore *earnings.BookingTax `json:"tax_before,omitempty"`
	TaxAfter  *earnings.BookingTax `json:"tax_after,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

type MessageEarning struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Type         string `json:"type"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
	Percentage   string `json:"percentage"`
	PercentageOf string `json:"percentage_of"`
}

// NewMessage converts an audit entry to its wire form.
func NewMessage(a earnings.AuditEntry) Message {
	return Message{
		ID:        a.ID,
		BookingID: a.BookingID,
		Action:    string(a.Action),
		Actor:     a.Actor,
		Reason:    a.Reason,
		Before:    messageEarnings(a.Before),
		After:     messageEarnings(a.After),
		TaxBefore: a.TaxBefore,
		TaxAfter:  a.TaxAfter,
		CreatedAt: a.CreatedAt,
	}
}

func messageEarnings(es []earnings.Earning) []MessageEarning {
	out := make([]MessageEarning, 0, len(es))
	for _, e := range es {
		out = append(out, MessageEarning{
			ID:           e.ID,
			UserID:       e.UserID,
			Type:         string(e.Type),
			AmountCents:  e.AmountCents,
			Currency:     e.Currency,
			Percentage:   e.Percentage.String(),
			PercentageOf: e.PercentageOf,
		})
	}
	return out
}

// RoutingKey is "earnings.<action>", e.g. earnings.earnings_replaced.
func RoutingKey(a earnings.AuditEntry) string {
	return "earnings." + string(a.Action)
}

// =============================================================================
// RABBITMQ PUBLISHER
// =============================================================================

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes audit entries as JSON to a durable topic exchange.
type Publisher struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	ch       channel
	exchange string
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish implements earnings.AuditSink.
func (p *Publisher) Publish(ctx context.Context, a earnings.AuditEntry) error {
	body, err := json.Marshal(NewMessage(a))
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(a), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    a.ID,
		Timestamp:    a.CreatedAt,
		Body:         body,
	})
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// =============================================================================
// LOG SINK AND FAN-OUT
// =============================================================================

// LogSink writes one structured log line per audit entry.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(ctx context.Context, a earnings.AuditEntry) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "earnings audit",
		"audit_id", a.ID,
		"booking_id", a.BookingID,
		"action", string(a.Action),
		"actor", a.Actor,
		"reason", a.Reason,
		"before_cents", earnings.SumCents(a.Before),
		"after_cents", earnings.SumCents(a.After),
		"rows", len(a.After),
	)
	return nil
}

// Multi publishes to every sink and joins their errors.
type Multi []earnings.AuditSink

func (m Multi) Publish(ctx context.Context, a earnings.AuditEntry) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
