// Package busclient implements the publisher and subscriber sides of the
// platform's message bus: a non-durable topic exchange named "pubsub_line"
// carrying UTF-8 JSON envelopes of the form {action, payload} (§6.1).
//
// Both Publisher and Subscriber auto-reconnect with exponential backoff,
// the same shape the venue adapter's WebSocket feeds use. A Subscriber's
// queue is exclusive and auto-delete: no cross-process sharing of a
// strategy's own consumer queue.
package busclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	exchangeName     = "pubsub_line"
	maxReconnectWait = 30 * time.Second
	initialBackoff   = time.Second
)

// Message is one decoded bus envelope delivered to a Subscriber callback.
type Message struct {
	Action  string
	Payload json.RawMessage
}

// Handler processes one delivered Message. A panic inside it is recovered
// and logged, and the message is still acknowledged (§7 propagation policy:
// runtime errors inside callbacks never block the bus).
type Handler func(routingKey string, msg Message)

func dial(ctx context.Context, uri string, logger *slog.Logger) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(uri, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, amqp.ExchangeTopic, false, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	logger.Debug("amqp connected", "exchange", exchangeName)
	return conn, ch, nil
}

func encode(action string, payload any) ([]byte, error) {
	body, err := json.Marshal(struct {
		Action  string `json:"action"`
		Payload any    `json:"payload"`
	}{Action: action, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return body, nil
}

// Publisher publishes action/payload envelopes on routing keys of the
// pubsub_line exchange. Decimal fields inside Payload must already be
// strings (callers pass decimal.Decimal, which marshals as a JSON string).
type Publisher struct {
	uri    string
	logger *slog.Logger

	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher constructs a Publisher. Call Run to establish and maintain
// the connection before calling Publish.
func NewPublisher(uri string, logger *slog.Logger) *Publisher {
	return &Publisher{uri: uri, logger: logger.With("component", "bus_publisher")}
}

// Run connects and reconnects with exponential backoff until ctx is
// cancelled. It must run concurrently with Publish calls.
func (p *Publisher) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		conn, ch, err := dial(ctx, p.uri, p.logger)
		if err != nil {
			p.logger.Warn("connect failed, retrying", "error", err, "backoff", backoff)
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}

		p.conn, p.ch = conn, ch
		backoff = initialBackoff

		closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-ctx.Done():
			ch.Close()
			conn.Close()
			return ctx.Err()
		case err := <-closeCh:
			p.logger.Warn("amqp connection closed, reconnecting", "error", err)
		}
	}
}

// Publish sends {action, payload} on routingKey. Silently drops the message
// if the connection is currently down — publish is fire-and-forget, matching
// the Python reference's `if not self.is_closed` guard.
func (p *Publisher) Publish(ctx context.Context, routingKey, action string, payload any) error {
	if p.ch == nil {
		return nil
	}
	body, err := encode(action, payload)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Subscriber consumes bus envelopes from an exclusive, auto-delete queue
// bound to a fixed set of routing keys (§6.1).
type Subscriber struct {
	uri         string
	routingKeys []string
	logger      *slog.Logger

	deliveries chan amqp.Delivery
}

// NewSubscriber constructs a Subscriber bound to routingKeys (e.g. "alive",
// "reset", "{symbol}.{entity}" per symbol/entity pair).
func NewSubscriber(uri string, routingKeys []string, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		uri:         uri,
		routingKeys: routingKeys,
		logger:      logger.With("component", "bus_subscriber"),
	}
}

// Run connects, declares the exclusive auto-delete queue, binds routingKeys,
// and dispatches deliveries to handle until ctx is cancelled. Reconnects
// with exponential backoff and re-subscribes to all routingKeys on every
// reconnect, firing onReconnect (if non-nil) once the rebind succeeds and
// before any delivery from the new connection reaches handle — callers
// treat this exactly like the bus's own "reset" message, since a dropped
// connection can miss deliveries the same way a broker-side reset can.
// onReconnect is never called for the initial connect, only for connects
// that follow a prior disconnection.
func (s *Subscriber) Run(ctx context.Context, handle Handler, onReconnect func()) error {
	backoff := initialBackoff
	reconnecting := false
	for {
		hook := onReconnect
		if !reconnecting {
			hook = nil
		}
		if err := s.runOnce(ctx, handle, hook); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("subscriber disconnected, reconnecting", "error", err, "backoff", backoff)
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			reconnecting = true
			continue
		}
		backoff = initialBackoff
		reconnecting = true
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *Subscriber) runOnce(ctx context.Context, handle Handler, onReconnect func()) error {
	conn, ch, err := dial(ctx, s.uri, s.logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, key := range s.routingKeys {
		if err := ch.QueueBind(q.Name, key, exchangeName, false, nil); err != nil {
			return fmt.Errorf("bind %q: %w", key, err)
		}
	}

	deliveries, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	s.logger.Info("subscriber connected", "routing_keys", len(s.routingKeys))
	if onReconnect != nil {
		onReconnect()
	}

	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-closeCh:
			return fmt.Errorf("connection closed: %w", err)
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			s.dispatch(d, handle)
		}
	}
}

func (s *Subscriber) dispatch(d amqp.Delivery, handle Handler) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic handling bus message", "recover", r, "routing_key", d.RoutingKey)
		}
		_ = d.Ack(false)
	}()

	var envelope struct {
		Action  string          `json:"action"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(d.Body, &envelope); err != nil {
		s.logger.Warn("malformed bus envelope", "error", err, "routing_key", d.RoutingKey)
		return
	}
	handle(d.RoutingKey, Message{Action: envelope.Action, Payload: envelope.Payload})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxReconnectWait {
		return maxReconnectWait
	}
	return next
}
