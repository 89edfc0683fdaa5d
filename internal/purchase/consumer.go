package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stream-billing/internal/apperr"
	"stream-billing/internal/command"
	"stream-billing/internal/config"
	"stream-billing/internal/store"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// EventApplier is what the consumer feeds decoded payment events into.
type EventApplier interface {
	Apply(ctx context.Context, ev command.PaymentEvent) (store.Purchase, error)
}

// Consumer reads confirmed payment events from a durable queue. Malformed
// or inapplicable messages are rejected; transient failures are requeued.
type Consumer struct {
	cfg     config.AMQPConfig
	applier EventApplier
}

func NewConsumer(cfg config.AMQPConfig, applier EventApplier) *Consumer {
	return &Consumer{cfg: cfg, applier: applier}
}

// Run dials the broker and consumes until ctx is done, reconnecting with
// exponential backoff capped at 30s.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.cfg.URL)
		if err != nil {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("payment consumer: dial broker failed")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("payment consumer: consume loop ended, reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		log.Warn().Err(err).Msg("payment consumer: set qos failed")
	}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	log.Info().Str("queue", c.cfg.Queue).Msg("payment consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.dispatch(ctx, d)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery) {
	err := c.handle(ctx, d.Body)
	switch {
	case err == nil, errors.Is(err, apperr.ErrDeficitRefund):
		_ = d.Ack(false)
	case errors.Is(err, errBadMessage), apperr.IsUserFacing(err):
		metricConsumerErrors.Add(1)
		log.Error().Err(err).Str("message_id", d.MessageId).Msg("payment event rejected")
		_ = d.Nack(false, false)
	default:
		metricConsumerErrors.Add(1)
		log.Error().Err(err).Str("message_id", d.MessageId).Msg("payment event failed, requeueing")
		_ = d.Nack(false, true)
	}
}

var errBadMessage = errors.New("bad payment event")

func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var ev command.PaymentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: %v", errBadMessage, err)
	}
	p, err := c.applier.Apply(ctx, ev)
	if err != nil {
		return err
	}
	log.Debug().Str("purchase_id", p.ID).Str("status", string(p.Status)).Msg("payment event applied")
	return nil
}
