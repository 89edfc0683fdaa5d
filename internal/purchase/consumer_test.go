package purchase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"stream-billing/internal/apperr"
	"stream-billing/internal/command"
	"stream-billing/internal/config"
	"stream-billing/internal/store"

	amqp "github.com/rabbitmq/amqp091-go"
)

type ackRecorder struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *ackRecorder) Ack(uint64, bool) error { a.acked++; return nil }
func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}
func (a *ackRecorder) Reject(_ uint64, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

type stubApplier struct {
	err  error
	seen []command.PaymentEvent
}

func (s *stubApplier) Apply(_ context.Context, ev command.PaymentEvent) (store.Purchase, error) {
	s.seen = append(s.seen, ev)
	return store.Purchase{ID: ev.PurchaseID}, s.err
}

func TestDispatchAcknowledgement(t *testing.T) {
	cases := []struct {
		name        string
		body        string
		applyErr    error
		wantAck     bool
		wantRequeue bool
	}{
		{"applied", `{"purchase_id":"p1","status":"completed"}`, nil, true, false},
		{"deficit recorded", `{"purchase_id":"p1","status":"refunded"}`, fmt.Errorf("wrap: %w", apperr.ErrDeficitRefund), true, false},
		{"malformed", `{"purchase_id":`, nil, false, false},
		{"invalid transition", `{"purchase_id":"p1","status":"completed"}`, apperr.Transition("purchase", "failed", "completed"), false, false},
		{"transient", `{"purchase_id":"p1","status":"completed"}`, apperr.ErrConcurrentModification, false, true},
		{"unknown failure", `{"purchase_id":"p1","status":"completed"}`, errors.New("conn reset"), false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ack := &ackRecorder{}
			c := NewConsumer(config.AMQPConfig{Queue: "payment.confirmed"}, &stubApplier{err: tc.applyErr})
			c.dispatch(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte(tc.body)})
			if tc.wantAck && ack.acked != 1 {
				t.Fatalf("acked = %d, want 1", ack.acked)
			}
			if !tc.wantAck && (ack.nacked != 1 || ack.requeue != tc.wantRequeue) {
				t.Fatalf("nacked = %d requeue = %v, want 1 %v", ack.nacked, ack.requeue, tc.wantRequeue)
			}
		})
	}
}

func TestHandleDecodesEvent(t *testing.T) {
	s := &stubApplier{}
	c := NewConsumer(config.AMQPConfig{}, s)
	if err := c.handle(context.Background(), []byte(`{"gateway_ref":"gw-1","status":"failed","reason":"declined"}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(s.seen) != 1 || s.seen[0].GatewayRef != "gw-1" || s.seen[0].Reason != "declined" {
		t.Fatalf("seen = %+v", s.seen)
	}
}
