package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestEventPublisher_KeysByOrder(t *testing.T) {
	w := &fakeWriter{}
	ep := NewEventPublisher(NewProducerWithWriter(w))

	err := ep.PublishPayment(context.Background(), &models.PaymentEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypePaymentCompleted},
		OrderID:   42,
		Amount:    decimal.RequireFromString("79.10"),
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "order-42", string(w.msgs[0].Key))

	var decoded models.PaymentEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, models.EventTypePaymentCompleted, decoded.EventType)
	assert.True(t, decoded.Amount.Equal(decimal.RequireFromString("79.10")))
}

func TestProducer_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewProducerWithWriter(w)

	err := p.PublishEvent(context.Background(), "k", map[string]string{"a": "b"})
	assert.ErrorContains(t, err, "broker down")
}

func TestEventHandler_RoutesGatewayEvents(t *testing.T) {
	eh := NewEventHandler()
	var got []*models.GatewayEvent
	eh.OnGatewayEvent(func(ctx context.Context, e *models.GatewayEvent) error {
		got = append(got, e)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, eh.HandleMessage(ctx, kafka.Message{Value: []byte(`{"event_id":"evt_1","event_type":"payment_intent.succeeded","intent_id":"pi_1"}`)}))
	require.NoError(t, eh.HandleMessage(ctx, kafka.Message{Value: []byte(`{"event_id":"evt_2","event_type":"charge.refunded","intent_id":"pi_1"}`)}))
	require.NoError(t, eh.HandleMessage(ctx, kafka.Message{Value: []byte(`not json`)}))
	require.NoError(t, eh.HandleMessage(ctx, kafka.Message{Value: []byte(`{"event_id":"evt_3","event_type":"payment_intent.canceled"}`)}))

	require.Len(t, got, 1)
	assert.Equal(t, "pi_1", got[0].IntentID)
}

func TestConsumer_RetriesFailedMessageBeforeMovingOn(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	c := NewConsumerWithReader(r, "payment-gateway-events")
	c.minBackoff = time.Millisecond
	c.maxBackoff = 4 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var handled []int64
	failures := 0
	err := c.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		handled = append(handled, msg.Offset)
		if msg.Offset == 2 && failures < 3 {
			failures++
			return errors.New("transient")
		}
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, []int64{1, 2, 2, 2, 2, 3}, handled)
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, []int64{1, 2, 3}, r.committed)
}

func TestConsumer_DoesNotCommitPastFailingMessage(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	c := NewConsumerWithReader(r, "payment-gateway-events")
	c.minBackoff = time.Millisecond
	c.maxBackoff = 2 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := c.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		if msg.Offset == 2 {
			return errors.New("gateway down")
		}
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, []int64{1}, r.committed)
	require.Len(t, r.msgs, 1)
	assert.Equal(t, int64(3), r.msgs[0].Offset)
}
