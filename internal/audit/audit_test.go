package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu     sync.Mutex
	keys   []string
	events []interface{}
	err    error
}

func (p *fakePublisher) PublishEvent(ctx context.Context, key string, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.events = append(p.events, event)
	return nil
}

func TestKafkaRecorder_PublishesEntry(t *testing.T) {
	pub := &fakePublisher{}
	rec := NewKafkaRecorder(pub)

	ctx, cancel := context.WithCancel(context.Background())
	rec.Record(ctx, Entry{UserID: 7, Action: ActionCreate, Description: "order 1 created", Module: ModuleSales})
	cancel()
	rec.Close()

	require.Len(t, pub.events, 1)
	event, ok := pub.events[0].(*models.AuditEvent)
	require.True(t, ok)
	assert.Equal(t, "audit-SALES", pub.keys[0])
	assert.Equal(t, int64(7), event.UserID)
	assert.Equal(t, models.EventTypeAuditRecorded, event.EventType)
	assert.NotEmpty(t, event.EventID)
}

func TestKafkaRecorder_SwallowsErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	rec := NewKafkaRecorder(pub)

	assert.NotPanics(t, func() {
		rec.Record(context.Background(), Entry{Action: ActionPayment, Module: ModuleFinance})
		rec.Close()
	})
	assert.Empty(t, pub.events)
}
