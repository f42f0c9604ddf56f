// Package audit forwards business actions to the external audit log.
// Recording is fire-and-forget: failures are logged and never reach the caller.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Actions
const (
	ActionCreate  = "CREATE"
	ActionUpdate  = "UPDATE"
	ActionCancel  = "CANCEL"
	ActionPayment = "PAYMENT"
)

// Modules
const (
	ModuleSales   = "SALES"
	ModuleFinance = "FINANCE"
)

// Entry is one audit log record
type Entry struct {
	UserID      int64
	Action      string
	Description string
	Module      string
}

// Recorder records audit entries
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// Publisher is satisfied by *broker.Producer
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// KafkaRecorder publishes entries to the audit topic in the background
type KafkaRecorder struct {
	publisher Publisher
	timeout   time.Duration
	wg        sync.WaitGroup
	logger    *zap.Logger
}

// NewKafkaRecorder creates a recorder publishing through p
func NewKafkaRecorder(p Publisher) *KafkaRecorder {
	return &KafkaRecorder{
		publisher: p,
		timeout:   5 * time.Second,
		logger:    util.ComponentLogger("audit"),
	}
}

// Record publishes entry asynchronously. It never blocks on the broker and
// outlives cancellation of ctx.
func (r *KafkaRecorder) Record(ctx context.Context, entry Entry) {
	event := &models.AuditEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeAuditRecorded,
			Timestamp: time.Now(),
		},
		UserID:      entry.UserID,
		Action:      entry.Action,
		Description: entry.Description,
		Module:      entry.Module,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		if err := r.publisher.PublishEvent(pubCtx, fmt.Sprintf("audit-%s", entry.Module), event); err != nil {
			r.logger.Warn("Failed to record audit entry",
				zap.String("action", entry.Action),
				zap.String("module", entry.Module),
				zap.Error(err))
		}
	}()
}

// Close waits for in-flight entries
func (r *KafkaRecorder) Close() {
	r.wg.Wait()
}

// Nop discards entries
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}
