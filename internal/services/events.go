package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// Billing event types consumed by the notification subsystem.
const (
	EventLowBalance        = "low_balance"
	EventCircuitOpened     = "circuit_opened"
	EventBillingFailed     = "billing_failed"
	EventReconcileRequired = "reconciliation_discrepancy"
)

// BillingEvent is the opaque signal shape pushed to the notification
// subsystem.
type BillingEvent struct {
	Type      string         `json:"type"`
	OrgID     string         `json:"org_id"`
	Severity  string         `json:"severity"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Notifier delivers billing events. The orchestrator calls it synchronously;
// implementations must not block on downstream consumers.
type Notifier interface {
	Notify(ctx context.Context, event BillingEvent)
}

// QueueNotifier pushes events onto a Redis list for the notification
// subsystem to drain. A nil client degrades to log-only.
type QueueNotifier struct {
	redis *redis.Client
	queue string
}

func NewQueueNotifier(redisClient *redis.Client, queue string) *QueueNotifier {
	return &QueueNotifier{
		redis: redisClient,
		queue: queue,
	}
}

func (n *QueueNotifier) Notify(ctx context.Context, event BillingEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[EVENTS] Failed to marshal event %s for org %s: %v", event.Type, event.OrgID, err)
		return
	}

	if n.redis == nil {
		log.Printf("[EVENTS] %s", string(data))
		return
	}

	if err := n.redis.RPush(ctx, n.queue, data).Err(); err != nil {
		log.Printf("[EVENTS] Failed to queue event %s for org %s: %v", event.Type, event.OrgID, err)
	}
}
