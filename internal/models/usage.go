package models

import (
	"time"
)

// Message billing status values, used as the per-message idempotency guard.
const (
	MessageBillingPending = "pending"
	MessageBillingDebited = "debited"
	MessageBillingFailed  = "failed"
	MessageBillingSkipped = "skipped"
	MessageBillingRefused = "refused_insufficient_balance"
	MessageBillingErrored = "errored"
)

// UsageEvent is a token-usage report supplied by the messaging layer
// after a message is sent or received. MessageID is the idempotency key.
type UsageEvent struct {
	OrgID         string    `json:"org_id" validate:"required"`
	AgentID       string    `json:"agent_id"`
	Channel       string    `json:"channel" validate:"required,oneof=web whatsapp"`
	MessageID     string    `json:"message_id" validate:"required"`
	Direction     string    `json:"direction" validate:"omitempty,oneof=inbound outbound"`
	InputTokens   int64     `json:"input_tokens" validate:"gte=0"`
	OutputTokens  int64     `json:"output_tokens" validate:"gte=0"`
	ContentLength int64     `json:"content_length" validate:"gte=0"`
	Metadata      Metadata  `json:"metadata,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// MessageBilling tracks the billing outcome for one message.
type MessageBilling struct {
	MessageID string    `json:"message_id" db:"message_id"`
	OrgID     string    `json:"org_id" db:"org_id"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
