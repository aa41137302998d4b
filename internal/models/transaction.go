package models

import (
	"time"
)

// Ledger transaction types. Amount is always positive, sign implied by type.
const (
	TransactionTypeDebit   = "debit"
	TransactionTypeCredit  = "credit"
	TransactionTypeReserve = "reserve"
	TransactionTypeRelease = "release"
	TransactionTypeCharge  = "charge"
)

// Ledger transaction status values. Status transitions out of "pending"
// exactly once; amount and type are never updated after creation.
const (
	TransactionStatusPending    = "pending"
	TransactionStatusCompleted  = "completed"
	TransactionStatusFailed     = "failed"
	TransactionStatusRolledBack = "rolled_back"
)

// LedgerTransaction is one row of the append-only billing audit trail.
type LedgerTransaction struct {
	ID            string     `json:"id" db:"id"`
	OrgID         string     `json:"org_id" db:"org_id"`
	Type          string     `json:"type" db:"type"`
	Amount        int64      `json:"amount" db:"amount"`
	Status        string     `json:"status" db:"status"`
	ReservationID string     `json:"reservation_id,omitempty" db:"reservation_id"`
	Metadata      Metadata   `json:"metadata" db:"metadata"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}
