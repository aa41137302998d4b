package models

import (
	"time"
)

// Wallet holds an organization's credit balance. Amounts are integer
// credit units. Reserved tracks the sum of active pre-authorizations.
type Wallet struct {
	OrgID     string    `json:"org_id" db:"org_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Reserved  int64     `json:"reserved" db:"reserved"`
	Version   int       `json:"version" db:"version"` // for optimistic locking
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Available is the balance not held by active reservations.
func (w *Wallet) Available() int64 {
	return w.Balance - w.Reserved
}

// WalletBalance is the balance snapshot returned to dashboards.
type WalletBalance struct {
	OrgID     string `json:"org_id"`
	Balance   int64  `json:"balance"`
	Reserved  int64  `json:"reserved"`
	Available int64  `json:"available"`
}
