package models

import (
	"time"
)

// Discrepancy fields checked by the reconciliation sweep.
const (
	DiscrepancyReserved = "reserved"
	DiscrepancyBalance  = "balance"
)

// Discrepancy is one mismatch between the live wallet row and the
// ledger-derived expectation.
type Discrepancy struct {
	OrgID    string `json:"org_id"`
	Field    string `json:"field"`
	Expected int64  `json:"expected"`
	Actual   int64  `json:"actual"`
}

// ReconciliationReport summarizes one reconciliation pass for an org.
// Corrections list the compensating ledger transactions that were written.
type ReconciliationReport struct {
	OrgID         string              `json:"org_id"`
	Discrepancies []Discrepancy       `json:"discrepancies"`
	Corrections   []LedgerTransaction `json:"corrections"`
	CheckedAt     time.Time           `json:"checked_at"`
}
