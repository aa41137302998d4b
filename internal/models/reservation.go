package models

import (
	"time"
)

// Reservation status values. A reservation leaves "active" exactly once.
const (
	ReservationStatusActive   = "active"
	ReservationStatusConsumed = "consumed"
	ReservationStatusReleased = "released"
	ReservationStatusExpired  = "expired"
)

// Reservation is a time-bounded hold against a wallet's available balance.
type Reservation struct {
	ID             string    `json:"id" db:"id"`
	OrgID          string    `json:"org_id" db:"org_id"`
	ReservedAmount int64     `json:"reserved_amount" db:"reserved_amount"`
	Status         string    `json:"status" db:"status"`
	Metadata       Metadata  `json:"metadata" db:"metadata"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
}

// Terminal reports whether the reservation can no longer transition.
func (r *Reservation) Terminal() bool {
	return r.Status != ReservationStatusActive
}
