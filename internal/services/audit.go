package services

import (
	"encoding/json"
	"log"
	"time"
)

type AuditEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id"`
	OrgID         string    `json:"org_id"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	Details       any       `json:"details"`
}

type AuditLogger struct{}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{}
}

func (a *AuditLogger) LogCharge(transactionID, orgID, reservationID string, amount int64, status string) {
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     "CHARGE",
		TransactionID: transactionID,
		OrgID:         orgID,
		Amount:        amount,
		Status:        status,
		Details: map[string]string{
			"reservation_id": reservationID,
		},
	}
	a.log(event)
}

func (a *AuditLogger) LogReservation(reservationID, orgID string, amount int64, status string) {
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     "RESERVATION",
		TransactionID: reservationID,
		OrgID:         orgID,
		Amount:        amount,
		Status:        status,
	}
	a.log(event)
}

func (a *AuditLogger) LogError(transactionID, orgID string, err error) {
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     "ERROR",
		TransactionID: transactionID,
		OrgID:         orgID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *AuditLogger) log(event AuditEvent) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
