package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/botmeter/backend/internal/models"
)

// ReservationService manages pre-authorization holds against wallets. Each
// reservation moves active -> consumed | released | expired exactly once;
// the transition, the wallet adjustment, and the ledger write always share
// one database transaction.
type ReservationService struct {
	db      *sql.DB
	wallets *WalletService
	ledger  *LedgerService
	audit   *AuditLogger
	ttl     time.Duration
	now     func() time.Time
}

func NewReservationService(db *sql.DB, wallets *WalletService, ledger *LedgerService, ttl time.Duration, now func() time.Time) *ReservationService {
	if now == nil {
		now = time.Now
	}
	return &ReservationService{
		db:      db,
		wallets: wallets,
		ledger:  ledger,
		audit:   NewAuditLogger(),
		ttl:     ttl,
		now:     now,
	}
}

// PreAuthorize places a hold of estimatedAmount on the org's available
// balance and records it in the ledger.
func (s *ReservationService) PreAuthorize(ctx context.Context, orgID string, estimatedAmount int64, metadata models.Metadata) (*models.Reservation, error) {
	if estimatedAmount <= 0 {
		return nil, fmt.Errorf("estimated amount must be positive, got %d", estimatedAmount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Transient(err)
	}
	defer tx.Rollback()

	if _, err := s.wallets.AdjustReservedTx(tx, orgID, estimatedAmount); err != nil {
		return nil, err
	}

	reservation := &models.Reservation{
		ID:             uuid.NewString(),
		OrgID:          orgID,
		ReservedAmount: estimatedAmount,
		Status:         models.ReservationStatusActive,
		Metadata:       metadata,
		CreatedAt:      s.now(),
	}
	reservation.ExpiresAt = reservation.CreatedAt.Add(s.ttl)

	_, err = tx.Exec(`
		INSERT INTO reservations (id, org_id, reserved_amount, status, metadata, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		reservation.ID, reservation.OrgID, reservation.ReservedAmount, reservation.Status,
		reservation.Metadata, reservation.CreatedAt, reservation.ExpiresAt)
	if err != nil {
		return nil, Transient(err)
	}

	err = s.ledger.RecordTx(tx, &models.LedgerTransaction{
		OrgID:         orgID,
		Type:          models.TransactionTypeReserve,
		Amount:        estimatedAmount,
		Status:        models.TransactionStatusCompleted,
		ReservationID: reservation.ID,
		Metadata:      metadata,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, Transient(err)
	}

	s.audit.LogReservation(reservation.ID, orgID, estimatedAmount, "ACTIVE")
	return reservation, nil
}

// Capture converts an active reservation into a real charge of actualAmount.
// The original hold comes off in full and the balance is debited by the
// actual amount; all of it rolls back if the wallet cannot cover the charge.
func (s *ReservationService) Capture(ctx context.Context, reservationID string, actualAmount int64, usageDetails models.Metadata) (*models.LedgerTransaction, error) {
	if actualAmount <= 0 {
		return nil, fmt.Errorf("actual amount must be positive, got %d", actualAmount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Transient(err)
	}
	defer tx.Rollback()

	reservation, err := s.lockReservation(tx, reservationID)
	if err != nil {
		return nil, err
	}

	if reservation.Terminal() {
		return nil, ErrReservationNotActive
	}
	if reservation.ExpiresAt.Before(s.now()) {
		// Left for the sweeper; capturing an expired hold is refused.
		return nil, ErrReservationNotActive
	}

	if err := s.claimReservation(tx, reservationID, models.ReservationStatusConsumed); err != nil {
		return nil, err
	}

	if _, err := s.wallets.CaptureTx(tx, reservation.OrgID, actualAmount, reservation.ReservedAmount); err != nil {
		return nil, err
	}

	charge := &models.LedgerTransaction{
		OrgID:         reservation.OrgID,
		Type:          models.TransactionTypeCharge,
		Amount:        actualAmount,
		Status:        models.TransactionStatusCompleted,
		ReservationID: reservation.ID,
		Metadata:      usageDetails,
	}
	if err := s.ledger.RecordTx(tx, charge); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, Transient(err)
	}

	s.audit.LogCharge(charge.ID, reservation.OrgID, reservation.ID, actualAmount, "COMPLETED")
	return charge, nil
}

// Release cancels an active reservation and returns the hold to the wallet.
// Releasing an already-terminal reservation is a no-op success so callers
// can retry freely.
func (s *ReservationService) Release(ctx context.Context, reservationID string) error {
	return s.finish(ctx, reservationID, models.ReservationStatusReleased)
}

// SweepExpired releases every active reservation whose TTL has elapsed,
// marking it expired. Safe to run concurrently with capture: the status
// claim lets only one side win.
func (s *ReservationService) SweepExpired(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM reservations
		WHERE status = $1 AND expires_at < $2`,
		models.ReservationStatusActive, s.now())
	if err != nil {
		return 0, Transient(err)
	}

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, Transient(err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, Transient(err)
	}

	swept := 0
	for _, id := range ids {
		if err := s.finish(ctx, id, models.ReservationStatusExpired); err != nil {
			log.Printf("[RESERVATION] Sweep failed for %s: %v", id, err)
			continue
		}
		swept++
	}
	return swept, nil
}

// finish moves an active reservation to a terminal released/expired state,
// returning its hold and recording the release.
func (s *ReservationService) finish(ctx context.Context, reservationID, terminalStatus string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Transient(err)
	}
	defer tx.Rollback()

	reservation, err := s.lockReservation(tx, reservationID)
	if err != nil {
		return err
	}

	if reservation.Terminal() {
		return nil
	}

	if err := s.claimReservation(tx, reservationID, terminalStatus); err != nil {
		if err == ErrReservationNotActive {
			// Lost the race to capture or another release.
			return nil
		}
		return err
	}

	if _, err := s.wallets.AdjustReservedTx(tx, reservation.OrgID, -reservation.ReservedAmount); err != nil {
		return err
	}

	err = s.ledger.RecordTx(tx, &models.LedgerTransaction{
		OrgID:         reservation.OrgID,
		Type:          models.TransactionTypeRelease,
		Amount:        reservation.ReservedAmount,
		Status:        models.TransactionStatusCompleted,
		ReservationID: reservation.ID,
		Metadata:      models.Metadata{"terminal_status": terminalStatus},
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return Transient(err)
	}

	s.audit.LogReservation(reservation.ID, reservation.OrgID, reservation.ReservedAmount, terminalStatus)
	return nil
}

func (s *ReservationService) lockReservation(tx *sql.Tx, reservationID string) (*models.Reservation, error) {
	var r models.Reservation
	err := tx.QueryRow(`
		SELECT id, org_id, reserved_amount, status, metadata, created_at, expires_at
		FROM reservations
		WHERE id = $1
		FOR UPDATE`, reservationID).Scan(
		&r.ID, &r.OrgID, &r.ReservedAmount, &r.Status, &r.Metadata, &r.CreatedAt, &r.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, Transient(err)
	}
	return &r, nil
}

// claimReservation is the single guard for leaving the active state.
func (s *ReservationService) claimReservation(tx *sql.Tx, reservationID, newStatus string) error {
	result, err := tx.Exec(`
		UPDATE reservations
		SET status = $1
		WHERE id = $2 AND status = $3`,
		newStatus, reservationID, models.ReservationStatusActive)

	if err != nil {
		return Transient(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return Transient(err)
	}
	if rowsAffected == 0 {
		return ErrReservationNotActive
	}
	return nil
}
