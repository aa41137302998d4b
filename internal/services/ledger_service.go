package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/botmeter/backend/internal/models"
)

// LedgerService appends to the billing audit trail. Rows are never updated
// after creation except for the single pending -> terminal status transition.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// Record appends a transaction outside of any caller transaction.
func (s *LedgerService) Record(ctx context.Context, t *models.LedgerTransaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Transient(err)
	}
	defer tx.Rollback()

	if err := s.RecordTx(tx, t); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return Transient(err)
	}
	return nil
}

// RecordTx appends a transaction inside a caller-owned database transaction
// so the row commits together with the wallet mutation it describes.
func (s *LedgerService) RecordTx(tx *sql.Tx, t *models.LedgerTransaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.TransactionStatusPending
	}
	t.CreatedAt = time.Now()
	if t.Status == models.TransactionStatusCompleted {
		now := t.CreatedAt
		t.CompletedAt = &now
	}

	var reservationID any
	if t.ReservationID != "" {
		reservationID = t.ReservationID
	}

	_, err := tx.Exec(`
		INSERT INTO ledger_transactions
		(id, org_id, type, amount, status, reservation_id, metadata, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.OrgID, t.Type, t.Amount, t.Status, reservationID, t.Metadata, t.CreatedAt, t.CompletedAt)

	if err != nil {
		return Transient(err)
	}
	return nil
}

// CompleteTx transitions a pending transaction to a terminal status. The
// status guard makes the transition happen at most once.
func (s *LedgerService) CompleteTx(tx *sql.Tx, transactionID, status string) error {
	result, err := tx.Exec(`
		UPDATE ledger_transactions
		SET status = $1, completed_at = $2
		WHERE id = $3 AND status = $4`,
		status, time.Now(), transactionID, models.TransactionStatusPending)

	if err != nil {
		return Transient(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return Transient(err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("transaction %s is not pending", transactionID)
	}
	return nil
}

// ListForOrg returns an org's transactions, newest first.
func (s *LedgerService) ListForOrg(ctx context.Context, orgID string, limit int, since *time.Time) ([]models.LedgerTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	conditions := []string{"org_id = $1"}
	args := []any{orgID}
	argIndex := 2

	if since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, *since)
		argIndex++
	}

	query := fmt.Sprintf(`
		SELECT id, org_id, type, amount, status, COALESCE(reservation_id, ''), metadata, created_at, completed_at
		FROM ledger_transactions
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`, strings.Join(conditions, " AND "), argIndex)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Transient(err)
	}
	defer rows.Close()

	transactions := []models.LedgerTransaction{}
	for rows.Next() {
		var t models.LedgerTransaction
		err := rows.Scan(&t.ID, &t.OrgID, &t.Type, &t.Amount, &t.Status,
			&t.ReservationID, &t.Metadata, &t.CreatedAt, &t.CompletedAt)
		if err != nil {
			return nil, Transient(err)
		}
		transactions = append(transactions, t)
	}

	return transactions, rows.Err()
}

// SumByType totals an org's completed transactions of one type.
func (s *LedgerService) SumByType(ctx context.Context, orgID, txType string, since *time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_transactions
		WHERE org_id = $1 AND type = $2 AND status = $3`
	args := []any{orgID, txType, models.TransactionStatusCompleted}

	if since != nil {
		query += " AND created_at >= $4"
		args = append(args, *since)
	}

	var sum int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&sum); err != nil {
		return 0, Transient(err)
	}
	return sum, nil
}
