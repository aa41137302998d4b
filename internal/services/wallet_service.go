package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/botmeter/backend/internal/models"
)

// WalletService owns the per-org wallet row. Every mutation goes through
// lockWallet + updateWallet so concurrent debits and reserves serialize on
// the row lock and the version check catches lost updates.
type WalletService struct {
	db             *sql.DB
	ledger         *LedgerService
	initialBalance int64
}

func NewWalletService(db *sql.DB, ledger *LedgerService, initialBalance int64) *WalletService {
	return &WalletService{
		db:             db,
		ledger:         ledger,
		initialBalance: initialBalance,
	}
}

// GetBalance returns the wallet's balance snapshot.
func (s *WalletService) GetBalance(ctx context.Context, orgID string) (*models.WalletBalance, error) {
	var w models.Wallet
	err := s.db.QueryRowContext(ctx, `
		SELECT org_id, balance, reserved
		FROM wallets
		WHERE org_id = $1`, orgID).Scan(&w.OrgID, &w.Balance, &w.Reserved)

	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, Transient(err)
	}

	return &models.WalletBalance{
		OrgID:     w.OrgID,
		Balance:   w.Balance,
		Reserved:  w.Reserved,
		Available: w.Available(),
	}, nil
}

// CreateWallet creates the org's wallet with the default starting balance
// and records the starting balance as a credit on the ledger. Safe to call
// twice: an existing wallet is returned unchanged.
func (s *WalletService) CreateWallet(ctx context.Context, orgID string) (*models.Wallet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Transient(err)
	}
	defer tx.Rollback()

	var w models.Wallet
	err = tx.QueryRow(`
		INSERT INTO wallets (org_id, balance, reserved, version, created_at, updated_at)
		VALUES ($1, $2, 0, 1, NOW(), NOW())
		ON CONFLICT (org_id) DO NOTHING
		RETURNING org_id, balance, reserved, version, created_at, updated_at`,
		orgID, s.initialBalance).Scan(&w.OrgID, &w.Balance, &w.Reserved, &w.Version, &w.CreatedAt, &w.UpdatedAt)

	if err == sql.ErrNoRows {
		// Already exists.
		err = tx.QueryRow(`
			SELECT org_id, balance, reserved, version, created_at, updated_at
			FROM wallets
			WHERE org_id = $1`, orgID).Scan(&w.OrgID, &w.Balance, &w.Reserved, &w.Version, &w.CreatedAt, &w.UpdatedAt)
		if err != nil {
			return nil, Transient(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, Transient(err)
		}
		return &w, nil
	}
	if err != nil {
		return nil, Transient(err)
	}

	if s.initialBalance > 0 {
		err = s.ledger.RecordTx(tx, &models.LedgerTransaction{
			OrgID:    orgID,
			Type:     models.TransactionTypeCredit,
			Amount:   s.initialBalance,
			Status:   models.TransactionStatusCompleted,
			Metadata: models.Metadata{"reason": "initial_balance"},
		})
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, Transient(err)
	}
	return &w, nil
}

// Credit tops up the wallet and records the credit on the ledger in the
// same transaction. Used by admin top-ups and reconciliation corrections.
func (s *WalletService) Credit(ctx context.Context, orgID string, amount int64, metadata models.Metadata) (*models.Wallet, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Transient(err)
	}
	defer tx.Rollback()

	w, err := s.AdjustBalanceTx(tx, orgID, amount)
	if err != nil {
		return nil, err
	}

	err = s.ledger.RecordTx(tx, &models.LedgerTransaction{
		OrgID:    orgID,
		Type:     models.TransactionTypeCredit,
		Amount:   amount,
		Status:   models.TransactionStatusCompleted,
		Metadata: metadata,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, Transient(err)
	}
	return w, nil
}

// AdjustBalance applies balance += delta atomically. Negative deltas fail
// with ErrInsufficientFunds rather than driving the balance negative.
func (s *WalletService) AdjustBalance(ctx context.Context, orgID string, delta int64) (*models.Wallet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Transient(err)
	}
	defer tx.Rollback()

	w, err := s.AdjustBalanceTx(tx, orgID, delta)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, Transient(err)
	}
	return w, nil
}

// AdjustBalanceTx is AdjustBalance composed into a caller-owned transaction,
// so the matching ledger write can share the commit.
func (s *WalletService) AdjustBalanceTx(tx *sql.Tx, orgID string, delta int64) (*models.Wallet, error) {
	w, err := s.lockWallet(tx, orgID)
	if err != nil {
		return nil, err
	}

	newBalance := w.Balance + delta
	if newBalance < 0 {
		return nil, ErrInsufficientFunds
	}
	if newBalance < w.Reserved {
		return nil, ErrInsufficientFunds
	}

	if err := s.updateWallet(tx, w, newBalance, w.Reserved); err != nil {
		return nil, err
	}

	w.Balance = newBalance
	return w, nil
}

// AdjustReservedTx applies reserved += delta, failing with
// ErrInsufficientFunds when the hold would exceed the available balance.
func (s *WalletService) AdjustReservedTx(tx *sql.Tx, orgID string, delta int64) (*models.Wallet, error) {
	w, err := s.lockWallet(tx, orgID)
	if err != nil {
		return nil, err
	}

	newReserved := w.Reserved + delta
	if newReserved < 0 {
		newReserved = 0
	}
	if w.Balance-newReserved < 0 {
		return nil, ErrInsufficientFunds
	}

	if err := s.updateWallet(tx, w, w.Balance, newReserved); err != nil {
		return nil, err
	}

	w.Reserved = newReserved
	return w, nil
}

// CaptureTx debits the balance by amount and releases a hold of
// reservedAmount in a single wallet update. Used by capture, where the
// original hold comes off in full regardless of the actual charge.
func (s *WalletService) CaptureTx(tx *sql.Tx, orgID string, amount, reservedAmount int64) (*models.Wallet, error) {
	w, err := s.lockWallet(tx, orgID)
	if err != nil {
		return nil, err
	}

	newBalance := w.Balance - amount
	newReserved := w.Reserved - reservedAmount
	if newReserved < 0 {
		newReserved = 0
	}
	if newBalance < 0 || newBalance < newReserved {
		return nil, ErrInsufficientFunds
	}

	if err := s.updateWallet(tx, w, newBalance, newReserved); err != nil {
		return nil, err
	}

	w.Balance = newBalance
	w.Reserved = newReserved
	return w, nil
}

func (s *WalletService) lockWallet(tx *sql.Tx, orgID string) (*models.Wallet, error) {
	var w models.Wallet
	err := tx.QueryRow(`
		SELECT org_id, balance, reserved, version, updated_at
		FROM wallets
		WHERE org_id = $1
		FOR UPDATE`, orgID).Scan(&w.OrgID, &w.Balance, &w.Reserved, &w.Version, &w.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, Transient(err)
	}
	return &w, nil
}

func (s *WalletService) updateWallet(tx *sql.Tx, w *models.Wallet, newBalance, newReserved int64) error {
	result, err := tx.Exec(`
		UPDATE wallets
		SET balance = $1, reserved = $2, version = version + 1, updated_at = $3
		WHERE org_id = $4 AND version = $5`,
		newBalance, newReserved, time.Now(), w.OrgID, w.Version)

	if err != nil {
		return Transient(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return Transient(err)
	}

	if rowsAffected == 0 {
		return Transient(fmt.Errorf("optimistic lock failed for wallet %s", w.OrgID))
	}

	w.Version++
	return nil
}
