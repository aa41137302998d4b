package services

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/botmeter/backend/internal/models"
)

// ReconciliationService compares live wallet rows against the ledger and the
// open reservations, and repairs drift with compensating transactions. The
// ledger is authoritative: wallet rows are moved to match it, history is
// never rewritten.
type ReconciliationService struct {
	db       *sql.DB
	wallets  *WalletService
	ledger   *LedgerService
	notifier Notifier
}

func NewReconciliationService(db *sql.DB, wallets *WalletService, ledger *LedgerService, notifier Notifier) *ReconciliationService {
	return &ReconciliationService{
		db:       db,
		wallets:  wallets,
		ledger:   ledger,
		notifier: notifier,
	}
}

// Reconcile checks one org. Runs under the same row lock as live billing, so
// it is safe to run concurrently with captures and releases.
func (s *ReconciliationService) Reconcile(ctx context.Context, orgID string) (*models.ReconciliationReport, error) {
	report := &models.ReconciliationReport{
		OrgID:         orgID,
		Discrepancies: []models.Discrepancy{},
		Corrections:   []models.LedgerTransaction{},
		CheckedAt:     time.Now(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Transient(err)
	}
	defer tx.Rollback()

	wallet, err := s.wallets.lockWallet(tx, orgID)
	if err != nil {
		return nil, err
	}

	expectedReserved, err := s.activeReservationSum(tx, orgID)
	if err != nil {
		return nil, err
	}

	expectedBalance, err := s.ledgerImpliedBalance(tx, orgID)
	if err != nil {
		return nil, err
	}

	if wallet.Reserved != expectedReserved {
		report.Discrepancies = append(report.Discrepancies, models.Discrepancy{
			OrgID:    orgID,
			Field:    models.DiscrepancyReserved,
			Expected: expectedReserved,
			Actual:   wallet.Reserved,
		})

		correction := &models.LedgerTransaction{
			OrgID:  orgID,
			Status: models.TransactionStatusCompleted,
			Metadata: models.Metadata{
				"reason":   "reconciliation",
				"field":    models.DiscrepancyReserved,
				"expected": expectedReserved,
				"actual":   wallet.Reserved,
			},
		}
		if wallet.Reserved > expectedReserved {
			correction.Type = models.TransactionTypeRelease
			correction.Amount = wallet.Reserved - expectedReserved
		} else {
			correction.Type = models.TransactionTypeReserve
			correction.Amount = expectedReserved - wallet.Reserved
		}
		if err := s.ledger.RecordTx(tx, correction); err != nil {
			return nil, err
		}
		report.Corrections = append(report.Corrections, *correction)
	}

	if wallet.Balance != expectedBalance {
		report.Discrepancies = append(report.Discrepancies, models.Discrepancy{
			OrgID:    orgID,
			Field:    models.DiscrepancyBalance,
			Expected: expectedBalance,
			Actual:   wallet.Balance,
		})

		correction := &models.LedgerTransaction{
			OrgID:  orgID,
			Status: models.TransactionStatusCompleted,
			Metadata: models.Metadata{
				"reason":   "reconciliation",
				"field":    models.DiscrepancyBalance,
				"expected": expectedBalance,
				"actual":   wallet.Balance,
			},
		}
		if wallet.Balance > expectedBalance {
			correction.Type = models.TransactionTypeDebit
			correction.Amount = wallet.Balance - expectedBalance
		} else {
			correction.Type = models.TransactionTypeCredit
			correction.Amount = expectedBalance - wallet.Balance
		}
		if err := s.ledger.RecordTx(tx, correction); err != nil {
			return nil, err
		}
		report.Corrections = append(report.Corrections, *correction)
	}

	if len(report.Discrepancies) > 0 {
		if expectedBalance < 0 {
			// A negative ledger-implied balance means lost credit history;
			// clamp and leave the evidence in the report.
			expectedBalance = 0
		}
		if expectedReserved > expectedBalance {
			expectedReserved = expectedBalance
		}
		if err := s.wallets.updateWallet(tx, wallet, expectedBalance, expectedReserved); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, Transient(err)
	}

	if len(report.Discrepancies) > 0 {
		log.Printf("[RECONCILE] Org %s: %d discrepancies corrected", orgID, len(report.Discrepancies))
		s.notifier.Notify(ctx, BillingEvent{
			Type:     EventReconcileRequired,
			OrgID:    orgID,
			Severity: "warning",
			Data: map[string]any{
				"discrepancies": len(report.Discrepancies),
				"corrections":   len(report.Corrections),
			},
		})
	}

	return report, nil
}

// ReconcileAll sweeps every wallet. Used by the scheduled job.
func (s *ReconciliationService) ReconcileAll(ctx context.Context) ([]models.ReconciliationReport, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT org_id FROM wallets ORDER BY org_id`)
	if err != nil {
		return nil, Transient(err)
	}

	orgIDs := []string{}
	for rows.Next() {
		var orgID string
		if err := rows.Scan(&orgID); err != nil {
			rows.Close()
			return nil, Transient(err)
		}
		orgIDs = append(orgIDs, orgID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, Transient(err)
	}

	reports := []models.ReconciliationReport{}
	for _, orgID := range orgIDs {
		report, err := s.Reconcile(ctx, orgID)
		if err != nil {
			log.Printf("[RECONCILE] Org %s failed: %v", orgID, err)
			continue
		}
		reports = append(reports, *report)
	}
	return reports, nil
}

func (s *ReconciliationService) activeReservationSum(tx *sql.Tx, orgID string) (int64, error) {
	var sum int64
	err := tx.QueryRow(`
		SELECT COALESCE(SUM(reserved_amount), 0)
		FROM reservations
		WHERE org_id = $1 AND status = $2`,
		orgID, models.ReservationStatusActive).Scan(&sum)
	if err != nil {
		return 0, Transient(err)
	}
	return sum, nil
}

// ledgerImpliedBalance is credits minus debits and charges over completed
// transactions. Reserve/release rows hold no balance weight. Reconciliation
// corrections are excluded: they document wallet repairs, and counting them
// would shift the authoritative total the wallet was just moved to.
func (s *ReconciliationService) ledgerImpliedBalance(tx *sql.Tx, orgID string) (int64, error) {
	var credits, debits, charges int64
	err := tx.QueryRow(`
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE type = $2), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = $3), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = $4), 0)
		FROM ledger_transactions
		WHERE org_id = $1 AND status = $5
		  AND metadata ->> 'reason' IS DISTINCT FROM 'reconciliation'`,
		orgID, models.TransactionTypeCredit, models.TransactionTypeDebit,
		models.TransactionTypeCharge, models.TransactionStatusCompleted).Scan(&credits, &debits, &charges)
	if err != nil {
		return 0, Transient(err)
	}
	return credits - debits - charges, nil
}
