package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/botmeter/backend/internal/models"
)

func newWalletServiceForTest(t *testing.T) (*WalletService, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	ledger := NewLedgerService(db)
	service := NewWalletService(db, ledger, 1000)
	return service, mock, func() { db.Close() }
}

func TestWalletService_GetBalance(t *testing.T) {
	service, mock, cleanup := newWalletServiceForTest(t)
	defer cleanup()

	t.Run("existing wallet", func(t *testing.T) {
		mock.ExpectQuery("SELECT org_id, balance, reserved FROM wallets WHERE org_id = \\$1").
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"org_id", "balance", "reserved"}).
				AddRow("org-1", 1000, 300))

		balance, err := service.GetBalance(context.Background(), "org-1")
		assert.NoError(t, err)
		assert.Equal(t, int64(1000), balance.Balance)
		assert.Equal(t, int64(300), balance.Reserved)
		assert.Equal(t, int64(700), balance.Available)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing wallet", func(t *testing.T) {
		mock.ExpectQuery("SELECT org_id, balance, reserved FROM wallets WHERE org_id = \\$1").
			WithArgs("org-missing").
			WillReturnRows(sqlmock.NewRows([]string{"org_id", "balance", "reserved"}))

		_, err := service.GetBalance(context.Background(), "org-missing")
		assert.ErrorIs(t, err, ErrWalletNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletService_CreateWallet(t *testing.T) {
	service, mock, cleanup := newWalletServiceForTest(t)
	defer cleanup()

	t.Run("fresh wallet records starting credit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO wallets").
			WithArgs("org-new", int64(1000)).
			WillReturnRows(sqlmock.NewRows([]string{"org_id", "balance", "reserved", "version", "created_at", "updated_at"}).
				AddRow("org-new", 1000, 0, 1, time.Now(), time.Now()))
		mock.ExpectExec("INSERT INTO ledger_transactions").
			WithArgs(sqlmock.AnyArg(), "org-new", models.TransactionTypeCredit, int64(1000),
				models.TransactionStatusCompleted, nil, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		wallet, err := service.CreateWallet(context.Background(), "org-new")
		assert.NoError(t, err)
		assert.Equal(t, int64(1000), wallet.Balance)
		assert.Equal(t, int64(0), wallet.Reserved)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("existing wallet returned unchanged", func(t *testing.T) {
		mock.ExpectBegin()
		// ON CONFLICT DO NOTHING returns no row for an existing wallet.
		mock.ExpectQuery("INSERT INTO wallets").
			WithArgs("org-1", int64(1000)).
			WillReturnRows(sqlmock.NewRows([]string{"org_id", "balance", "reserved", "version", "created_at", "updated_at"}))
		mock.ExpectQuery("SELECT org_id, balance, reserved, version, created_at, updated_at FROM wallets WHERE org_id = \\$1").
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"org_id", "balance", "reserved", "version", "created_at", "updated_at"}).
				AddRow("org-1", 450, 50, 7, time.Now(), time.Now()))
		mock.ExpectCommit()

		wallet, err := service.CreateWallet(context.Background(), "org-1")
		assert.NoError(t, err)
		assert.Equal(t, int64(450), wallet.Balance)
		assert.Equal(t, 7, wallet.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletService_Credit(t *testing.T) {
	service, mock, cleanup := newWalletServiceForTest(t)
	defer cleanup()

	t.Run("top-up debits nothing and records credit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT org_id, balance, reserved, version, updated_at FROM wallets WHERE org_id = \\$1 FOR UPDATE").
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"org_id", "balance", "reserved", "version", "updated_at"}).
				AddRow("org-1", 100, 0, 3, time.Now()))
		mock.ExpectExec("UPDATE wallets SET balance = \\$1, reserved = \\$2, version = version \\+ 1, updated_at = \\$3 WHERE org_id = \\$4 AND version = \\$5").
			WithArgs(int64(600), int64(0), sqlmock.AnyArg(), "org-1", 3).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO ledger_transactions").
			WithArgs(sqlmock.AnyArg(), "org-1", models.TransactionTypeCredit, int64(500),
				models.TransactionStatusCompleted, nil, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		wallet, err := service.Credit(context.Background(), "org-1", 500, models.Metadata{"reason": "topup"})
		assert.NoError(t, err)
		assert.Equal(t, int64(600), wallet.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount rejected", func(t *testing.T) {
		_, err := service.Credit(context.Background(), "org-1", 0, nil)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletService_AdjustBalance(t *testing.T) {
	service, mock, cleanup := newWalletServiceForTest(t)
	defer cleanup()

	t.Run("debit below zero refused", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT org_id, balance, reserved, version, updated_at FROM wallets WHERE org_id = \\$1 FOR UPDATE").
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"org_id", "balance", "reserved", "version", "updated_at"}).
				AddRow("org-1", 30, 0, 1, time.Now()))
		mock.ExpectRollback()

		_, err := service.AdjustBalance(context.Background(), "org-1", -100)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("debit below reserved refused", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT org_id, balance, reserved, version, updated_at FROM wallets WHERE org_id = \\$1 FOR UPDATE").
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"org_id", "balance", "reserved", "version", "updated_at"}).
				AddRow("org-1", 100, 80, 1, time.Now()))
		mock.ExpectRollback()

		// Leaving 50 in the wallet would strand an 80 credit hold.
		_, err := service.AdjustBalance(context.Background(), "org-1", -50)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown wallet", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT org_id, balance, reserved, version, updated_at FROM wallets WHERE org_id = \\$1 FOR UPDATE").
			WithArgs("org-missing").
			WillReturnRows(sqlmock.NewRows([]string{"org_id", "balance", "reserved", "version", "updated_at"}))
		mock.ExpectRollback()

		_, err := service.AdjustBalance(context.Background(), "org-missing", 10)
		assert.ErrorIs(t, err, ErrWalletNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletService_AdjustReservedTx(t *testing.T) {
	service, mock, cleanup := newWalletServiceForTest(t)
	defer cleanup()

	t.Run("hold within available balance", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := service.db.Begin()

		mock.ExpectQuery("SELECT org_id, balance, reserved, version, updated_at FROM wallets WHERE org_id = \\$1 FOR UPDATE").
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"org_id", "balance", "reserved", "version", "updated_at"}).
				AddRow("org-1", 100, 20, 1, time.Now()))
		mock.ExpectExec("UPDATE wallets SET balance = \\$1, reserved = \\$2, version = version \\+ 1, updated_at = \\$3 WHERE org_id = \\$4 AND version = \\$5").
			WithArgs(int64(100), int64(80), sqlmock.AnyArg(), "org-1", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		wallet, err := service.AdjustReservedTx(tx, "org-1", 60)
		assert.NoError(t, err)
		assert.Equal(t, int64(80), wallet.Reserved)
		assert.Equal(t, int64(100), wallet.Balance)
	})

	t.Run("hold exceeding available balance refused", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := service.db.Begin()

		mock.ExpectQuery("SELECT org_id, balance, reserved, version, updated_at FROM wallets WHERE org_id = \\$1 FOR UPDATE").
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"org_id", "balance", "reserved", "version", "updated_at"}).
				AddRow("org-1", 100, 60, 1, time.Now()))

		_, err := service.AdjustReservedTx(tx, "org-1", 50)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})

	t.Run("release clamps reserved at zero", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := service.db.Begin()

		mock.ExpectQuery("SELECT org_id, balance, reserved, version, updated_at FROM wallets WHERE org_id = \\$1 FOR UPDATE").
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"org_id", "balance", "reserved", "version", "updated_at"}).
				AddRow("org-1", 100, 10, 1, time.Now()))
		mock.ExpectExec("UPDATE wallets SET balance = \\$1, reserved = \\$2, version = version \\+ 1, updated_at = \\$3 WHERE org_id = \\$4 AND version = \\$5").
			WithArgs(int64(100), int64(0), sqlmock.AnyArg(), "org-1", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		wallet, err := service.AdjustReservedTx(tx, "org-1", -25)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), wallet.Reserved)
	})
}

func TestWalletService_CaptureTx(t *testing.T) {
	service, mock, cleanup := newWalletServiceForTest(t)
	defer cleanup()

	t.Run("charge comes out of the hold", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := service.db.Begin()

		// Balance 100 with a 60 credit hold; actual charge is 45.
		mock.ExpectQuery("SELECT org_id, balance, reserved, version, updated_at FROM wallets WHERE org_id = \\$1 FOR UPDATE").
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"org_id", "balance", "reserved", "version", "updated_at"}).
				AddRow("org-1", 100, 60, 1, time.Now()))
		mock.ExpectExec("UPDATE wallets SET balance = \\$1, reserved = \\$2, version = version \\+ 1, updated_at = \\$3 WHERE org_id = \\$4 AND version = \\$5").
			WithArgs(int64(55), int64(0), sqlmock.AnyArg(), "org-1", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		wallet, err := service.CaptureTx(tx, "org-1", 45, 60)
		assert.NoError(t, err)
		assert.Equal(t, int64(55), wallet.Balance)
		assert.Equal(t, int64(0), wallet.Reserved)
	})

	t.Run("charge beyond balance refused", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := service.db.Begin()

		mock.ExpectQuery("SELECT org_id, balance, reserved, version, updated_at FROM wallets WHERE org_id = \\$1 FOR UPDATE").
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"org_id", "balance", "reserved", "version", "updated_at"}).
				AddRow("org-1", 40, 40, 1, time.Now()))

		_, err := service.CaptureTx(tx, "org-1", 50, 40)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})
}

func TestWalletService_updateWallet(t *testing.T) {
	service, mock, cleanup := newWalletServiceForTest(t)
	defer cleanup()

	t.Run("optimistic lock failure is transient", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := service.db.Begin()

		wallet := &models.Wallet{OrgID: "org-1", Balance: 100, Reserved: 0, Version: 3}
		mock.ExpectExec("UPDATE wallets SET balance = \\$1, reserved = \\$2, version = version \\+ 1, updated_at = \\$3 WHERE org_id = \\$4 AND version = \\$5").
			WithArgs(int64(90), int64(0), sqlmock.AnyArg(), "org-1", 3).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.updateWallet(tx, wallet, 90, 0)
		assert.Error(t, err)
		assert.True(t, IsTransient(err))
		assert.Contains(t, err.Error(), "optimistic lock failed")
	})

	t.Run("version bumps on success", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := service.db.Begin()

		wallet := &models.Wallet{OrgID: "org-1", Balance: 100, Reserved: 0, Version: 3}
		mock.ExpectExec("UPDATE wallets SET balance = \\$1, reserved = \\$2, version = version \\+ 1, updated_at = \\$3 WHERE org_id = \\$4 AND version = \\$5").
			WithArgs(int64(90), int64(0), sqlmock.AnyArg(), "org-1", 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := service.updateWallet(tx, wallet, 90, 0)
		assert.NoError(t, err)
		assert.Equal(t, 4, wallet.Version)
	})
}
