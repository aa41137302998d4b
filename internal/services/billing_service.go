package services

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/botmeter/backend/internal/config"
	"github.com/botmeter/backend/internal/models"
)

// BillingService is the top-level entry point for charging usage. It owns
// the estimate -> reserve -> capture -> record flow plus the retry policy
// and per-org circuit breaker around it.
type BillingService struct {
	db           *sql.DB
	wallets      *WalletService
	reservations *ReservationService
	ledger       *LedgerService
	calc         *CreditCalculator
	breaker      *CircuitBreaker
	retry        RetryPolicy
	notifier     Notifier
	audit        *AuditLogger
	lowBalance   int64
}

// BillingResult is the outcome surfaced to message-send paths. Err
// distinguishes "add credits" (ErrInsufficientFunds) from "try again later"
// (circuit open, transient store failures).
type BillingResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	NewBalance    int64  `json:"new_balance"`
	Err           error  `json:"-"`
}

func NewBillingService(db *sql.DB, wallets *WalletService, reservations *ReservationService,
	ledger *LedgerService, calc *CreditCalculator, notifier Notifier, cfg *config.BillingConfig) *BillingService {
	return &BillingService{
		db:           db,
		wallets:      wallets,
		reservations: reservations,
		ledger:       ledger,
		calc:         calc,
		breaker:      NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, nil),
		retry:        NewRetryPolicy(cfg.MaxRetryAttempts, cfg.RetryBackoffBase),
		notifier:     notifier,
		audit:        NewAuditLogger(),
		lowBalance:   cfg.LowBalanceThreshold,
	}
}

// SmartBilling pre-authorizes the estimated amount, resolves the actual cost
// and captures it. PreAuthorize failures on insufficient funds are final;
// transient store failures are retried with backoff. A failed capture always
// releases the reservation before the error is surfaced.
func (s *BillingService) SmartBilling(ctx context.Context, orgID string, estimatedAmount int64,
	actualAmountFn func() (int64, error), usageDetails, metadata models.Metadata) BillingResult {

	if !s.breaker.Allow(orgID) {
		return BillingResult{Err: ErrCircuitOpen}
	}

	var reservation *models.Reservation
	err := s.retry.Do(ctx, func() error {
		var opErr error
		reservation, opErr = s.reservations.PreAuthorize(ctx, orgID, estimatedAmount, metadata)
		return opErr
	})
	if err != nil {
		return s.fail(ctx, orgID, "", err)
	}

	actualAmount, err := actualAmountFn()
	if err != nil {
		s.releaseQuietly(ctx, reservation.ID)
		return s.fail(ctx, orgID, reservation.ID, Transient(err))
	}

	var charge *models.LedgerTransaction
	err = s.retry.Do(ctx, func() error {
		var opErr error
		charge, opErr = s.reservations.Capture(ctx, reservation.ID, actualAmount, usageDetails)
		return opErr
	})
	if err != nil {
		s.releaseQuietly(ctx, reservation.ID)
		return s.fail(ctx, orgID, reservation.ID, err)
	}

	s.breaker.Reset(orgID)

	result := BillingResult{
		Success:       true,
		TransactionID: charge.ID,
	}

	balance, err := s.wallets.GetBalance(ctx, orgID)
	if err != nil {
		log.Printf("[BILLING] Post-capture balance read failed for org %s: %v", orgID, err)
		return result
	}

	result.NewBalance = balance.Balance
	if balance.Available < s.lowBalance {
		s.notifier.Notify(ctx, BillingEvent{
			Type:     EventLowBalance,
			OrgID:    orgID,
			Severity: "warning",
			Data: map[string]any{
				"balance":   balance.Balance,
				"available": balance.Available,
				"threshold": s.lowBalance,
			},
		})
	}
	return result
}

// BillUsageEvent charges one message's token usage, guarded by the
// per-message billing status so invoking it twice for the same message_id
// produces exactly one charge.
func (s *BillingService) BillUsageEvent(ctx context.Context, event *models.UsageEvent) BillingResult {
	if event.Direction == "inbound" {
		// Only outbound messages bill.
		if err := s.claimOrSkip(ctx, event, models.MessageBillingSkipped); err != nil {
			return BillingResult{Err: err}
		}
		return BillingResult{Success: true}
	}

	claimed, priorStatus, err := s.claimMessage(ctx, event)
	if err != nil {
		return BillingResult{Err: err}
	}
	if !claimed {
		return s.priorOutcome(ctx, event.OrgID, priorStatus)
	}

	if _, err := s.wallets.CreateWallet(ctx, event.OrgID); err != nil {
		s.setMessageStatus(ctx, event.MessageID, models.MessageBillingErrored)
		return BillingResult{Err: err}
	}

	credits := s.calc.CreditsForUsage(event.InputTokens, event.OutputTokens, event.ContentLength)

	usageDetails := models.Metadata{
		"message_id":    event.MessageID,
		"agent_id":      event.AgentID,
		"channel":       event.Channel,
		"input_tokens":  event.InputTokens,
		"output_tokens": event.OutputTokens,
	}
	metadata := models.Metadata{"message_id": event.MessageID}
	for k, v := range event.Metadata {
		metadata[k] = v
	}

	result := s.SmartBilling(ctx, event.OrgID, credits,
		func() (int64, error) { return credits, nil },
		usageDetails, metadata)

	s.setMessageStatus(ctx, event.MessageID, billingStatusFor(result))
	return result
}

func billingStatusFor(result BillingResult) string {
	switch {
	case result.Success:
		return models.MessageBillingDebited
	case errors.Is(result.Err, ErrInsufficientFunds):
		return models.MessageBillingRefused
	case errors.Is(result.Err, ErrCircuitOpen) || IsTransient(result.Err):
		return models.MessageBillingErrored
	default:
		return models.MessageBillingFailed
	}
}

// claimMessage marks the message pending before billing runs. Returns
// claimed=false with the existing status when another invocation got there
// first. Messages that previously errored may be re-claimed.
func (s *BillingService) claimMessage(ctx context.Context, event *models.UsageEvent) (bool, string, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO message_billing (message_id, org_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (message_id) DO NOTHING`,
		event.MessageID, event.OrgID, models.MessageBillingPending)
	if err != nil {
		return false, "", Transient(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, "", Transient(err)
	}
	if rowsAffected > 0 {
		return true, "", nil
	}

	var status string
	err = s.db.QueryRowContext(ctx,
		`SELECT status FROM message_billing WHERE message_id = $1`,
		event.MessageID).Scan(&status)
	if err != nil {
		return false, "", Transient(err)
	}

	if status == models.MessageBillingFailed || status == models.MessageBillingErrored {
		reclaim, err := s.db.ExecContext(ctx, `
			UPDATE message_billing
			SET status = $1, updated_at = NOW()
			WHERE message_id = $2 AND status IN ($3, $4)`,
			models.MessageBillingPending, event.MessageID,
			models.MessageBillingFailed, models.MessageBillingErrored)
		if err != nil {
			return false, status, Transient(err)
		}
		if n, _ := reclaim.RowsAffected(); n > 0 {
			return true, "", nil
		}
	}

	return false, status, nil
}

func (s *BillingService) claimOrSkip(ctx context.Context, event *models.UsageEvent, status string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_billing (message_id, org_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (message_id) DO NOTHING`,
		event.MessageID, event.OrgID, status)
	if err != nil {
		return Transient(err)
	}
	return nil
}

// priorOutcome maps an already-recorded message status onto a result, so a
// duplicate invocation reports what actually happened the first time.
func (s *BillingService) priorOutcome(ctx context.Context, orgID, status string) BillingResult {
	switch status {
	case models.MessageBillingDebited, models.MessageBillingSkipped:
		result := BillingResult{Success: true}
		if balance, err := s.wallets.GetBalance(ctx, orgID); err == nil {
			result.NewBalance = balance.Balance
		}
		return result
	case models.MessageBillingRefused:
		return BillingResult{Err: ErrInsufficientFunds}
	default:
		// pending: another invocation is mid-flight.
		return BillingResult{}
	}
}

func (s *BillingService) setMessageStatus(ctx context.Context, messageID, status string) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE message_billing
		SET status = $1, updated_at = NOW()
		WHERE message_id = $2`,
		status, messageID)
	if err != nil {
		log.Printf("[BILLING] Failed to set message %s status to %s: %v", messageID, status, err)
	}
}

func (s *BillingService) releaseQuietly(ctx context.Context, reservationID string) {
	if err := s.reservations.Release(ctx, reservationID); err != nil {
		log.Printf("[BILLING] Failed to release reservation %s: %v", reservationID, err)
	}
}

// fail records a transient failure with the circuit breaker and emits the
// corresponding events. Business failures (insufficient funds, not found)
// never trip the breaker: retrying them cannot help.
func (s *BillingService) fail(ctx context.Context, orgID, reservationID string, err error) BillingResult {
	s.audit.LogError(reservationID, orgID, err)

	if IsTransient(err) {
		if opened := s.breaker.RecordFailure(orgID); opened {
			s.notifier.Notify(ctx, BillingEvent{
				Type:     EventCircuitOpened,
				OrgID:    orgID,
				Severity: "critical",
				Data:     map[string]any{"last_error": err.Error()},
			})
		}
	}

	if !errors.Is(err, ErrInsufficientFunds) {
		s.notifier.Notify(ctx, BillingEvent{
			Type:     EventBillingFailed,
			OrgID:    orgID,
			Severity: "error",
			Data:     map[string]any{"error": err.Error()},
		})
	}

	return BillingResult{Err: err}
}
