package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/botmeter/backend/internal/models"
	"github.com/botmeter/backend/internal/services"
)

type BillingHandler struct {
	billing    *services.BillingService
	wallets    *services.WalletService
	ledger     *services.LedgerService
	reconciler *services.ReconciliationService
	validator  *services.ValidationHelper
}

func NewBillingHandler(billing *services.BillingService, wallets *services.WalletService,
	ledger *services.LedgerService, reconciler *services.ReconciliationService) *BillingHandler {
	return &BillingHandler{
		billing:    billing,
		wallets:    wallets,
		ledger:     ledger,
		reconciler: reconciler,
		validator:  services.NewValidationHelper(),
	}
}

// GetBalance returns an org's balance snapshot
// @Summary Get wallet balance
// @Description Retrieve balance, reserved and available credits for an organization
// @Tags billing
// @Produce json
// @Security BearerAuth
// @Param orgId query string true "Organization ID"
// @Success 200 {object} models.WalletBalance
// @Failure 404 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /billing/balance [get]
func (h *BillingHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	orgID := strings.TrimSpace(r.URL.Query().Get("orgId"))
	if orgID == "" {
		services.SendErrorResponse(w, "orgId is required", http.StatusBadRequest, nil)
		return
	}

	balance, err := h.wallets.GetBalance(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, services.ErrWalletNotFound) {
			services.SendErrorResponse(w, "Wallet not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[BILLING_API] Balance lookup failed for org %s: %v", orgID, err)
		services.SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balance)
}

// BillUsage charges a message's token usage
// @Summary Bill a usage event
// @Description Charge an organization for one message's token usage. Idempotent per message_id.
// @Tags billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param event body models.UsageEvent true "Usage event"
// @Success 200 {object} services.BillingResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /billing/usage [post]
func (h *BillingHandler) BillUsage(w http.ResponseWriter, r *http.Request) {
	var event models.UsageEvent

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&event); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&event); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result := h.billing.BillUsageEvent(r.Context(), &event)
	if result.Err != nil {
		h.writeBillingError(w, event.OrgID, result.Err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// ListTransactions returns an org's ledger history
// @Summary List ledger transactions
// @Description Get an organization's billing history, newest first
// @Tags billing
// @Produce json
// @Security BearerAuth
// @Param orgId query string true "Organization ID"
// @Param limit query int false "Number of transactions to return (default: 50, max: 100)"
// @Param since query string false "RFC3339 lower bound on created_at"
// @Success 200 {object} object{transactions=[]models.LedgerTransaction,count=int}
// @Failure 400 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /billing/transactions [get]
func (h *BillingHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	orgID := strings.TrimSpace(r.URL.Query().Get("orgId"))
	if orgID == "" {
		services.SendErrorResponse(w, "orgId is required", http.StatusBadRequest, nil)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	var since *time.Time
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			services.SendErrorResponse(w, "since must be RFC3339", http.StatusBadRequest, nil)
			return
		}
		since = &parsed
	}

	transactions, err := h.ledger.ListForOrg(r.Context(), orgID, limit, since)
	if err != nil {
		log.Printf("[BILLING_API] Transaction list failed for org %s: %v", orgID, err)
		services.SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// TopUp credits an org's wallet
// @Summary Top up a wallet
// @Description Add credits to an organization's wallet
// @Tags billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{org_id=string,amount=int64} true "Top-up request"
// @Success 200 {object} models.WalletBalance
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /billing/topup [post]
func (h *BillingHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrgID    string          `json:"org_id" validate:"required"`
		Amount   int64           `json:"amount" validate:"required,gt=0"`
		Metadata models.Metadata `json:"metadata,omitempty"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	metadata := models.Metadata{"reason": "topup"}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	wallet, err := h.wallets.Credit(r.Context(), req.OrgID, req.Amount, metadata)
	if err != nil {
		if errors.Is(err, services.ErrWalletNotFound) {
			services.SendErrorResponse(w, "Wallet not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[BILLING_API] Top-up failed for org %s: %v", req.OrgID, err)
		services.SendErrorResponse(w, "Failed to top up wallet", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.WalletBalance{
		OrgID:     wallet.OrgID,
		Balance:   wallet.Balance,
		Reserved:  wallet.Reserved,
		Available: wallet.Available(),
	})
}

// Reconcile runs an on-demand reconciliation pass
// @Summary Reconcile a wallet
// @Description Compare the wallet against ledger history and open reservations; repair drift
// @Tags billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{org_id=string} true "Reconcile request"
// @Success 200 {object} models.ReconciliationReport
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /billing/reconcile [post]
func (h *BillingHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrgID string `json:"org_id" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	report, err := h.reconciler.Reconcile(r.Context(), req.OrgID)
	if err != nil {
		if errors.Is(err, services.ErrWalletNotFound) {
			services.SendErrorResponse(w, "Wallet not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[BILLING_API] Reconciliation failed for org %s: %v", req.OrgID, err)
		services.SendErrorResponse(w, "Reconciliation failed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// writeBillingError maps billing error kinds onto HTTP statuses so callers
// can distinguish "add credits" from "try again later".
func (h *BillingHandler) writeBillingError(w http.ResponseWriter, orgID string, err error) {
	switch {
	case errors.Is(err, services.ErrInsufficientFunds):
		services.SendErrorResponse(w, "Insufficient credits", http.StatusPaymentRequired, nil)
	case errors.Is(err, services.ErrCircuitOpen):
		services.SendErrorResponse(w, "Billing temporarily unavailable", http.StatusServiceUnavailable, nil)
	case errors.Is(err, services.ErrWalletNotFound):
		services.SendErrorResponse(w, "Wallet not found", http.StatusNotFound, nil)
	default:
		log.Printf("[BILLING_API] Billing failed for org %s: %v", orgID, err)
		services.SendErrorResponse(w, "Billing failed", http.StatusInternalServerError, nil)
	}
}
