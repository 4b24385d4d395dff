/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's API endpoints.
 * Handlers parse the request, resolve the authenticated caller to a customer
 * record, call the application service and map its errors onto status codes.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - gopkg.in/validator.v2: Request payload validation.
 * - internal/app, internal/domain, internal/store: Service logic, models and lookup errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"gopkg.in/validator.v2"
)

const (
	defaultTransactionsLimit = 50
	maxTransactionsLimit     = 500
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service *app.Service
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{service: service}
}

// TransferHandler moves funds between two accounts on behalf of the caller.
func (h *LedgerHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}

	var req domain.TransferRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	req.InitiatorID = caller.ID

	if !caller.HasRole(domain.RoleStaff) {
		source, err := h.service.FindAccount(r.Context(), req.FromAccountNumber)
		if err != nil {
			h.writeServiceError(w, "transfer", err)
			return
		}
		if source.CustomerID != caller.ID {
			log.Printf("level=warn component=api endpoint=transfer outcome=reject reason=not_owner customer_id=%d from=%d", caller.ID, req.FromAccountNumber)
			h.writeError(w, http.StatusForbidden, "You can only transfer from your own accounts")
			return
		}
	}

	receipt, err := h.service.Transfer(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "transfer", err)
		return
	}
	h.writeJSON(w, http.StatusOK, receipt)
}

// ApproveAccountHandler records a staff decision on an account.
func (h *LedgerHandlers) ApproveAccountHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}
	accountNumber, ok := h.int64Param(w, r, "accountNumber")
	if !ok {
		return
	}

	var req domain.ApprovalRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.service.ApproveAccount(r.Context(), accountNumber, req.Decision, caller.ID)
	if err != nil {
		h.writeServiceError(w, "approve_account", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// OpenAccountHandler opens a Pending account for the customer in the path.
func (h *LedgerHandlers) OpenAccountHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.authorizeCustomer(w, r)
	if !ok {
		return
	}

	var req domain.OpenAccountRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	req.CustomerID = customerID

	account, err := h.service.OpenAccount(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "open_account", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, account)
}

// InternalOpenAccountHandler opens an account for the customer named in the body.
func (h *LedgerHandlers) InternalOpenAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.OpenAccountRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if req.CustomerID <= 0 {
		h.writeError(w, http.StatusBadRequest, "customer_id is required")
		return
	}

	account, err := h.service.OpenAccount(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "internal_open_account", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, account)
}

// ListAccountsHandler lists the customer's accounts.
func (h *LedgerHandlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.authorizeCustomer(w, r)
	if !ok {
		return
	}

	accounts, err := h.service.ListCustomerAccounts(r.Context(), customerID)
	if err != nil {
		h.writeServiceError(w, "list_accounts", err)
		return
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	h.writeJSON(w, http.StatusOK, accounts)
}

// GetAccountHandler returns one account with its entries.
func (h *LedgerHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.authorizeCustomer(w, r)
	if !ok {
		return
	}
	accountNumber, ok := h.int64Param(w, r, "accountNumber")
	if !ok {
		return
	}

	account, err := h.service.GetCustomerAccount(r.Context(), customerID, accountNumber)
	if err != nil {
		h.writeServiceError(w, "get_account", err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// ListTransactionsHandler returns the newest entries of one of the customer's accounts.
func (h *LedgerHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.authorizeCustomer(w, r)
	if !ok {
		return
	}
	accountNumber, ok := h.int64Param(w, r, "accountNumber")
	if !ok {
		return
	}

	limit := defaultTransactionsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxTransactionsLimit)
	}

	account, err := h.service.FindAccount(r.Context(), accountNumber)
	if err != nil {
		h.writeServiceError(w, "list_transactions", err)
		return
	}
	if account.CustomerID != customerID {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("account number %d for customer %d: account not found", accountNumber, customerID))
		return
	}

	entries, err := h.service.ListAccountTransactions(r.Context(), accountNumber, limit)
	if err != nil {
		h.writeServiceError(w, "list_transactions", err)
		return
	}
	if entries == nil {
		entries = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// AddBeneficiaryHandler registers a beneficiary for the customer.
func (h *LedgerHandlers) AddBeneficiaryHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.authorizeCustomer(w, r)
	if !ok {
		return
	}

	var req domain.AddBeneficiaryRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	beneficiary, err := h.service.AddBeneficiary(r.Context(), customerID, req.AccountNumber)
	if err != nil {
		h.writeServiceError(w, "add_beneficiary", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, beneficiary)
}

// ListBeneficiariesHandler lists the customer's beneficiaries.
func (h *LedgerHandlers) ListBeneficiariesHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.authorizeCustomer(w, r)
	if !ok {
		return
	}

	beneficiaries, err := h.service.ListBeneficiaries(r.Context(), customerID)
	if err != nil {
		h.writeServiceError(w, "list_beneficiaries", err)
		return
	}
	h.writeJSON(w, http.StatusOK, beneficiaries)
}

// RemoveBeneficiaryHandler deletes one of the customer's beneficiaries.
func (h *LedgerHandlers) RemoveBeneficiaryHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.authorizeCustomer(w, r)
	if !ok {
		return
	}
	beneficiaryID, ok := h.int64Param(w, r, "beneficiaryID")
	if !ok {
		return
	}

	removed, err := h.service.RemoveBeneficiary(r.Context(), customerID, beneficiaryID)
	if err != nil {
		h.writeServiceError(w, "remove_beneficiary", err)
		return
	}
	if !removed {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Unable to remove beneficiary"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Beneficiary deleted successfully"})
}

// resolveCaller maps the token subject onto a customer record. Numeric
// subjects are customer IDs; anything else is treated as a username.
func (h *LedgerHandlers) resolveCaller(w http.ResponseWriter, r *http.Request) (*domain.Customer, bool) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return nil, false
	}

	var (
		customer *domain.Customer
		err      error
	)
	if id, parseErr := strconv.ParseInt(principal.Subject, 10, 64); parseErr == nil {
		customer, err = h.service.FindCustomer(r.Context(), id)
	} else {
		customer, err = h.service.FindCustomerByUsername(r.Context(), principal.Subject)
	}
	if err != nil {
		if store.IsNotFound(err) {
			log.Printf("level=warn component=api outcome=reject reason=caller_not_found subject=%s", principal.Subject)
			h.writeError(w, http.StatusUnauthorized, "Caller is not a known customer")
			return nil, false
		}
		log.Printf("level=error component=api msg=\"caller resolution failed\" subject=%s err=%v", principal.Subject, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to resolve caller")
		return nil, false
	}
	return customer, true
}

// authorizeCustomer lets customers act on their own records and staff act on anyone's.
func (h *LedgerHandlers) authorizeCustomer(w http.ResponseWriter, r *http.Request) (int64, bool) {
	caller, ok := h.resolveCaller(w, r)
	if !ok {
		return 0, false
	}
	customerID, ok := h.int64Param(w, r, "customerID")
	if !ok {
		return 0, false
	}
	if caller.ID != customerID && !caller.HasRole(domain.RoleStaff) {
		h.writeError(w, http.StatusForbidden, "Forbidden")
		return 0, false
	}
	return customerID, true
}

func (h *LedgerHandlers) int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	value, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || value <= 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return value, true
}

func (h *LedgerHandlers) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := validator.Validate(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// writeServiceError maps service errors onto HTTP responses. Business and
// lookup errors already name the offending account or customer, so their
// text is returned as-is.
func (h *LedgerHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	var rateErr *app.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		h.writeError(w, http.StatusTooManyRequests, "Too many transfer attempts. Please try again later.")
	case store.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrInsufficientFunds):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrTransferNotPermitted),
		errors.Is(err, app.ErrApproverNotStaff):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrDuplicateBeneficiary):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrSelfTransfer),
		errors.Is(err, app.ErrInvalidAccountType):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"request failed\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
