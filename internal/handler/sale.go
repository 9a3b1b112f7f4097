// Package handler provides HTTP handlers for the sale settlement engine.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"nftsale/internal/domain"
	"nftsale/internal/middleware"
	"nftsale/internal/sale"
	pkgerrors "nftsale/pkg/errors"
	"nftsale/pkg/logger"
	"nftsale/pkg/validator"
)

// SaleHandler manages the listing, purchase, withdrawal and role endpoints.
type SaleHandler struct {
	service   *sale.Service
	validator *validator.Validator
	logger    logger.Logger
}

// NewSaleHandler creates a SaleHandler.
func NewSaleHandler(service *sale.Service, val *validator.Validator, log logger.Logger) *SaleHandler {
	return &SaleHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// Asset id zero is a valid key, so the id fields carry no "required" rule;
// the zero value is indistinguishable from an explicit 0.
type CreateListingRequest struct {
	AssetID   uint64          `json:"asset_id"`
	Quantity  uint64          `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type PurchaseRequest struct {
	AssetID  uint64 `json:"asset_id"`
	Quantity uint64 `json:"quantity" validate:"required,gt=0"`
}

type RoleRequest struct {
	Capability string    `json:"capability" validate:"required"`
	Principal  uuid.UUID `json:"principal" validate:"required"`
}

// CreateListing puts an asset on sale on behalf of the authenticated seller.
func (h *SaleHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req CreateListingRequest
	if !h.decode(w, r, &req) {
		return
	}

	caller, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.service.ListForSale(r.Context(), caller, req.AssetID, req.Quantity, req.UnitPrice); err != nil {
		h.respondServiceError(w, err)
		return
	}

	listing, err := h.service.GetListing(req.AssetID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, listing)
}

// Purchase settles a buy for the authenticated caller.
func (h *SaleHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}

	buyer, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	event, err := h.service.Purchase(r.Context(), buyer, req.AssetID, req.Quantity)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, event)
}

// WithdrawPlatformShare drains the platform balance to the caller.
func (h *SaleHandler) WithdrawPlatformShare(w http.ResponseWriter, r *http.Request) {
	h.withdraw(w, r, h.service.WithdrawPlatformShare)
}

// WithdrawPartnerShare drains the partner balance to the caller.
func (h *SaleHandler) WithdrawPartnerShare(w http.ResponseWriter, r *http.Request) {
	h.withdraw(w, r, h.service.WithdrawPartnerShare)
}

func (h *SaleHandler) withdraw(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, caller uuid.UUID) (decimal.Decimal, error)) {
	caller, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	amount, err := fn(r.Context(), caller)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

// GrantRole assigns a capability to a principal.
func (h *SaleHandler) GrantRole(w http.ResponseWriter, r *http.Request) {
	h.mutateRole(w, r, h.service.GrantRole)
}

// RevokeRole removes a capability from a principal.
func (h *SaleHandler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	h.mutateRole(w, r, h.service.RevokeRole)
}

func (h *SaleHandler) mutateRole(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, caller uuid.UUID, capability domain.Capability, principal uuid.UUID) error) {
	var req RoleRequest
	if !h.decode(w, r, &req) {
		return
	}

	caller, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := fn(r.Context(), caller, domain.Capability(req.Capability), req.Principal); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetListing returns the active listing for an asset id.
func (h *SaleHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	assetID, err := strconv.ParseUint(vars["assetID"], 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid asset ID")
		return
	}

	listing, err := h.service.GetListing(assetID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, listing)
}

// GetShareConfig returns the immutable revenue split.
func (h *SaleHandler) GetShareConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.ShareConfig()
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cfg)
}

// GetBalances returns the withdrawable platform and partner totals.
func (h *SaleHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	platformOwed, partnerOwed := h.service.WithdrawableBalances()
	h.respondJSON(w, http.StatusOK, map[string]string{
		"platform_owed": platformOwed.String(),
		"partner_owed":  partnerOwed.String(),
	})
}

// HasCapability reports role membership for a principal.
func (h *SaleHandler) HasCapability(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	capability := domain.Capability(vars["capability"])
	if !capability.Valid() {
		h.respondError(w, http.StatusBadRequest, "Unknown capability")
		return
	}
	principal, err := uuid.Parse(vars["principal"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid principal")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]bool{
		"has_capability": h.service.HasCapability(capability, principal),
	})
}

func (h *SaleHandler) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(req); err != nil {
		if errors.Is(err, io.EOF) {
			h.respondError(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}

	if err := h.validator.Validate(req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *SaleHandler) respondServiceError(w http.ResponseWriter, err error) {
	h.respondError(w, statusForError(err), err.Error())
}

// statusForError maps engine error kinds to HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, pkgerrors.ErrNotListed):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, pkgerrors.ErrInsufficientFunds),
		errors.Is(err, pkgerrors.ErrInsufficientAllowance):
		return http.StatusPaymentRequired
	case errors.Is(err, pkgerrors.ErrInsufficientListedQuantity),
		errors.Is(err, pkgerrors.ErrNothingToWithdraw),
		errors.Is(err, pkgerrors.ErrAssetNotOwned),
		errors.Is(err, pkgerrors.ErrAssetNotApproved):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func (h *SaleHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *SaleHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
