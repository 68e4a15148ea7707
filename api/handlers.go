/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes the commission ledger and payout engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Affiliates:
    GET    /api/affiliates               List all affiliates
    POST   /api/affiliates               Register affiliate
    GET    /api/affiliates/{id}          Get affiliate details
    GET    /api/affiliates/{id}/summary  Derived earnings summary

  Commissions:
    POST   /api/sales                          Record a sale (creates commission)
    GET    /api/commissions                    List (filter: affiliate_id, state, flagged)
    GET    /api/commissions/{id}               Get one commission
    POST   /api/commissions/{id}/approve       Operator approval
    POST   /api/commissions/{id}/reject        Operator rejection
    POST   /api/commissions/{id}/request-info  Attach review note
    POST   /api/commissions/{id}/reverse       Refund-driven reversal

  Payouts:
    POST   /api/payouts/run       Execute a payout batch
    GET    /api/payouts           List batches
    GET    /api/payouts/{id}      Get one batch

  Rules:
    GET    /api/rules             Active rule set
    POST   /api/rules             Publish a new rule-set version

  Admin:
    POST   /api/admin/sweep       Trigger the auto-approval sweep manually

  Scenarios:
    GET    /api/scenarios         List demo scenarios
    POST   /api/scenarios/load    Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Affiliate or commission not found
  - 409: Invalid state transition, CAS conflict, expired grace window
  - 502: Payout rail failure (batch rolled back)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.
  The operator field on approve/reject is client-asserted.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/factory"
	"github.com/warp/commission-engine/payout"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       commission.TxStore
	Service     *commission.Service
	Batcher     *payout.Batcher
	RuleFactory *factory.RuleSetFactory
	Logger      *zap.Logger

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler wired to the given store and payout rail.
func NewHandler(store commission.TxStore, rail payout.Rail, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:       store,
		Service:     commission.NewService(store, logger),
		Batcher:     payout.NewBatcher(store, rail, logger),
		RuleFactory: factory.NewRuleSetFactory(),
		Logger:      logger,
	}
}

// =============================================================================
// AFFILIATE HANDLERS
// =============================================================================

// ListAffiliates returns all affiliates.
func (h *Handler) ListAffiliates(w http.ResponseWriter, r *http.Request) {
	affiliates, err := h.Store.ListAffiliates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list affiliates", err)
		return
	}

	dtos := make([]AffiliateDTO, len(affiliates))
	for i, a := range affiliates {
		dtos[i] = toAffiliateDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAffiliate returns a single affiliate.
func (h *Handler) GetAffiliate(w http.ResponseWriter, r *http.Request) {
	id := commission.AffiliateID(chi.URLParam(r, "id"))

	aff, err := h.Store.GetAffiliate(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get affiliate", err)
		return
	}
	writeJSON(w, http.StatusOK, toAffiliateDTO(*aff))
}

// CreateAffiliate registers a new affiliate.
func (h *Handler) CreateAffiliate(w http.ResponseWriter, r *http.Request) {
	var req CreateAffiliateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tier := commission.Tier(req.Tier)
	if !tier.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown tier", commission.ErrUnknownTier)
		return
	}
	method := commission.PayoutMethod(req.PayoutMethod)
	if req.PayoutMethod != "" && !method.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown payout method", nil)
		return
	}

	aff := commission.Affiliate{
		ID:                    commission.AffiliateID(req.ID),
		Name:                  req.Name,
		Email:                 req.Email,
		Tier:                  tier,
		PreferredPayoutMethod: method,
		CreatedAt:             time.Now().UTC(),
	}
	if aff.ID == "" {
		aff.ID = commission.NewAffiliateID()
	}

	if err := h.Store.SaveAffiliate(r.Context(), aff); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create affiliate", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAffiliateDTO(aff))
}

// GetSummary returns the derived earnings summary for an affiliate.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	id := commission.AffiliateID(chi.URLParam(r, "id"))

	summary, err := h.Service.Summary(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to compute summary", err)
		return
	}

	dto := SummaryDTO{
		AffiliateID:    string(summary.AffiliateID),
		LifetimeEarned: summary.LifetimeEarned.StringFixed(commission.CurrencyPrecision),
		PendingPayout:  summary.PendingPayout.StringFixed(commission.CurrencyPrecision),
	}
	if !summary.LastPayoutDate.IsZero() {
		dto.LastPayoutDate = strPtr(summary.LastPayoutDate.Format("2006-01-02"))
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// COMMISSION HANDLERS
// =============================================================================

// RecordSale records a referred sale and creates a commission record.
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req RecordSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.SaleAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid sale_amount", err)
		return
	}

	saleDate := time.Now().UTC()
	if req.SaleDate != "" {
		saleDate, err = time.Parse("2006-01-02", req.SaleDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid sale_date format (use YYYY-MM-DD)", err)
			return
		}
	}

	sale := commission.SaleEvent{
		AffiliateID: commission.AffiliateID(req.AffiliateID),
		Customer:    req.Customer,
		Product:     req.Product,
		SaleAmount:  amount,
		SaleDate:    saleDate,
		IsRenewal:   req.IsRenewal,
		HighRisk:    req.HighRisk,
	}

	id, err := h.Service.RecordSale(r.Context(), sale)
	if err != nil {
		writeDomainError(w, "Failed to record sale", err)
		return
	}

	writeJSON(w, http.StatusCreated, RecordSaleResponse{
		CommissionID: string(id),
		Skipped:      id == "",
	})
}

// ListCommissions returns commission records, optionally filtered.
// Query params: affiliate_id, state, flagged=true|false
func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	var filter commission.CommissionFilter

	if v := r.URL.Query().Get("affiliate_id"); v != "" {
		id := commission.AffiliateID(v)
		filter.AffiliateID = &id
	}
	if v := r.URL.Query().Get("state"); v != "" {
		state := commission.State(v)
		if !state.Valid() {
			writeError(w, http.StatusBadRequest, "Unknown state", nil)
			return
		}
		filter.State = &state
	}
	if v := r.URL.Query().Get("flagged"); v != "" {
		flagged := v == "true"
		filter.Flagged = &flagged
	}

	records, err := h.Store.ListCommissions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list commissions", err)
		return
	}

	dtos := make([]CommissionDTO, len(records))
	for i, c := range records {
		dtos[i] = toCommissionDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCommission returns a single commission record.
func (h *Handler) GetCommission(w http.ResponseWriter, r *http.Request) {
	id := commission.CommissionID(chi.URLParam(r, "id"))

	record, err := h.Store.GetCommission(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get commission", err)
		return
	}
	writeJSON(w, http.StatusOK, toCommissionDTO(*record))
}

// ApproveCommission applies an operator approval.
func (h *Handler) ApproveCommission(w http.ResponseWriter, r *http.Request) {
	id := commission.CommissionID(chi.URLParam(r, "id"))

	var req OperatorActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Operator == "" {
		writeError(w, http.StatusBadRequest, "operator is required", nil)
		return
	}

	if err := h.Service.Approve(r.Context(), id, req.Operator); err != nil {
		writeDomainError(w, "Failed to approve commission", err)
		return
	}
	h.respondWithCommission(w, r, id)
}

// RejectCommission applies an operator rejection.
func (h *Handler) RejectCommission(w http.ResponseWriter, r *http.Request) {
	id := commission.CommissionID(chi.URLParam(r, "id"))

	var req OperatorActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Operator == "" {
		writeError(w, http.StatusBadRequest, "operator is required", nil)
		return
	}

	if err := h.Service.Reject(r.Context(), id, req.Operator); err != nil {
		writeDomainError(w, "Failed to reject commission", err)
		return
	}
	h.respondWithCommission(w, r, id)
}

// RequestInfo attaches a review note to a flagged pending commission.
func (h *Handler) RequestInfo(w http.ResponseWriter, r *http.Request) {
	id := commission.CommissionID(chi.URLParam(r, "id"))

	var req ReviewNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Note == "" {
		writeError(w, http.StatusBadRequest, "note is required", nil)
		return
	}

	note := req.Note
	if req.Operator != "" {
		note = req.Operator + ": " + note
	}
	if err := h.Service.RequestMoreInfo(r.Context(), id, note); err != nil {
		writeDomainError(w, "Failed to attach review note", err)
		return
	}
	h.respondWithCommission(w, r, id)
}

// ReverseCommission applies the refund reversal policy.
func (h *Handler) ReverseCommission(w http.ResponseWriter, r *http.Request) {
	id := commission.CommissionID(chi.URLParam(r, "id"))

	var req ReverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	refundDate := time.Now().UTC()
	if req.RefundDate != "" {
		var err error
		refundDate, err = time.Parse("2006-01-02", req.RefundDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid refund_date format (use YYYY-MM-DD)", err)
			return
		}
	}

	if err := h.Service.Reverse(r.Context(), id, refundDate); err != nil {
		writeDomainError(w, "Failed to reverse commission", err)
		return
	}
	h.respondWithCommission(w, r, id)
}

func (h *Handler) respondWithCommission(w http.ResponseWriter, r *http.Request, id commission.CommissionID) {
	record, err := h.Store.GetCommission(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to load commission", err)
		return
	}
	writeJSON(w, http.StatusOK, toCommissionDTO(*record))
}

// =============================================================================
// PAYOUT HANDLERS
// =============================================================================

// RunBatch executes a payout run over all approved commissions.
func (h *Handler) RunBatch(w http.ResponseWriter, r *http.Request) {
	var req RunBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.IdempotencyKey == "" {
		writeError(w, http.StatusBadRequest, "idempotency_key is required", nil)
		return
	}

	method := commission.PayoutMethod(req.PayoutMethod)
	if !method.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown payout method", nil)
		return
	}

	asOf := time.Now().UTC()
	if req.AsOf != "" {
		var err error
		asOf, err = time.Parse("2006-01-02", req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
	}

	batch, err := h.Batcher.Run(r.Context(), method, asOf, req.IdempotencyKey)
	if err != nil {
		// Replayed run: the prior batch is returned, not an error to clients.
		if errors.Is(err, commission.ErrDuplicateBatchRun) && batch != nil {
			dto := toBatchDTO(*batch)
			dto.Replayed = true
			writeJSON(w, http.StatusOK, dto)
			return
		}
		if errors.Is(err, commission.ErrBatchPartialFailure) {
			writeError(w, http.StatusBadGateway, "Payout rail failure, batch rolled back", err)
			return
		}
		writeDomainError(w, "Failed to run payout batch", err)
		return
	}

	writeJSON(w, http.StatusCreated, toBatchDTO(*batch))
}

// ListBatches returns all payment batches.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.Store.ListBatches(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list batches", err)
		return
	}

	dtos := make([]BatchDTO, len(batches))
	for i, b := range batches {
		dtos[i] = toBatchDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBatch returns a single payment batch.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := commission.BatchID(chi.URLParam(r, "id"))

	batch, err := h.Store.GetBatch(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get batch", err)
		return
	}
	if batch == nil {
		writeError(w, http.StatusNotFound, "Batch not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(*batch))
}

// =============================================================================
// RULE SET HANDLERS
// =============================================================================

// GetRules returns the active rule set.
func (h *Handler) GetRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Store.ActiveRuleSet(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to load rule set", err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// CreateRules publishes a new rule-set version. Existing commissions keep
// their snapshotted terms; only future sales pick up the new version.
func (h *Handler) CreateRules(w http.ResponseWriter, r *http.Request) {
	var req RuleSetDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rules, err := h.RuleFactory.FromJSON(req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule set", err)
		return
	}

	if err := h.Store.SaveRuleSet(r.Context(), *rules); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rule set", err)
		return
	}
	writeJSON(w, http.StatusCreated, rules)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs the auto-approval sweep on demand.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	approved, err := h.Service.AutoApproveSweep(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"approved": approved})
}

// =============================================================================
// DTO CONVERSION
// =============================================================================

func toAffiliateDTO(a commission.Affiliate) AffiliateDTO {
	return AffiliateDTO{
		ID:           string(a.ID),
		Name:         a.Name,
		Email:        a.Email,
		Tier:         string(a.Tier),
		PayoutMethod: string(a.PreferredPayoutMethod),
		CreatedAt:    a.CreatedAt.Format(time.RFC3339),
	}
}

func toCommissionDTO(c commission.Commission) CommissionDTO {
	dto := CommissionDTO{
		ID:              string(c.ID),
		AffiliateID:     string(c.AffiliateID),
		SaleDate:        c.SaleDate.Format("2006-01-02"),
		Customer:        c.Customer,
		Product:         c.Product,
		SaleAmount:      c.SaleAmount.StringFixed(commission.CurrencyPrecision),
		Rate:            c.Rate.String(),
		Amount:          c.Amount.StringFixed(commission.CurrencyPrecision),
		State:           string(c.State),
		IsRecurring:     c.IsRecurring,
		ReviewReason:    c.ReviewReason,
		ReviewNotes:     c.ReviewNotes,
		RuleSetVersion:  c.RuleSetVersion,
		PayoutMethod:    string(c.PayoutMethod),
		PayoutReference: c.PayoutReference,
		CreatedAt:       c.CreatedAt.Format(time.RFC3339),
	}
	if !c.PaymentDate.IsZero() {
		dto.PaymentDate = strPtr(c.PaymentDate.Format("2006-01-02"))
	}
	if !c.ApprovedAt.IsZero() {
		dto.ApprovedAt = strPtr(c.ApprovedAt.Format(time.RFC3339))
	}
	if !c.ReversedAt.IsZero() {
		dto.ReversedAt = strPtr(c.ReversedAt.Format(time.RFC3339))
	}
	return dto
}

func toBatchDTO(b commission.PaymentBatch) BatchDTO {
	lines := make([]PayoutLineDTO, len(b.Lines))
	for i, l := range b.Lines {
		ids := make([]string, len(l.CommissionIDs))
		for j, id := range l.CommissionIDs {
			ids[j] = string(id)
		}
		lines[i] = PayoutLineDTO{
			AffiliateID:   string(l.AffiliateID),
			Amount:        l.Amount.StringFixed(commission.CurrencyPrecision),
			CommissionIDs: ids,
		}
	}
	return BatchDTO{
		ID:             string(b.ID),
		RunDate:        b.RunDate.Format("2006-01-02"),
		PayoutMethod:   string(b.PayoutMethod),
		Reference:      b.Reference,
		Status:         string(b.Status),
		IdempotencyKey: b.IdempotencyKey,
		Lines:          lines,
		TotalAmount:    b.TotalAmount.StringFixed(commission.CurrencyPrecision),
		CreatedAt:      b.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case commission.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case commission.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case commission.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func strPtr(s string) *string {
	return &s
}
