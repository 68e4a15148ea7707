/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Affiliate:
    AffiliateDTO, CreateAffiliateRequest, SummaryDTO

  Commission:
    CommissionDTO, RecordSaleRequest, OperatorActionRequest,
    ReviewNoteRequest, ReverseRequest

  Payout:
    BatchDTO, PayoutLineDTO, RunBatchRequest

  Rules:
    RuleSetDTO (wraps factory.RuleSetJSON)

MONEY REPRESENTATION:
  All monetary amounts are serialized as decimal strings ("249.90"),
  never floats. Clients must not parse them into binary floating point
  if they intend to do arithmetic.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rules.go: RuleSetJSON type
*/
package api

import (
	"github.com/warp/commission-engine/factory"
)

// =============================================================================
// AFFILIATE TYPES
// =============================================================================

// AffiliateDTO represents an affiliate in API responses.
type AffiliateDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Tier         string `json:"tier"`
	PayoutMethod string `json:"preferred_payout_method"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// CreateAffiliateRequest is the request to register an affiliate.
type CreateAffiliateRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Tier         string `json:"tier"`
	PayoutMethod string `json:"preferred_payout_method"`
}

// SummaryDTO is the derived earnings view for one affiliate.
type SummaryDTO struct {
	AffiliateID    string  `json:"affiliate_id"`
	LifetimeEarned string  `json:"lifetime_earned"`
	PendingPayout  string  `json:"pending_payout"`
	LastPayoutDate *string `json:"last_payout_date,omitempty"`
}

// =============================================================================
// COMMISSION TYPES
// =============================================================================

// CommissionDTO represents a commission record in API responses.
type CommissionDTO struct {
	ID              string   `json:"id"`
	AffiliateID     string   `json:"affiliate_id"`
	SaleDate        string   `json:"sale_date"`
	Customer        string   `json:"customer"`
	Product         string   `json:"product"`
	SaleAmount      string   `json:"sale_amount"`
	Rate            string   `json:"rate"`
	Amount          string   `json:"amount"`
	State           string   `json:"state"`
	IsRecurring     bool     `json:"is_recurring"`
	ReviewReason    string   `json:"review_reason,omitempty"`
	ReviewNotes     []string `json:"review_notes,omitempty"`
	RuleSetVersion  int      `json:"rule_set_version"`
	PaymentDate     *string  `json:"payment_date,omitempty"`
	PayoutMethod    string   `json:"payout_method,omitempty"`
	PayoutReference string   `json:"payout_reference,omitempty"`
	ApprovedAt      *string  `json:"approved_at,omitempty"`
	ReversedAt      *string  `json:"reversed_at,omitempty"`
	CreatedAt       string   `json:"created_at,omitempty"`
}

// RecordSaleRequest is the request to record a sale for commission.
type RecordSaleRequest struct {
	AffiliateID string `json:"affiliate_id"`
	Customer    string `json:"customer"`
	Product     string `json:"product"`
	SaleAmount  string `json:"sale_amount"`
	SaleDate    string `json:"sale_date,omitempty"`
	IsRenewal   bool   `json:"is_renewal"`
	HighRisk    bool   `json:"high_risk"`
}

// RecordSaleResponse reports the outcome of a recorded sale.
type RecordSaleResponse struct {
	CommissionID string `json:"commission_id,omitempty"`
	Skipped      bool   `json:"skipped"`
}

// OperatorActionRequest carries the operator identity for approve/reject.
type OperatorActionRequest struct {
	Operator string `json:"operator"`
}

// ReviewNoteRequest attaches a note to a commission under review.
type ReviewNoteRequest struct {
	Operator string `json:"operator"`
	Note     string `json:"note"`
}

// ReverseRequest triggers a refund-driven reversal.
type ReverseRequest struct {
	RefundDate string `json:"refund_date"`
}

// =============================================================================
// PAYOUT TYPES
// =============================================================================

// PayoutLineDTO is one affiliate's line within a payment batch.
type PayoutLineDTO struct {
	AffiliateID   string   `json:"affiliate_id"`
	Amount        string   `json:"amount"`
	CommissionIDs []string `json:"commission_ids"`
}

// BatchDTO represents a payment batch in API responses.
type BatchDTO struct {
	ID             string          `json:"id"`
	RunDate        string          `json:"run_date"`
	PayoutMethod   string          `json:"payout_method"`
	Reference      string          `json:"reference"`
	Status         string          `json:"status"`
	IdempotencyKey string          `json:"idempotency_key"`
	Lines          []PayoutLineDTO `json:"lines"`
	TotalAmount    string          `json:"total_amount"`
	Replayed       bool            `json:"replayed,omitempty"`
	CreatedAt      string          `json:"created_at,omitempty"`
}

// RunBatchRequest is the request to execute a payout run.
type RunBatchRequest struct {
	PayoutMethod   string `json:"payout_method"`
	AsOf           string `json:"as_of,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// =============================================================================
// RULE SET TYPES
// =============================================================================

// RuleSetDTO wraps a rule-set configuration for create/read.
type RuleSetDTO struct {
	Config factory.RuleSetJSON `json:"config"`
}

// =============================================================================
// MISC
// =============================================================================

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a demo scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}
