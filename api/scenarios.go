/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario registers affiliates and
	drives sales through the real engine entry points, so every record
	it produces went through the evaluator and lifecycle exactly as a
	production sale would. Scenarios never write commission rows directly.

AVAILABLE SCENARIOS:

	tier-basics:      Affiliates across all four tiers, flagged first sales
	recurring:        Subscription sales showing first-payment vs renewal rates
	payout-cycle:     Approvals, a payout batch, and a refund reversal

HOW SCENARIOS WORK:
 1. Register affiliates
 2. Record sales via the lifecycle service
 3. Resolve review flags via operator actions
 4. Optionally run a payout batch and a reversal

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "payout-cycle"}

NOTE:

	Scenarios append to the current store state, they do not reset it.
	Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Shared response helpers
  - server.go: Route wiring
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "tier-basics",
		Name:        "Tier Basics",
		Description: "Affiliates across all four tiers with first-sale review flags",
	},
	{
		ID:          "recurring",
		Name:        "Recurring Subscriptions",
		Description: "Subscription sales showing first-payment vs renewal rates",
	},
	{
		ID:          "payout-cycle",
		Name:        "Payout Cycle",
		Description: "Approvals, a payout batch run, and a refund reversal",
	},
}

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a demo scenario into the store.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	var err error
	switch req.ScenarioID {
	case "tier-basics":
		err = h.loadTierBasicsScenario(ctx)
	case "recurring":
		err = h.loadRecurringScenario(ctx)
	case "payout-cycle":
		err = h.loadPayoutCycleScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"loaded": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadTierBasicsScenario registers one affiliate per tier and records a
// first sale for each. Every sale lands flagged for first-sale review;
// two of them get resolved by an operator so the demo shows both pending
// and approved records.
func (h *Handler) loadTierBasicsScenario(ctx context.Context) error {
	saleDate := time.Now().UTC().AddDate(0, 0, -10)

	affiliates := []commission.Affiliate{
		{ID: "AFF-demo-bronze", Name: "Lucía Torres", Email: "lucia@example.com", Tier: commission.TierBronze, PreferredPayoutMethod: commission.PayoutTransfer},
		{ID: "AFF-demo-silver", Name: "Marco Rinaldi", Email: "marco@example.com", Tier: commission.TierSilver, PreferredPayoutMethod: commission.PayoutPayPal},
		{ID: "AFF-demo-gold", Name: "Priya Nair", Email: "priya@example.com", Tier: commission.TierGold, PreferredPayoutMethod: commission.PayoutStripe},
		{ID: "AFF-demo-platinum", Name: "Jonas Berg", Email: "jonas@example.com", Tier: commission.TierPlatinum, PreferredPayoutMethod: commission.PayoutWire},
	}
	for _, a := range affiliates {
		a.CreatedAt = time.Now().UTC()
		if err := h.Store.SaveAffiliate(ctx, a); err != nil {
			return err
		}
	}

	sales := []commission.SaleEvent{
		{AffiliateID: "AFF-demo-bronze", Customer: "acme-co", Product: "starter_plan", SaleAmount: commission.MustDecimal("120.00"), SaleDate: saleDate},
		{AffiliateID: "AFF-demo-silver", Customer: "globex", Product: "team_plan", SaleAmount: commission.MustDecimal("340.00"), SaleDate: saleDate},
		{AffiliateID: "AFF-demo-gold", Customer: "initech", Product: "business_plan", SaleAmount: commission.MustDecimal("780.50"), SaleDate: saleDate},
		{AffiliateID: "AFF-demo-platinum", Customer: "umbrella", Product: "enterprise_plan", SaleAmount: commission.MustDecimal("2400.00"), SaleDate: saleDate},
	}

	var ids []commission.CommissionID
	for _, sale := range sales {
		id, err := h.Service.RecordSale(ctx, sale)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	// Resolve two of the review flags so the demo shows both outcomes.
	if err := h.Service.Approve(ctx, ids[0], "demo-operator"); err != nil {
		return err
	}
	return h.Service.Approve(ctx, ids[1], "demo-operator")
}

// loadRecurringScenario shows the recurring rate schedule: the first
// subscription payment earns the first-payment rate, renewals earn the
// renewal rate.
func (h *Handler) loadRecurringScenario(ctx context.Context) error {
	aff := commission.Affiliate{
		ID:                    "AFF-demo-recurring",
		Name:                  "Sofía Méndez",
		Email:                 "sofia@example.com",
		Tier:                  commission.TierGold,
		PreferredPayoutMethod: commission.PayoutPayPal,
		CreatedAt:             time.Now().UTC(),
	}
	if err := h.Store.SaveAffiliate(ctx, aff); err != nil {
		return err
	}

	start := time.Now().UTC().AddDate(0, -3, 0)
	sales := []commission.SaleEvent{
		{AffiliateID: aff.ID, Customer: "hooli", Product: "saas_subscription", SaleAmount: commission.MustDecimal("99.00"), SaleDate: start, IsRenewal: true},
		{AffiliateID: aff.ID, Customer: "hooli", Product: "saas_subscription", SaleAmount: commission.MustDecimal("99.00"), SaleDate: start.AddDate(0, 1, 0), IsRenewal: true},
		{AffiliateID: aff.ID, Customer: "hooli", Product: "saas_subscription", SaleAmount: commission.MustDecimal("99.00"), SaleDate: start.AddDate(0, 2, 0), IsRenewal: true},
	}
	for _, sale := range sales {
		if _, err := h.Service.RecordSale(ctx, sale); err != nil {
			return err
		}
	}
	return nil
}

// loadPayoutCycleScenario walks the full money path: sales, operator
// approvals, a payout batch, then a refund that claws one commission back.
func (h *Handler) loadPayoutCycleScenario(ctx context.Context) error {
	aff := commission.Affiliate{
		ID:                    "AFF-demo-payout",
		Name:                  "Diego Fuentes",
		Email:                 "diego@example.com",
		Tier:                  commission.TierSilver,
		PreferredPayoutMethod: commission.PayoutTransfer,
		CreatedAt:             time.Now().UTC(),
	}
	if err := h.Store.SaveAffiliate(ctx, aff); err != nil {
		return err
	}

	saleDate := time.Now().UTC().AddDate(0, 0, -15)
	sales := []commission.SaleEvent{
		{AffiliateID: aff.ID, Customer: "stark-industries", Product: "pro_plan", SaleAmount: commission.MustDecimal("250.00"), SaleDate: saleDate},
		{AffiliateID: aff.ID, Customer: "wayne-corp", Product: "pro_plan", SaleAmount: commission.MustDecimal("310.00"), SaleDate: saleDate.AddDate(0, 0, 1)},
		{AffiliateID: aff.ID, Customer: "oscorp", Product: "team_plan", SaleAmount: commission.MustDecimal("180.00"), SaleDate: saleDate.AddDate(0, 0, 2)},
	}

	var ids []commission.CommissionID
	for _, sale := range sales {
		id, err := h.Service.RecordSale(ctx, sale)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	for _, id := range ids {
		if err := h.Service.Approve(ctx, id, "demo-operator"); err != nil {
			return err
		}
	}
	// The first sale also granted a first-customer bonus; approve it too so
	// the batch picks it up.
	pending, err := h.Store.ListCommissions(ctx, commission.CommissionFilter{})
	if err != nil {
		return err
	}
	for _, c := range pending {
		if c.AffiliateID == aff.ID && c.Product == commission.BonusProduct && c.State == commission.StatePendingValidation {
			if err := h.Service.Approve(ctx, c.ID, "demo-operator"); err != nil {
				return err
			}
		}
	}

	if _, err := h.Batcher.Run(ctx, commission.PayoutTransfer, time.Now().UTC(), "demo-payout-cycle-1"); err != nil {
		return err
	}

	// Refund inside the grace window reverses a paid commission.
	return h.Service.Reverse(ctx, ids[2], time.Now().UTC())
}
