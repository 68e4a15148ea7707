/*
evaluator_test.go - Specification tests for commission evaluation

PURPOSE:
  These tests serve as EXECUTABLE SPECIFICATIONS of the evaluator.
  Each test documents one rate rule and validates that the
  implementation conforms to it.

ORGANIZATION:
  1. Base Rates - Tier to rate mapping
  2. Rounding - Half-away-from-zero at 2 decimals
  3. Volume Bonuses - Monthly thresholds, highest wins, additive
  4. Recurring - First payment vs renewal, duration window
  5. Review Flagging - First sale, high value, fraud signal, precedence
  6. Error Conditions - Invalid amount, unknown tier

READING THESE TESTS:
  Each test has GIVEN/WHEN/THEN comments explaining the scenario and
  assertions with explanatory messages.
*/
package commission_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func d(s string) decimal.Decimal {
	return commission.MustDecimal(s)
}

func saleOn(amount string, date time.Time) commission.SaleEvent {
	return commission.SaleEvent{
		AffiliateID: "AFF-test",
		Customer:    "cust-1",
		Product:     "pro_plan",
		SaleAmount:  d(amount),
		SaleDate:    date,
	}
}

func baseContext() commission.SaleContext {
	// One sale this month (the one being evaluated), not the first ever.
	return commission.SaleContext{MonthSaleCount: 1}
}

var testDate = time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

// =============================================================================
// BASE RATES
// =============================================================================

func TestBaseRatePerTier(t *testing.T) {
	rules := commission.DefaultRuleSet()

	// GIVEN the stock rate card
	// WHEN a $1000 sale is evaluated for each tier
	// THEN the commission is tier rate × sale amount
	cases := []struct {
		tier commission.Tier
		want string
	}{
		{commission.TierBronze, "100.00"},
		{commission.TierSilver, "120.00"},
		{commission.TierGold, "150.00"},
		{commission.TierPlatinum, "200.00"},
	}

	for _, tc := range cases {
		eval, err := commission.Evaluate(saleOn("1000.00", testDate), tc.tier, rules, baseContext())
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.tier, err)
		}
		if !eval.Amount.Equal(d(tc.want)) {
			t.Errorf("%s: amount = %s, want %s", tc.tier, eval.Amount, tc.want)
		}
	}
}

func TestAmountIsRoundedToCents(t *testing.T) {
	rules := commission.DefaultRuleSet()

	// GIVEN a gold affiliate (15%)
	// WHEN the raw product has a half-cent (780.50 × 0.15 = 117.075)
	// THEN the amount rounds half away from zero to 117.08
	eval, err := commission.Evaluate(saleOn("780.50", testDate), commission.TierGold, rules, baseContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !eval.Amount.Equal(d("117.08")) {
		t.Errorf("amount = %s, want 117.08", eval.Amount)
	}
}

func TestAmountEqualsRoundedSaleTimesRate(t *testing.T) {
	rules := commission.DefaultRuleSet()

	// The ledger-wide invariant: amount is always derivable from the
	// stored sale amount and rate.
	amounts := []string{"0.01", "33.33", "499.99", "500.01", "12345.67"}
	for _, a := range amounts {
		eval, err := commission.Evaluate(saleOn(a, testDate), commission.TierSilver, rules, baseContext())
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", a, err)
		}
		want := commission.RoundCurrency(d(a).Mul(eval.Rate))
		if !eval.Amount.Equal(want) {
			t.Errorf("%s: amount = %s, want %s", a, eval.Amount, want)
		}
	}
}

// =============================================================================
// VOLUME BONUSES
// =============================================================================

func TestVolumeBonusThresholds(t *testing.T) {
	rules := commission.DefaultRuleSet()

	// GIVEN the stock thresholds (+5% at 10 sales/month, +10% at 25)
	// WHEN a bronze affiliate's monthly count crosses each threshold
	// THEN the highest qualifying bonus is added to the base rate
	cases := []struct {
		monthSales int
		wantRate   string
	}{
		{1, "0.10"},   // no bonus
		{9, "0.10"},   // just under the first threshold
		{10, "0.15"},  // +5%
		{24, "0.15"},  // still +5%
		{25, "0.20"},  // +10%, highest wins, not cumulative
		{100, "0.20"},
	}

	for _, tc := range cases {
		ctx := commission.SaleContext{MonthSaleCount: tc.monthSales}
		eval, err := commission.Evaluate(saleOn("100.00", testDate), commission.TierBronze, rules, ctx)
		if err != nil {
			t.Fatalf("count %d: unexpected error: %v", tc.monthSales, err)
		}
		if !eval.Rate.Equal(d(tc.wantRate)) {
			t.Errorf("count %d: rate = %s, want %s", tc.monthSales, eval.Rate, tc.wantRate)
		}
	}
}

// =============================================================================
// RECURRING COMMISSIONS
// =============================================================================

func TestRecurringFirstPaymentRate(t *testing.T) {
	rules := commission.DefaultRuleSet()

	// GIVEN a subscription sale with no prior renewal for this customer
	// WHEN evaluated
	// THEN the first-payment rate (15%) replaces the tier base rate
	sale := saleOn("99.00", testDate)
	sale.IsRenewal = true
	ctx := commission.SaleContext{MonthSaleCount: 1, PriorRenewal: false}

	eval, err := commission.Evaluate(sale, commission.TierBronze, rules, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !eval.Rate.Equal(d("0.15")) {
		t.Errorf("rate = %s, want first-payment rate 0.15", eval.Rate)
	}
}

func TestRecurringRenewalRate(t *testing.T) {
	rules := commission.DefaultRuleSet()

	// GIVEN a subscription renewal with a prior renewal on record
	// THEN the renewal rate (8%) applies, even for platinum
	sale := saleOn("99.00", testDate)
	sale.IsRenewal = true
	ctx := commission.SaleContext{
		MonthSaleCount:    1,
		RelationshipStart: testDate.AddDate(0, -2, 0),
		PriorRenewal:      true,
	}

	eval, err := commission.Evaluate(sale, commission.TierPlatinum, rules, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !eval.Rate.Equal(d("0.08")) {
		t.Errorf("rate = %s, want renewal rate 0.08", eval.Rate)
	}
}

func TestRenewalOutsideWindowYieldsNoCommission(t *testing.T) {
	rules := commission.DefaultRuleSet()
	rules.Recurring.Duration = commission.Duration12Months

	// GIVEN a 12-month recurring window and a relationship 13 months old
	// WHEN a renewal arrives
	// THEN no commission is generated and no error is returned
	sale := saleOn("99.00", testDate)
	sale.IsRenewal = true
	ctx := commission.SaleContext{
		MonthSaleCount:    1,
		RelationshipStart: testDate.AddDate(0, -13, 0),
		PriorRenewal:      true,
	}

	eval, err := commission.Evaluate(sale, commission.TierGold, rules, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !eval.Skip {
		t.Error("expected Skip for renewal outside the recurring window")
	}
}

func TestRenewalWithoutHistoryStartsRelationship(t *testing.T) {
	rules := commission.DefaultRuleSet()
	rules.Recurring.Duration = commission.Duration12Months

	// GIVEN no relationship on record (zero RelationshipStart)
	// WHEN a renewal arrives
	// THEN there is no window to measure; first-payment rate applies
	sale := saleOn("99.00", testDate)
	sale.IsRenewal = true
	ctx := commission.SaleContext{MonthSaleCount: 1}

	eval, err := commission.Evaluate(sale, commission.TierGold, rules, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.Skip {
		t.Fatal("renewal without history must not be skipped")
	}
	if !eval.Rate.Equal(d("0.15")) {
		t.Errorf("rate = %s, want first-payment rate 0.15", eval.Rate)
	}
}

// =============================================================================
// REVIEW FLAGGING
// =============================================================================

func TestFirstSaleIsFlagged(t *testing.T) {
	rules := commission.DefaultRuleSet()

	ctx := commission.SaleContext{MonthSaleCount: 1, FirstSale: true}
	eval, err := commission.Evaluate(saleOn("100.00", testDate), commission.TierBronze, rules, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.ReviewReason != commission.ReasonFirstSale {
		t.Errorf("reason = %q, want %q", eval.ReviewReason, commission.ReasonFirstSale)
	}
}

func TestHighValueSaleIsFlagged(t *testing.T) {
	rules := commission.DefaultRuleSet()

	// Strictly above the threshold flags; exactly at it does not.
	eval, err := commission.Evaluate(saleOn("500.01", testDate), commission.TierBronze, rules, baseContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.ReviewReason != commission.ReasonHighValue {
		t.Errorf("above threshold: reason = %q, want %q", eval.ReviewReason, commission.ReasonHighValue)
	}

	eval, err = commission.Evaluate(saleOn("500.00", testDate), commission.TierBronze, rules, baseContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.ReviewReason != "" {
		t.Errorf("at threshold: reason = %q, want unflagged", eval.ReviewReason)
	}
}

func TestHighRiskSaleIsFlagged(t *testing.T) {
	rules := commission.DefaultRuleSet()

	sale := saleOn("100.00", testDate)
	sale.HighRisk = true
	eval, err := commission.Evaluate(sale, commission.TierBronze, rules, baseContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.ReviewReason != commission.ReasonHighRisk {
		t.Errorf("reason = %q, want %q", eval.ReviewReason, commission.ReasonHighRisk)
	}
}

func TestReviewReasonPrecedence(t *testing.T) {
	rules := commission.DefaultRuleSet()

	// GIVEN a sale that matches every flag at once
	// THEN first-sale wins over high-value, which wins over high-risk
	sale := saleOn("900.00", testDate)
	sale.HighRisk = true
	ctx := commission.SaleContext{MonthSaleCount: 1, FirstSale: true}

	eval, err := commission.Evaluate(sale, commission.TierBronze, rules, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.ReviewReason != commission.ReasonFirstSale {
		t.Errorf("reason = %q, want first-sale to take precedence", eval.ReviewReason)
	}

	ctx.FirstSale = false
	eval, err = commission.Evaluate(sale, commission.TierBronze, rules, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.ReviewReason != commission.ReasonHighValue {
		t.Errorf("reason = %q, want high-value over high-risk", eval.ReviewReason)
	}
}

// =============================================================================
// ERROR CONDITIONS
// =============================================================================

func TestZeroOrNegativeSaleAmountRejected(t *testing.T) {
	rules := commission.DefaultRuleSet()

	for _, amount := range []string{"0", "-10.00"} {
		_, err := commission.Evaluate(saleOn(amount, testDate), commission.TierGold, rules, baseContext())
		if !errors.Is(err, commission.ErrInvalidSaleAmount) {
			t.Errorf("amount %s: err = %v, want ErrInvalidSaleAmount", amount, err)
		}
	}
}

func TestUnknownTierRejected(t *testing.T) {
	rules := commission.DefaultRuleSet()

	_, err := commission.Evaluate(saleOn("100.00", testDate), commission.Tier("diamond"), rules, baseContext())
	if !errors.Is(err, commission.ErrUnknownTier) {
		t.Errorf("err = %v, want ErrUnknownTier", err)
	}
}
