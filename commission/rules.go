/*
rules.go - Rule set: rates, bonuses, validation and grace windows

PURPOSE:
  A RuleSet is the versioned configuration the evaluator runs against.
  Exactly one rule set is active at a time; publishing a new version only
  affects commissions created afterwards. Existing records keep the rate
  and windows snapshotted at creation.

DEFAULTS:
  DefaultRuleSet() matches the production configuration: bronze 10%,
  silver 12%, gold 15%, platinum 20%; recurring first payment 15%,
  renewals 8% for life; 7-day validation, 30-day grace; +5% at 10
  sales/month, +10% at 25; $50 first-customer bonus; manual review
  above $500.
*/
package commission

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RULE SET
// =============================================================================

// RecurringDuration bounds how long renewal commissions keep flowing after
// the affiliate-customer relationship starts.
type RecurringDuration string

const (
	DurationLifetime RecurringDuration = "lifetime"
	Duration12Months RecurringDuration = "12_months"
	Duration24Months RecurringDuration = "24_months"
)

// RecurringPolicy sets the rates for subscription renewals.
type RecurringPolicy struct {
	FirstPaymentRate decimal.Decimal   // affiliate's first renewal for a customer
	RenewalRate      decimal.Decimal   // subsequent renewals
	Duration         RecurringDuration // window measured from relationship start
}

// WindowContains reports whether saleDate still falls inside the recurring
// duration window for a relationship that started at relationshipStart.
func (p RecurringPolicy) WindowContains(relationshipStart, saleDate time.Time) bool {
	switch p.Duration {
	case Duration12Months:
		return !saleDate.After(relationshipStart.AddDate(0, 12, 0))
	case Duration24Months:
		return !saleDate.After(relationshipStart.AddDate(0, 24, 0))
	default: // lifetime
		return true
	}
}

// VolumeBonus adds bonus_rate on top of the base rate once the affiliate's
// monthly sale count reaches MinSalesPerMonth. Highest qualifying threshold
// wins; bonuses are additive to the base rate, never compounding.
type VolumeBonus struct {
	MinSalesPerMonth int
	BonusRate        decimal.Decimal
}

// RuleSet is one active commission configuration.
type RuleSet struct {
	Version int

	BaseRateByTier map[Tier]decimal.Decimal
	Recurring      RecurringPolicy

	ValidationPeriodDays int
	GracePeriodDays      int

	// VolumeBonuses must be sorted ascending by MinSalesPerMonth.
	VolumeBonuses []VolumeBonus

	// FirstCustomerBonus is a flat amount granted once per affiliate, with
	// the affiliate's first commission-generating sale.
	FirstCustomerBonus decimal.Decimal

	// HighValueThreshold forces manual review for sales above it.
	HighValueThreshold decimal.Decimal

	EffectiveAt time.Time
}

// BaseRate looks up the base rate for a tier.
func (r *RuleSet) BaseRate(tier Tier) (decimal.Decimal, error) {
	rate, ok := r.BaseRateByTier[tier]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	return rate, nil
}

// VolumeBonusFor returns the bonus rate for the highest threshold met by
// monthSales, or zero when none qualifies.
func (r *RuleSet) VolumeBonusFor(monthSales int) decimal.Decimal {
	bonus := decimal.Zero
	for _, vb := range r.VolumeBonuses {
		if monthSales < vb.MinSalesPerMonth {
			break
		}
		bonus = vb.BonusRate
	}
	return bonus
}

// Validate checks structural soundness before a rule set is published.
func (r *RuleSet) Validate() error {
	if len(r.BaseRateByTier) == 0 {
		return fmt.Errorf("%w: no base rates", ErrRuleSetInvalid)
	}
	for tier, rate := range r.BaseRateByTier {
		if !tier.Valid() {
			return fmt.Errorf("%w: unknown tier %q", ErrRuleSetInvalid, tier)
		}
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: rate for %s out of [0,1]", ErrRuleSetInvalid, tier)
		}
	}
	switch r.Recurring.Duration {
	case DurationLifetime, Duration12Months, Duration24Months:
	default:
		return fmt.Errorf("%w: recurring duration %q", ErrRuleSetInvalid, r.Recurring.Duration)
	}
	if r.ValidationPeriodDays < 0 || r.GracePeriodDays < 0 {
		return fmt.Errorf("%w: negative period", ErrRuleSetInvalid)
	}
	if !sort.SliceIsSorted(r.VolumeBonuses, func(i, j int) bool {
		return r.VolumeBonuses[i].MinSalesPerMonth < r.VolumeBonuses[j].MinSalesPerMonth
	}) {
		return fmt.Errorf("%w: volume bonuses not sorted ascending", ErrRuleSetInvalid)
	}
	if r.FirstCustomerBonus.IsNegative() {
		return fmt.Errorf("%w: negative first-customer bonus", ErrRuleSetInvalid)
	}
	return nil
}

// DefaultRuleSet returns the stock configuration.
func DefaultRuleSet() *RuleSet {
	return &RuleSet{
		Version: 1,
		BaseRateByTier: map[Tier]decimal.Decimal{
			TierBronze:   MustDecimal("0.10"),
			TierSilver:   MustDecimal("0.12"),
			TierGold:     MustDecimal("0.15"),
			TierPlatinum: MustDecimal("0.20"),
		},
		Recurring: RecurringPolicy{
			FirstPaymentRate: MustDecimal("0.15"),
			RenewalRate:      MustDecimal("0.08"),
			Duration:         DurationLifetime,
		},
		ValidationPeriodDays: 7,
		GracePeriodDays:      30,
		VolumeBonuses: []VolumeBonus{
			{MinSalesPerMonth: 10, BonusRate: MustDecimal("0.05")},
			{MinSalesPerMonth: 25, BonusRate: MustDecimal("0.10")},
		},
		FirstCustomerBonus: MustDecimal("50"),
		HighValueThreshold: MustDecimal("500"),
	}
}
