/*
Package factory provides JSON to Go rule-set conversion.

PURPOSE:
  Converts JSON rule-set definitions into commission.RuleSet values. This
  enables rate configuration without code changes - operations can define
  the commission rules in JSON, publish them over the API or ship them as
  a config file, and the factory produces the validated Go struct.

JSON SCHEMA:
  {
    "version": 2,
    "base_rates": {"bronze": 0.10, "silver": 0.12, "gold": 0.15, "platinum": 0.20},
    "recurring": {"first_payment_rate": 0.15, "renewal_rate": 0.08, "duration": "lifetime"},
    "validation_period_days": 7,
    "grace_period_days": 30,
    "volume_bonuses": [
      {"min_sales_per_month": 10, "bonus_rate": 0.05},
      {"min_sales_per_month": 25, "bonus_rate": 0.10}
    ],
    "first_customer_bonus": 50,
    "high_value_threshold": 500
  }

KEY FEATURES:
  - Sets the stock defaults for omitted sections
  - Sorts volume bonuses ascending
  - Validates the result before returning it

SEE ALSO:
  - commission/rules.go: RuleSet type and validation
*/
package factory

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleSetJSON is the JSON representation of a rule set.
type RuleSetJSON struct {
	Version              int                        `json:"version"`
	BaseRates            map[string]decimal.Decimal `json:"base_rates"`
	Recurring            *RecurringJSON             `json:"recurring,omitempty"`
	ValidationPeriodDays *int                       `json:"validation_period_days,omitempty"`
	GracePeriodDays      *int                       `json:"grace_period_days,omitempty"`
	VolumeBonuses        []VolumeBonusJSON          `json:"volume_bonuses,omitempty"`
	FirstCustomerBonus   *decimal.Decimal           `json:"first_customer_bonus,omitempty"`
	HighValueThreshold   *decimal.Decimal           `json:"high_value_threshold,omitempty"`
}

// RecurringJSON represents the recurring-commission policy.
type RecurringJSON struct {
	FirstPaymentRate decimal.Decimal `json:"first_payment_rate"`
	RenewalRate      decimal.Decimal `json:"renewal_rate"`
	Duration         string          `json:"duration"` // lifetime, 12_months, 24_months
}

// VolumeBonusJSON represents one volume-bonus threshold.
type VolumeBonusJSON struct {
	MinSalesPerMonth int             `json:"min_sales_per_month"`
	BonusRate        decimal.Decimal `json:"bonus_rate"`
}

// =============================================================================
// RULE SET FACTORY
// =============================================================================

// RuleSetFactory converts JSON rule sets to Go structs.
type RuleSetFactory struct{}

func NewRuleSetFactory() *RuleSetFactory {
	return &RuleSetFactory{}
}

// Parse parses a JSON string into a validated RuleSet.
func (f *RuleSetFactory) Parse(jsonStr string) (*commission.RuleSet, error) {
	var rj RuleSetJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return nil, fmt.Errorf("failed to parse rule set JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// FromJSON converts RuleSetJSON to a validated commission.RuleSet, filling
// omitted sections with the stock defaults.
func (f *RuleSetFactory) FromJSON(rj RuleSetJSON) (*commission.RuleSet, error) {
	rules := commission.DefaultRuleSet()
	if rj.Version > 0 {
		rules.Version = rj.Version
	}

	if len(rj.BaseRates) > 0 {
		rates := make(map[commission.Tier]decimal.Decimal, len(rj.BaseRates))
		for tier, rate := range rj.BaseRates {
			rates[commission.Tier(tier)] = rate
		}
		rules.BaseRateByTier = rates
	}

	if rj.Recurring != nil {
		rules.Recurring = commission.RecurringPolicy{
			FirstPaymentRate: rj.Recurring.FirstPaymentRate,
			RenewalRate:      rj.Recurring.RenewalRate,
			Duration:         commission.RecurringDuration(rj.Recurring.Duration),
		}
		if rules.Recurring.Duration == "" {
			rules.Recurring.Duration = commission.DurationLifetime
		}
	}

	if rj.ValidationPeriodDays != nil {
		rules.ValidationPeriodDays = *rj.ValidationPeriodDays
	}
	if rj.GracePeriodDays != nil {
		rules.GracePeriodDays = *rj.GracePeriodDays
	}

	if rj.VolumeBonuses != nil {
		bonuses := make([]commission.VolumeBonus, len(rj.VolumeBonuses))
		for i, vb := range rj.VolumeBonuses {
			bonuses[i] = commission.VolumeBonus{
				MinSalesPerMonth: vb.MinSalesPerMonth,
				BonusRate:        vb.BonusRate,
			}
		}
		sort.Slice(bonuses, func(i, j int) bool {
			return bonuses[i].MinSalesPerMonth < bonuses[j].MinSalesPerMonth
		})
		rules.VolumeBonuses = bonuses
	}

	if rj.FirstCustomerBonus != nil {
		rules.FirstCustomerBonus = *rj.FirstCustomerBonus
	}
	if rj.HighValueThreshold != nil {
		rules.HighValueThreshold = *rj.HighValueThreshold
	}

	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}
