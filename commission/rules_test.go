package commission_test

import (
	"errors"
	"testing"
	"time"

	"github.com/warp/commission-engine/commission"
)

func TestRecurringWindowContains(t *testing.T) {
	start := time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		duration commission.RecurringDuration
		saleDate time.Time
		want     bool
	}{
		{commission.DurationLifetime, start.AddDate(10, 0, 0), true},
		{commission.Duration12Months, start.AddDate(0, 11, 0), true},
		{commission.Duration12Months, start.AddDate(0, 12, 0), true}, // boundary is inclusive
		{commission.Duration12Months, start.AddDate(0, 12, 1), false},
		{commission.Duration24Months, start.AddDate(0, 24, 0), true},
		{commission.Duration24Months, start.AddDate(0, 25, 0), false},
	}

	for _, tc := range cases {
		p := commission.RecurringPolicy{Duration: tc.duration}
		if got := p.WindowContains(start, tc.saleDate); got != tc.want {
			t.Errorf("%s at %s: got %v, want %v", tc.duration, tc.saleDate.Format("2006-01-02"), got, tc.want)
		}
	}
}

func TestRuleSetValidate(t *testing.T) {
	// The stock configuration must validate.
	if err := commission.DefaultRuleSet().Validate(); err != nil {
		t.Fatalf("default rule set invalid: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*commission.RuleSet)
	}{
		{"no base rates", func(r *commission.RuleSet) { r.BaseRateByTier = nil }},
		{"unknown tier", func(r *commission.RuleSet) {
			r.BaseRateByTier[commission.Tier("diamond")] = d("0.5")
		}},
		{"rate above 1", func(r *commission.RuleSet) {
			r.BaseRateByTier[commission.TierGold] = d("1.5")
		}},
		{"negative rate", func(r *commission.RuleSet) {
			r.BaseRateByTier[commission.TierGold] = d("-0.1")
		}},
		{"bad duration", func(r *commission.RuleSet) { r.Recurring.Duration = "36_months" }},
		{"negative validation period", func(r *commission.RuleSet) { r.ValidationPeriodDays = -1 }},
		{"unsorted volume bonuses", func(r *commission.RuleSet) {
			r.VolumeBonuses = []commission.VolumeBonus{
				{MinSalesPerMonth: 25, BonusRate: d("0.10")},
				{MinSalesPerMonth: 10, BonusRate: d("0.05")},
			}
		}},
		{"negative first-customer bonus", func(r *commission.RuleSet) {
			r.FirstCustomerBonus = d("-50")
		}},
	}

	for _, tc := range cases {
		r := commission.DefaultRuleSet()
		tc.mutate(r)
		if err := r.Validate(); !errors.Is(err, commission.ErrRuleSetInvalid) {
			t.Errorf("%s: err = %v, want ErrRuleSetInvalid", tc.name, err)
		}
	}
}

func TestVolumeBonusForEmptySchedule(t *testing.T) {
	r := commission.DefaultRuleSet()
	r.VolumeBonuses = nil
	if !r.VolumeBonusFor(100).IsZero() {
		t.Error("no schedule must mean no bonus")
	}
}
