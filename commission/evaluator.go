/*
evaluator.go - Pure commission evaluation

PURPOSE:
  Turns one sale event into the rate and amount of a commission record.
  Evaluate is a pure function: it reads the rule set and the ledger-derived
  SaleContext and returns an Evaluation. No side effects, no clock, no I/O.

ALGORITHM:
  1. Base rate from the affiliate tier
  2. Renewals: first renewal for a customer pays the first-payment rate,
     later renewals the renewal rate; a renewal outside the recurring
     duration window yields no commission at all (Skip, not an error)
  3. Volume bonus: highest qualifying monthly threshold, additive
  4. Amount = RoundCurrency(sale amount × rate)
  5. Review flagging: first-ever sale, high-value sale, external fraud
     signal - first matching reason wins

ERROR CONDITIONS:
  Zero/negative sale amount → ErrInvalidSaleAmount
  Tier missing from rule set → ErrUnknownTier
*/
package commission

import "fmt"

// Review reasons, as surfaced to operators. Kept verbatim from the
// commissions panel.
const (
	ReasonFirstSale = "Primera venta del afiliado"
	ReasonHighValue = "Monto superior a $500"
	ReasonHighRisk  = "Posible transacción fraudulenta detectada"
)

// Evaluate computes the commission rate and amount for one sale event.
//
// tier is the selling affiliate's tier; ctx carries the ledger-derived facts
// (monthly sale count, relationship history). See Ledger.SaleContext.
func Evaluate(sale SaleEvent, tier Tier, rules *RuleSet, ctx SaleContext) (Evaluation, error) {
	if !sale.SaleAmount.IsPositive() {
		return Evaluation{}, fmt.Errorf("%w: %s", ErrInvalidSaleAmount, sale.SaleAmount)
	}

	rate, err := rules.BaseRate(tier)
	if err != nil {
		return Evaluation{}, err
	}

	if sale.IsRenewal {
		// No relationship on record means no window to measure; treat the
		// renewal as starting the relationship now.
		if !ctx.RelationshipStart.IsZero() &&
			!rules.Recurring.WindowContains(ctx.RelationshipStart, sale.SaleDate) {
			return Evaluation{Skip: true}, nil
		}
		if ctx.PriorRenewal {
			rate = rules.Recurring.RenewalRate
		} else {
			rate = rules.Recurring.FirstPaymentRate
		}
	}

	rate = rate.Add(rules.VolumeBonusFor(ctx.MonthSaleCount))

	eval := Evaluation{
		Rate:   rate,
		Amount: RoundCurrency(sale.SaleAmount.Mul(rate)),
	}

	switch {
	case ctx.FirstSale:
		eval.ReviewReason = ReasonFirstSale
	case sale.SaleAmount.GreaterThan(rules.HighValueThreshold):
		eval.ReviewReason = ReasonHighValue
	case sale.HighRisk:
		eval.ReviewReason = ReasonHighRisk
	}

	return eval, nil
}
