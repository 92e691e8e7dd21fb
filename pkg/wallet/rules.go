package wallet

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BurnRule caps how many points can be redeemed per transaction and at what rate.
type BurnRule struct {
	ID                       string
	TenantID                 TenantID
	BusinessUnitID           BusinessUnitID
	Name                     string
	Language                 string
	MinAmountSpent           decimal.Decimal
	MaxRedemptionPointsLimit decimal.Decimal
	PointsConversionFactor   decimal.Decimal
	MaxBurnPercentOnInvoice  decimal.Decimal
	Active                   bool
	Priority                 int
}

// Validate rejects rules that cannot price a redemption.
func (rule BurnRule) Validate() error {
	if !rule.PointsConversionFactor.IsPositive() {
		return fmt.Errorf("%w: rule %s has a non-positive conversion factor", ErrInvalidRule, rule.ID)
	}
	if rule.MaxRedemptionPointsLimit.IsNegative() || rule.MaxBurnPercentOnInvoice.IsNegative() {
		return fmt.Errorf("%w: rule %s has negative limits", ErrInvalidRule, rule.ID)
	}
	return nil
}

// SelectBurnRule returns the first rule, in lookup order, whose minimum spend the
// amount reaches. It does not look for the rule that is best for the customer.
func SelectBurnRule(rules []BurnRule, spendAmount decimal.Decimal) (BurnRule, error) {
	for _, rule := range rules {
		if spendAmount.GreaterThanOrEqual(rule.MinAmountSpent) {
			return rule, nil
		}
	}
	return BurnRule{}, ErrNoApplicableRule
}

// Redemption is the priced outcome of applying a rule to a point request.
type Redemption struct {
	Points   decimal.Decimal
	Discount decimal.Decimal
	Capped   bool
}

// QuoteRedemption prices the largest redemption the wallet and rule allow.
// When the percentage cap binds, the discount equals the cap and points are floored.
func QuoteRedemption(rule BurnRule, available decimal.Decimal, spendAmount decimal.Decimal) (Redemption, error) {
	if err := rule.Validate(); err != nil {
		return Redemption{}, err
	}
	points := decimal.Min(nonNegative(available), rule.MaxRedemptionPointsLimit)
	return applyInvoiceCap(rule, points, spendAmount), nil
}

// ConfirmRedemption prices a caller-chosen redemption. After capping, the
// discount is recomputed from the floored points so the two stay consistent.
func ConfirmRedemption(rule BurnRule, requested decimal.Decimal, available decimal.Decimal, spendAmount decimal.Decimal) (Redemption, error) {
	if err := rule.Validate(); err != nil {
		return Redemption{}, err
	}
	points := decimal.Min(requested, nonNegative(available), rule.MaxRedemptionPointsLimit)
	redemption := applyInvoiceCap(rule, points, spendAmount)
	if redemption.Capped {
		redemption.Discount = redemption.Points.Mul(rule.PointsConversionFactor)
	}
	return redemption, nil
}

// MaxAllowedDiscount is the invoice cap for a spend amount.
func MaxAllowedDiscount(rule BurnRule, spendAmount decimal.Decimal) decimal.Decimal {
	return spendAmount.Mul(rule.MaxBurnPercentOnInvoice).Div(decimal.NewFromInt(percentDenominator))
}

func applyInvoiceCap(rule BurnRule, points decimal.Decimal, spendAmount decimal.Decimal) Redemption {
	discount := points.Mul(rule.PointsConversionFactor)
	maxAllowed := MaxAllowedDiscount(rule, spendAmount)
	if discount.GreaterThan(maxAllowed) {
		return Redemption{
			Points:   maxAllowed.Div(rule.PointsConversionFactor).Floor(),
			Discount: maxAllowed,
			Capped:   true,
		}
	}
	return Redemption{Points: points, Discount: discount}
}

func nonNegative(value decimal.Decimal) decimal.Decimal {
	if value.IsNegative() {
		return decimal.Zero
	}
	return value
}
