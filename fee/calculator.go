// Package fee holds the fee arithmetic of the fee saga. Everything here is
// pure and works on exact decimals.
package fee

import (
	"fmt"

	"github.com/fortressi/feesaga/transaction"
	"github.com/shopspring/decimal"
)

var rates = map[transaction.Type]decimal.Decimal{
	transaction.MobileTopUp:  decimal.RequireFromString("0.0015"),
	transaction.BankTransfer: decimal.RequireFromString("0.0025"),
	transaction.CashOut:      decimal.RequireFromString("0.0050"),
}

var (
	// DiscountRate is taken off the base fee.
	DiscountRate = decimal.RequireFromString("0.10")
	// AdditionalFee is added to the discounted fee.
	AdditionalFee = decimal.RequireFromString("0.50")

	hundred = decimal.NewFromInt(100)
)

// Quote is the result of Calculate.
type Quote struct {
	Rate        decimal.Decimal
	Fee         decimal.Decimal
	Description string
}

// Rate returns the fee rate of a transaction type.
func Rate(t transaction.Type) (decimal.Decimal, error) {
	rate, ok := rates[t]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no fee rate for transaction type %q", t)
	}
	return rate, nil
}

// Round2 rounds to two decimal places, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Calculate returns the standard fee of amount for a transaction type.
func Calculate(amount decimal.Decimal, t transaction.Type) (Quote, error) {
	rate, err := Rate(t)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Rate:        rate,
		Fee:         BaseFee(amount, rate),
		Description: fmt.Sprintf("Standard fee rate of %s%%", rate.Mul(hundred).String()),
	}, nil
}

// BaseFee is round2(amount * rate).
func BaseFee(amount, rate decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(rate))
}

// ApplyDiscount is round2(fee - fee*DiscountRate).
func ApplyDiscount(fee decimal.Decimal) decimal.Decimal {
	return Round2(fee.Sub(fee.Mul(DiscountRate)))
}

// ApplyAdditionalFee is round2(fee + AdditionalFee).
func ApplyAdditionalFee(fee decimal.Decimal) decimal.Decimal {
	return Round2(fee.Add(AdditionalFee))
}
