package fee

import (
	"testing"

	"github.com/fortressi/feesaga/transaction"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateMobileTopUp(t *testing.T) {
	quote, err := Calculate(dec("100.0"), transaction.MobileTopUp)
	require.NoError(t, err)

	assert.True(t, quote.Rate.Equal(dec("0.0015")), "rate = %s", quote.Rate)
	assert.True(t, quote.Fee.Equal(dec("0.15")), "fee = %s", quote.Fee)
	assert.Equal(t, "Standard fee rate of 0.15%", quote.Description)
}

func TestCalculateRates(t *testing.T) {
	cases := []struct {
		typ         transaction.Type
		amount      string
		rate        string
		fee         string
		description string
	}{
		{transaction.MobileTopUp, "250", "0.0015", "0.38", "Standard fee rate of 0.15%"},
		{transaction.BankTransfer, "1000", "0.0025", "2.5", "Standard fee rate of 0.25%"},
		{transaction.CashOut, "333.33", "0.005", "1.67", "Standard fee rate of 0.5%"},
	}

	for _, tc := range cases {
		t.Run(string(tc.typ), func(t *testing.T) {
			quote, err := Calculate(dec(tc.amount), tc.typ)
			require.NoError(t, err)
			assert.True(t, quote.Rate.Equal(dec(tc.rate)), "rate = %s", quote.Rate)
			assert.True(t, quote.Fee.Equal(dec(tc.fee)), "fee = %s", quote.Fee)
			assert.Equal(t, tc.description, quote.Description)
		})
	}
}

func TestCalculateUnknownType(t *testing.T) {
	_, err := Calculate(dec("10"), transaction.Type("WIRE"))
	assert.Error(t, err)
}

func TestSagaArithmeticChain(t *testing.T) {
	rate, err := Rate(transaction.MobileTopUp)
	require.NoError(t, err)

	base := BaseFee(dec("100.0"), rate)
	assert.Equal(t, "0.15", base.StringFixed(2))

	discounted := ApplyDiscount(base)
	assert.Equal(t, "0.14", discounted.StringFixed(2), "0.135 rounds half away from zero")

	final := ApplyAdditionalFee(discounted)
	assert.Equal(t, "0.64", final.StringFixed(2))
}

func TestRound2(t *testing.T) {
	assert.Equal(t, "0.14", Round2(dec("0.135")).StringFixed(2))
	assert.Equal(t, "0.13", Round2(dec("0.1349")).StringFixed(2))
	assert.Equal(t, "-0.14", Round2(dec("-0.135")).StringFixed(2))
	assert.Equal(t, "2.00", Round2(dec("1.995")).StringFixed(2))
}
