package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/fortressi/feesaga/gateway"
	"github.com/fortressi/feesaga/transaction"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(typ transaction.Type, asset transaction.AssetType, amount string) transaction.Request {
	return transaction.Request{
		TransactionID: "tx-" + string(typ),
		Amount:        decimal.RequireFromString(amount),
		Asset:         "USD",
		AssetType:     asset,
		Type:          typ,
		State:         transaction.StateSettledPendingFee,
	}
}

func TestEvaluateLimits(t *testing.T) {
	cases := []struct {
		name   string
		typ    transaction.Type
		asset  transaction.AssetType
		amount string
		want   bool
	}{
		{"top-up at limit", transaction.MobileTopUp, transaction.AssetFiat, "500", true},
		{"top-up over limit", transaction.MobileTopUp, transaction.AssetFiat, "500.01", false},
		{"top-up crypto uses any-asset row", transaction.MobileTopUp, transaction.AssetCrypto, "499.99", true},
		{"crypto transfer at limit", transaction.BankTransfer, transaction.AssetCrypto, "100", true},
		{"crypto transfer over limit", transaction.BankTransfer, transaction.AssetCrypto, "100.01", false},
		{"fiat transfer at limit", transaction.BankTransfer, transaction.AssetFiat, "10000", true},
		{"fiat transfer over limit", transaction.BankTransfer, transaction.AssetFiat, "10000.01", false},
		{"crypto cash-out at limit", transaction.CashOut, transaction.AssetCrypto, "50", true},
		{"crypto cash-out over limit", transaction.CashOut, transaction.AssetCrypto, "50.01", false},
		{"fiat cash-out at limit", transaction.CashOut, transaction.AssetFiat, "2000", true},
		{"fiat cash-out over limit", transaction.CashOut, transaction.AssetFiat, "2000.01", false},
		{"unknown type", transaction.Type("WIRE"), transaction.AssetFiat, "1", false},
		{"unknown asset class", transaction.CashOut, transaction.AssetType("GOLD"), "1", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(request(tc.typ, tc.asset, tc.amount), decimal.Zero)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNewLimitsRejectsDuplicates(t *testing.T) {
	_, err := NewLimits(
		Rule{transaction.CashOut, transaction.AssetFiat, decimal.NewFromInt(1)},
		Rule{transaction.CashOut, transaction.AssetFiat, decimal.NewFromInt(2)},
	)
	assert.Error(t, err)
}

func TestCustomLimits(t *testing.T) {
	limits, err := NewLimits(Rule{transaction.CashOut, AnyAsset, decimal.NewFromInt(10)})
	require.NoError(t, err)
	e := NewEvaluator(limits, nil)

	assert.True(t, e.Evaluate(request(transaction.CashOut, transaction.AssetCrypto, "10"), decimal.Zero))
	assert.False(t, e.Evaluate(request(transaction.CashOut, transaction.AssetCrypto, "11"), decimal.Zero))
	assert.False(t, e.Evaluate(request(transaction.BankTransfer, transaction.AssetFiat, "1"), decimal.Zero),
		"a type without a row is non-compliant")
}

func TestEvaluatorRecoversPanic(t *testing.T) {
	e := &Evaluator{logger: NewEvaluator(nil, nil).logger}
	assert.False(t, e.Evaluate(request(transaction.CashOut, transaction.AssetFiat, "1"), decimal.Zero))
}

func TestWorkflowOverGateway(t *testing.T) {
	router := gateway.NewRouter(time.Second, nil)
	defer router.Close()
	require.NoError(t, NewWorkflow(nil).Register(router))

	ctx := context.Background()
	ok, err := Check(ctx, router, transaction.ComplianceRequest{
		Request: request(transaction.BankTransfer, transaction.AssetFiat, "150"),
		Fee:     decimal.RequireFromString("0.84"),
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Check(ctx, router, transaction.ComplianceRequest{
		Request: request(transaction.CashOut, transaction.AssetCrypto, "150"),
		Fee:     decimal.RequireFromString("1.18"),
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckWithoutWorkflow(t *testing.T) {
	router := gateway.NewRouter(time.Second, nil)
	defer router.Close()

	_, err := Check(context.Background(), router, transaction.ComplianceRequest{
		Request: request(transaction.CashOut, transaction.AssetFiat, "1"),
	})
	assert.ErrorIs(t, err, gateway.ErrCrossCall)
}
