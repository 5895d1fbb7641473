// Package compliance decides whether a transaction is within the limits for
// its type and asset class, and hosts that decision as an addressable
// workflow.
package compliance

import (
	"fmt"
	"log/slog"

	"github.com/fortressi/feesaga/transaction"
	"github.com/shopspring/decimal"
)

// AnyAsset matches every asset class in a Rule.
const AnyAsset transaction.AssetType = "*"

// Rule is one row of a limit table. The amount is compliant when it is at
// most Limit.
type Rule struct {
	Type      transaction.Type
	AssetType transaction.AssetType
	Limit     decimal.Decimal
}

type ruleKey struct {
	typ   transaction.Type
	asset transaction.AssetType
}

// Limits is a lookup table keyed by (type, asset class). A row with AnyAsset
// applies when no exact row exists.
type Limits struct {
	rules map[ruleKey]decimal.Decimal
}

// NewLimits builds a table from rules. Duplicate rows are rejected.
func NewLimits(rules ...Rule) (*Limits, error) {
	l := &Limits{rules: make(map[ruleKey]decimal.Decimal, len(rules))}
	for _, r := range rules {
		k := ruleKey{r.Type, r.AssetType}
		if _, dup := l.rules[k]; dup {
			return nil, fmt.Errorf("duplicate compliance rule for %s/%s", r.Type, r.AssetType)
		}
		l.rules[k] = r.Limit
	}
	return l, nil
}

// DefaultRules is the static limit table.
func DefaultRules() []Rule {
	return []Rule{
		{transaction.MobileTopUp, AnyAsset, decimal.NewFromInt(500)},
		{transaction.BankTransfer, transaction.AssetCrypto, decimal.NewFromInt(100)},
		{transaction.BankTransfer, transaction.AssetFiat, decimal.NewFromInt(10000)},
		{transaction.CashOut, transaction.AssetCrypto, decimal.NewFromInt(50)},
		{transaction.CashOut, transaction.AssetFiat, decimal.NewFromInt(2000)},
	}
}

// DefaultLimits returns the table built from DefaultRules.
func DefaultLimits() *Limits {
	l, err := NewLimits(DefaultRules()...)
	if err != nil {
		panic(err)
	}
	return l
}

// Limit returns the limit that applies to a transaction type and asset class.
func (l *Limits) Limit(t transaction.Type, asset transaction.AssetType) (decimal.Decimal, error) {
	if !t.Valid() {
		return decimal.Decimal{}, fmt.Errorf("unsupported transaction type %q", t)
	}
	if limit, ok := l.rules[ruleKey{t, asset}]; ok {
		return limit, nil
	}
	if limit, ok := l.rules[ruleKey{t, AnyAsset}]; ok {
		return limit, nil
	}
	return decimal.Decimal{}, fmt.Errorf("no compliance limit for %s/%s", t, asset)
}

// Evaluator applies a limit table. It never returns an error: any fault is
// reported as non-compliant.
type Evaluator struct {
	limits *Limits
	logger *slog.Logger
}

// NewEvaluator returns an Evaluator over limits, or the default table when
// limits is nil.
func NewEvaluator(limits *Limits, logger *slog.Logger) *Evaluator {
	if limits == nil {
		limits = DefaultLimits()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{limits: limits, logger: logger}
}

// Evaluate reports whether req is within its compliance limit. fee is
// carried for the record; the limit applies to the amount.
func (e *Evaluator) Evaluate(req transaction.Request, fee decimal.Decimal) (compliant bool) {
	log := e.logger.With("transaction_id", req.TransactionID, "type", req.Type, "asset_type", req.AssetType)
	defer func() {
		if r := recover(); r != nil {
			log.Error("compliance check panicked", "panic", r)
			compliant = false
		}
	}()

	log.Info("starting external compliance check", "fee", fee.String())
	limit, err := e.limits.Limit(req.Type, req.AssetType)
	if err != nil {
		log.Error("error during external compliance check", "error", err)
		return false
	}

	if req.Amount.GreaterThan(limit) {
		log.Warn("transaction exceeds compliance limits",
			"amount", req.Amount.String(), "asset", req.Asset, "limit", limit.String())
		return false
	}
	log.Info("transaction passed compliance check")
	return true
}

// Evaluate checks req against the default limit table.
func Evaluate(req transaction.Request, fee decimal.Decimal) bool {
	return defaultEvaluator.Evaluate(req, fee)
}

var defaultEvaluator = NewEvaluator(nil, nil)
