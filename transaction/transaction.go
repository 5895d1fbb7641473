// Package transaction holds the transaction model, the DTOs exchanged by the
// fee saga and the stores that persist finished transactions.
package transaction

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AssetType is the class of the asset being moved.
type AssetType string

const (
	AssetFiat   AssetType = "FIAT"
	AssetCrypto AssetType = "CRYPTO"
)

// Valid reports whether a is a known asset class.
func (a AssetType) Valid() bool {
	return a == AssetFiat || a == AssetCrypto
}

// Type is the kind of transaction; it selects the fee rate and the
// compliance limit.
type Type string

const (
	MobileTopUp  Type = "MOBILE_TOP_UP"
	BankTransfer Type = "BANK_TRANSFER"
	CashOut      Type = "CASH_OUT"
)

// Types lists every supported transaction type.
var Types = []Type{MobileTopUp, BankTransfer, CashOut}

// Valid reports whether t is a supported transaction type.
func (t Type) Valid() bool {
	switch t {
	case MobileTopUp, BankTransfer, CashOut:
		return true
	}
	return false
}

// State is the lifecycle state of a transaction.
type State string

const (
	StateSettledPendingFee State = "SETTLED_PENDING_FEE"
	StateCompleted         State = "COMPLETED"
)

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	return s == StateSettledPendingFee || s == StateCompleted
}

// ParseAssetType parses the upper-case name of an asset class.
func ParseAssetType(s string) (AssetType, error) {
	a := AssetType(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown asset type %q", s)
	}
	return a, nil
}

// ParseType parses the upper-case name of a transaction type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown transaction type %q", s)
	}
	return t, nil
}

// ParseState parses the upper-case name of a lifecycle state.
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown transaction state %q", s)
	}
	return st, nil
}

// Request is the input of the fee saga. It is created by the caller and
// never modified afterwards.
type Request struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Asset         string          `json:"asset"`
	AssetType     AssetType       `json:"asset_type"`
	Type          Type            `json:"type"`
	State         State           `json:"state"`
	CreatedAt     string          `json:"created_at"`
}

// Response is the result of a completed fee saga.
type Response struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Asset         string          `json:"asset"`
	Type          Type            `json:"type"`
	Fee           decimal.Decimal `json:"fee"`
	Rate          decimal.Decimal `json:"rate"`
	Description   string          `json:"description"`
}

// ComplianceRequest is the payload of the cross-workflow compliance call.
type ComplianceRequest struct {
	Request Request         `json:"request"`
	Fee     decimal.Decimal `json:"fee"`
}

// ComplianceResponse carries the compliance verdict.
type ComplianceResponse struct {
	IsCompliant bool `json:"isCompliant"`
}

// Transaction is a persisted, finished transaction. It is append-only.
type Transaction struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Asset       string          `json:"asset"`
	AssetType   AssetType       `json:"asset_type"`
	Type        Type            `json:"type"`
	State       State           `json:"state"`
	CreatedAt   string          `json:"created_at"`
	Fee         decimal.Decimal `json:"fee"`
	Rate        decimal.Decimal `json:"rate"`
	Description string          `json:"description"`
}

// Timestamp formats t the way transactions store creation times.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// FromResponse maps a finished saga into the Transaction to persist.
func FromResponse(req Request, resp Response, state State, createdAt string) Transaction {
	return Transaction{
		ID:          resp.TransactionID,
		Amount:      resp.Amount,
		Asset:       resp.Asset,
		AssetType:   req.AssetType,
		Type:        resp.Type,
		State:       state,
		CreatedAt:   createdAt,
		Fee:         resp.Fee,
		Rate:        resp.Rate,
		Description: resp.Description,
	}
}
