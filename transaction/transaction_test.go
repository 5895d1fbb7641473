package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(id string) Transaction {
	return Transaction{
		ID:          id,
		Amount:      decimal.RequireFromString("100"),
		Asset:       "USD",
		AssetType:   AssetFiat,
		Type:        MobileTopUp,
		State:       StateCompleted,
		CreatedAt:   "2025-03-01T12:00:00Z",
		Fee:         decimal.RequireFromString("0.64"),
		Rate:        decimal.RequireFromString("0.0015"),
		Description: "Fee calculation completed after 6 saga steps",
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	missing, err := store.FindByID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = store.Save(ctx, sample("tx-2"))
	require.NoError(t, err)
	_, err = store.Save(ctx, sample("tx-1"))
	require.NoError(t, err)

	_, err = store.Save(ctx, sample("tx-1"))
	assert.ErrorIs(t, err, ErrDuplicate)

	all, err := store.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "tx-1", all[0].ID)
	assert.Equal(t, "tx-2", all[1].ID)

	found, err := store.FindByID(ctx, "tx-2")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, sample("tx-2"), *found)

	deleted, err := store.Delete(ctx, "tx-2")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = store.Delete(ctx, "tx-2")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemoryStoreConcurrentSave(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		saved int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Save(ctx, sample("same")); err == nil {
				mu.Lock()
				saved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, saved, "exactly one writer wins")
}

func TestService(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	_, err := svc.Create(ctx, sample("tx-1"))
	require.NoError(t, err)

	all, err := svc.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	tx, err := svc.GetByID(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, tx)

	ok, err := svc.Delete(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFromResponse(t *testing.T) {
	req := Request{
		TransactionID: "tx-1",
		Amount:        decimal.RequireFromString("100"),
		Asset:         "USD",
		AssetType:     AssetCrypto,
		Type:          BankTransfer,
		State:         StateSettledPendingFee,
	}
	resp := Response{
		TransactionID: "tx-1",
		Amount:        req.Amount,
		Asset:         "USD",
		Type:          BankTransfer,
		Fee:           decimal.RequireFromString("0.73"),
		Rate:          decimal.RequireFromString("0.0025"),
		Description:   "done",
	}
	createdAt := Timestamp(time.Date(2025, 3, 1, 13, 0, 0, 0, time.FixedZone("CET", 3600)))

	tx := FromResponse(req, resp, StateCompleted, createdAt)

	assert.Equal(t, "tx-1", tx.ID)
	assert.Equal(t, AssetCrypto, tx.AssetType, "asset class comes from the request")
	assert.Equal(t, StateCompleted, tx.State)
	assert.Equal(t, "2025-03-01T12:00:00Z", tx.CreatedAt)
	assert.True(t, tx.Fee.Equal(resp.Fee))
	assert.Equal(t, "done", tx.Description)
}

func TestRequestJSON(t *testing.T) {
	var req Request
	err := json.Unmarshal([]byte(`{
		"transaction_id": "tx-9",
		"amount": 150.5,
		"asset": "BTC",
		"asset_type": "CRYPTO",
		"type": "CASH_OUT",
		"state": "SETTLED_PENDING_FEE",
		"created_at": "2025-03-01T12:00:00Z"
	}`), &req)
	require.NoError(t, err)

	assert.Equal(t, "tx-9", req.TransactionID)
	assert.True(t, req.Amount.Equal(decimal.RequireFromString("150.5")))
	assert.Equal(t, AssetCrypto, req.AssetType)
	assert.Equal(t, CashOut, req.Type)

	out, err := json.Marshal(ComplianceResponse{IsCompliant: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"isCompliant":true}`, string(out))
}

func TestParseEnums(t *testing.T) {
	for _, typ := range Types {
		parsed, err := ParseType(string(typ))
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}
	_, err := ParseType("mobile_top_up")
	assert.Error(t, err)

	_, err = ParseAssetType("GOLD")
	assert.Error(t, err)
	asset, err := ParseAssetType("FIAT")
	require.NoError(t, err)
	assert.Equal(t, AssetFiat, asset)

	_, err = ParseState("PENDING")
	assert.Error(t, err)
}

// rowScanner feeds fixed column values to scanTransaction.
type rowScanner struct {
	values []any
	err    error
}

func (r rowScanner) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *decimal.Decimal:
			*p = decimal.RequireFromString(r.values[i].(string))
		default:
			return errors.New("unexpected destination")
		}
	}
	return nil
}

func TestScanTransaction(t *testing.T) {
	row := rowScanner{values: []any{
		"tx-1", "100", "USD", "FIAT", "MOBILE_TOP_UP", "COMPLETED",
		"2025-03-01T12:00:00Z", "0.64", "0.0015", "Fee calculation completed after 6 saga steps",
	}}

	tx, err := scanTransaction(row)
	require.NoError(t, err)
	assert.Equal(t, sample("tx-1"), tx)

	row.values[4] = "WIRE"
	_, err = scanTransaction(row)
	assert.Error(t, err)

	_, err = scanTransaction(rowScanner{err: errors.New("conn reset")})
	assert.ErrorContains(t, err, "conn reset")
}
