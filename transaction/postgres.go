package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS transactions (
	id          VARCHAR(50) PRIMARY KEY,
	amount      NUMERIC     NOT NULL,
	asset       VARCHAR(50) NOT NULL,
	asset_type  VARCHAR(50) NOT NULL,
	type        VARCHAR(50) NOT NULL,
	state       VARCHAR(50) NOT NULL,
	created_at  VARCHAR(50) NOT NULL,
	fee         NUMERIC     NOT NULL,
	rate        NUMERIC     NOT NULL,
	description TEXT        NOT NULL
)`

const selectColumns = `SELECT id, amount, asset, asset_type, type, state, created_at, fee, rate, description FROM transactions`

// uniqueViolation is the Postgres error code for a duplicate key.
const uniqueViolation = "23505"

// PostgresStore is a Store backed by a Postgres "transactions" table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle. The caller owns db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens and pings a lib/pq connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate creates the transactions table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create transactions table: %w", err)
	}
	return nil
}

func (p *PostgresStore) FindAll(ctx context.Context) ([]Transaction, error) {
	rows, err := p.db.QueryContext(ctx, selectColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) FindByID(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (p *PostgresStore) Save(ctx context.Context, tx Transaction) (Transaction, error) {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO transactions (id, amount, asset, asset_type, type, state, created_at, fee, rate, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tx.ID, tx.Amount, tx.Asset, string(tx.AssetType), string(tx.Type), string(tx.State),
		tx.CreatedAt, tx.Fee, tx.Rate, tx.Description,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return Transaction{}, fmt.Errorf("save %s: %w", tx.ID, ErrDuplicate)
		}
		return Transaction{}, fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}
	return tx, nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete transaction %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete transaction %s: %w", id, err)
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (Transaction, error) {
	var (
		tx                    Transaction
		assetType, typ, state string
	)
	err := s.Scan(&tx.ID, &tx.Amount, &tx.Asset, &assetType, &typ, &state,
		&tx.CreatedAt, &tx.Fee, &tx.Rate, &tx.Description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, err
		}
		return Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}

	if tx.AssetType, err = ParseAssetType(assetType); err != nil {
		return Transaction{}, err
	}
	if tx.Type, err = ParseType(typ); err != nil {
		return Transaction{}, err
	}
	if tx.State, err = ParseState(state); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}
