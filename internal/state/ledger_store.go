/*

This file contains the Postgres-backed implementation of the ledger store.

All mutations inside one Update call run in a single database transaction; a
callback error rolls the transaction back, so partial state is never visible.
Amounts are stored as NUMERIC(39, 0) and moved through the driver as strings to
preserve full 256-bit integer precision.

*/

package state

import (
	"database/sql"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/stablefoundry/dsce/internal/ledger"
	"github.com/stablefoundry/dsce/internal/logger"
)

var ledgerLogger = logger.GetForComponent("ledger_store")

// LedgerStore implements ledger.Store on the global database connection.
type LedgerStore struct{}

// NewLedgerStore returns the Postgres ledger store. InitDB and EnsureSchema
// must have been called first.
func NewLedgerStore() (*LedgerStore, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return &LedgerStore{}, nil
}

func scanAmount(row *sql.Row) (sdkmath.Int, error) {
	var amountStr string
	err := row.Scan(&amountStr)
	if err == sql.ErrNoRows {
		return sdkmath.ZeroInt(), nil
	}
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	amount, ok := sdkmath.NewIntFromString(amountStr)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("stored amount is not a valid integer: %q", amountStr)
	}
	return amount, nil
}

func (s *LedgerStore) CollateralBalance(account string, denom string) (sdkmath.Int, error) {
	query := `SELECT amount FROM collateral_balances WHERE account = $1 AND denom = $2;`
	amount, err := scanAmount(DB.QueryRow(query, account, denom))
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("failed to read collateral balance for %s/%s: %w", account, denom, err)
	}
	return amount, nil
}

func (s *LedgerStore) DebtBalance(account string) (sdkmath.Int, error) {
	query := `SELECT amount FROM debt_balances WHERE account = $1;`
	amount, err := scanAmount(DB.QueryRow(query, account))
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("failed to read debt balance for %s: %w", account, err)
	}
	return amount, nil
}

// DebtBalanceAtHeight returns the last snapshot recorded at or before height,
// or zero if the account had no debt history by then.
func (s *LedgerStore) DebtBalanceAtHeight(account string, height int64) (sdkmath.Int, error) {
	query := `
		SELECT amount FROM debt_snapshots
		WHERE account = $1 AND height <= $2
		ORDER BY height DESC, snapshot_id DESC
		LIMIT 1;`
	amount, err := scanAmount(DB.QueryRow(query, account, height))
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("failed to read debt snapshot for %s at height %d: %w", account, height, err)
	}
	return amount, nil
}

// NextHeight atomically advances and returns the operation height counter.
func (s *LedgerStore) NextHeight() (int64, error) {
	updateQuery := `
		UPDATE block_height
		SET current_height = current_height + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_height;`

	var newHeight int64
	if err := DB.QueryRow(updateQuery).Scan(&newHeight); err != nil {
		return 0, fmt.Errorf("failed to increment height counter: %w", err)
	}

	ledgerLogger.Debug().Int64("newHeight", newHeight).Msg("Incremented height counter")
	return newHeight, nil
}

// Update runs fn inside one database transaction.
func (s *LedgerStore) Update(fn func(ledger.Tx) error) error {
	sqlTx, err := DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p) // Re-panic after rollback
		}
	}()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			ledgerLogger.Error().Err(rbErr).Msg("Rollback failed after update error")
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgTx implements ledger.Tx on one open database transaction.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) CollateralBalance(account string, denom string) (sdkmath.Int, error) {
	query := `SELECT amount FROM collateral_balances WHERE account = $1 AND denom = $2;`
	amount, err := scanAmount(t.tx.QueryRow(query, account, denom))
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("failed to read collateral balance for %s/%s: %w", account, denom, err)
	}
	return amount, nil
}

func (t *pgTx) DebtBalance(account string) (sdkmath.Int, error) {
	query := `SELECT amount FROM debt_balances WHERE account = $1;`
	amount, err := scanAmount(t.tx.QueryRow(query, account))
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("failed to read debt balance for %s: %w", account, err)
	}
	return amount, nil
}

func (t *pgTx) AddCollateral(account string, denom string, amount sdkmath.Int) error {
	if amount.IsNil() {
		return ledger.ErrNilAmount
	}
	if amount.IsNegative() {
		return ledger.ErrNegativeAmount
	}

	stmt := `
		INSERT INTO collateral_balances (account, denom, amount)
		VALUES ($1, $2, $3::NUMERIC)
		ON CONFLICT (account, denom) DO UPDATE
		SET amount = collateral_balances.amount + EXCLUDED.amount,
		    updated_at = CURRENT_TIMESTAMP;`
	if _, err := t.tx.Exec(stmt, account, denom, amount.String()); err != nil {
		return fmt.Errorf("failed to add collateral for %s/%s: %w", account, denom, err)
	}
	return nil
}

func (t *pgTx) SubCollateral(account string, denom string, amount sdkmath.Int) error {
	if amount.IsNil() {
		return ledger.ErrNilAmount
	}
	if amount.IsNegative() {
		return ledger.ErrNegativeAmount
	}

	// The amount guard in the WHERE clause turns an underflow into zero
	// affected rows instead of tripping the CHECK constraint.
	stmt := `
		UPDATE collateral_balances
		SET amount = amount - $3::NUMERIC,
		    updated_at = CURRENT_TIMESTAMP
		WHERE account = $1 AND denom = $2 AND amount >= $3::NUMERIC
		RETURNING amount;`
	var remaining string
	err := t.tx.QueryRow(stmt, account, denom, amount.String()).Scan(&remaining)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: need %s of %s for %s", ledger.ErrInsufficientCollateral, amount.String(), denom, account)
	}
	if err != nil {
		return fmt.Errorf("failed to sub collateral for %s/%s: %w", account, denom, err)
	}
	return nil
}

func (t *pgTx) AddDebt(account string, amount sdkmath.Int, height int64) error {
	if amount.IsNil() {
		return ledger.ErrNilAmount
	}
	if amount.IsNegative() {
		return ledger.ErrNegativeAmount
	}

	stmt := `
		INSERT INTO debt_balances (account, amount)
		VALUES ($1, $2::NUMERIC)
		ON CONFLICT (account) DO UPDATE
		SET amount = debt_balances.amount + EXCLUDED.amount,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING amount;`
	var updated string
	if err := t.tx.QueryRow(stmt, account, amount.String()).Scan(&updated); err != nil {
		return fmt.Errorf("failed to add debt for %s: %w", account, err)
	}
	return t.recordSnapshot(account, height, updated)
}

func (t *pgTx) SubDebt(account string, amount sdkmath.Int, height int64) error {
	if amount.IsNil() {
		return ledger.ErrNilAmount
	}
	if amount.IsNegative() {
		return ledger.ErrNegativeAmount
	}

	stmt := `
		UPDATE debt_balances
		SET amount = amount - $2::NUMERIC,
		    updated_at = CURRENT_TIMESTAMP
		WHERE account = $1 AND amount >= $2::NUMERIC
		RETURNING amount;`
	var updated string
	err := t.tx.QueryRow(stmt, account, amount.String()).Scan(&updated)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: need %s for %s", ledger.ErrInsufficientDebt, amount.String(), account)
	}
	if err != nil {
		return fmt.Errorf("failed to sub debt for %s: %w", account, err)
	}
	return t.recordSnapshot(account, height, updated)
}

func (t *pgTx) recordSnapshot(account string, height int64, amount string) error {
	stmt := `INSERT INTO debt_snapshots (account, height, amount) VALUES ($1, $2, $3::NUMERIC);`
	if _, err := t.tx.Exec(stmt, account, height, amount); err != nil {
		return fmt.Errorf("failed to record debt snapshot for %s at height %d: %w", account, height, err)
	}
	return nil
}
