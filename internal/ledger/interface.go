/*

This file defines the store contract for the collateral and debt ledgers.

Two implementations exist: the in-memory store in this package (sim mode and
tests) and the Postgres-backed store in internal/state (live mode). Both give
the same guarantee: all mutations inside one Update call commit together or
not at all.

*/

package ledger

import (
	"errors"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrInsufficientCollateral = errors.New("insufficient collateral balance")
	ErrInsufficientDebt       = errors.New("insufficient debt balance")
	ErrNegativeAmount         = errors.New("amount cannot be negative")
	ErrNilAmount              = errors.New("amount cannot be nil")
)

// Reader is the read-only view of both ledgers. It is satisfied by the store
// itself (committed state) and by the transaction handle inside Update (staged
// state), so solvency checks can run against uncommitted mutations.
type Reader interface {
	// CollateralBalance returns the deposited amount for account and denom.
	// Unknown pairs return zero.
	CollateralBalance(account string, denom string) (sdkmath.Int, error)
	// DebtBalance returns the minted DSC amount for account. Unknown accounts
	// return zero.
	DebtBalance(account string) (sdkmath.Int, error)
}

// Tx is the mutable view handed to an Update callback. Every mutation is
// staged; returning an error from the callback discards all of them.
type Tx interface {
	Reader

	// AddCollateral credits amount of denom to account.
	AddCollateral(account string, denom string, amount sdkmath.Int) error
	// SubCollateral debits amount of denom from account. Debiting more than
	// the balance fails with ErrInsufficientCollateral.
	SubCollateral(account string, denom string, amount sdkmath.Int) error
	// AddDebt credits minted DSC to account and records a snapshot at height.
	AddDebt(account string, amount sdkmath.Int, height int64) error
	// SubDebt debits burned DSC from account and records a snapshot at height.
	// Debiting more than the balance fails with ErrInsufficientDebt.
	SubDebt(account string, amount sdkmath.Int, height int64) error
}

// Store is the full ledger contract.
type Store interface {
	Reader

	// DebtBalanceAtHeight returns the debt of account as of height: the last
	// snapshot recorded at or before it, or zero if none exists.
	DebtBalanceAtHeight(account string, height int64) (sdkmath.Int, error)
	// NextHeight atomically advances and returns the operation height counter.
	NextHeight() (int64, error)
	// Update runs fn against a transaction handle. If fn returns an error the
	// staged mutations are discarded and the error is returned unchanged.
	Update(fn func(Tx) error) error
}

// validateAmount rejects nil and negative mutation amounts before they reach a ledger.
func validateAmount(amount sdkmath.Int) error {
	if amount.IsNil() {
		return ErrNilAmount
	}
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}
