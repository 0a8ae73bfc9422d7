/*

This file contains the in-memory ledger store used in sim mode and tests.

*/

package ledger

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
)

// DebtSnapshot is one recorded debt balance change.
type DebtSnapshot struct {
	Height int64
	Amount sdkmath.Int
}

// MemoryStore is an in-memory Store. Updates stage mutations on a deep copy of
// the state, so a failed callback leaves the committed state untouched.
type MemoryStore struct {
	mu         sync.Mutex
	collateral map[string]sdkmath.Int    // account + "/" + denom -> amount
	debt       map[string]sdkmath.Int    // account -> amount
	snapshots  map[string][]DebtSnapshot // account -> changes ordered by height
	height     int64
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collateral: make(map[string]sdkmath.Int),
		debt:       make(map[string]sdkmath.Int),
		snapshots:  make(map[string][]DebtSnapshot),
	}
}

func collateralKey(account, denom string) string {
	return account + "/" + denom
}

func (m *MemoryStore) CollateralBalance(account string, denom string) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if amount, ok := m.collateral[collateralKey(account, denom)]; ok {
		return amount, nil
	}
	return sdkmath.ZeroInt(), nil
}

func (m *MemoryStore) DebtBalance(account string) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if amount, ok := m.debt[account]; ok {
		return amount, nil
	}
	return sdkmath.ZeroInt(), nil
}

func (m *MemoryStore) DebtBalanceAtHeight(account string, height int64) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance := sdkmath.ZeroInt()
	for _, snap := range m.snapshots[account] {
		if snap.Height > height {
			break
		}
		balance = snap.Amount
	}
	return balance, nil
}

func (m *MemoryStore) NextHeight() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.height++
	return m.height, nil
}

// Update stages fn's mutations on a copy of the state and swaps it in only
// when fn succeeds.
func (m *MemoryStore) Update(fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{
		collateral: copyBalances(m.collateral),
		debt:       copyBalances(m.debt),
		snapshots:  copySnapshots(m.snapshots),
	}

	if err := fn(tx); err != nil {
		return err
	}

	m.collateral = tx.collateral
	m.debt = tx.debt
	m.snapshots = tx.snapshots
	return nil
}

func copyBalances(src map[string]sdkmath.Int) map[string]sdkmath.Int {
	dst := make(map[string]sdkmath.Int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copySnapshots(src map[string][]DebtSnapshot) map[string][]DebtSnapshot {
	dst := make(map[string][]DebtSnapshot, len(src))
	for k, v := range src {
		snaps := make([]DebtSnapshot, len(v))
		copy(snaps, v)
		dst[k] = snaps
	}
	return dst
}

// memoryTx operates on the staged copy. The parent store's mutex is held for
// the whole Update call, so no further locking is needed here.
type memoryTx struct {
	collateral map[string]sdkmath.Int
	debt       map[string]sdkmath.Int
	snapshots  map[string][]DebtSnapshot
}

func (tx *memoryTx) CollateralBalance(account string, denom string) (sdkmath.Int, error) {
	if amount, ok := tx.collateral[collateralKey(account, denom)]; ok {
		return amount, nil
	}
	return sdkmath.ZeroInt(), nil
}

func (tx *memoryTx) DebtBalance(account string) (sdkmath.Int, error) {
	if amount, ok := tx.debt[account]; ok {
		return amount, nil
	}
	return sdkmath.ZeroInt(), nil
}

func (tx *memoryTx) AddCollateral(account string, denom string, amount sdkmath.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}

	key := collateralKey(account, denom)
	current, ok := tx.collateral[key]
	if !ok {
		current = sdkmath.ZeroInt()
	}
	tx.collateral[key] = current.Add(amount)
	return nil
}

func (tx *memoryTx) SubCollateral(account string, denom string, amount sdkmath.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}

	key := collateralKey(account, denom)
	current, ok := tx.collateral[key]
	if !ok {
		current = sdkmath.ZeroInt()
	}
	if current.LT(amount) {
		return fmt.Errorf("%w: have %s, need %s of %s for %s",
			ErrInsufficientCollateral, current.String(), amount.String(), denom, account)
	}
	tx.collateral[key] = current.Sub(amount)
	return nil
}

func (tx *memoryTx) AddDebt(account string, amount sdkmath.Int, height int64) error {
	if err := validateAmount(amount); err != nil {
		return err
	}

	current, ok := tx.debt[account]
	if !ok {
		current = sdkmath.ZeroInt()
	}
	updated := current.Add(amount)
	tx.debt[account] = updated
	tx.snapshots[account] = append(tx.snapshots[account], DebtSnapshot{Height: height, Amount: updated})
	return nil
}

func (tx *memoryTx) SubDebt(account string, amount sdkmath.Int, height int64) error {
	if err := validateAmount(amount); err != nil {
		return err
	}

	current, ok := tx.debt[account]
	if !ok {
		current = sdkmath.ZeroInt()
	}
	if current.LT(amount) {
		return fmt.Errorf("%w: have %s, need %s for %s",
			ErrInsufficientDebt, current.String(), amount.String(), account)
	}
	updated := current.Sub(amount)
	tx.debt[account] = updated
	tx.snapshots[account] = append(tx.snapshots[account], DebtSnapshot{Height: height, Amount: updated})
	return nil
}
