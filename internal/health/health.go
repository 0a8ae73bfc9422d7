/*

This file contains the health factor engine.

healthFactor = (collateralValueUsd * liquidationThreshold%) / debt

Zero debt yields MaxHealthFactor, the largest representable decimal, so a
debt-free account always passes the solvency check regardless of collateral.

*/

package health

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/stablefoundry/dsce/internal/ledger"
	"github.com/stablefoundry/dsce/internal/types"
	"github.com/stablefoundry/dsce/internal/utils"
	"github.com/stablefoundry/dsce/internal/valuation"
)

// MaxHealthFactor is the sentinel health factor for debt-free accounts.
var MaxHealthFactor = sdkmath.LegacyMaxSortableDec

// BrokenError reports a health factor below the configured minimum.
type BrokenError struct {
	Value sdkmath.LegacyDec
	Min   sdkmath.LegacyDec
}

func (e *BrokenError) Error() string {
	return fmt.Sprintf("health factor %s is below the minimum %s", e.Value.String(), e.Min.String())
}

// Engine computes and enforces health factors.
type Engine struct {
	cfg       types.Config
	valuation *valuation.Service
}

// NewEngine creates a health engine over the valuation service.
func NewEngine(cfg types.Config, v *valuation.Service) *Engine {
	return &Engine{cfg: cfg, valuation: v}
}

// Calculate returns the health factor for the given debt and collateral value.
func (e *Engine) Calculate(debt sdkmath.Int, collateralValueUsd sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if debt.IsNil() {
		return sdkmath.LegacyZeroDec(), utils.ErrAmountNil
	}
	if debt.IsNegative() {
		return sdkmath.LegacyZeroDec(), utils.ErrAmountNegative
	}
	if collateralValueUsd.IsNil() {
		return sdkmath.LegacyZeroDec(), utils.ErrAmountNil
	}
	if collateralValueUsd.IsNegative() {
		return sdkmath.LegacyZeroDec(), utils.ErrAmountNegative
	}

	if debt.IsZero() {
		return MaxHealthFactor, nil
	}

	threshold := sdkmath.LegacyNewDecFromInt(e.cfg.LiquidationThreshold).Quo(sdkmath.LegacyNewDec(100))
	adjustedCollateral := collateralValueUsd.Mul(threshold)

	debtDec, err := utils.IntToDec(debt, valuation.FixedPointDecimals)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	return adjustedCollateral.Quo(debtDec), nil
}

// HealthFactor returns the current health factor of account as seen by r.
func (e *Engine) HealthFactor(ctx context.Context, r ledger.Reader, account string) (sdkmath.LegacyDec, error) {
	debt, err := r.DebtBalance(account)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	if debt.IsZero() {
		// Skip the oracle round-trip entirely for debt-free accounts.
		return MaxHealthFactor, nil
	}

	collateralValue, err := e.valuation.AccountCollateralValueUsd(ctx, r, account)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	return e.Calculate(debt, collateralValue)
}

// AssertHealthy fails with BrokenError when account's health factor is below
// the configured minimum.
func (e *Engine) AssertHealthy(ctx context.Context, r ledger.Reader, account string) error {
	hf, err := e.HealthFactor(ctx, r, account)
	if err != nil {
		return err
	}
	if hf.LT(e.cfg.MinHealthFactor) {
		return &BrokenError{Value: hf, Min: e.cfg.MinHealthFactor}
	}
	return nil
}
