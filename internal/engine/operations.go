/*

This file contains the five mutating operations.

Every operation follows the same shape: validate inputs, reserve an operation
height, stage all ledger mutations inside one atomic update with the solvency
check running against the staged state, and only then emit the token-ledger
instructions and the receipt. A failed check rolls back every mutation.

*/

package engine

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/stablefoundry/dsce/internal/ledger"
	"github.com/stablefoundry/dsce/internal/types"
	"github.com/stablefoundry/dsce/internal/utils"
	"github.com/stablefoundry/dsce/internal/valuation"
)

// DepositAndMint deposits amountCollateral of denom for account and mints
// amountDscToMint of DSC against it. Token assets are pulled in with a
// transferFrom instruction; native assets must arrive as attached funds
// matching the declared amount exactly.
func (e *Engine) DepositAndMint(ctx context.Context, account string, denom string, amountCollateral sdkmath.Int, amountDscToMint sdkmath.Int, funds []types.Coin) (types.OperationReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validatePositive(amountCollateral); err != nil {
		return types.OperationReceipt{}, err
	}
	if err := validatePositive(amountDscToMint); err != nil {
		return types.OperationReceipt{}, err
	}

	asset, err := e.listedAsset(denom)
	if err != nil {
		return types.OperationReceipt{}, err
	}

	var instructions []types.Instruction
	if asset.IsNative() {
		// Native collateral travels with the call; the declared amount and the
		// attached funds must agree exactly.
		if len(funds) != 1 || funds[0].Denom != denom || funds[0].Amount.IsNil() || !funds[0].Amount.Equal(amountCollateral) {
			return types.OperationReceipt{}, &MissingFundsError{Denom: denom}
		}
	} else {
		instructions = append(instructions, types.Instruction{
			Kind:   types.InstructionTransferFrom,
			Target: asset.Contract,
			From:   account,
			To:     e.cfg.EngineAddress,
			Amount: amountCollateral,
		})
	}

	height, err := e.store.NextHeight()
	if err != nil {
		return types.OperationReceipt{}, err
	}
	operationID := uuid.New().String()

	err = e.store.Update(func(tx ledger.Tx) error {
		if err := tx.AddCollateral(account, denom, amountCollateral); err != nil {
			return err
		}
		if err := tx.AddDebt(account, amountDscToMint, height); err != nil {
			return err
		}
		return e.health.AssertHealthy(ctx, tx, account)
	})
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("operationID", operationID).
			Str("account", account).
			Str("asset", denom).
			Msg("Deposit and mint rejected")
		return types.OperationReceipt{}, err
	}

	instructions = append(instructions, types.Instruction{
		Kind:   types.InstructionMint,
		Target: e.cfg.DscAddress,
		To:     account,
		Amount: amountDscToMint,
	})

	receipt := types.OperationReceipt{
		OperationID:  operationID,
		Action:       "deposit_and_mint",
		Account:      account,
		Asset:        denom,
		Amount:       amountCollateral,
		Height:       height,
		Timestamp:    time.Now(),
		Instructions: instructions,
		Detail: map[string]string{
			"dsc_minted": amountDscToMint.String(),
		},
	}
	e.saveReceipt(receipt)

	e.logger.Info().
		Str("operationID", operationID).
		Str("account", account).
		Str("asset", denom).
		Str("collateralDeposited", amountCollateral.String()).
		Str("dscMinted", amountDscToMint.String()).
		Int64("height", height).
		Msg("Deposited collateral and minted DSC")
	return receipt, nil
}

// RedeemCollateralForDsc burns amountDscToBurn of account's debt and redeems
// amountCollateral of denom in the same atomic operation. The debt is retired
// before the collateral leaves, so the solvency check sees the reduced debt.
func (e *Engine) RedeemCollateralForDsc(ctx context.Context, account string, denom string, amountCollateral sdkmath.Int, amountDscToBurn sdkmath.Int) (types.OperationReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validatePositive(amountCollateral); err != nil {
		return types.OperationReceipt{}, err
	}
	if err := validatePositive(amountDscToBurn); err != nil {
		return types.OperationReceipt{}, err
	}

	asset, err := e.listedAsset(denom)
	if err != nil {
		return types.OperationReceipt{}, err
	}

	height, err := e.store.NextHeight()
	if err != nil {
		return types.OperationReceipt{}, err
	}
	operationID := uuid.New().String()

	err = e.store.Update(func(tx ledger.Tx) error {
		if err := tx.SubDebt(account, amountDscToBurn, height); err != nil {
			return err
		}
		if err := tx.SubCollateral(account, denom, amountCollateral); err != nil {
			return err
		}
		return e.health.AssertHealthy(ctx, tx, account)
	})
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("operationID", operationID).
			Str("account", account).
			Str("asset", denom).
			Msg("Redeem collateral for DSC rejected")
		return types.OperationReceipt{}, err
	}

	instructions := []types.Instruction{
		{
			Kind:   types.InstructionBurnFrom,
			Target: e.cfg.DscAddress,
			From:   account,
			Amount: amountDscToBurn,
		},
		e.collateralOutInstruction(asset, account, amountCollateral),
	}

	receipt := types.OperationReceipt{
		OperationID:  operationID,
		Action:       "redeem_collateral_for_dsc",
		Account:      account,
		Asset:        denom,
		Amount:       amountCollateral,
		Height:       height,
		Timestamp:    time.Now(),
		Instructions: instructions,
		Detail: map[string]string{
			"dsc_burned": amountDscToBurn.String(),
		},
	}
	e.saveReceipt(receipt)

	e.logger.Info().
		Str("operationID", operationID).
		Str("account", account).
		Str("asset", denom).
		Str("collateralRedeemed", amountCollateral.String()).
		Str("dscBurned", amountDscToBurn.String()).
		Int64("height", height).
		Msg("Redeemed collateral for DSC")
	return receipt, nil
}

// RedeemCollateral withdraws amountCollateral of denom for account. The
// remaining position must stay solvent.
func (e *Engine) RedeemCollateral(ctx context.Context, account string, denom string, amountCollateral sdkmath.Int) (types.OperationReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validatePositive(amountCollateral); err != nil {
		return types.OperationReceipt{}, err
	}

	asset, err := e.listedAsset(denom)
	if err != nil {
		return types.OperationReceipt{}, err
	}

	height, err := e.store.NextHeight()
	if err != nil {
		return types.OperationReceipt{}, err
	}
	operationID := uuid.New().String()

	err = e.store.Update(func(tx ledger.Tx) error {
		if err := tx.SubCollateral(account, denom, amountCollateral); err != nil {
			return err
		}
		return e.health.AssertHealthy(ctx, tx, account)
	})
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("operationID", operationID).
			Str("account", account).
			Str("asset", denom).
			Msg("Redeem collateral rejected")
		return types.OperationReceipt{}, err
	}

	receipt := types.OperationReceipt{
		OperationID:  operationID,
		Action:       "redeem_collateral",
		Account:      account,
		Asset:        denom,
		Amount:       amountCollateral,
		Height:       height,
		Timestamp:    time.Now(),
		Instructions: []types.Instruction{e.collateralOutInstruction(asset, account, amountCollateral)},
	}
	e.saveReceipt(receipt)

	e.logger.Info().
		Str("operationID", operationID).
		Str("account", account).
		Str("asset", denom).
		Str("collateralRedeemed", amountCollateral.String()).
		Int64("height", height).
		Msg("Redeemed collateral")
	return receipt, nil
}

// BurnDsc retires amountDscToBurn of account's debt.
func (e *Engine) BurnDsc(ctx context.Context, account string, amountDscToBurn sdkmath.Int) (types.OperationReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validatePositive(amountDscToBurn); err != nil {
		return types.OperationReceipt{}, err
	}

	height, err := e.store.NextHeight()
	if err != nil {
		return types.OperationReceipt{}, err
	}
	operationID := uuid.New().String()

	err = e.store.Update(func(tx ledger.Tx) error {
		if err := tx.SubDebt(account, amountDscToBurn, height); err != nil {
			return err
		}
		// Burning debt can only raise the health factor; the check is kept for
		// uniformity across operations.
		return e.health.AssertHealthy(ctx, tx, account)
	})
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("operationID", operationID).
			Str("account", account).
			Msg("Burn DSC rejected")
		return types.OperationReceipt{}, err
	}

	receipt := types.OperationReceipt{
		OperationID: operationID,
		Action:      "burn_dsc",
		Account:     account,
		Amount:      amountDscToBurn,
		Height:      height,
		Timestamp:   time.Now(),
		Instructions: []types.Instruction{
			{
				Kind:   types.InstructionBurnFrom,
				Target: e.cfg.DscAddress,
				From:   account,
				Amount: amountDscToBurn,
			},
		},
	}
	e.saveReceipt(receipt)

	e.logger.Info().
		Str("operationID", operationID).
		Str("account", account).
		Str("dscBurned", amountDscToBurn.String()).
		Int64("height", height).
		Msg("Burned DSC")
	return receipt, nil
}

// Liquidate lets liquidator repay debtToCoverUsd of target's debt in exchange
// for the equivalent denom collateral plus the liquidation bonus. The target
// must be below the minimum health factor, the liquidation must improve it,
// and the liquidator's own position must stay solvent.
func (e *Engine) Liquidate(ctx context.Context, liquidator string, target string, denom string, debtToCoverUsd sdkmath.LegacyDec) (types.OperationReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if debtToCoverUsd.IsNil() || !debtToCoverUsd.IsPositive() {
		return types.OperationReceipt{}, ErrInvalidAmount
	}

	asset, err := e.listedAsset(denom)
	if err != nil {
		return types.OperationReceipt{}, err
	}

	startingHF, err := e.health.HealthFactor(ctx, e.store, target)
	if err != nil {
		return types.OperationReceipt{}, err
	}
	if startingHF.GTE(e.cfg.MinHealthFactor) {
		return types.OperationReceipt{}, ErrHealthFactorOk
	}

	tokenAmount, err := e.valuation.GetTokenAmountFromUsd(ctx, denom, debtToCoverUsd)
	if err != nil {
		return types.OperationReceipt{}, err
	}
	bonusPercent := sdkmath.LegacyNewDecFromInt(e.cfg.LiquidationBonus).Quo(sdkmath.LegacyNewDec(100))
	bonusAmount := tokenAmount.Mul(bonusPercent)

	collateralToRedeem, err := utils.DecToIntFloor(tokenAmount.Add(bonusAmount), valuation.FixedPointDecimals)
	if err != nil {
		return types.OperationReceipt{}, err
	}
	debtToBurn, err := utils.DecToIntFloor(debtToCoverUsd, valuation.FixedPointDecimals)
	if err != nil {
		return types.OperationReceipt{}, err
	}
	if !collateralToRedeem.IsPositive() || !debtToBurn.IsPositive() {
		return types.OperationReceipt{}, ErrInvalidAmount
	}

	height, err := e.store.NextHeight()
	if err != nil {
		return types.OperationReceipt{}, err
	}
	operationID := uuid.New().String()

	var endingHF sdkmath.LegacyDec
	err = e.store.Update(func(tx ledger.Tx) error {
		if err := tx.SubCollateral(target, denom, collateralToRedeem); err != nil {
			return err
		}
		if err := tx.SubDebt(target, debtToBurn, height); err != nil {
			return err
		}

		endingHF, err = e.health.HealthFactor(ctx, tx, target)
		if err != nil {
			return err
		}
		if endingHF.LTE(startingHF) {
			return ErrHealthFactorNotImproved
		}

		return e.health.AssertHealthy(ctx, tx, liquidator)
	})
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("operationID", operationID).
			Str("liquidator", liquidator).
			Str("target", target).
			Str("asset", denom).
			Msg("Liquidation rejected")
		return types.OperationReceipt{}, err
	}

	instructions := []types.Instruction{
		e.collateralOutInstruction(asset, liquidator, collateralToRedeem),
		{
			Kind:   types.InstructionBurnFrom,
			Target: e.cfg.DscAddress,
			From:   liquidator,
			Amount: debtToBurn,
		},
	}

	receipt := types.OperationReceipt{
		OperationID:  operationID,
		Action:       "liquidate",
		Account:      target,
		Asset:        denom,
		Amount:       collateralToRedeem,
		Height:       height,
		Timestamp:    time.Now(),
		Instructions: instructions,
		Detail: map[string]string{
			"liquidator":             liquidator,
			"debt_to_cover_usd":      debtToCoverUsd.String(),
			"debt_burned":            debtToBurn.String(),
			"bonus_collateral":       bonusAmount.String(),
			"starting_health_factor": startingHF.String(),
			"ending_health_factor":   endingHF.String(),
		},
	}
	e.saveReceipt(receipt)

	e.logger.Info().
		Str("operationID", operationID).
		Str("liquidator", liquidator).
		Str("target", target).
		Str("asset", denom).
		Str("collateralSeized", collateralToRedeem.String()).
		Str("debtBurned", debtToBurn.String()).
		Str("startingHealthFactor", startingHF.String()).
		Str("endingHealthFactor", endingHF.String()).
		Int64("height", height).
		Msg("Liquidated position")
	return receipt, nil
}
