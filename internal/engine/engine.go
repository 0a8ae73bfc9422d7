/*

This file contains the operation orchestrator core and its read-only queries.

The engine owns no token balances. Mutating operations adjust the collateral
and debt ledgers atomically, enforce the solvency invariant, and return the
token-ledger instructions the caller must execute. Operations are admitted one
at a time; the mutex makes that serialization explicit.

*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/stablefoundry/dsce/internal/health"
	"github.com/stablefoundry/dsce/internal/ledger"
	"github.com/stablefoundry/dsce/internal/logger"
	"github.com/stablefoundry/dsce/internal/types"
	"github.com/stablefoundry/dsce/internal/valuation"
)

var (
	// ErrHealthFactorOk rejects liquidation of a solvent account.
	ErrHealthFactorOk = errors.New("health factor is above the minimum, cannot liquidate")
	// ErrHealthFactorNotImproved rejects a liquidation that does not raise the
	// target's health factor.
	ErrHealthFactorNotImproved = errors.New("liquidation did not improve the target's health factor")
	// ErrInvalidAmount rejects zero, negative, or nil operation amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// MissingFundsError reports native funds that do not match the declared
// collateral amount.
type MissingFundsError struct {
	Denom string
}

func (e *MissingFundsError) Error() string {
	return fmt.Sprintf("supplied funds do not match the declared %s collateral amount", e.Denom)
}

// ReceiptStore persists and serves operation receipts.
type ReceiptStore interface {
	SaveOperationReceipt(receipt types.OperationReceipt) (int64, error)
	GetRecentReceipts(limit int) ([]types.OperationReceipt, error)
}

// discardReceipts drops every receipt. Used in sim mode.
type discardReceipts struct{}

func (discardReceipts) SaveOperationReceipt(types.OperationReceipt) (int64, error) { return 0, nil }
func (discardReceipts) GetRecentReceipts(int) ([]types.OperationReceipt, error)    { return nil, nil }

// NewDiscardReceipts returns a receipt store that keeps nothing.
func NewDiscardReceipts() ReceiptStore {
	return discardReceipts{}
}

// Engine orchestrates the five mutating operations over the ledgers.
type Engine struct {
	logger    zerolog.Logger
	cfg       types.Config
	store     ledger.Store
	valuation *valuation.Service
	health    *health.Engine
	receipts  ReceiptStore

	// mu admits one mutating operation at a time.
	mu sync.Mutex
}

// New creates the orchestrator. A nil receipts store discards all receipts.
func New(cfg types.Config, store ledger.Store, v *valuation.Service, h *health.Engine, receipts ReceiptStore) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if v == nil {
		return nil, fmt.Errorf("valuation service is required")
	}
	if h == nil {
		return nil, fmt.Errorf("health engine is required")
	}
	if receipts == nil {
		receipts = discardReceipts{}
	}

	return &Engine{
		logger:    logger.GetForComponent("engine_core"),
		cfg:       cfg,
		store:     store,
		valuation: v,
		health:    h,
		receipts:  receipts,
	}, nil
}

// Config returns the protocol configuration.
func (e *Engine) Config() types.Config {
	return e.cfg
}

// CollateralBalanceOf returns the deposited amount of denom for account.
func (e *Engine) CollateralBalanceOf(account string, denom string) (sdkmath.Int, error) {
	if _, ok := e.cfg.AssetByDenom(denom); !ok {
		return sdkmath.ZeroInt(), &valuation.AssetNotListedError{Denom: denom}
	}
	return e.store.CollateralBalance(account, denom)
}

// DebtOf returns the minted DSC amount for account.
func (e *Engine) DebtOf(account string) (sdkmath.Int, error) {
	return e.store.DebtBalance(account)
}

// DebtOfAtHeight returns the minted DSC amount for account as of height.
func (e *Engine) DebtOfAtHeight(account string, height int64) (sdkmath.Int, error) {
	return e.store.DebtBalanceAtHeight(account, height)
}

// HealthFactor returns the current health factor of account.
func (e *Engine) HealthFactor(ctx context.Context, account string) (sdkmath.LegacyDec, error) {
	return e.health.HealthFactor(ctx, e.store, account)
}

// CalculateHealthFactor computes a health factor from explicit inputs.
func (e *Engine) CalculateHealthFactor(debt sdkmath.Int, collateralValueUsd sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	return e.health.Calculate(debt, collateralValueUsd)
}

// AccountInformation returns the position summary for account.
func (e *Engine) AccountInformation(ctx context.Context, account string) (types.AccountInformation, error) {
	return e.valuation.AccountInformation(ctx, e.store, account)
}

// AccountCollateralValueUsd returns the total USD value of account's collateral.
func (e *Engine) AccountCollateralValueUsd(ctx context.Context, account string) (sdkmath.LegacyDec, error) {
	return e.valuation.AccountCollateralValueUsd(ctx, e.store, account)
}

// GetUsdValue returns the USD value of a fixed-point amount of denom.
func (e *Engine) GetUsdValue(ctx context.Context, denom string, amount sdkmath.Int) (sdkmath.LegacyDec, error) {
	return e.valuation.GetUsdValue(ctx, denom, amount)
}

// GetTokenAmountFromUsd returns the decimal amount of denom worth usdValue.
func (e *Engine) GetTokenAmountFromUsd(ctx context.Context, denom string, usdValue sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	return e.valuation.GetTokenAmountFromUsd(ctx, denom, usdValue)
}

// PriceFeedID returns the configured feed id for denom.
func (e *Engine) PriceFeedID(denom string) (string, error) {
	return e.valuation.FeedID(denom)
}

// RecentReceipts returns up to limit operation receipts, newest first.
func (e *Engine) RecentReceipts(limit int) ([]types.OperationReceipt, error) {
	return e.receipts.GetRecentReceipts(limit)
}

// listedAsset resolves denom against the accepted collateral list.
func (e *Engine) listedAsset(denom string) (types.Asset, error) {
	asset, ok := e.cfg.AssetByDenom(denom)
	if !ok {
		return types.Asset{}, &valuation.AssetNotListedError{Denom: denom}
	}
	return asset, nil
}

// validatePositive rejects nil, zero, and negative operation amounts.
func validatePositive(amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// collateralOutInstruction builds the instruction that moves asset collateral
// from engine custody to recipient.
func (e *Engine) collateralOutInstruction(asset types.Asset, recipient string, amount sdkmath.Int) types.Instruction {
	if asset.IsNative() {
		return types.Instruction{
			Kind:   types.InstructionBankSend,
			Target: asset.Denom,
			From:   e.cfg.EngineAddress,
			To:     recipient,
			Amount: amount,
		}
	}
	return types.Instruction{
		Kind:   types.InstructionTransfer,
		Target: asset.Contract,
		From:   e.cfg.EngineAddress,
		To:     recipient,
		Amount: amount,
	}
}

// saveReceipt persists the receipt and logs failures without failing the
// operation; the ledger mutation is already committed at this point.
func (e *Engine) saveReceipt(receipt types.OperationReceipt) {
	if _, err := e.receipts.SaveOperationReceipt(receipt); err != nil {
		e.logger.Error().
			Err(err).
			Str("operationID", receipt.OperationID).
			Str("action", receipt.Action).
			Msg("Failed to save operation receipt")
	}
}
