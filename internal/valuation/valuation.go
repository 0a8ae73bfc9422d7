/*

This file contains the USD valuation logic.

Every accepted asset and the DSC token use six-decimal fixed point. All USD and
ratio intermediates stay in unbounded-precision decimals; conversion back to
fixed point always floors, so valuations never overstate what an account holds.

*/

package valuation

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/stablefoundry/dsce/internal/ledger"
	"github.com/stablefoundry/dsce/internal/logger"
	"github.com/stablefoundry/dsce/internal/oracle"
	"github.com/stablefoundry/dsce/internal/types"
	"github.com/stablefoundry/dsce/internal/utils"
)

var valuationLogger = logger.GetForComponent("valuation")

// FixedPointDecimals is the fixed-point precision of every asset and of DSC.
const FixedPointDecimals = 6

// AssetNotListedError reports a denom outside the accepted collateral list.
type AssetNotListedError struct {
	Denom string
}

func (e *AssetNotListedError) Error() string {
	return fmt.Sprintf("asset %s is not an accepted collateral asset", e.Denom)
}

// Service values balances in USD using the configured price feeds.
type Service struct {
	cfg    types.Config
	prices oracle.PriceFeed
}

// NewService creates a valuation service over the given price feed.
func NewService(cfg types.Config, prices oracle.PriceFeed) *Service {
	return &Service{cfg: cfg, prices: prices}
}

// FeedID returns the price feed id configured for denom.
func (s *Service) FeedID(denom string) (string, error) {
	feedID, ok := s.cfg.AssetsToFeeds[denom]
	if !ok {
		return "", &AssetNotListedError{Denom: denom}
	}
	return feedID, nil
}

// AssetPrice returns the current USD price of one whole unit of denom.
func (s *Service) AssetPrice(ctx context.Context, denom string) (sdkmath.LegacyDec, error) {
	feedID, err := s.FeedID(denom)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	quote, err := s.prices.FetchPrice(ctx, feedID)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	return priceToDec(quote)
}

// priceToDec converts a fixed-point quote to a decimal price. The exponent's
// magnitude always scales the price down: price * 10^(-|expo|).
func priceToDec(quote types.PriceQuote) (sdkmath.LegacyDec, error) {
	if quote.Price <= 0 {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: price must be positive, got %d", oracle.ErrInvalidPrice, quote.Price)
	}
	if quote.Expo > 18 || quote.Expo < -18 {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: exponent out of range: %d", oracle.ErrInvalidPrice, quote.Expo)
	}

	price := sdkmath.LegacyNewDec(quote.Price)
	factor := sdkmath.LegacyNewDec(1)
	magnitude := int(quote.Expo)
	if magnitude < 0 {
		magnitude = -magnitude
	}
	for i := 0; i < magnitude; i++ {
		factor = factor.Mul(sdkmath.LegacyNewDec(10))
	}

	return price.Quo(factor), nil
}

// GetUsdValue returns the USD value of a fixed-point amount of denom.
func (s *Service) GetUsdValue(ctx context.Context, denom string, amount sdkmath.Int) (sdkmath.LegacyDec, error) {
	price, err := s.AssetPrice(ctx, denom)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	decAmount, err := utils.IntToDec(amount, FixedPointDecimals)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	return decAmount.Mul(price), nil
}

// GetTokenAmountFromUsd returns the decimal amount of denom worth usdValue at
// the current price. The caller floors to fixed point when needed.
func (s *Service) GetTokenAmountFromUsd(ctx context.Context, denom string, usdValue sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if usdValue.IsNil() {
		return sdkmath.LegacyZeroDec(), utils.ErrAmountNil
	}
	if usdValue.IsNegative() {
		return sdkmath.LegacyZeroDec(), utils.ErrAmountNegative
	}

	price, err := s.AssetPrice(ctx, denom)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	return usdValue.Quo(price), nil
}

// AccountCollateralValueUsd sums the USD value of every deposited asset for
// account. Zero balances skip the price lookup entirely.
func (s *Service) AccountCollateralValueUsd(ctx context.Context, r ledger.Reader, account string) (sdkmath.LegacyDec, error) {
	total := sdkmath.LegacyZeroDec()
	for _, asset := range s.cfg.Assets {
		balance, err := r.CollateralBalance(account, asset.Denom)
		if err != nil {
			return sdkmath.LegacyZeroDec(), err
		}
		if balance.IsZero() {
			continue
		}

		value, err := s.GetUsdValue(ctx, asset.Denom, balance)
		if err != nil {
			return sdkmath.LegacyZeroDec(), err
		}
		total = total.Add(value)
	}

	valuationLogger.Debug().
		Str("account", account).
		Str("collateralValueUsd", total.String()).
		Msg("Valued account collateral")
	return total, nil
}

// AccountInformation returns the position summary for account.
func (s *Service) AccountInformation(ctx context.Context, r ledger.Reader, account string) (types.AccountInformation, error) {
	collateralValue, err := s.AccountCollateralValueUsd(ctx, r, account)
	if err != nil {
		return types.AccountInformation{}, err
	}

	debt, err := r.DebtBalance(account)
	if err != nil {
		return types.AccountInformation{}, err
	}

	return types.AccountInformation{
		CollateralValueUsd: collateralValue,
		DebtMinted:         debt,
	}, nil
}
