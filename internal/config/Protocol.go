/*

This file contains the protocol parameter configuration.

The parameters mirror the classic over-collateralized stablecoin setup: a 50%
liquidation threshold means positions must be 200% over-collateralized, and a
10% liquidation bonus pays liquidators a discount on seized collateral.

*/

package config

import (
	"errors"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"
	"github.com/stablefoundry/dsce/internal/types"
)

// Protocol parameter configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// Owner is the account allowed to administer the deployment.
	Owner string
	// EngineAddress is the account that custodies deposited collateral.
	EngineAddress string
	// CollateralAssets is the ordered list of accepted collateral assets.
	// Entries are "denom" for native assets or "denom=contract" for token assets.
	CollateralAssets []types.Asset
	// PriceFeedIDs is the ordered list of hex feed ids, parallel to CollateralAssets.
	PriceFeedIDs []string
	// PythContract is the upstream aggregator id forwarded to the price service.
	PythContract string
	// DscAddress is the stable token contract address.
	DscAddress string
	// LiquidationThreshold is the percent of collateral value counted toward solvency.
	LiquidationThreshold sdkmath.Int
	// LiquidationBonus is the percent discount paid to liquidators.
	LiquidationBonus sdkmath.Int
	// MinHealthFactor is the solvency ratio below which liquidation opens.
	MinHealthFactor sdkmath.LegacyDec
)

// loadProtocolConfig loads the protocol parameters from environment variables.
// This function is called by LoadConfig() in General.go.
func loadProtocolConfig() error {
	log.Info().Msg("Loading protocol parameter configuration from environment variables...")

	var err error

	Owner, err = getEnv("DSCE_OWNER")
	if err != nil {
		return err
	}

	EngineAddress, err = getEnv("DSCE_ENGINE_ADDRESS")
	if err != nil {
		return err
	}

	assetEntries, err := getEnvAsList("DSCE_COLLATERAL_DENOMS")
	if err != nil {
		return err
	}
	CollateralAssets = make([]types.Asset, 0, len(assetEntries))
	for _, entry := range assetEntries {
		denom, contract, found := strings.Cut(entry, "=")
		if denom == "" || (found && contract == "") {
			return errors.New("environment variable DSCE_COLLATERAL_DENOMS has a malformed entry: " + entry)
		}
		CollateralAssets = append(CollateralAssets, types.Asset{Denom: denom, Contract: contract})
	}

	PriceFeedIDs, err = getEnvAsList("DSCE_PRICE_FEED_IDS")
	if err != nil {
		return err
	}
	if len(PriceFeedIDs) != len(CollateralAssets) {
		return errors.New("DSCE_COLLATERAL_DENOMS and DSCE_PRICE_FEED_IDS must have the same number of entries")
	}

	PythContract, err = getEnv("DSCE_PYTH_CONTRACT")
	if err != nil {
		return err
	}

	DscAddress, err = getEnv("DSCE_DSC_ADDRESS")
	if err != nil {
		return err
	}

	thresholdRaw, err := getEnvAsInt64("DSCE_LIQUIDATION_THRESHOLD")
	if err != nil {
		return err
	}
	LiquidationThreshold = sdkmath.NewInt(thresholdRaw)

	bonusRaw, err := getEnvAsInt64("DSCE_LIQUIDATION_BONUS")
	if err != nil {
		return err
	}
	LiquidationBonus = sdkmath.NewInt(bonusRaw)

	minHFStr, err := getEnv("DSCE_MIN_HEALTH_FACTOR")
	if err != nil {
		return err
	}
	MinHealthFactor, err = sdkmath.LegacyNewDecFromStr(minHFStr)
	if err != nil {
		return errors.New("environment variable DSCE_MIN_HEALTH_FACTOR must be a valid decimal, got: " + minHFStr)
	}

	log.Debug().
		Str("Owner", Owner).
		Int("Assets", len(CollateralAssets)).
		Str("DscAddress", DscAddress).
		Msg("Protocol parameter configuration loaded successfully.")

	return nil
}

// ProtocolConfig assembles and validates the protocol Config from the loaded variables.
func ProtocolConfig() (types.Config, error) {
	feeds := make(map[string]string, len(CollateralAssets))
	for i, asset := range CollateralAssets {
		feeds[asset.Denom] = PriceFeedIDs[i]
	}

	cfg := types.Config{
		Owner:                Owner,
		EngineAddress:        EngineAddress,
		Assets:               CollateralAssets,
		AssetsToFeeds:        feeds,
		OracleAddress:        OracleURL,
		PythContract:         PythContract,
		DscAddress:           DscAddress,
		LiquidationThreshold: LiquidationThreshold,
		LiquidationBonus:     LiquidationBonus,
		MinHealthFactor:      MinHealthFactor,
	}

	if err := cfg.Validate(); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}
