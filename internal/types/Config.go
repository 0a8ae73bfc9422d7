/*

This file contains the protocol configuration, fixed at initialization.

*/

package types

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Config holds the engine parameters. It is created once at initialization and
// immutable afterwards; changing it requires an explicit migration.
type Config struct {
	// Owner is the account allowed to administer the deployment.
	Owner string `json:"owner"`
	// EngineAddress is the account that holds deposited collateral; transfer
	// instructions emitted on deposit name it as recipient.
	EngineAddress string `json:"engine_address"`
	// Assets is the ordered list of accepted collateral assets.
	Assets []Asset `json:"assets"`
	// AssetsToFeeds maps each asset denom to its price feed id. Cardinality
	// must equal the asset list or initialization fails.
	AssetsToFeeds map[string]string `json:"assets_to_feeds"`
	// OracleAddress is the endpoint of the price feed service.
	OracleAddress string `json:"oracle_address"`
	// PythContract is the upstream aggregator the price service reads from.
	PythContract string `json:"pyth_contract"`
	// DscAddress is the stable token contract; mint and burnFrom instructions
	// are addressed to it.
	DscAddress string `json:"dsc_address"`
	// LiquidationThreshold = 50 means only 50% of collateral value counts
	// toward solvency, i.e. positions must be 200% over-collateralized.
	LiquidationThreshold sdkmath.Int `json:"liquidation_threshold"`
	// LiquidationBonus = 10 means a liquidator redeems collateral at a 10% discount.
	LiquidationBonus sdkmath.Int `json:"liquidation_bonus"`
	// MinHealthFactor is the solvency ratio below which an account can be liquidated.
	MinHealthFactor sdkmath.LegacyDec `json:"min_health_factor"`
}

// Validate checks the structural invariants of a freshly built Config.
func (c Config) Validate() error {
	if c.Owner == "" {
		return fmt.Errorf("owner account cannot be empty")
	}
	if c.EngineAddress == "" {
		return fmt.Errorf("engine address cannot be empty")
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("at least one collateral asset is required")
	}
	if len(c.AssetsToFeeds) != len(c.Assets) {
		return fmt.Errorf("asset list and price feed ids lengths don't match: %d assets, %d feeds",
			len(c.Assets), len(c.AssetsToFeeds))
	}
	for _, asset := range c.Assets {
		if asset.Denom == "" {
			return fmt.Errorf("collateral asset denom cannot be empty")
		}
		if _, ok := c.AssetsToFeeds[asset.Denom]; !ok {
			return fmt.Errorf("no price feed id configured for asset %s", asset.Denom)
		}
	}
	if c.DscAddress == "" {
		return fmt.Errorf("dsc token address cannot be empty")
	}
	if c.LiquidationThreshold.IsNil() || !c.LiquidationThreshold.IsPositive() {
		return fmt.Errorf("liquidation threshold must be positive")
	}
	if c.LiquidationThreshold.GT(sdkmath.NewInt(100)) {
		return fmt.Errorf("liquidation threshold cannot exceed 100 percent")
	}
	if c.LiquidationBonus.IsNil() || c.LiquidationBonus.IsNegative() {
		return fmt.Errorf("liquidation bonus cannot be negative")
	}
	if c.MinHealthFactor.IsNil() || !c.MinHealthFactor.IsPositive() {
		return fmt.Errorf("minimum health factor must be positive")
	}
	return nil
}

// AssetByDenom returns the listed asset for denom, or false when it is not listed.
func (c Config) AssetByDenom(denom string) (Asset, bool) {
	for _, asset := range c.Assets {
		if asset.Denom == denom {
			return asset, true
		}
	}
	return Asset{}, false
}
