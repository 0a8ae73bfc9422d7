/*

This file contains the collateral asset and price types shared across the engine.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// Asset describes one accepted collateral asset. Token assets carry the address
// of their token contract; native assets are identified by denom alone and are
// moved with bank sends instead of contract calls.
type Asset struct {
	Denom    string `json:"denom"`
	Contract string `json:"contract,omitempty"`
}

// IsNative reports whether the asset is a native coin rather than a token contract.
func (a Asset) IsNative() bool {
	return a.Contract == ""
}

// Coin is an amount of a single native denom supplied alongside an operation.
type Coin struct {
	Denom  string      `json:"denom"`
	Amount sdkmath.Int `json:"amount"`
}

// PriceQuote is one price observation as returned by the price feed service.
// Price is a fixed-point integer scaled by 10^Expo (Expo is negative for
// sub-unit precision, following the Pyth convention).
type PriceQuote struct {
	Price       int64 `json:"price"`
	Expo        int32 `json:"expo"`
	PublishTime int64 `json:"publish_time"`
}

// AccountInformation is the derived per-account position summary: total USD
// value of deposited collateral and total minted DSC debt. It is computed
// fresh on every request and never stored.
type AccountInformation struct {
	CollateralValueUsd sdkmath.LegacyDec `json:"collateral_value_usd"`
	DebtMinted         sdkmath.Int       `json:"debt_minted"`
}
