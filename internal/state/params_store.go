// ./internal/state/params_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"
	"github.com/stablefoundry/dsce/internal/types"
)

// SaveConfig persists the protocol configuration. The parameters are set once
// per version; re-seeding an existing version fails on the unique constraint.
func SaveConfig(cfg types.Config, version int) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	if err := cfg.Validate(); err != nil {
		return 0, fmt.Errorf("refusing to save invalid config: %w", err)
	}

	assetsJSON, err := json.Marshal(cfg.Assets)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal assets: %w", err)
	}
	feedsJSON, err := json.Marshal(cfg.AssetsToFeeds)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal asset feed map: %w", err)
	}

	stmt := `
		INSERT INTO engine_params (
			version, owner_account, engine_address, assets, assets_to_feeds,
			oracle_address, pyth_contract, dsc_address,
			liquidation_threshold, liquidation_bonus, min_health_factor
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11)
		RETURNING params_id;`

	var paramsID int64
	err = DB.QueryRow(
		stmt,
		version, cfg.Owner, cfg.EngineAddress, assetsJSON, feedsJSON,
		cfg.OracleAddress, cfg.PythContract, cfg.DscAddress,
		cfg.LiquidationThreshold.String(), cfg.LiquidationBonus.String(), cfg.MinHealthFactor.String(),
	).Scan(&paramsID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert engine params: %w", err)
	}

	log.Info().
		Int("version", version).
		Int64("params_id", paramsID).
		Msg("Saved engine parameters")
	return paramsID, nil
}

// LoadConfig loads the latest persisted protocol configuration. Returns
// sql.ErrNoRows wrapped when no configuration has been saved yet.
func LoadConfig() (*types.Config, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT owner_account, engine_address, assets, assets_to_feeds,
		       oracle_address, pyth_contract, dsc_address,
		       liquidation_threshold, liquidation_bonus, min_health_factor
		FROM engine_params
		ORDER BY version DESC
		LIMIT 1;`

	var (
		cfg          types.Config
		assetsJSON   []byte
		feedsJSON    []byte
		thresholdStr string
		bonusStr     string
		minHFStr     string
	)
	row := DB.QueryRow(query)
	err := row.Scan(
		&cfg.Owner, &cfg.EngineAddress, &assetsJSON, &feedsJSON,
		&cfg.OracleAddress, &cfg.PythContract, &cfg.DscAddress,
		&thresholdStr, &bonusStr, &minHFStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no engine parameters found: %w", err)
		}
		return nil, fmt.Errorf("failed to scan engine params: %w", err)
	}

	if err := json.Unmarshal(assetsJSON, &cfg.Assets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assets: %w", err)
	}
	if err := json.Unmarshal(feedsJSON, &cfg.AssetsToFeeds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset feed map: %w", err)
	}

	threshold, ok := sdkmath.NewIntFromString(thresholdStr)
	if !ok {
		return nil, fmt.Errorf("stored liquidation threshold is not a valid integer: %q", thresholdStr)
	}
	cfg.LiquidationThreshold = threshold

	bonus, ok := sdkmath.NewIntFromString(bonusStr)
	if !ok {
		return nil, fmt.Errorf("stored liquidation bonus is not a valid integer: %q", bonusStr)
	}
	cfg.LiquidationBonus = bonus

	minHF, err := sdkmath.LegacyNewDecFromStr(minHFStr)
	if err != nil {
		return nil, fmt.Errorf("stored minimum health factor is not a valid decimal: %q", minHFStr)
	}
	cfg.MinHealthFactor = minHF

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("stored engine params are invalid: %w", err)
	}

	log.Info().Msg("Loaded engine parameters")
	return &cfg, nil
}
