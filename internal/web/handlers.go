/*

This file contains the HTTP handlers. Fixed-point amounts cross the wire as
decimal strings so no precision is lost to JSON number parsing.

*/

package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/stablefoundry/dsce/internal/types"
	"github.com/stablefoundry/dsce/internal/utils"
)

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	response := map[string]interface{}{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "dsce-stablecoin-engine",
			"version": "1.0.0",
		},
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetConfig returns the full protocol configuration
func (ws *WebServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, ws.engine.Config())
}

// handleGetPriceFeedID returns the feed id configured for a denom
func (ws *WebServer) handleGetPriceFeedID(w http.ResponseWriter, r *http.Request) {
	denom := r.URL.Query().Get("denom")
	if denom == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "denom query parameter is required")
		return
	}

	feedID, err := ws.engine.PriceFeedID(denom)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]string{
		"denom":   denom,
		"feed_id": feedID,
	})
}

// handleGetUsdValue values a fixed-point amount of a denom in USD
func (ws *WebServer) handleGetUsdValue(w http.ResponseWriter, r *http.Request) {
	denom := r.URL.Query().Get("denom")
	amountStr := r.URL.Query().Get("amount")
	if denom == "" || amountStr == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "denom and amount query parameters are required")
		return
	}

	amount, err := utils.IntFromString(amountStr)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	value, err := ws.engine.GetUsdValue(r.Context(), denom, amount)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]string{
		"denom":     denom,
		"amount":    amount.String(),
		"usd_value": value.String(),
	})
}

// handleGetTokenAmount converts a USD value into a decimal token amount
func (ws *WebServer) handleGetTokenAmount(w http.ResponseWriter, r *http.Request) {
	denom := r.URL.Query().Get("denom")
	usdStr := r.URL.Query().Get("usd_value")
	if denom == "" || usdStr == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "denom and usd_value query parameters are required")
		return
	}

	usdValue, err := utils.DecFromString(usdStr)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := ws.engine.GetTokenAmountFromUsd(r.Context(), denom, usdValue)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]string{
		"denom":        denom,
		"usd_value":    usdValue.String(),
		"token_amount": amount.String(),
	})
}

// handleCalculateHealthFactor computes a health factor from explicit inputs
func (ws *WebServer) handleCalculateHealthFactor(w http.ResponseWriter, r *http.Request) {
	debtStr := r.URL.Query().Get("debt")
	collateralStr := r.URL.Query().Get("collateral_value_usd")
	if debtStr == "" || collateralStr == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "debt and collateral_value_usd query parameters are required")
		return
	}

	debt, err := utils.IntFromString(debtStr)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	collateralValue, err := utils.DecFromString(collateralStr)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	hf, err := ws.engine.CalculateHealthFactor(debt, collateralValue)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]string{
		"debt":                 debt.String(),
		"collateral_value_usd": collateralValue.String(),
		"health_factor":        hf.String(),
	})
}

// handleGetReceipts returns recent operation receipts
func (ws *WebServer) handleGetReceipts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	receipts, err := ws.engine.RecentReceipts(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent receipts")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve receipts")
		return
	}

	response := map[string]interface{}{
		"receipts": receipts,
		"count":    len(receipts),
		"limit":    limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetCollateralBalance returns the deposited amount for account and denom
func (ws *WebServer) handleGetCollateralBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	account := vars["account"]
	denom := vars["denom"]

	balance, err := ws.engine.CollateralBalanceOf(account, denom)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]string{
		"account": account,
		"denom":   denom,
		"amount":  balance.String(),
	})
}

// handleGetDebt returns the minted DSC for an account, optionally at a height
func (ws *WebServer) handleGetDebt(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]

	if heightStr := r.URL.Query().Get("height"); heightStr != "" {
		height, err := strconv.ParseInt(heightStr, 10, 64)
		if err != nil {
			ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid height")
			return
		}

		debt, err := ws.engine.DebtOfAtHeight(account, height)
		if err != nil {
			ws.writeEngineError(w, err)
			return
		}
		ws.writeJSONResponse(w, http.StatusOK, map[string]string{
			"account": account,
			"height":  heightStr,
			"amount":  debt.String(),
		})
		return
	}

	debt, err := ws.engine.DebtOf(account)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]string{
		"account": account,
		"amount":  debt.String(),
	})
}

// handleGetHealthFactor returns the current health factor of an account
func (ws *WebServer) handleGetHealthFactor(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]

	hf, err := ws.engine.HealthFactor(r.Context(), account)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]string{
		"account":       account,
		"health_factor": hf.String(),
	})
}

// handleGetAccountInformation returns the position summary of an account
func (ws *WebServer) handleGetAccountInformation(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]

	info, err := ws.engine.AccountInformation(r.Context(), account)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]string{
		"account":              account,
		"collateral_value_usd": info.CollateralValueUsd.String(),
		"debt_minted":          info.DebtMinted.String(),
	})
}

// handleGetCollateralValue returns the total USD value of an account's collateral
func (ws *WebServer) handleGetCollateralValue(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]

	value, err := ws.engine.AccountCollateralValueUsd(r.Context(), account)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]string{
		"account":              account,
		"collateral_value_usd": value.String(),
	})
}

type depositAndMintRequest struct {
	Account          string `json:"account"`
	Denom            string `json:"denom"`
	AmountCollateral string `json:"amount_collateral"`
	AmountDscToMint  string `json:"amount_dsc_to_mint"`
	Funds            []struct {
		Denom  string `json:"denom"`
		Amount string `json:"amount"`
	} `json:"funds,omitempty"`
}

// handleDepositAndMint deposits collateral and mints DSC against it
func (ws *WebServer) handleDepositAndMint(w http.ResponseWriter, r *http.Request) {
	var req depositAndMintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	amountCollateral, err := utils.IntFromString(req.AmountCollateral)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	amountDsc, err := utils.IntFromString(req.AmountDscToMint)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	var funds []types.Coin
	for _, coin := range req.Funds {
		amount, err := utils.IntFromString(coin.Amount)
		if err != nil {
			ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		funds = append(funds, types.Coin{Denom: coin.Denom, Amount: amount})
	}

	receipt, err := ws.engine.DepositAndMint(r.Context(), req.Account, req.Denom, amountCollateral, amountDsc, funds)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, receipt)
}

type redeemCollateralForDscRequest struct {
	Account          string `json:"account"`
	Denom            string `json:"denom"`
	AmountCollateral string `json:"amount_collateral"`
	AmountDscToBurn  string `json:"amount_dsc_to_burn"`
}

// handleRedeemCollateralForDsc burns DSC and redeems collateral atomically
func (ws *WebServer) handleRedeemCollateralForDsc(w http.ResponseWriter, r *http.Request) {
	var req redeemCollateralForDscRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	amountCollateral, err := utils.IntFromString(req.AmountCollateral)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	amountDsc, err := utils.IntFromString(req.AmountDscToBurn)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := ws.engine.RedeemCollateralForDsc(r.Context(), req.Account, req.Denom, amountCollateral, amountDsc)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, receipt)
}

type redeemCollateralRequest struct {
	Account          string `json:"account"`
	Denom            string `json:"denom"`
	AmountCollateral string `json:"amount_collateral"`
}

// handleRedeemCollateral withdraws collateral from a position
func (ws *WebServer) handleRedeemCollateral(w http.ResponseWriter, r *http.Request) {
	var req redeemCollateralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	amountCollateral, err := utils.IntFromString(req.AmountCollateral)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := ws.engine.RedeemCollateral(r.Context(), req.Account, req.Denom, amountCollateral)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, receipt)
}

type burnDscRequest struct {
	Account         string `json:"account"`
	AmountDscToBurn string `json:"amount_dsc_to_burn"`
}

// handleBurnDsc retires minted DSC
func (ws *WebServer) handleBurnDsc(w http.ResponseWriter, r *http.Request) {
	var req burnDscRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	amountDsc, err := utils.IntFromString(req.AmountDscToBurn)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := ws.engine.BurnDsc(r.Context(), req.Account, amountDsc)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, receipt)
}

type liquidateRequest struct {
	Liquidator     string `json:"liquidator"`
	Target         string `json:"target"`
	Denom          string `json:"denom"`
	DebtToCoverUsd string `json:"debt_to_cover_usd"`
}

// handleLiquidate liquidates an under-collateralized position
func (ws *WebServer) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	debtToCover, err := utils.DecFromString(req.DebtToCoverUsd)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := ws.engine.Liquidate(r.Context(), req.Liquidator, req.Target, req.Denom, debtToCover)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, receipt)
}
