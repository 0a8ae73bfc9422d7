package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/stablefoundry/dsce/internal/engine"
	"github.com/stablefoundry/dsce/internal/health"
	"github.com/stablefoundry/dsce/internal/ledger"
	"github.com/stablefoundry/dsce/internal/types"
	"github.com/stablefoundry/dsce/internal/valuation"
)

type fixedFeed struct{}

func (fixedFeed) FetchPrice(context.Context, string) (types.PriceQuote, error) {
	return types.PriceQuote{Price: 680000, Expo: -5, PublishTime: 1}, nil
}

func newTestServer(t *testing.T) *WebServer {
	t.Helper()

	cfg := types.Config{
		Owner:                "acct-owner",
		EngineAddress:        "acct-engine",
		Assets:               []types.Asset{{Denom: "uatom", Contract: "contract-atom"}},
		AssetsToFeeds:        map[string]string{"uatom": "feed-atom"},
		OracleAddress:        "http://localhost:4200",
		PythContract:         "pyth-contract",
		DscAddress:           "contract-dsc",
		LiquidationThreshold: sdkmath.NewInt(50),
		LiquidationBonus:     sdkmath.NewInt(10),
		MinHealthFactor:      sdkmath.LegacyOneDec(),
	}

	v := valuation.NewService(cfg, fixedFeed{})
	h := health.NewEngine(cfg, v)
	eng, err := engine.New(cfg, ledger.NewMemoryStore(), v, h, nil)
	require.NoError(t, err)

	return NewWebServer(eng, "0")
}

func doRequest(t *testing.T, ws *WebServer, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	decoded := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestDepositAndMintEndpoint(t *testing.T) {
	ws := newTestServer(t)

	rec, body := doRequest(t, ws, http.MethodPost, "/api/operations/deposit-and-mint",
		`{"account":"acct-alice","denom":"uatom","amount_collateral":"2000000","amount_dsc_to_mint":"1000000"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "deposit_and_mint", body["action"])
	require.Len(t, body["instructions"], 2)

	rec, body = doRequest(t, ws, http.MethodGet, "/api/accounts/acct-alice/health-factor", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "6.800000000000000000", body["health_factor"])

	rec, body = doRequest(t, ws, http.MethodGet, "/api/accounts/acct-alice/collateral/uatom", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "2000000", body["amount"])
}

func TestErrorMapping(t *testing.T) {
	ws := newTestServer(t)

	// Unlisted asset is a client error
	rec, _ := doRequest(t, ws, http.MethodPost, "/api/operations/deposit-and-mint",
		`{"account":"acct-alice","denom":"ufoo","amount_collateral":"1","amount_dsc_to_mint":"1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// A solvency violation is a conflict
	rec, _ = doRequest(t, ws, http.MethodPost, "/api/operations/deposit-and-mint",
		`{"account":"acct-alice","denom":"uatom","amount_collateral":"1000000","amount_dsc_to_mint":"9000000"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	// Liquidating a healthy account is a conflict
	rec, _ = doRequest(t, ws, http.MethodPost, "/api/operations/deposit-and-mint",
		`{"account":"acct-bob","denom":"uatom","amount_collateral":"2000000","amount_dsc_to_mint":"1000000"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = doRequest(t, ws, http.MethodPost, "/api/operations/liquidate",
		`{"liquidator":"acct-liq","target":"acct-bob","denom":"uatom","debt_to_cover_usd":"0.5"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	// Malformed amounts never reach the engine
	rec, _ = doRequest(t, ws, http.MethodPost, "/api/operations/burn-dsc",
		`{"account":"acct-alice","amount_dsc_to_burn":"12.5"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryEndpoints(t *testing.T) {
	ws := newTestServer(t)

	rec, body := doRequest(t, ws, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "acct-owner", body["owner"])

	rec, body = doRequest(t, ws, http.MethodGet, "/api/usd-value?denom=uatom&amount=2000000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "13.600000000000000000", body["usd_value"])

	rec, body = doRequest(t, ws, http.MethodGet, "/api/price-feed-id?denom=uatom", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "feed-atom", body["feed_id"])

	rec, _ = doRequest(t, ws, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
}
