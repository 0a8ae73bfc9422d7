package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/stablefoundry/dsce/internal/engine"
	"github.com/stablefoundry/dsce/internal/health"
	"github.com/stablefoundry/dsce/internal/ledger"
	"github.com/stablefoundry/dsce/internal/logger"
	"github.com/stablefoundry/dsce/internal/oracle"
	"github.com/stablefoundry/dsce/internal/utils"
	"github.com/stablefoundry/dsce/internal/valuation"

	"github.com/gorilla/mux"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer handles HTTP requests for the engine's operations and queries
type WebServer struct {
	router *mux.Router
	engine *engine.Engine
	port   string
}

// NewWebServer creates a new web server instance
func NewWebServer(eng *engine.Engine, port string) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		engine: eng,
		port:   port,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/config", ws.handleGetConfig).Methods("GET")
	api.HandleFunc("/price-feed-id", ws.handleGetPriceFeedID).Methods("GET")
	api.HandleFunc("/usd-value", ws.handleGetUsdValue).Methods("GET")
	api.HandleFunc("/token-amount", ws.handleGetTokenAmount).Methods("GET")
	api.HandleFunc("/health-factor/calc", ws.handleCalculateHealthFactor).Methods("GET")
	api.HandleFunc("/receipts", ws.handleGetReceipts).Methods("GET")

	api.HandleFunc("/accounts/{account}/collateral/{denom}", ws.handleGetCollateralBalance).Methods("GET")
	api.HandleFunc("/accounts/{account}/debt", ws.handleGetDebt).Methods("GET")
	api.HandleFunc("/accounts/{account}/health-factor", ws.handleGetHealthFactor).Methods("GET")
	api.HandleFunc("/accounts/{account}/information", ws.handleGetAccountInformation).Methods("GET")
	api.HandleFunc("/accounts/{account}/collateral-value", ws.handleGetCollateralValue).Methods("GET")

	ops := api.PathPrefix("/operations").Subrouter()
	ops.HandleFunc("/deposit-and-mint", ws.handleDepositAndMint).Methods("POST")
	ops.HandleFunc("/redeem-collateral-for-dsc", ws.handleRedeemCollateralForDsc).Methods("POST")
	ops.HandleFunc("/redeem-collateral", ws.handleRedeemCollateral).Methods("POST")
	ops.HandleFunc("/burn-dsc", ws.handleBurnDsc).Methods("POST")
	ops.HandleFunc("/liquidate", ws.handleLiquidate).Methods("POST")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// Handler exposes the router for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// writeEngineError maps engine errors onto HTTP status codes.
func (ws *WebServer) writeEngineError(w http.ResponseWriter, err error) {
	var (
		notListed    *valuation.AssetNotListedError
		missingFunds *engine.MissingFundsError
		brokenHF     *health.BrokenError
		oracleErr    *oracle.Error
	)

	switch {
	case errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, utils.ErrAmountNil),
		errors.Is(err, utils.ErrAmountNegative),
		errors.Is(err, utils.ErrInvalidPrecision),
		errors.As(err, &notListed),
		errors.As(err, &missingFunds):
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrHealthFactorOk),
		errors.Is(err, engine.ErrHealthFactorNotImproved),
		errors.Is(err, ledger.ErrInsufficientCollateral),
		errors.Is(err, ledger.ErrInsufficientDebt),
		errors.As(err, &brokenHF):
		ws.writeErrorResponse(w, http.StatusConflict, err.Error())
	case errors.As(err, &oracleErr):
		ws.writeErrorResponse(w, http.StatusBadGateway, err.Error())
	default:
		webLogger.Error().Err(err).Msg("Unexpected engine error")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Internal error")
	}
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
