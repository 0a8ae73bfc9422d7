/*
This file contains the HTTP client for the price feed service.

The engine depends on fresh, validated prices for every valuation; a bad price
propagates straight into health factors and liquidation amounts, so every
response field is validated before a quote is accepted.
*/

package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/stablefoundry/dsce/internal/logger"
	"github.com/stablefoundry/dsce/internal/types"
)

var oracleLogger = logger.GetForComponent("price_oracle")

var (
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrInvalidPrice     = errors.New("invalid price data received")
)

const (
	MAX_RETRIES     = 3
	TIMEOUT_SECONDS = 10
)

// PriceFeed supplies the latest quote for a feed id. The engine's valuation
// layer depends on this interface only, never on the HTTP client directly.
type PriceFeed interface {
	FetchPrice(ctx context.Context, feedID string) (types.PriceQuote, error)
}

// Error wraps a price feed failure with the feed id that caused it.
type Error struct {
	FeedID string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("price feed %s: %v", e.FeedID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// feedResponse is the wire format of the price service: one latest quote per
// feed id, with the price as a decimal integer string scaled by 10^expo.
type feedResponse struct {
	ID    string `json:"id"`
	Price struct {
		Price       string `json:"price"`
		Expo        int32  `json:"expo"`
		PublishTime int64  `json:"publish_time"`
	} `json:"price"`
}

// Client fetches prices from a Hermes-compatible price service over HTTP.
type Client struct {
	baseURL      string
	pythContract string
	httpClient   *http.Client
}

// NewClient creates a price feed client for the given service endpoint.
func NewClient(baseURL string, pythContract string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = TIMEOUT_SECONDS * time.Second
	}
	return &Client{
		baseURL:      baseURL,
		pythContract: pythContract,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// FetchPrice retrieves and validates the latest quote for feedID, retrying
// transient failures with linear backoff.
func (c *Client) FetchPrice(ctx context.Context, feedID string) (types.PriceQuote, error) {
	if feedID == "" {
		return types.PriceQuote{}, &Error{FeedID: feedID, Err: fmt.Errorf("%w: empty feed id", ErrInvalidPrice)}
	}

	requestURL := fmt.Sprintf("%s/api/latest_price_feeds?ids[]=%s&contract=%s",
		c.baseURL, url.QueryEscape(feedID), url.QueryEscape(c.pythContract))

	var lastErr error
	for attempt := 1; attempt <= MAX_RETRIES; attempt++ {
		oracleLogger.Debug().
			Str("feedID", feedID).
			Int("attempt", attempt).
			Int("maxRetries", MAX_RETRIES).
			Msg("Requesting latest price")

		quote, err := c.fetchOnce(ctx, requestURL, feedID)
		if err == nil {
			return quote, nil
		}
		lastErr = err

		// Validation failures are deterministic; retrying cannot help.
		if errors.Is(err, ErrInvalidPrice) || ctx.Err() != nil {
			break
		}

		oracleLogger.Warn().
			Err(err).
			Str("feedID", feedID).
			Int("attempt", attempt).
			Msg("Price request failed, will retry if attempts remain")

		if attempt < MAX_RETRIES {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return types.PriceQuote{}, &Error{FeedID: feedID, Err: ctx.Err()}
			}
		}
	}

	oracleLogger.Error().
		Err(lastErr).
		Str("feedID", feedID).
		Int("maxRetries", MAX_RETRIES).
		Msg("All price request attempts failed")
	return types.PriceQuote{}, &Error{FeedID: feedID, Err: lastErr}
}

// fetchOnce performs a single request and validates the response.
func (c *Client) fetchOnce(ctx context.Context, requestURL string, feedID string) (types.PriceQuote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return types.PriceQuote{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.PriceQuote{}, fmt.Errorf("%w: %w", ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.PriceQuote{}, fmt.Errorf("%w: service returned status %d", ErrPriceUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.PriceQuote{}, fmt.Errorf("%w: failed to read response body: %w", ErrPriceUnavailable, err)
	}
	if len(body) == 0 {
		return types.PriceQuote{}, fmt.Errorf("%w: empty response body", ErrPriceUnavailable)
	}

	var feeds []feedResponse
	if err := json.Unmarshal(body, &feeds); err != nil {
		return types.PriceQuote{}, fmt.Errorf("%w: failed to parse response: %w", ErrInvalidPrice, err)
	}
	if len(feeds) == 0 {
		return types.PriceQuote{}, fmt.Errorf("%w: no quote returned", ErrPriceUnavailable)
	}

	feed := feeds[0]
	if feed.ID != feedID {
		return types.PriceQuote{}, fmt.Errorf("%w: response feed id %s does not match requested %s", ErrInvalidPrice, feed.ID, feedID)
	}

	price, err := strconv.ParseInt(feed.Price.Price, 10, 64)
	if err != nil {
		return types.PriceQuote{}, fmt.Errorf("%w: price is not a valid integer: %q", ErrInvalidPrice, feed.Price.Price)
	}
	if price <= 0 {
		return types.PriceQuote{}, fmt.Errorf("%w: price must be positive, got %d", ErrInvalidPrice, price)
	}
	if feed.Price.Expo > 18 || feed.Price.Expo < -18 {
		return types.PriceQuote{}, fmt.Errorf("%w: exponent out of range: %d", ErrInvalidPrice, feed.Price.Expo)
	}
	if feed.Price.PublishTime <= 0 {
		return types.PriceQuote{}, fmt.Errorf("%w: invalid publish time: %d", ErrInvalidPrice, feed.Price.PublishTime)
	}

	oracleLogger.Debug().
		Str("feedID", feedID).
		Int64("price", price).
		Int32("expo", feed.Price.Expo).
		Int64("publishTime", feed.Price.PublishTime).
		Msg("Price quote received")

	return types.PriceQuote{
		Price:       price,
		Expo:        feed.Price.Expo,
		PublishTime: feed.Price.PublishTime,
	}, nil
}
