package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

const testFeedID = "63f341689d98a12ef60a5cff1d7f85c70a9e17bf1575f0e7c0b2512d48b1c8b3"

func priceServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "pyth-contract", 0)
}

func TestFetchPrice(t *testing.T) {
	client := priceServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, testFeedID, r.URL.Query().Get("ids[]"))
		require.Equal(t, "pyth-contract", r.URL.Query().Get("contract"))
		fmt.Fprintf(w, `[{"id":%q,"price":{"price":"680000","expo":-5,"publish_time":1700000000}}]`, testFeedID)
	})

	quote, err := client.FetchPrice(context.Background(), testFeedID)
	require.NoError(t, err)
	require.Equal(t, int64(680000), quote.Price)
	require.Equal(t, int32(-5), quote.Expo)
	require.Equal(t, int64(1700000000), quote.PublishTime)
}

func TestFetchPriceServiceError(t *testing.T) {
	client := priceServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.FetchPrice(context.Background(), testFeedID)
	require.ErrorIs(t, err, ErrPriceUnavailable)

	var oracleErr *Error
	require.ErrorAs(t, err, &oracleErr)
	require.Equal(t, testFeedID, oracleErr.FeedID)
}

func TestFetchPriceRejectsMalformedQuotes(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", `<html>boom</html>`},
		{"wrong feed id", `[{"id":"deadbeef","price":{"price":"680000","expo":-5,"publish_time":1700000000}}]`},
		{"non-integer price", fmt.Sprintf(`[{"id":%q,"price":{"price":"6.80","expo":-5,"publish_time":1700000000}}]`, testFeedID)},
		{"zero price", fmt.Sprintf(`[{"id":%q,"price":{"price":"0","expo":-5,"publish_time":1700000000}}]`, testFeedID)},
		{"negative price", fmt.Sprintf(`[{"id":%q,"price":{"price":"-680000","expo":-5,"publish_time":1700000000}}]`, testFeedID)},
		{"exponent out of range", fmt.Sprintf(`[{"id":%q,"price":{"price":"680000","expo":-19,"publish_time":1700000000}}]`, testFeedID)},
		{"missing publish time", fmt.Sprintf(`[{"id":%q,"price":{"price":"680000","expo":-5}}]`, testFeedID)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			client := priceServer(t, func(w http.ResponseWriter, r *http.Request) {
				calls++
				fmt.Fprint(w, tc.body)
			})

			_, err := client.FetchPrice(context.Background(), testFeedID)
			require.ErrorIs(t, err, ErrInvalidPrice)
			// Malformed responses are deterministic and must not be retried.
			require.Equal(t, 1, calls)
		})
	}
}

func TestFetchPriceRetriesTransientFailures(t *testing.T) {
	calls := 0
	client := priceServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, `[{"id":%q,"price":{"price":"97000","expo":-5,"publish_time":1700000000}}]`, testFeedID)
	})

	quote, err := client.FetchPrice(context.Background(), testFeedID)
	require.NoError(t, err)
	require.Equal(t, int64(97000), quote.Price)
	require.Equal(t, 3, calls)
}

func TestFetchPriceEmptyFeedID(t *testing.T) {
	client := NewClient("http://localhost:1", "pyth-contract", 0)

	_, err := client.FetchPrice(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidPrice)
}
