package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// krakenResponse mimics the public ticker payload for XBT/USD.
const krakenResponse = `{
	"error": [],
	"result": {
		"XXBTZUSD": {
			"a": ["30300.10000", "1", "1.000"],
			"b": ["30300.00000", "1", "1.000"],
			"c": ["30303.20000", "0.00067643"]
		}
	}
}`

// TestParseFiat checks fiat code validation.
func TestParseFiat(t *testing.T) {
	t.Parallel()

	for _, code := range []string{"USD", "EUR", "CHF"} {
		fiat, err := ParseFiat(code)
		require.NoError(t, err)
		require.Equal(t, Fiat(code), fiat)
	}

	_, err := ParseFiat("XAU")
	require.ErrorIs(t, err, ErrUnknownFiat)
}

// TestParseExchange checks exchange name validation.
func TestParseExchange(t *testing.T) {
	t.Parallel()

	exchange, err := ParseExchange("kraken")
	require.NoError(t, err)
	require.Equal(t, Kraken, exchange)

	_, err = ParseExchange("mtgox")
	require.ErrorIs(t, err, ErrUnknownExchange)
}

// TestClientRate checks ticker response decoding.
func TestClientRate(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(rw http.ResponseWriter, r *http.Request) {
			require.Equal(t, "XBTUSD", r.URL.Query().Get("pair"))
			_, _ = rw.Write([]byte(krakenResponse))
		},
	))
	t.Cleanup(server.Close)

	client := &Client{BaseURL: server.URL + "/0/public/Ticker?pair=XBT"}

	rate, err := client.Rate(context.Background(), USD)
	require.NoError(t, err)
	require.InDelta(t, 30303.2, rate, 1e-9)
}

// TestClientRateErrors checks API error and malformed payload handling.
func TestClientRateErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		body string
	}{
		{
			name: "api error",
			body: `{"error": ["EQuery:Unknown asset pair"]}`,
		},
		{
			name: "no ticker data",
			body: `{"error": [], "result": {}}`,
		},
		{
			name: "bad price",
			body: `{"error": [], "result": {"XXBTZUSD": ` +
				`{"c": ["not-a-number", "1"]}}}`,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(
				func(rw http.ResponseWriter, _ *http.Request) {
					_, _ = rw.Write([]byte(tc.body))
				},
			))
			t.Cleanup(server.Close)

			client := &Client{
				BaseURL: server.URL + "/?pair=XBT",
			}

			_, err := client.Rate(context.Background(), USD)
			require.ErrorIs(t, err, ErrBadRate)
		})
	}
}

// TestWorkerRefresh checks that the worker reports the initial rate and
// currency switches.
func TestWorkerRefresh(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(rw http.ResponseWriter, _ *http.Request) {
			_, _ = rw.Write([]byte(krakenResponse))
		},
	))
	t.Cleanup(server.Close)

	worker := NewWorker(Config{
		Client: &Client{
			BaseURL: server.URL + "/?pair=XBT",
		},
		Fiat:            USD,
		RefreshInterval: time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		_ = worker.Run(ctx)
	}()

	// Initial refresh.
	select {
	case msg := <-worker.Events():
		rate, ok := msg.(MsgRate)
		require.True(t, ok, "unexpected message %T", msg)
		require.Equal(t, USD, rate.Fiat)
		require.Equal(t, Kraken, rate.Exchange)
		require.InDelta(t, 30303.2, rate.Rate, 1e-9)

	case <-ctx.Done():
		t.Fatal("timed out waiting for initial rate")
	}

	// Currency switch triggers another refresh.
	require.NoError(t, worker.Command(ctx, CmdSetFiat{Fiat: CHF}))

	select {
	case msg := <-worker.Events():
		rate, ok := msg.(MsgRate)
		require.True(t, ok, "unexpected message %T", msg)
		require.Equal(t, CHF, rate.Fiat)

	case <-ctx.Done():
		t.Fatal("timed out waiting for refreshed rate")
	}
}
