// Package exchange fetches fiat prices of bitcoin and keeps them refreshed
// through a background worker.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	// ErrUnknownFiat is returned when a fiat currency is not supported.
	ErrUnknownFiat = errors.New("unsupported fiat currency")

	// ErrBadRate is returned when the exchange response cannot be
	// interpreted.
	ErrBadRate = errors.New("unexpected exchange response")

	// ErrUnknownExchange is returned when an exchange name is not
	// supported.
	ErrUnknownExchange = errors.New("unsupported exchange")
)

// Exchange identifies a price source.
type Exchange string

// Kraken is the only exchange currently supported.
const Kraken Exchange = "kraken"

// ParseExchange parses an exchange name.
func ParseExchange(name string) (Exchange, error) {
	if Exchange(name) == Kraken {
		return Kraken, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownExchange, name)
}

// Fiat is a supported quote currency.
type Fiat string

const (
	// USD is the US dollar.
	USD Fiat = "USD"

	// EUR is the euro.
	EUR Fiat = "EUR"

	// CHF is the Swiss franc.
	CHF Fiat = "CHF"
)

// ParseFiat parses a fiat currency code.
func ParseFiat(code string) (Fiat, error) {
	switch Fiat(code) {
	case USD, EUR, CHF:
		return Fiat(code), nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownFiat, code)
}

// krakenTickerURL is the public ticker endpoint; the pair parameter is
// appended per request.
const krakenTickerURL = "https://api.kraken.com/0/public/Ticker?pair=XBT"

// requestTimeout bounds one ticker fetch.
const requestTimeout = 10 * time.Second

// Client fetches spot prices from the kraken public API.
type Client struct {
	// HTTP is the underlying client. A zero Client uses the default.
	HTTP *http.Client

	// BaseURL overrides the ticker endpoint, used by tests.
	BaseURL string
}

// krakenTicker is the wire form of a ticker response. The result maps the
// resolved pair name onto its ticker data; "c" holds the price and lot
// volume of the last closed trade.
type krakenTicker struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		Close []string `json:"c"`
	} `json:"result"`
}

// Rate fetches the current price of one bitcoin in the given fiat currency.
func (c *Client) Rate(ctx context.Context, fiat Fiat) (float64, error) {
	url := c.BaseURL
	if url == "" {
		url = krakenTickerURL
	}
	url += string(fiat)

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("unable to fetch %s rate: %w", fiat, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %s", ErrBadRate, resp.Status)
	}

	var ticker krakenTicker
	err = json.NewDecoder(resp.Body).Decode(&ticker)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadRate, err)
	}

	if len(ticker.Error) > 0 {
		return 0, fmt.Errorf("%w: %v", ErrBadRate, ticker.Error)
	}

	// The pair name in the result varies by currency; there is exactly
	// one entry.
	for _, data := range ticker.Result {
		if len(data.Close) == 0 {
			break
		}

		rate, err := strconv.ParseFloat(data.Close[0], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad price %q", ErrBadRate,
				data.Close[0])
		}

		return rate, nil
	}

	return 0, fmt.Errorf("%w: no ticker data", ErrBadRate)
}
