// Package rates resolves crypto-to-fiat conversion rates. Profit is computed
// in the quote currency of a trade pair and converted to the reporting fiat
// with the rates this package serves.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbot/internal/domain"
)

const defaultCoinGeckoURL = "https://api.coingecko.com"

// CoinGecko fetches spot prices from the public CoinGecko API. The API keys
// coins by its own ids, so the symbol-to-id listing is fetched once and
// cached for the client's lifetime.
type CoinGecko struct {
	baseURL    string
	httpClient *http.Client

	idsMu sync.Mutex
	ids   map[string]string // lowercase symbol -> coingecko id
}

// NewCoinGecko creates a rate client. baseURL defaults to the public API.
func NewCoinGecko(baseURL string) *CoinGecko {
	if baseURL == "" {
		baseURL = defaultCoinGeckoURL
	}
	return &CoinGecko{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Rate returns how much one unit of the crypto symbol is worth in the given
// fiat currency.
func (c *CoinGecko) Rate(ctx context.Context, symbol, fiat string) (decimal.Decimal, error) {
	id, err := c.coinID(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}

	params := url.Values{
		"ids":           {id},
		"vs_currencies": {strings.ToLower(fiat)},
	}
	body, err := c.get(ctx, "/api/v3/simple/price", params)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rates: simple price %s/%s: %w", symbol, fiat, err)
	}

	var prices map[string]map[string]json.Number
	if err := json.Unmarshal(body, &prices); err != nil {
		return decimal.Zero, fmt.Errorf("rates: decode simple price: %w", err)
	}

	raw, ok := prices[id][strings.ToLower(fiat)]
	if !ok {
		return decimal.Zero, fmt.Errorf("rates: no %s price for %s: %w", fiat, symbol, domain.ErrNotFound)
	}
	rate, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("rates: parse price %q: %w", raw.String(), err)
	}
	return rate, nil
}

// coinID resolves a ticker symbol to the API's coin id, fetching and caching
// the full listing on first use.
func (c *CoinGecko) coinID(ctx context.Context, symbol string) (string, error) {
	c.idsMu.Lock()
	defer c.idsMu.Unlock()

	if c.ids == nil {
		body, err := c.get(ctx, "/api/v3/coins/list", nil)
		if err != nil {
			return "", fmt.Errorf("rates: coins list: %w", err)
		}

		var coins []struct {
			ID     string `json:"id"`
			Symbol string `json:"symbol"`
		}
		if err := json.Unmarshal(body, &coins); err != nil {
			return "", fmt.Errorf("rates: decode coins list: %w", err)
		}

		ids := make(map[string]string, len(coins))
		for _, coin := range coins {
			// First listing wins; the canonical coin precedes knockoffs
			// sharing its ticker.
			if _, taken := ids[coin.Symbol]; !taken {
				ids[coin.Symbol] = coin.ID
			}
		}
		c.ids = ids
	}

	id, ok := c.ids[strings.ToLower(symbol)]
	if !ok {
		return "", fmt.Errorf("rates: unknown symbol %s: %w", symbol, domain.ErrNotFound)
	}
	return id, nil
}

func (c *CoinGecko) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
