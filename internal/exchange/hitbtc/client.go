// Package hitbtc implements the exchange adapter for the HitBTC REST API.
package hitbtc

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
	"github.com/alanyoungcy/arbot/internal/exchange"
)

const (
	defaultBaseURL = "https://api.hitbtc.com"

	orderPollInterval = 5 * time.Second
)

func init() {
	exchange.RegisterFactory("hitbtc", func(creds exchange.Credentials) (exchange.Exchange, error) {
		return New(creds), nil
	})
}

// Client is the HitBTC REST adapter. Authenticated endpoints use HTTP basic
// auth with the API key and secret.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client

	pairsMu sync.Mutex
	pairs   []domain.Market
}

// New creates a HitBTC adapter with the given credentials.
func New(creds exchange.Credentials) *Client {
	return &Client{
		baseURL:   defaultBaseURL,
		apiKey:    creds.APIKey,
		apiSecret: creds.APISecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the venue identifier.
func (c *Client) Name() string { return "hitbtc" }

// Pairs returns every listed symbol with its trading constraints. The venue
// denominates its minimum trade size in the base currency and expresses the
// volume precision as a quantity increment.
func (c *Client) Pairs(ctx context.Context) ([]domain.Market, error) {
	c.pairsMu.Lock()
	defer c.pairsMu.Unlock()
	if c.pairs != nil {
		return c.pairs, nil
	}

	body, err := c.do(ctx, http.MethodGet, "/api/2/public/symbol", nil, false)
	if err != nil {
		return nil, fmt.Errorf("hitbtc: symbols: %w", err)
	}

	var symbols []struct {
		ID                string `json:"id"`
		BaseCurrency      string `json:"baseCurrency"`
		QuoteCurrency     string `json:"quoteCurrency"`
		QuantityIncrement string `json:"quantityIncrement"`
		TakeLiquidityRate string `json:"takeLiquidityRate"`
	}
	if err := json.Unmarshal(body, &symbols); err != nil {
		return nil, fmt.Errorf("hitbtc: decode symbols: %w", err)
	}

	pairs := make([]domain.Market, 0, len(symbols))
	for _, s := range symbols {
		increment, err := decimal.NewFromString(s.QuantityIncrement)
		if err != nil {
			continue
		}
		fee, err := decimal.NewFromString(s.TakeLiquidityRate)
		if err != nil {
			continue
		}
		pairs = append(pairs, domain.Market{
			Pair:                 domain.TradePair{Base: s.BaseCurrency, Quote: s.QuoteCurrency},
			TradingCode:          s.ID,
			Fee:                  fee,
			MinTradeSize:         increment,
			MinTradeSizeCurrency: s.BaseCurrency,
			DecimalPlaces:        -increment.Exponent(),
		})
	}

	c.pairs = pairs
	return pairs, nil
}

// BindPair resolves a common pair against the cached listing.
func (c *Client) BindPair(ctx context.Context, pair domain.TradePair) (domain.Market, error) {
	pairs, err := c.Pairs(ctx)
	if err != nil {
		return domain.Market{}, err
	}
	return exchange.FindPair(pairs, pair)
}

// OrderBook fetches the depth ladder for a bound market.
func (c *Client) OrderBook(ctx context.Context, m domain.Market) (domain.OrderBook, error) {
	path := "/api/2/public/orderbook/" + m.TradingCode + "?limit=100"
	body, err := c.do(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("hitbtc: orderbook %s: %w", m.TradingCode, err)
	}

	var book struct {
		Ask []struct {
			Price string `json:"price"`
			Size  string `json:"size"`
		} `json:"ask"`
		Bid []struct {
			Price string `json:"price"`
			Size  string `json:"size"`
		} `json:"bid"`
	}
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.OrderBook{}, fmt.Errorf("hitbtc: decode orderbook: %w", err)
	}

	out := domain.OrderBook{
		Asks: make([]domain.PriceLevel, 0, len(book.Ask)),
		Bids: make([]domain.PriceLevel, 0, len(book.Bid)),
	}
	for _, lvl := range book.Ask {
		price, err1 := decimal.NewFromString(lvl.Price)
		size, err2 := decimal.NewFromString(lvl.Size)
		if err1 != nil || err2 != nil {
			continue
		}
		out.Asks = append(out.Asks, domain.PriceLevel{Price: price, Volume: size})
	}
	for _, lvl := range book.Bid {
		price, err1 := decimal.NewFromString(lvl.Price)
		size, err2 := decimal.NewFromString(lvl.Size)
		if err1 != nil || err2 != nil {
			continue
		}
		out.Bids = append(out.Bids, domain.PriceLevel{Price: price, Volume: size})
	}
	return out, nil
}

// Balances returns the available amount of every currency on the trading
// account.
func (c *Client) Balances(ctx context.Context) (domain.Balances, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/2/trading/balance", nil, true)
	if err != nil {
		return nil, fmt.Errorf("hitbtc: trading balance: %w", err)
	}

	var balances []struct {
		Currency  string `json:"currency"`
		Available string `json:"available"`
	}
	if err := json.Unmarshal(body, &balances); err != nil {
		return nil, fmt.Errorf("hitbtc: decode trading balance: %w", err)
	}

	out := make(domain.Balances, len(balances))
	for _, b := range balances {
		amount, err := decimal.NewFromString(b.Available)
		if err != nil {
			continue
		}
		out[b.Currency] = amount
	}
	return out, nil
}

// PendingBalances returns per-currency deposit amounts still awaiting
// confirmations.
func (c *Client) PendingBalances(ctx context.Context) (domain.Balances, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/2/account/transactions?limit=100", nil, true)
	if err != nil {
		return nil, fmt.Errorf("hitbtc: transactions: %w", err)
	}

	var txs []struct {
		Currency string `json:"currency"`
		Amount   string `json:"amount"`
		Type     string `json:"type"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(body, &txs); err != nil {
		return nil, fmt.Errorf("hitbtc: decode transactions: %w", err)
	}

	out := make(domain.Balances)
	for _, tx := range txs {
		if tx.Type != "payin" || tx.Status != "pending" {
			continue
		}
		amount, err := decimal.NewFromString(tx.Amount)
		if err != nil {
			continue
		}
		out[tx.Currency] = out[tx.Currency].Add(amount)
	}
	return out, nil
}

// Trade submits a limit order and polls until it fills.
func (c *Client) Trade(ctx context.Context, m domain.Market, side domain.TradeSide, volume, price decimal.Decimal) (domain.Trade, error) {
	params := url.Values{
		"symbol":   {m.TradingCode},
		"side":     {string(side)},
		"type":     {"limit"},
		"quantity": {volume.String()},
		"price":    {price.String()},
	}
	body, err := c.do(ctx, http.MethodPost, "/api/2/order", params, true)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("hitbtc: place order: %w", err)
	}

	var placed orderResponse
	if err := json.Unmarshal(body, &placed); err != nil {
		return domain.Trade{}, fmt.Errorf("hitbtc: decode order: %w", err)
	}

	filled, err := c.waitFilled(ctx, placed)
	if err != nil {
		return domain.Trade{}, err
	}
	return filled.toTrade(c.Name(), m, side), nil
}

func (c *Client) waitFilled(ctx context.Context, placed orderResponse) (orderResponse, error) {
	for placed.Status != "filled" {
		select {
		case <-ctx.Done():
			return placed, fmt.Errorf("hitbtc: wait for fill: %w", ctx.Err())
		case <-time.After(orderPollInterval):
		}

		body, err := c.do(ctx, http.MethodGet, "/api/2/order/"+placed.ClientOrderID, nil, true)
		if err != nil {
			return placed, fmt.Errorf("hitbtc: order status: %w", err)
		}
		if err := json.Unmarshal(body, &placed); err != nil {
			return placed, fmt.Errorf("hitbtc: decode order status: %w", err)
		}
	}
	return placed, nil
}

// TradeValidity applies the market's size and precision rules.
func (c *Client) TradeValidity(m domain.Market, price, volume decimal.Decimal) (bool, decimal.Decimal, decimal.Decimal) {
	return exchange.ValidateTrade(m, price, volume)
}

// DepositAddress returns the deposit address for a currency, creating one if
// none exists yet.
func (c *Client) DepositAddress(ctx context.Context, currency string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/2/account/crypto/address/"+currency, nil, true)
	if err != nil {
		return "", fmt.Errorf("hitbtc: deposit address %s: %w", currency, err)
	}

	var resp struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("hitbtc: decode deposit address: %w", err)
	}
	return resp.Address, nil
}

// MinimumDepositVolume returns the smallest deposit the venue credits for a
// currency, derived from the currency's payin confirmation metadata.
func (c *Client) MinimumDepositVolume(ctx context.Context, currency string) (decimal.Decimal, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/2/public/currency/"+currency, nil, false)
	if err != nil {
		return decimal.Zero, fmt.Errorf("hitbtc: currency %s: %w", currency, err)
	}

	var resp struct {
		PayinEnabled bool   `json:"payinEnabled"`
		PayoutFee    string `json:"payoutFee"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("hitbtc: decode currency: %w", err)
	}
	if !resp.PayinEnabled {
		return decimal.Zero, fmt.Errorf("hitbtc: deposits disabled for %s: %w", currency, domain.ErrNotFound)
	}

	// Deposits below the payout fee cannot usefully be moved again, so treat
	// the fee as the floor.
	fee, err := decimal.NewFromString(resp.PayoutFee)
	if err != nil {
		return decimal.Zero, nil
	}
	return fee, nil
}

// do issues a request, applying basic auth when signed is set.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	var reqBody io.Reader
	if method == http.MethodPost && len(params) > 0 {
		reqBody = strings.NewReader(params.Encode())
	}

	u := c.baseURL + path
	if method == http.MethodGet && len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if signed {
		req.SetBasicAuth(c.apiKey, c.apiSecret)
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

type orderResponse struct {
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	CumQuantity   string `json:"cumQuantity"`
	Price         string `json:"price"`
	UpdatedAt     string `json:"updatedAt"`
}

func (o orderResponse) toTrade(venue string, m domain.Market, side domain.TradeSide) domain.Trade {
	volume, _ := decimal.NewFromString(o.CumQuantity)
	price, _ := decimal.NewFromString(o.Price)
	return domain.Trade{
		ExternalID: o.ClientOrderID,
		Exchange:   venue,
		Pair:       m.Pair.Symbol(),
		Side:       side,
		Price:      price,
		Volume:     volume,
		Fees:       volume.Mul(price).Mul(m.Fee),
		Status:     o.Status,
		ExecutedAt: o.UpdatedAt,
	}
}

var _ exchange.Exchange = (*Client)(nil)
