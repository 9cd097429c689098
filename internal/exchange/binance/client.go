// Package binance implements the exchange adapter for the Binance spot API.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbot/internal/crypto"
	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/exchange"
)

const (
	defaultBaseURL = "https://api.binance.com"
	defaultWSURL   = "wss://stream.binance.com:9443"

	// orderPollInterval is how often an open limit order is re-checked while
	// waiting for a fill.
	orderPollInterval = 5 * time.Second
)

func init() {
	exchange.RegisterFactory("binance", func(creds exchange.Credentials) (exchange.Exchange, error) {
		return New(creds), nil
	})
}

// Client is the Binance spot REST adapter.
type Client struct {
	baseURL    string
	wsURL      string
	auth       crypto.HMACAuth
	httpClient *http.Client

	pairsMu sync.Mutex
	pairs   []domain.Market
}

// New creates a Binance adapter with the given credentials.
func New(creds exchange.Credentials) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		wsURL:   defaultWSURL,
		auth:    crypto.HMACAuth{Key: creds.APIKey, Secret: creds.APISecret},
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the venue identifier.
func (c *Client) Name() string { return "binance" }

// Pairs returns every actively trading symbol with its trading constraints.
// The listing is fetched once and cached for the adapter's lifetime.
func (c *Client) Pairs(ctx context.Context) ([]domain.Market, error) {
	c.pairsMu.Lock()
	defer c.pairsMu.Unlock()
	if c.pairs != nil {
		return c.pairs, nil
	}

	body, err := c.doPublic(ctx, "/api/v3/exchangeInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("binance: exchange info: %w", err)
	}

	var info exchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("binance: decode exchange info: %w", err)
	}

	fees, err := c.tradeFees(ctx)
	if err != nil {
		return nil, err
	}

	pairs := make([]domain.Market, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		m := domain.Market{
			Pair:                 domain.TradePair{Base: s.BaseAsset, Quote: s.QuoteAsset},
			TradingCode:          s.Symbol,
			Fee:                  fees[s.Symbol],
			MinTradeSizeCurrency: s.BaseAsset,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				m.MinTradeSize, _ = decimal.NewFromString(f.MinQty)
				m.DecimalPlaces = stepSizePlaces(f.StepSize)
			case "MIN_NOTIONAL", "NOTIONAL":
				m.MinNotional, _ = decimal.NewFromString(f.MinNotional)
			}
		}
		pairs = append(pairs, m)
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
	params := url.Values{"symbol": {m.TradingCode}, "limit": {"100"}}
	body, err := c.doPublic(ctx, "/api/v3/depth", params)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("binance: depth %s: %w", m.TradingCode, err)
	}

	var depth struct {
		Asks [][2]string `json:"asks"`
		Bids [][2]string `json:"bids"`
	}
	if err := json.Unmarshal(body, &depth); err != nil {
		return domain.OrderBook{}, fmt.Errorf("binance: decode depth: %w", err)
	}

	bk := domain.OrderBook{
		Asks: parseLevels(depth.Asks),
		Bids: parseLevels(depth.Bids),
	}
	return bk, nil
}

// Balances returns the free amount of every asset on the spot account.
func (c *Client) Balances(ctx context.Context) (domain.Balances, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", nil)
	if err != nil {
		return nil, fmt.Errorf("binance: account: %w", err)
	}

	var acct struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &acct); err != nil {
		return nil, fmt.Errorf("binance: decode account: %w", err)
	}

	out := make(domain.Balances, len(acct.Balances))
	for _, b := range acct.Balances {
		amount, err := decimal.NewFromString(b.Free)
		if err != nil {
			continue
		}
		out[b.Asset] = amount
	}
	return out, nil
}

// PendingBalances returns per-currency deposit amounts still awaiting
// confirmations.
func (c *Client) PendingBalances(ctx context.Context) (domain.Balances, error) {
	params := url.Values{"status": {"0"}} // 0 = pending
	body, err := c.doSigned(ctx, http.MethodGet, "/sapi/v1/capital/deposit/hisrec", params)
	if err != nil {
		return nil, fmt.Errorf("binance: deposit history: %w", err)
	}

	var deposits []struct {
		Coin   string `json:"coin"`
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(body, &deposits); err != nil {
		return nil, fmt.Errorf("binance: decode deposit history: %w", err)
	}

	out := make(domain.Balances)
	for _, d := range deposits {
		amount, err := decimal.NewFromString(d.Amount)
		if err != nil {
			continue
		}
		out[d.Coin] = out[d.Coin].Add(amount)
	}
	return out, nil
}

// Trade submits a limit order and polls until it fills.
func (c *Client) Trade(ctx context.Context, m domain.Market, side domain.TradeSide, volume, price decimal.Decimal) (domain.Trade, error) {
	params := url.Values{
		"symbol":      {m.TradingCode},
		"side":        {strings.ToUpper(string(side))},
		"type":        {"LIMIT"},
		"timeInForce": {"GTC"},
		"quantity":    {volume.String()},
		"price":       {price.String()},
	}
	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("binance: place order: %w", err)
	}

	var placed orderResponse
	if err := json.Unmarshal(body, &placed); err != nil {
		return domain.Trade{}, fmt.Errorf("binance: decode order: %w", err)
	}

	filled, err := c.waitFilled(ctx, m, placed)
	if err != nil {
		return domain.Trade{}, err
	}
	return filled.toTrade(c.Name(), m, side), nil
}

// waitFilled polls the order until the venue reports it FILLED.
func (c *Client) waitFilled(ctx context.Context, m domain.Market, placed orderResponse) (orderResponse, error) {
	for placed.Status != "FILLED" {
		select {
		case <-ctx.Done():
			return placed, fmt.Errorf("binance: wait for fill: %w", ctx.Err())
		case <-time.After(orderPollInterval):
		}

		params := url.Values{
			"symbol":  {m.TradingCode},
			"orderId": {fmt.Sprint(placed.OrderID)},
		}
		body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/order", params)
		if err != nil {
			return placed, fmt.Errorf("binance: order status: %w", err)
		}
		if err := json.Unmarshal(body, &placed); err != nil {
			return placed, fmt.Errorf("binance: decode order status: %w", err)
		}
	}
	return placed, nil
}

// TradeValidity applies the market's size, notional, and precision rules.
func (c *Client) TradeValidity(m domain.Market, price, volume decimal.Decimal) (bool, decimal.Decimal, decimal.Decimal) {
	return exchange.ValidateTrade(m, price, volume)
}

// DepositAddress returns the spot deposit address for a currency.
func (c *Client) DepositAddress(ctx context.Context, currency string) (string, error) {
	params := url.Values{"coin": {currency}}
	body, err := c.doSigned(ctx, http.MethodGet, "/sapi/v1/capital/deposit/address", params)
	if err != nil {
		return "", fmt.Errorf("binance: deposit address %s: %w", currency, err)
	}

	var resp struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("binance: decode deposit address: %w", err)
	}
	return resp.Address, nil
}

// MinimumDepositVolume returns the smallest deposit the venue will credit for
// a currency, taken from the default network's withdraw minimum.
func (c *Client) MinimumDepositVolume(ctx context.Context, currency string) (decimal.Decimal, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/sapi/v1/capital/config/getall", nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance: capital config: %w", err)
	}

	var coins []struct {
		Coin        string `json:"coin"`
		NetworkList []struct {
			WithdrawMin   string `json:"withdrawMin"`
			IsDefault     bool   `json:"isDefault"`
			DepositEnable bool   `json:"depositEnable"`
		} `json:"networkList"`
	}
	if err := json.Unmarshal(body, &coins); err != nil {
		return decimal.Zero, fmt.Errorf("binance: decode capital config: %w", err)
	}

	for _, coin := range coins {
		if coin.Coin != currency {
			continue
		}
		for _, n := range coin.NetworkList {
			if n.IsDefault && n.DepositEnable {
				min, err := decimal.NewFromString(n.WithdrawMin)
				if err != nil {
					return decimal.Zero, fmt.Errorf("binance: parse withdraw min: %w", err)
				}
				return min, nil
			}
		}
	}
	return decimal.Zero, fmt.Errorf("binance: no deposit network for %s: %w", currency, domain.ErrNotFound)
}

// Withdraw sends amount of currency to address and returns the withdrawal id.
func (c *Client) Withdraw(ctx context.Context, currency, address string, amount decimal.Decimal) (string, error) {
	params := url.Values{
		"coin":    {currency},
		"address": {address},
		"amount":  {amount.String()},
	}
	body, err := c.doSigned(ctx, http.MethodPost, "/sapi/v1/capital/withdraw/apply", params)
	if err != nil {
		return "", fmt.Errorf("binance: withdraw %s: %w", currency, err)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("binance: decode withdraw: %w", err)
	}
	return resp.ID, nil
}

// WithdrawalFee returns the realized transaction fee for a past withdrawal.
func (c *Client) WithdrawalFee(ctx context.Context, currency, withdrawalID string) (decimal.Decimal, error) {
	params := url.Values{"coin": {currency}}
	body, err := c.doSigned(ctx, http.MethodGet, "/sapi/v1/capital/withdraw/history", params)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance: withdraw history: %w", err)
	}

	var withdrawals []struct {
		ID             string `json:"id"`
		TransactionFee string `json:"transactionFee"`
	}
	if err := json.Unmarshal(body, &withdrawals); err != nil {
		return decimal.Zero, fmt.Errorf("binance: decode withdraw history: %w", err)
	}

	for _, w := range withdrawals {
		if w.ID == withdrawalID {
			fee, err := decimal.NewFromString(w.TransactionFee)
			if err != nil {
				return decimal.Zero, fmt.Errorf("binance: parse transaction fee: %w", err)
			}
			return fee, nil
		}
	}
	return decimal.Zero, fmt.Errorf("binance: withdrawal %s: %w", withdrawalID, domain.ErrNotFound)
}

// tradeFees returns the taker fee per symbol. Taker is always at least maker,
// so profit estimates built on it err on the conservative side.
func (c *Client) tradeFees(ctx context.Context) (map[string]decimal.Decimal, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/sapi/v1/asset/tradeFee", nil)
	if err != nil {
		return nil, fmt.Errorf("binance: trade fee: %w", err)
	}

	var fees []struct {
		Symbol          string `json:"symbol"`
		TakerCommission string `json:"takerCommission"`
	}
	if err := json.Unmarshal(body, &fees); err != nil {
		return nil, fmt.Errorf("binance: decode trade fee: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(fees))
	for _, f := range fees {
		fee, err := decimal.NewFromString(f.TakerCommission)
		if err != nil {
			continue
		}
		out[f.Symbol] = fee
	}
	return out, nil
}

// doPublic issues an unauthenticated GET against path.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// doSigned issues an authenticated request: the query string (including a
// fresh timestamp) is signed with HMAC-SHA256 and the signature appended.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", crypto.Timestamp())
	query := params.Encode()
	query += "&signature=" + c.auth.SignQuery(query)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.auth.Key)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
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

// exchangeInfoResponse is the subset of /api/v3/exchangeInfo we consume.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Filters    []struct {
			FilterType  string `json:"filterType"`
			MinQty      string `json:"minQty"`
			StepSize    string `json:"stepSize"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

type orderResponse struct {
	OrderID      int64  `json:"orderId"`
	Status       string `json:"status"`
	ExecutedQty  string `json:"executedQty"`
	Price        string `json:"price"`
	TransactTime int64  `json:"transactTime"`
}

func (o orderResponse) toTrade(venue string, m domain.Market, side domain.TradeSide) domain.Trade {
	volume, _ := decimal.NewFromString(o.ExecutedQty)
	price, _ := decimal.NewFromString(o.Price)
	return domain.Trade{
		ExternalID: fmt.Sprint(o.OrderID),
		Exchange:   venue,
		Pair:       m.Pair.Symbol(),
		Side:       side,
		Price:      price,
		Volume:     volume,
		Fees:       volume.Mul(price).Mul(m.Fee),
		Status:     o.Status,
		ExecutedAt: time.UnixMilli(o.TransactTime).UTC().Format(time.RFC3339),
	}
}

// parseLevels converts the venue's [price, qty] string pairs into levels,
// dropping any entry that fails to parse.
func parseLevels(raw [][2]string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err1 := decimal.NewFromString(lvl[0])
		volume, err2 := decimal.NewFromString(lvl[1])
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: price, Volume: volume})
	}
	return out
}

// stepSizePlaces derives the allowed volume precision from a LOT_SIZE step,
// e.g. "0.00100000" allows 3 decimal places.
func stepSizePlaces(step string) int32 {
	d, err := decimal.NewFromString(step)
	if err != nil || d.Sign() <= 0 {
		return 8
	}
	f, _ := d.Float64()
	places := int32(math.Round(-math.Log10(f)))
	if places < 0 {
		return 0
	}
	return places
}

// Compile-time interface checks.
var (
	_ exchange.Exchange   = (*Client)(nil)
	_ exchange.Withdrawer = (*Client)(nil)
)
