// Package latoken is the Latoken v1 REST caller.
package latoken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/exchangelink/exchangelink/internal/exchange"
	"github.com/exchangelink/exchangelink/internal/exchange/market"
	"github.com/exchangelink/exchangelink/internal/resilience"
	"github.com/exchangelink/exchangelink/internal/transport"
)

// Name is the registry name of the Latoken client.
const Name = "latoken"

const (
	keyHeader       = "X-LA-KEY"
	signatureHeader = "X-LA-SIGNATURE"
	hashTypeHeader  = "X-LA-HASHTYPE"
)

// Profile is the embedded default configuration.
//
//go:embed profile.yaml
var Profile []byte

// Client is the Latoken caller.
type Client struct {
	*exchange.Client
}

// Pair is one trading pair as published by Latoken.
type Pair struct {
	PairID          int64   `json:"pairId"`
	Symbol          string  `json:"symbol"`
	BaseCurrency    string  `json:"baseCurrency"`
	QuotedCurrency  string  `json:"quotedCurrency"`
	MakerFee        float64 `json:"makerFee"`
	TakerFee        float64 `json:"takerFee"`
	PricePrecision  int32   `json:"pricePrecision"`
	AmountPrecision int32   `json:"amountPrecision"`
	MinQty          float64 `json:"minQty"`
}

// Balance is one currency balance.
type Balance struct {
	CurrencyID int64   `json:"currencyId"`
	Symbol     string  `json:"symbol"`
	Name       string  `json:"name"`
	Amount     float64 `json:"amount"`
	Available  float64 `json:"available"`
	Frozen     float64 `json:"frozen"`
	Pending    float64 `json:"pending"`
}

// OrderRequest is a new order.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          string
	Price         string
	Amount        string
	OrderType     string
}

// Order is the order state returned by order endpoints.
type Order struct {
	OrderID       string  `json:"orderId"`
	ClientOrderID string  `json:"cliOrdId"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	OrderType     string  `json:"orderType"`
	Price         float64 `json:"price"`
	Amount        float64 `json:"amount"`
	OrderStatus   string  `json:"orderStatus"`
}

// New builds a Latoken client from the embedded profile and overrides.
func New(overrides map[string]any, opts exchange.Options) (*Client, error) {
	settings, err := exchange.LoadSettings(Profile, overrides)
	if err != nil {
		return nil, err
	}
	opts.Extract = ExtractError
	opts.ServerTime = serverTime

	base, err := exchange.NewClient(settings, opts)
	if err != nil {
		return nil, err
	}
	return &Client{Client: base}, nil
}

// Resource returns the rate limit resource of an endpoint.
func Resource(method, path string) string {
	return strings.ToLower(method + ":" + path)
}

func call(name, method, path, policy string) resilience.Call {
	return resilience.Call{Name: name, Resource: Resource(method, path), Weight: 1, Policy: policy}
}

func serverTime(ctx context.Context, c *exchange.Client) (time.Time, error) {
	const path = "/api/v1/ExchangeInfo/time"
	resp, err := c.Execute(ctx, call("server_time", http.MethodGet, path, resilience.PolicyRead),
		func(ctx context.Context) (*transport.Request, error) {
			return &transport.Request{Method: http.MethodGet, Path: path}, nil
		})
	if err != nil {
		return time.Time{}, err
	}
	var body struct {
		UnixTimeMillis int64 `json:"unixTimeMiliseconds"`
	}
	if err := exchange.DecodeJSON(c.Name(), resp, &body); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(body.UnixTimeMillis).UTC(), nil
}

// ServerTime fetches the exchange clock directly, bypassing the cache.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	return serverTime(ctx, c.Client)
}

// Pairs lists trading pairs.
func (c *Client) Pairs(ctx context.Context) ([]Pair, error) {
	const path = "/api/v1/ExchangeInfo/pairs"
	resp, err := c.Execute(ctx, call("pairs", http.MethodGet, path, resilience.PolicyRead),
		func(ctx context.Context) (*transport.Request, error) {
			return &transport.Request{Method: http.MethodGet, Path: path}, nil
		})
	if err != nil {
		return nil, err
	}
	var pairs []Pair
	if err := exchange.DecodeJSON(c.Name(), resp, &pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

// Markets derives trading metadata from the published pair precisions.
func (c *Client) Markets(ctx context.Context) (market.Result, error) {
	pairs, err := c.Pairs(ctx)
	if err != nil {
		return market.Result{}, err
	}
	symbols := make([]market.Symbol, 0, len(pairs))
	for _, p := range pairs {
		symbols = append(symbols, p.toMarket())
	}
	return market.Derive(symbols, c.Logger()), nil
}

// Balances fetches account balances with a signed request.
func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	if err := c.RequireCredentials(); err != nil {
		return nil, err
	}
	const path = "/api/v1/Account/balances"
	resp, err := c.Execute(ctx, call("balances", http.MethodGet, path, resilience.PolicyRead),
		c.signed(http.MethodGet, path, nil))
	if err != nil {
		return nil, err
	}
	var balances []Balance
	if err := exchange.DecodeJSON(c.Name(), resp, &balances); err != nil {
		return nil, err
	}
	return balances, nil
}

// PlaceOrder submits a new order. It is never retried automatically.
func (c *Client) PlaceOrder(ctx context.Context, order OrderRequest) (*Order, error) {
	if err := c.RequireCredentials(); err != nil {
		return nil, err
	}
	const path = "/api/v1/Order/new"
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", strings.ToLower(order.Side))
	params.Set("price", order.Price)
	params.Set("amount", order.Amount)
	params.Set("orderType", strings.ToLower(order.OrderType))
	if order.ClientOrderID != "" {
		params.Set("cliOrdId", order.ClientOrderID)
	}

	resp, err := c.Execute(ctx, call("place_order", http.MethodPost, path, resilience.PolicyMutate),
		c.signed(http.MethodPost, path, params))
	if err != nil {
		return nil, err
	}
	out := &Order{}
	if err := exchange.DecodeJSON(c.Name(), resp, out); err != nil {
		return nil, err
	}
	return out, nil
}

// CancelOrder cancels an order by id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	if err := c.RequireCredentials(); err != nil {
		return nil, err
	}
	const path = "/api/v1/Order/cancel"
	params := url.Values{}
	params.Set("orderId", orderID)

	resp, err := c.Execute(ctx, call("cancel_order", http.MethodPost, path, resilience.PolicyCancel),
		c.signed(http.MethodPost, path, params))
	if err != nil {
		return nil, err
	}
	out := &Order{}
	if err := exchange.DecodeJSON(c.Name(), resp, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) signed(method, path string, params url.Values) exchange.RequestFunc {
	settings := c.Settings()
	return func(ctx context.Context) (*transport.Request, error) {
		ts, err := c.TimestampMillis(ctx)
		if err != nil {
			return nil, err
		}
		values := url.Values{}
		for k, v := range params {
			values[k] = append([]string(nil), v...)
		}
		values.Set("timestamp", strconv.FormatInt(ts, 10))
		query := values.Encode()

		header := http.Header{}
		header.Set(keyHeader, settings.APIKey)
		header.Set(signatureHeader, sign(settings.SecretKey, path, query))
		header.Set(hashTypeHeader, "HMAC-SHA256")
		return &transport.Request{Method: method, Path: path, RawQuery: query, Header: header}, nil
	}
}

// sign returns the base64 HMAC-SHA256 of "path?query".
func sign(secret, path, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(path + "?" + query))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ExtractError decodes {"error":{"message":"...","errorType":"..."}}.
func ExtractError(body []byte) (code, message string, ok bool) {
	var env struct {
		Error *struct {
			Message   string `json:"message"`
			ErrorType string `json:"errorType"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil || env.Error.ErrorType == "" {
		return "", "", false
	}
	return env.Error.ErrorType, env.Error.Message, true
}

func (p Pair) toMarket() market.Symbol {
	return market.Symbol{
		Symbol:     p.Symbol,
		Status:     "TRADING",
		BaseAsset:  p.BaseCurrency,
		QuoteAsset: p.QuotedCurrency,
		Filters: []market.Filter{
			{Type: market.FilterPrice, TickSize: step(p.PricePrecision)},
			{
				Type:     market.FilterLotSize,
				MinQty:   strconv.FormatFloat(p.MinQty, 'f', -1, 64),
				StepSize: step(p.AmountPrecision),
			},
		},
	}
}

// step renders 10^-precision as a decimal string.
func step(precision int32) string {
	if precision <= 0 {
		return "1"
	}
	return "0." + strings.Repeat("0", int(precision-1)) + "1"
}
