// Package binance is the Binance spot REST caller.
package binance

import (
	"context"
	_ "embed"
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

// Name is the registry name of the Binance client.
const Name = "binance"

// Rate limit resources as published by Binance.
const (
	ResourceRequestWeight = "REQUEST_WEIGHT"
	ResourceOrders        = "ORDERS"
	ResourceOrdersDay     = "ORDERS_DAY"
)

// PolicyAccount retries signed account reads.
const PolicyAccount = "account"

const apiKeyHeader = "X-MBX-APIKEY"

// Profile is the embedded default configuration.
//
//go:embed profile.yaml
var Profile []byte

// Client is the Binance caller.
type Client struct {
	*exchange.Client
}

// New builds a Binance client from the embedded profile and overrides.
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

func serverTime(ctx context.Context, c *exchange.Client) (time.Time, error) {
	resp, err := c.Execute(ctx, resilience.Call{
		Name:     "server_time",
		Resource: ResourceRequestWeight,
		Weight:   1,
		Policy:   resilience.PolicyRead,
	}, public(http.MethodGet, "/api/v3/time", nil))
	if err != nil {
		return time.Time{}, err
	}
	var body struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := exchange.DecodeJSON(c.Name(), resp, &body); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(body.ServerTime).UTC(), nil
}

// ServerTime fetches the exchange clock directly, bypassing the cache.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	return serverTime(ctx, c.Client)
}

// ExchangeInfo fetches symbol metadata and published limits.
func (c *Client) ExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	resp, err := c.Execute(ctx, resilience.Call{
		Name:     "exchange_info",
		Resource: ResourceRequestWeight,
		Weight:   10,
		Policy:   resilience.PolicyRead,
	}, public(http.MethodGet, "/api/v3/exchangeInfo", nil))
	if err != nil {
		return nil, err
	}
	info := &ExchangeInfo{}
	if err := exchange.DecodeJSON(c.Name(), resp, info); err != nil {
		return nil, err
	}
	return info, nil
}

// Markets derives trading metadata from ExchangeInfo.
func (c *Client) Markets(ctx context.Context) (market.Result, error) {
	info, err := c.ExchangeInfo(ctx)
	if err != nil {
		return market.Result{}, err
	}
	symbols := make([]market.Symbol, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		symbols = append(symbols, s.toMarket())
	}
	return market.Derive(symbols, c.Logger()), nil
}

// Account fetches balances with a signed request.
func (c *Client) Account(ctx context.Context) (*Account, error) {
	if err := c.RequireCredentials(); err != nil {
		return nil, err
	}
	resp, err := c.Execute(ctx, resilience.Call{
		Name:     "account",
		Resource: ResourceRequestWeight,
		Weight:   10,
		Policy:   PolicyAccount,
	}, c.signed(http.MethodGet, "/api/v3/account", nil))
	if err != nil {
		return nil, err
	}
	account := &Account{}
	if err := exchange.DecodeJSON(c.Name(), resp, account); err != nil {
		return nil, err
	}
	return account, nil
}

// PlaceOrder submits a new order. It is never retried automatically.
func (c *Client) PlaceOrder(ctx context.Context, order OrderRequest) (*OrderAck, error) {
	if err := c.RequireCredentials(); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(order.Symbol))
	params.Set("side", strings.ToUpper(order.Side))
	params.Set("type", strings.ToUpper(order.Type))
	setIf(params, "timeInForce", order.TimeInForce)
	setIf(params, "quantity", order.Quantity)
	setIf(params, "price", order.Price)
	setIf(params, "newClientOrderId", order.ClientOrderID)

	resp, err := c.Execute(ctx, resilience.Call{
		Name:     "place_order",
		Resource: ResourceRequestWeight,
		Weight:   1,
		Extra: []resilience.Charge{
			{Resource: ResourceOrders, Weight: 1},
			{Resource: ResourceOrdersDay, Weight: 1},
		},
		Policy: resilience.PolicyMutate,
	}, c.signed(http.MethodPost, "/api/v3/order", params))
	if err != nil {
		return nil, err
	}
	ack := &OrderAck{}
	if err := exchange.DecodeJSON(c.Name(), resp, ack); err != nil {
		return nil, err
	}
	return ack, nil
}

// CancelOrder cancels an open order by exchange id.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*OrderAck, error) {
	if err := c.RequireCredentials(); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	resp, err := c.Execute(ctx, resilience.Call{
		Name:     "cancel_order",
		Resource: ResourceRequestWeight,
		Weight:   1,
		Policy:   resilience.PolicyCancel,
	}, c.signed(http.MethodDelete, "/api/v3/order", params))
	if err != nil {
		return nil, err
	}
	ack := &OrderAck{}
	if err := exchange.DecodeJSON(c.Name(), resp, ack); err != nil {
		return nil, err
	}
	return ack, nil
}

// Withdraw requests a withdrawal. Like order placement it runs under the
// mutate policy: a failure after the request left is never repeated.
func (c *Client) Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawAck, error) {
	if err := c.RequireCredentials(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Coin) == "" || strings.TrimSpace(req.Address) == "" || strings.TrimSpace(req.Amount) == "" {
		return nil, &resilience.Error{
			Vendor:  c.Name(),
			Kind:    resilience.KindInvalidRequest,
			Code:    "withdraw_params",
			Message: "coin, address and amount are required",
		}
	}
	params := url.Values{}
	params.Set("coin", strings.ToUpper(req.Coin))
	params.Set("address", req.Address)
	params.Set("amount", req.Amount)
	setIf(params, "network", req.Network)
	setIf(params, "addressTag", req.AddressTag)
	setIf(params, "withdrawOrderId", req.WithdrawOrderID)

	resp, err := c.Execute(ctx, resilience.Call{
		Name:     "withdraw",
		Resource: ResourceRequestWeight,
		Weight:   1,
		Policy:   resilience.PolicyMutate,
	}, c.signed(http.MethodPost, "/sapi/v1/capital/withdraw/apply", params))
	if err != nil {
		return nil, err
	}
	ack := &WithdrawAck{}
	if err := exchange.DecodeJSON(c.Name(), resp, ack); err != nil {
		return nil, err
	}
	return ack, nil
}

func public(method, path string, params url.Values) exchange.RequestFunc {
	return func(ctx context.Context) (*transport.Request, error) {
		return &transport.Request{Method: method, Path: path, Query: params}, nil
	}
}

// signed builds a request carrying a fresh timestamp on every attempt.
func (c *Client) signed(method, path string, params url.Values) exchange.RequestFunc {
	settings := c.Settings()
	return func(ctx context.Context) (*transport.Request, error) {
		ts, err := c.TimestampMillis(ctx)
		if err != nil {
			return nil, err
		}
		header := http.Header{}
		header.Set(apiKeyHeader, settings.APIKey)
		return &transport.Request{
			Method:   method,
			Path:     path,
			RawQuery: sign(settings.SecretKey, params, ts, settings.RecvWindow),
			Header:   header,
		}, nil
	}
}

func setIf(values url.Values, key, value string) {
	if strings.TrimSpace(value) != "" {
		values.Set(key, value)
	}
}
