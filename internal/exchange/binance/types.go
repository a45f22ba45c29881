package binance

import "github.com/exchangelink/exchangelink/internal/exchange/market"

// ExchangeInfo is the subset of /api/v3/exchangeInfo the client reads.
type ExchangeInfo struct {
	Timezone   string      `json:"timezone"`
	ServerTime int64       `json:"serverTime"`
	RateLimits []RateLimit `json:"rateLimits"`
	Symbols    []Symbol    `json:"symbols"`
}

// RateLimit is a published vendor quota.
type RateLimit struct {
	RateLimitType string `json:"rateLimitType"`
	Interval      string `json:"interval"`
	IntervalNum   int    `json:"intervalNum"`
	Limit         int    `json:"limit"`
}

// Symbol is one trading pair with its filters.
type Symbol struct {
	Symbol     string   `json:"symbol"`
	Status     string   `json:"status"`
	BaseAsset  string   `json:"baseAsset"`
	QuoteAsset string   `json:"quoteAsset"`
	Filters    []Filter `json:"filters"`
}

// Filter is a symbol filter entry.
type Filter struct {
	FilterType  string `json:"filterType"`
	MinPrice    string `json:"minPrice"`
	MaxPrice    string `json:"maxPrice"`
	TickSize    string `json:"tickSize"`
	MinQty      string `json:"minQty"`
	MaxQty      string `json:"maxQty"`
	StepSize    string `json:"stepSize"`
	MinNotional string `json:"minNotional"`
}

// Account is the subset of /api/v3/account the client reads.
type Account struct {
	CanTrade   bool      `json:"canTrade"`
	UpdateTime int64     `json:"updateTime"`
	Balances   []Balance `json:"balances"`
}

// Balance is one asset balance.
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// OrderRequest is a new order.
type OrderRequest struct {
	Symbol        string
	Side          string
	Type          string
	TimeInForce   string
	Quantity      string
	Price         string
	ClientOrderID string
}

// OrderAck is the acknowledgement of a placed or canceled order.
type OrderAck struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	TransactTime  int64  `json:"transactTime"`
}

// WithdrawRequest moves funds off the exchange. AddressTag carries the memo
// for coins that need one.
type WithdrawRequest struct {
	Coin            string
	Network         string
	Address         string
	AddressTag      string
	Amount          string
	WithdrawOrderID string
}

// WithdrawAck is the exchange id of an accepted withdrawal.
type WithdrawAck struct {
	ID string `json:"id"`
}

func (s Symbol) toMarket() market.Symbol {
	out := market.Symbol{
		Symbol:     s.Symbol,
		Status:     s.Status,
		BaseAsset:  s.BaseAsset,
		QuoteAsset: s.QuoteAsset,
		Filters:    make([]market.Filter, 0, len(s.Filters)),
	}
	for _, f := range s.Filters {
		out.Filters = append(out.Filters, market.Filter{
			Type:        f.FilterType,
			MinPrice:    f.MinPrice,
			MaxPrice:    f.MaxPrice,
			TickSize:    f.TickSize,
			MinQty:      f.MinQty,
			MaxQty:      f.MaxQty,
			StepSize:    f.StepSize,
			MinNotional: f.MinNotional,
		})
	}
	return out
}
