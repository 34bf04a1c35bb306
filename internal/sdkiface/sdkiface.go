// Package sdkiface pins the contract this engine expects from an upstream
// exchange SDK session. Any CCXT-like library that exposes these methods
// and error kinds can back a Connection; the engine never imports a
// concrete SDK package directly.
package sdkiface

import "context"

// Market describes one tradable symbol as reported by LoadMarkets.
type Market struct {
	Symbol               string
	Base                 string
	Quote                string
	Active               bool
	MinAmount            float64
	MinCost              float64
	AmountPrecision      float64
	Taker                float64
	CreateBuyNeedsPrice  bool
}

// Ticker is one symbol's latest quote as reported by WatchTicker(s).
type Ticker struct {
	Symbol        string
	Ask           float64 // 0 means "not reported"
	Bid           float64
	LastPrice     float64
	InfoLastPrice float64
}

// Price returns the first non-zero of Ask, LastPrice, InfoLastPrice, and
// whether any of the three was usable.
func (t Ticker) Price() (float64, bool) {
	if t.Ask > 0 {
		return t.Ask, true
	}
	if t.LastPrice > 0 {
		return t.LastPrice, true
	}
	if t.InfoLastPrice > 0 {
		return t.InfoLastPrice, true
	}
	return 0, false
}

// CurrencyVariant is one chain-specific withdrawal/deposit profile for a
// currency, as reported by FetchCurrencies.
type CurrencyVariant struct {
	Address   string
	Name      string
	Chain     string
	Fee       float64 // UnknownFee sentinel (-1) when not reported
	MinAmount float64
}

// DepositAddress is the normalized result of FetchDepositAddress,
// collapsing the SDK's two possible response shapes
// ({address:...} or {addresses:[{address:...}]}).
type DepositAddress struct {
	Address string
	Tag     string
}

// OrderSide is "buy" or "sell".
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// Session is the scoped handle a Connection hands out. It is the live
// upstream SDK session; callers never hold onto it past the scope that
// produced it.
type Session interface {
	LoadMarkets(ctx context.Context) (map[string]Market, error)
	FetchBalance(ctx context.Context) (map[string]float64, error)
	WatchBalance(ctx context.Context) (map[string]float64, error)
	WatchTickers(ctx context.Context, symbols []string) (map[string]Ticker, error)
	WatchTicker(ctx context.Context, symbol string) (Ticker, error)
	CreateOrder(ctx context.Context, symbol string, side OrderSide, amount float64) error
	Withdraw(ctx context.Context, name string, amount float64, address, tag, network string) error
	FetchDepositAddress(ctx context.Context, name, network string) (DepositAddress, error)
	FetchCurrencies(ctx context.Context) (map[string][]CurrencyVariant, error)
	FetchMarkets(ctx context.Context) (map[string]Market, error)
	Close() error
}

// Factory constructs a Session for one exchange given its credentials.
// Implementations wrap a concrete SDK client; the engine only depends on
// this function type via the exchange adapter registry.
type Factory func(ctx context.Context) (Session, error)
