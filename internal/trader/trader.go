// Package trader executes market buy/sell orders on one exchange, with
// order validation against the exchange's published market limits and a
// per-coin pause map for address-related failures.
package trader

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nullstate/arb/internal/connection"
	"github.com/nullstate/arb/internal/sdkiface"
	"github.com/nullstate/arb/internal/wallet"
)

const (
	invalidAddressPause = 3600 * time.Second
	addressPendingPause = 60 * time.Second
)

// CoinNamer resolves a process-wide coin id to its exchange-local ticker.
type CoinNamer interface {
	CoinName(exchange string, coinID int64) (string, bool)
}

// Trader executes market orders on one exchange.
type Trader struct {
	exchangeID string
	conn       *connection.Connection
	wallet     *wallet.Wallet
	coins      CoinNamer
	usdtCoinID int64
	log        zerolog.Logger

	mu          sync.Mutex
	pausedUntil map[int64]time.Time
	markets     map[string]sdkiface.Market
}

// New constructs a Trader bound to one exchange.
func New(exchangeID string, conn *connection.Connection, w *wallet.Wallet, coins CoinNamer, usdtCoinID int64, log zerolog.Logger) *Trader {
	return &Trader{
		exchangeID:  exchangeID,
		conn:        conn,
		wallet:      w,
		coins:       coins,
		usdtCoinID:  usdtCoinID,
		log:         log.With().Str("exchange", exchangeID).Str("component", "trader").Logger(),
		pausedUntil: make(map[int64]time.Time),
	}
}

// isPaused reports whether coinID is currently paused, given the pause
// map's monotonic deadlines.
func (t *Trader) isPaused(coinID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.pausedUntil[coinID]
	if !ok {
		return false
	}
	if time.Now().Before(until) {
		return true
	}
	delete(t.pausedUntil, coinID)
	return false
}

func (t *Trader) pause(coinID int64, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pausedUntil[coinID] = time.Now().Add(d)
}

// Buy places a market buy of baseCoin funded with usdtQuantity USDT; 0
// means "use the full USDT wallet balance". Returns nil on success, nil
// with no error also on a deliberately swallowed failure (insufficient
// funds, invalid order) matching the source's "return null" contract —
// callers distinguish a hard failure from a swallowed one via ok.
func (t *Trader) Buy(ctx context.Context, baseCoin int64, usdtQuantity float64) (ok bool, err error) {
	if baseCoin == t.usdtCoinID {
		return false, fmt.Errorf("trader: refusing USDT/USDT order")
	}
	if t.isPaused(baseCoin) {
		return false, nil
	}

	name, found := t.coins.CoinName(t.exchangeID, baseCoin)
	if !found {
		return false, fmt.Errorf("trader: unknown coin id %d on %s", baseCoin, t.exchangeID)
	}
	symbol := name + "/USDT"

	if usdtQuantity <= 0 {
		usdtQuantity = t.wallet.Get(t.usdtCoinID)
	}

	return t.place(ctx, baseCoin, symbol, sdkiface.Buy, usdtQuantity)
}

// Sell places a market sell of baseCoin; 0 amount means "sell the full
// wallet balance".
func (t *Trader) Sell(ctx context.Context, baseCoin int64, amount float64) (ok bool, err error) {
	if baseCoin == t.usdtCoinID {
		return false, fmt.Errorf("trader: refusing USDT/USDT order")
	}
	if t.isPaused(baseCoin) {
		return false, nil
	}

	name, found := t.coins.CoinName(t.exchangeID, baseCoin)
	if !found {
		return false, fmt.Errorf("trader: unknown coin id %d on %s", baseCoin, t.exchangeID)
	}
	symbol := name + "/USDT"

	if amount <= 0 {
		amount = t.wallet.Get(baseCoin)
	}

	return t.place(ctx, baseCoin, symbol, sdkiface.Sell, amount)
}

func (t *Trader) place(ctx context.Context, coinID int64, symbol string, side sdkiface.OrderSide, quantity float64) (bool, error) {
	sess, acquired := t.conn.Acquire()
	if !acquired {
		return false, nil
	}

	market, err := t.marketFor(ctx, sess, symbol)
	if err != nil {
		return false, err
	}

	ticker, err := sess.WatchTicker(ctx, symbol)
	if err != nil {
		return false, err
	}
	lastPrice, _ := ticker.Price()

	quantity = validateOrder(market, quantity, lastPrice)
	if quantity <= 0 {
		return false, nil
	}

	err = sess.CreateOrder(ctx, symbol, side, quantity)
	if err == nil {
		return true, nil
	}

	switch sdkiface.KindOf(err) {
	case sdkiface.KindInvalidAddress:
		t.pause(coinID, invalidAddressPause)
		return false, nil
	case sdkiface.KindAddressPending:
		t.pause(coinID, addressPendingPause)
		return false, nil
	case sdkiface.KindInsufficientFunds, sdkiface.KindInvalidOrder:
		t.log.Warn().Err(err).Str("symbol", symbol).Msg("order rejected")
		return false, nil
	case sdkiface.KindCancelled:
		return false, err
	default:
		t.log.Error().Err(err).Str("symbol", symbol).Msg("unexpected order error")
		return false, nil
	}
}

func (t *Trader) marketFor(ctx context.Context, sess sdkiface.Session, symbol string) (sdkiface.Market, error) {
	t.mu.Lock()
	m, ok := t.markets
	t.mu.Unlock()
	if ok {
		if market, found := m[symbol]; found {
			return market, nil
		}
	}
	markets, err := sess.LoadMarkets(ctx)
	if err != nil {
		return sdkiface.Market{}, err
	}
	t.mu.Lock()
	t.markets = markets
	t.mu.Unlock()
	market, found := markets[symbol]
	if !found {
		return sdkiface.Market{}, fmt.Errorf("trader: symbol %s not found in market list", symbol)
	}
	return market, nil
}

// validateOrder rounds quantity to the market's amount precision and
// rejects (returns 0) anything below the minimum amount or minimum cost.
// lastPrice is used only for the minimum-cost check; a 0 or unknown price
// skips that check rather than rejecting every order on a quiet symbol.
func validateOrder(market sdkiface.Market, quantity, lastPrice float64) float64 {
	if market.AmountPrecision > 0 {
		factor := math.Pow(10, market.AmountPrecision)
		quantity = math.Floor(quantity*factor) / factor
	}
	if market.MinAmount > 0 && quantity < market.MinAmount {
		return 0
	}
	if market.MinCost > 0 && lastPrice > 0 && quantity*lastPrice < market.MinCost {
		return 0
	}
	return quantity
}
