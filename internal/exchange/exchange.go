// Package exchange pins one venue's Connection, BalanceObserver,
// PriceObserver, Trader and Courier together behind a single handle, and
// adapts its raw SDK catalog into the shape Mapper ingests. It is
// grounded on the source's per-exchange container: Exchange is the one
// place that constructs these parts in the right order and the one place
// that tears them down. Other components receive the individual parts
// they use from it (Manager its Trader and Courier, Supervisor its
// observers); they do not hold the Exchange itself.
package exchange

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nullstate/arb/internal/coin"
	"github.com/nullstate/arb/internal/connection"
	"github.com/nullstate/arb/internal/courier"
	"github.com/nullstate/arb/internal/events"
	"github.com/nullstate/arb/internal/mapper"
	"github.com/nullstate/arb/internal/observer"
	"github.com/nullstate/arb/internal/sdkiface"
	"github.com/nullstate/arb/internal/trader"
	"github.com/nullstate/arb/internal/wallet"
)

// CoinIndex is the subset of *mapper.Mapper the observers and trader
// need. Satisfied by *mapper.Mapper; stubbed in tests.
type CoinIndex interface {
	observer.CoinIndex
	trader.CoinNamer
}

// Exchange bundles one venue's lifecycle and trading surface.
type Exchange struct {
	ID string

	Conn     *connection.Connection
	Balances *observer.BalanceObserver
	Prices   *observer.PriceObserver
	Trader   *trader.Trader
	Courier  *courier.Courier

	wallet *wallet.Wallet
	log    zerolog.Logger
}

// DestinationResolver looks up another exchange's deposit address for a
// coin; the registry supplies the concrete cross-exchange implementation
// since resolving it requires seeing every Exchange, not just this one.
type DestinationResolver = courier.DepositResolver

// New builds one exchange's Connection and courier, deferring the
// coin-dependent components (BalanceObserver, PriceObserver, Trader)
// until WireCoins runs after the mapper has assigned ids.
func New(id string, factory sdkiface.Factory, resolver DestinationResolver, bus *events.Manager, log zerolog.Logger) *Exchange {
	log = log.With().Str("exchange", id).Logger()
	conn := connection.New(id, factory, bus, log)
	return &Exchange{
		ID:      id,
		Conn:    conn,
		Courier: courier.New(id, conn, resolver, log),
		wallet:  wallet.New(),
		log:     log,
	}
}

// Start launches the connection loop. Callers should follow with
// conn.WaitReady before calling FetchCatalog or WireCoins.
func (e *Exchange) Start(ctx context.Context) {
	e.Conn.Start(ctx)
}

// Stop tears down the connection.
func (e *Exchange) Stop() {
	e.Conn.Stop()
}

// WireCoins builds the coin-dependent components once the mapper has
// assigned process-wide ids: coins maps this exchange's local ticker to
// its id, usdtID is the process-wide USDT id (0 if no exchange's catalog
// exposed USDT), and coinIndex resolves both directions.
func (e *Exchange) WireCoins(coinIndex CoinIndex, coins map[string]int64, usdtID int64, bus *events.Manager) {
	e.Balances = observer.NewBalanceObserver(e.ID, e.Conn, e.wallet, coinIndex, bus, e.log)
	e.Prices = observer.NewPriceObserver(e.ID, e.Conn, coinIndex, coins, bus, e.log)
	e.Trader = trader.New(e.ID, e.Conn, e.wallet, coinIndex, usdtID, e.log)
}

// Wallet exposes this exchange's balance snapshot holder. Manager does
// not need it directly (it consumes balances via BalanceObserver
// subscription) but the status API and persistence layers do.
func (e *Exchange) Wallet() *wallet.Wallet { return e.wallet }

// ConnState reports this exchange's current connection state, for the
// status API's health check.
func (e *Exchange) ConnState() connection.State { return e.Conn.State() }

// WalletSnapshot returns this exchange's BalanceObserver, or (nil, false)
// if WireCoins hasn't run yet.
func (e *Exchange) WalletSnapshot() (*observer.BalanceObserver, bool) {
	return e.Balances, e.Balances != nil
}

// GetDepositAddress exposes this exchange's own deposit address for name
// on network, for use when it is acting as a destination exchange in
// another Exchange's Courier.Withdraw call.
func (e *Exchange) GetDepositAddress(ctx context.Context, name, network string) (sdkiface.DepositAddress, error) {
	return e.Courier.GetDepositAddress(ctx, name, network)
}

// FetchCatalog pulls this exchange's currency list and converts it into
// the shape mapper.Mapper.GenerateData ingests, keyed by the SDK's own
// currency key. Variants that coin.NewValidated rejects (empty name or
// chain, invalid fee or min amount) are logged and skipped here; the
// mapper applies its own acceptance rules (blacklisted chains, missing
// address) afterwards.
func (e *Exchange) FetchCatalog(ctx context.Context) (mapper.Catalog, error) {
	sess, ok := e.Conn.Acquire()
	if !ok {
		return nil, fmt.Errorf("exchange %s: not connected", e.ID)
	}

	raw, err := sess.FetchCurrencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange %s: fetch currencies: %w", e.ID, err)
	}

	catalog := make(mapper.Catalog, len(raw))
	for name, variants := range raw {
		coins := make([]coin.Coin, 0, len(variants))
		for _, v := range variants {
			c, err := coin.NewValidated(v.Address, v.Name, v.Chain, v.Fee, v.MinAmount)
			if err != nil {
				e.log.Warn().Err(err).Str("currency", name).Str("chain", v.Chain).Msg("skipping invalid currency variant")
				continue
			}
			coins = append(coins, c)
		}
		catalog[name] = coins
	}
	return catalog, nil
}
